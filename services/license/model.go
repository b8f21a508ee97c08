package license

import "time"

type LicenseStatus string

var (
	StatusActive  LicenseStatus = "active"
	StatusExpired LicenseStatus = "expired"
	StatusRevoked LicenseStatus = "revoked"
)

// License is one issued term for a tenant. Rows are superseded, never deleted,
// and at most one per tenant may be active.
type License struct {
	ID              string        `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt       time.Time     `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt       time.Time     `gorm:"column:updated_at" json:"updatedAt"`
	TenantID        string        `gorm:"column:tenant_id;index;uniqueIndex:idx_licenses_active_tenant,where:status = 'active'" json:"tenantId"`
	LicenseKeyID    string        `gorm:"column:license_key_id;index" json:"licenseKeyId"`
	LicenseKeyHash  string        `gorm:"column:license_key_hash" json:"-"`
	Plan            string        `gorm:"column:plan" json:"plan"`
	IssuedAt        time.Time     `gorm:"column:issued_at;index" json:"issuedAt"`
	ExpiresAt       time.Time     `gorm:"column:expires_at;index" json:"expiresAt"`
	GracePeriodDays int           `gorm:"column:grace_period_days" json:"gracePeriodDays"`
	Status          LicenseStatus `gorm:"column:status;index" json:"status"`
	RevokedAt       *time.Time    `gorm:"column:revoked_at" json:"revokedAt,omitempty"`
}

func (License) TableName() string {
	return "licenses"
}

// LicenseKey is a redeemable key. Only the hash of the key is stored.
type LicenseKey struct {
	ID                 string     `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt          time.Time  `gorm:"column:created_at" json:"createdAt"`
	KeyHash            string     `gorm:"column:key_hash;uniqueIndex" json:"-"`
	KeyHint            string     `gorm:"column:key_hint" json:"keyHint"`
	Plan               string     `gorm:"column:plan" json:"plan"`
	TermDays           int        `gorm:"column:term_days" json:"termDays"`
	GracePeriodDays    *int       `gorm:"column:grace_period_days" json:"gracePeriodDays,omitempty"`
	RedeemedByTenantID *string    `gorm:"column:redeemed_by_tenant_id;index" json:"redeemedByTenantId,omitempty"`
	RedeemedAt         *time.Time `gorm:"column:redeemed_at" json:"redeemedAt,omitempty"`
}

func (LicenseKey) TableName() string {
	return "license_keys"
}

func (k *LicenseKey) Redeemed() bool {
	return k.RedeemedByTenantID != nil && *k.RedeemedByTenantID != ""
}

// LicenseInfo is the public view of a license returned by activation.
type LicenseInfo struct {
	ID        string        `json:"id"`
	ExpiresAt time.Time     `json:"expiresAt"`
	Status    LicenseStatus `json:"status"`
	Plan      string        `json:"plan"`
}

func (l *License) Info() *LicenseInfo {
	return &LicenseInfo{
		ID:        l.ID,
		ExpiresAt: l.ExpiresAt,
		Status:    l.Status,
		Plan:      l.Plan,
	}
}

type ActivateRequest struct {
	TenantID   string `json:"tenantId"`
	TenantSlug string `json:"tenantSlug"`
	LicenseKey string `json:"licenseKey"`
}

type IssueKeysRequest struct {
	Count           int    `json:"count" binding:"required,gte=1,lte=500"`
	Plan            string `json:"plan" binding:"required"`
	TermDays        int    `json:"termDays" binding:"omitempty,gte=1"`
	GracePeriodDays *int   `json:"gracePeriodDays" binding:"omitempty,gte=0"`
}

// IssuedKey carries a raw key. It is only ever returned once, at issue time.
type IssuedKey struct {
	ID       string `json:"id"`
	Key      string `json:"key"`
	Plan     string `json:"plan"`
	TermDays int    `json:"termDays"`
}
