package tenant

import (
	"time"
)

type TenantStatus string

var (
	Active    TenantStatus = "active"
	Suspended TenantStatus = "suspended"
	Trial     TenantStatus = "trial"
	Cancelled TenantStatus = "cancelled"
)

func (t TenantStatus) String() string {
	switch t {
	case Active, Suspended, Trial, Cancelled:
		return string(t)
	default:
		return ""
	}
}

// Tenant is a restaurant operating on the platform.
//
// Status and AdminSuspended are independent facts: AdminSuspended is only set
// by an operator, while Status may also move to suspended as a consequence of
// license expiry. Only the former blocks a tenant regardless of its license.
type Tenant struct {
	ID             string       `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt      time.Time    `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt      time.Time    `gorm:"column:updated_at" json:"updatedAt"`
	Name           string       `gorm:"column:name" json:"name"`
	Slug           string       `gorm:"column:slug;uniqueIndex" json:"slug"`
	ContactName    string       `gorm:"column:contact_name" json:"contactName"`
	ContactEmail   string       `gorm:"column:contact_email" json:"contactEmail"`
	Timezone       string       `gorm:"column:timezone" json:"timezone"`
	Status         TenantStatus `gorm:"column:status;index" json:"status"`
	AdminSuspended bool         `gorm:"column:admin_suspended;not null;default:false" json:"adminSuspended"`
	SuspendedAt    *time.Time   `gorm:"column:suspended_at" json:"suspendedAt,omitempty"`
	TrialEndsAt    *time.Time   `gorm:"column:trial_ends_at" json:"trialEndsAt,omitempty"`
}

func (Tenant) TableName() string {
	return "tenants"
}

// AdminBlocked reports whether an operator cut the tenant off. Rows suspended
// before admin_suspended existed rely on the backfill done by bootstrap.Migrate.
func (m *Tenant) AdminBlocked() bool {
	return m.AdminSuspended || m.Status == Cancelled
}

// SuspendedByLicense reports a suspension that came from license state and
// may be cleared by a successful activation.
func (m *Tenant) SuspendedByLicense() bool {
	return m.Status == Suspended && !m.AdminSuspended
}

type CreateTenantRequest struct {
	Name         string `json:"name" binding:"required"`
	Slug         string `json:"slug"`
	ContactName  string `json:"contactName"`
	ContactEmail string `json:"contactEmail" binding:"omitempty,email"`
	Timezone     string `json:"timezone"`
	TrialDays    *int   `json:"trialDays"`
}
