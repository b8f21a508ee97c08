package reminder

import "time"

// Record marks that a reminder for one threshold of one license went out.
// Eligibility is keyed by license, so a renewal starts from a clean slate.
type Record struct {
	ID            string        `gorm:"column:id;primaryKey" json:"id"`
	LicenseID     string        `gorm:"column:license_id;not null;uniqueIndex:idx_license_reminders_license_kind,priority:1" json:"licenseId"`
	ThresholdKind ThresholdKind `gorm:"column:threshold_kind;type:varchar(32);not null;uniqueIndex:idx_license_reminders_license_kind,priority:2" json:"thresholdKind"`
	TenantID      string        `gorm:"column:tenant_id;not null;index" json:"tenantId"`
	SentAt        time.Time     `gorm:"column:sent_at;not null;index" json:"sentAt"`
}

func (Record) TableName() string {
	return "license_reminders"
}

// RunSummary reports one send pass. Per-license failures are collected in
// Errors and never abort the pass.
type RunSummary struct {
	Checked int      `json:"checked"`
	Sent    int      `json:"sent"`
	Skipped int      `json:"skipped"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

type CleanupSummary struct {
	Deleted int64 `json:"deleted"`
}
