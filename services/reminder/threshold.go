package reminder

import (
	"smallbiznis-licensing/services/license"
	"smallbiznis-licensing/services/notification"
)

type ThresholdKind string

const (
	Expiry30d ThresholdKind = "expiry_30d"
	Expiry14d ThresholdKind = "expiry_14d"
	Expiry7d  ThresholdKind = "expiry_7d"
	Expiry3d  ThresholdKind = "expiry_3d"
	Expiry1d  ThresholdKind = "expiry_1d"
	Grace3d   ThresholdKind = "grace_3d"
	Grace1d   ThresholdKind = "grace_1d"
)

type Threshold struct {
	Kind     ThresholdKind
	Days     int
	Template notification.TemplateKind
}

// Ordered widest first.
var (
	ExpiryThresholds = []Threshold{
		{Kind: Expiry30d, Days: 30, Template: notification.TemplateLicenseExpiring},
		{Kind: Expiry14d, Days: 14, Template: notification.TemplateLicenseExpiring},
		{Kind: Expiry7d, Days: 7, Template: notification.TemplateLicenseExpiring},
		{Kind: Expiry3d, Days: 3, Template: notification.TemplateLicenseExpiring},
		{Kind: Expiry1d, Days: 1, Template: notification.TemplateLicenseExpiring},
	}
	GraceThresholds = []Threshold{
		{Kind: Grace3d, Days: 3, Template: notification.TemplateLicenseGrace},
		{Kind: Grace1d, Days: 1, Template: notification.TemplateLicenseGrace},
	}
)

// Qualifying returns, widest first, every threshold whose day count covers
// the remaining days of the decision.
func Qualifying(d license.AccessDecision) []Threshold {
	var (
		thresholds []Threshold
		remaining  *int
	)
	switch d.Status {
	case license.AccessActive, license.AccessExpiringSoon:
		thresholds, remaining = ExpiryThresholds, d.DaysRemaining
	case license.AccessGracePeriod:
		thresholds, remaining = GraceThresholds, d.GraceDaysRemaining
	}
	if remaining == nil {
		return nil
	}

	var out []Threshold
	for _, t := range thresholds {
		if t.Days >= *remaining {
			out = append(out, t)
		}
	}
	return out
}

// SelectThreshold returns the widest qualifying threshold that has not been
// sent yet for the license.
func SelectThreshold(d license.AccessDecision, sent map[ThresholdKind]bool) (Threshold, bool) {
	for _, t := range Qualifying(d) {
		if !sent[t.Kind] {
			return t, true
		}
	}
	return Threshold{}, false
}
