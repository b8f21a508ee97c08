package license

import (
	"fmt"
	"math"
	"time"

	"smallbiznis-licensing/services/tenant"
)

type AccessStatus string

const (
	AccessTrial        AccessStatus = "trial"
	AccessActive       AccessStatus = "active"
	AccessExpiringSoon AccessStatus = "expiring_soon"
	AccessGracePeriod  AccessStatus = "grace_period"
	AccessExpired      AccessStatus = "expired"
	AccessNoLicense    AccessStatus = "no_license"
	AccessSuspended    AccessStatus = "suspended"
)

const (
	RedirectLicense   = "/license"
	RedirectSuspended = "/suspended"

	DefaultWarnWindow = 7 * 24 * time.Hour

	day = 24 * time.Hour
)

// AccessDecision is the admission result for a tenant at a point in time.
// A denial is a normal value, not an error.
type AccessDecision struct {
	Allowed            bool         `json:"allowed"`
	Status             AccessStatus `json:"status"`
	DaysRemaining      *int         `json:"daysRemaining,omitempty"`
	GraceDaysRemaining *int         `json:"graceDaysRemaining,omitempty"`
	Message            string       `json:"message"`
	RedirectPath       string       `json:"redirectPath,omitempty"`
}

// Evaluator computes access state from stored facts. It does no I/O and
// never reads the clock.
type Evaluator struct {
	WarnWindow time.Duration
}

func NewEvaluator(warnWindow time.Duration) Evaluator {
	if warnWindow <= 0 {
		warnWindow = DefaultWarnWindow
	}
	return Evaluator{WarnWindow: warnWindow}
}

// Evaluate applies, in order: admin block, active license in term, expired or
// revoked license with grace, and finally the trial window for tenants that
// never held a license.
func (e Evaluator) Evaluate(t *tenant.Tenant, l *License, now time.Time) AccessDecision {
	warn := e.WarnWindow
	if warn <= 0 {
		warn = DefaultWarnWindow
	}

	if t.AdminBlocked() {
		return AccessDecision{
			Allowed:      false,
			Status:       AccessSuspended,
			Message:      "This account has been suspended. Please contact support.",
			RedirectPath: RedirectSuspended,
		}
	}

	if l != nil {
		if l.Status == StatusActive && l.ExpiresAt.After(now) {
			remaining := l.ExpiresAt.Sub(now)
			days := ceilDays(remaining)
			if remaining <= warn {
				return AccessDecision{
					Allowed:       true,
					Status:        AccessExpiringSoon,
					DaysRemaining: &days,
					Message:       fmt.Sprintf("Your license expires in %s. Renew now to avoid interruption.", plural(days, "day")),
				}
			}
			return AccessDecision{
				Allowed:       true,
				Status:        AccessActive,
				DaysRemaining: &days,
				Message:       "License active.",
			}
		}

		if l.Status == StatusRevoked {
			return AccessDecision{
				Allowed:      false,
				Status:       AccessExpired,
				Message:      "Your license has been revoked. Activate a new license key to continue.",
				RedirectPath: RedirectLicense,
			}
		}

		graceEnd := l.ExpiresAt.AddDate(0, 0, l.GracePeriodDays)
		if !now.After(graceEnd) {
			graceDays := ceilDays(graceEnd.Sub(now))
			return AccessDecision{
				Allowed:            true,
				Status:             AccessGracePeriod,
				GraceDaysRemaining: &graceDays,
				Message:            fmt.Sprintf("Your license has expired. Access ends in %s unless you renew.", plural(graceDays, "day")),
			}
		}

		return AccessDecision{
			Allowed:      false,
			Status:       AccessExpired,
			Message:      "Your license has expired. Activate a license key to continue.",
			RedirectPath: RedirectLicense,
		}
	}

	if t.TrialEndsAt != nil && now.Before(*t.TrialEndsAt) {
		days := ceilDays(t.TrialEndsAt.Sub(now))
		return AccessDecision{
			Allowed:       true,
			Status:        AccessTrial,
			DaysRemaining: &days,
			Message:       fmt.Sprintf("Trial ends in %s.", plural(days, "day")),
		}
	}

	return AccessDecision{
		Allowed:      false,
		Status:       AccessNoLicense,
		Message:      "Your trial has ended. Activate a license key to continue.",
		RedirectPath: RedirectLicense,
	}
}

func ceilDays(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(float64(d) / float64(day)))
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
