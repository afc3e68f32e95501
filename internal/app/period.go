package app

import (
	"time"

	"github.com/ak45akash/Coupon-Dispenser-sub001/internal/store"
)

// Claim period modes. A deployment picks exactly one model: period-scoped
// claims keyed by calendar month, or the one-shot model where a coupon is
// claimable once, ever. Mixing models against the same data is what the
// period key exists to prevent.
const (
	PeriodModeMonthly = "monthly"
	PeriodModeOnce    = "once"
)

// periodKeyAt renders the claim window key for the given instant. Monthly
// deployments partition claims by UTC calendar month; one-shot deployments
// use a single constant key, which turns the per-coupon unique index into a
// terminal claimed-once gate.
func periodKeyAt(mode string, t time.Time) string {
	if mode == PeriodModeOnce {
		return store.OneShotPeriodKey
	}
	return t.UTC().Format("2006-01")
}
