package timeutil

import (
	"fmt"
	"time"
)

// Now returns the current time in UTC
// Always use this instead of time.Now() to ensure timezone consistency
func Now() time.Time {
	return time.Now().UTC()
}

// ToUTC converts a time.Time to UTC if it isn't already
func ToUTC(t time.Time) time.Time {
	return t.UTC()
}

// StartOfDay returns the start of the day (midnight) in UTC
func StartOfDay(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// EndOfDay returns the end of the day (23:59:59.999999999) in UTC
func EndOfDay(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 23, 59, 59, 999999999, time.UTC)
}

// PeriodKey returns the stable billing-period identifier for a period
// end date. Jobs use it in idempotency keys so a re-run never double
// charges or double notifies within the same period.
func PeriodKey(periodEnd time.Time) string {
	return periodEnd.UTC().Format("2006-01-02")
}

// ReminderKey builds the idempotency key for a renewal reminder at the
// given day offset (7, 3 or 1 days before renewal).
func ReminderKey(periodEnd time.Time, offsetDays int) string {
	return fmt.Sprintf("renewal_reminder_%s_%d", PeriodKey(periodEnd), offsetDays)
}

// NextMonth advances a period boundary by one calendar month.
func NextMonth(t time.Time) time.Time {
	return t.UTC().AddDate(0, 1, 0)
}

// OlderThan reports whether t is further in the past than d.
func OlderThan(t time.Time, d time.Duration) bool {
	return Now().Sub(t) > d
}
