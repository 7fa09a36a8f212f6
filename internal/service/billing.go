package service

import "time"

// Billing days stop at 28 so every month has one.
const (
	minBillingDay = 1
	maxBillingDay = 28
)

// firstBillingDate is billingDay of the month after now, at midnight in loc.
func firstBillingDate(now time.Time, billingDay int, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month()+1, billingDay, 0, 0, 0, 0, loc)
}

// advanceBillingDate moves a billing date forward exactly one calendar month.
func advanceBillingDate(current time.Time, billingDay int, loc *time.Location) time.Time {
	local := current.In(loc)
	return time.Date(local.Year(), local.Month()+1, billingDay, 0, 0, 0, 0, loc)
}

// nextOccurrence is the first billingDay strictly after the day of now.
func nextOccurrence(now time.Time, billingDay int, loc *time.Location) time.Time {
	local := now.In(loc)
	candidate := time.Date(local.Year(), local.Month(), billingDay, 0, 0, 0, 0, loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	if !candidate.After(today) {
		candidate = time.Date(local.Year(), local.Month()+1, billingDay, 0, 0, 0, 0, loc)
	}
	return candidate
}

func billingDayOf(billingDay *int, next time.Time, loc *time.Location) int {
	if billingDay != nil {
		return *billingDay
	}
	day := next.In(loc).Day()
	if day > maxBillingDay {
		day = maxBillingDay
	}
	return day
}
