package pricing

import (
	"fmt"
	"time"

	"furbox-service/internal/models"
)

// Order number prefixes by origin
const (
	PrefixStandard = "ORD"
	PrefixBundle   = "BNDL"
	PrefixPlan     = "SUB"
	PrefixRenewal  = "SUBRP"
)

func PrefixFor(source string) string {
	switch source {
	case models.OrderSourceBundle:
		return PrefixBundle
	case models.OrderSourcePlan:
		return PrefixPlan
	case models.OrderSourceRenewal:
		return PrefixRenewal
	default:
		return PrefixStandard
	}
}

// Day truncates t to local midnight in loc.
func Day(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// FormatOrderNumber renders {PREFIX}{YY}{MM}{DD}{seq:04d}.
func FormatOrderNumber(prefix string, day time.Time, seq int) string {
	return fmt.Sprintf("%s%s%04d", prefix, day.Format("060102"), seq)
}
