// Package normalize converts heterogeneous raw field values into canonical
// numeric, time and string forms. Parsing here never fails: a bad value
// degrades to a safe default so one malformed row cannot abort a batch.
package normalize

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// timestampLayouts are the accepted textual date-time layouts, tried in order.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006/01/02 15:04:05",
	"2006-01-02 15:04",
	"02/01/2006 15:04:05",
	"2006-01-02",
}

// ParseAmount parses a raw amount into a non-negative decimal. Grouping
// separators are stripped. Unparseable, absent or negative input yields 0.
func ParseAmount(raw interface{}) float64 {
	switch v := raw.(type) {
	case nil:
		return 0
	case float64:
		return clampAmount(v)
	case float32:
		return clampAmount(float64(v))
	case int:
		return clampAmount(float64(v))
	case int64:
		return clampAmount(float64(v))
	case string:
		s := strings.TrimSpace(v)
		s = strings.ReplaceAll(s, ",", "")
		s = strings.ReplaceAll(s, " ", "")
		if s == "" {
			return 0
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return clampAmount(f)
	default:
		return 0
	}
}

func clampAmount(v float64) float64 {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// ParseTimestamp parses a raw timestamp value. It returns nil rather than an
// error when no accepted layout matches.
func ParseTimestamp(raw interface{}) *time.Time {
	switch v := raw.(type) {
	case nil:
		return nil
	case time.Time:
		if v.IsZero() {
			return nil
		}
		t := v
		return &t
	case *time.Time:
		return v
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return &t
			}
		}
		return nil
	default:
		return nil
	}
}

// HoursBetween returns the absolute duration between two instants in hours.
// It is defined only when both are present.
func HoursBetween(a, b *time.Time) (float64, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	hours := b.Sub(*a).Hours()
	return math.Abs(hours), true
}

// NormalizeKey trims a raw key value to its canonical string form. An empty
// result means "no user" and the record is skipped, not failed.
func NormalizeKey(raw interface{}) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}
