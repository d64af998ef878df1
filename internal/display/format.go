// Package display holds presentation helpers shared by the renderers.
// Values are rounded here and nowhere earlier.
package display

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Fixed renders v rounded half away from zero to the given number of places.
func Fixed(v float64, places int32) string {
	return decimal.NewFromFloat(v).StringFixed(places)
}

// Whole renders v rounded to an integer.
func Whole(v float64) string {
	return Fixed(v, 0)
}

// Coordinate renders a GPS degree value with six decimals.
func Coordinate(v float64) string {
	return Fixed(v, 6)
}

// BloodPressure renders systolic/diastolic as whole numbers.
func BloodPressure(systolic, diastolic float64) string {
	return Whole(systolic) + "/" + Whole(diastolic)
}

// Age renders how long ago t was, relative to now, in a compact form.
func Age(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	switch {
	case d < time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh%02dm ago", int(d.Hours()), int(d.Minutes())%60)
	}
}

// Inline flattens multi-line text, e.g. error causes, for single-line output.
func Inline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	return strings.ReplaceAll(cleaned, "\r", " ")
}

// Title turns snake_case identifiers into spaced title case.
func Title(v string) string {
	parts := strings.Fields(strings.ReplaceAll(v, "_", " "))
	for i, p := range parts {
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}
