package monitor

import (
	"fmt"
	"math"
)

// FormatDuration renders an outage length: whole seconds below a minute, minutes rounded
// to the nearest whole minute below an hour, hours with one decimal place above that.
func FormatDuration(seconds int64) string {
	switch {
	case seconds < 60:
		return fmt.Sprintf("%d seconds", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%d minutes", int64(math.Round(float64(seconds)/60)))
	default:
		return fmt.Sprintf("%.1f hours", float64(seconds)/3600)
	}
}
