package util

import (
	"fmt"
	"time"
)

// FormatDuration renders d as "MM:SS", or "H:MM:SS" from one hour up.
// Negative durations render as "--:--".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		return "--:--"
	}
	s := int64(d.Round(time.Second) / time.Second)
	h, m, sec := s/3600, (s/60)%60, s%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%02d:%02d", m, sec)
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit && exp < 4; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTP"[exp])
}

// FormatSpeed renders a MB/s rate.
func FormatSpeed(mbps float64) string {
	if mbps <= 0 {
		return "-- MB/s"
	}
	return fmt.Sprintf("%.2f MB/s", mbps)
}
