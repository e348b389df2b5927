package format

import (
	"fmt"
	"time"
)

const zeroPercent = "0%"

// Bytes renders a byte count as a human-scaled size, used in the shutdown
// banner's memory-stats line.
func Bytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	units := []string{"KB", "MB", "GB", "TB", "PB"}
	return fmt.Sprintf("%.2f %s", float64(bytes)/float64(div), units[exp])
}

// Duration formats a duration the way the shutdown banner reports process
// uptime: whole hours, minutes and seconds for anything of a second or
// more; a duration under one second is rendered by time.Duration.String.
func Duration(d time.Duration) string {
	if d < time.Second {
		return d.String()
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// UpstreamsUp renders the "available/total" pair logged in the final
// upstream aggregate on shutdown.
func UpstreamsUp(available, total int) string {
	if total < 10 && available < 10 {
		return string(rune('0'+available)) + "/" + string(rune('0'+total))
	}
	return fmt.Sprintf("%d/%d", available, total)
}

// Percentage renders an upstream pool's aggregate success rate.
func Percentage(value float64) string {
	if value == 0 {
		return zeroPercent
	}
	if value == 100.0 {
		return "100%"
	}
	return fmt.Sprintf("%.1f%%", value)
}
