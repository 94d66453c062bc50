package timeparser

import (
	"fmt"
	"time"
)

// ParseSampleTimestamp attempts to parse a sample timestamp with multiple
// formats. RFC3339 is the documented wire format; the legacy meter formats
// keep field devices with older firmware ingestible.
func ParseSampleTimestamp(dateStr string) (time.Time, error) {
	formats := []string{
		time.RFC3339,          // Standard RFC3339
		"02/01/2006 15:04:05", // DD/MM/YYYY HH:mm:ss
		"02 15:04:05/01/2006", // DD HH:mm:ss/MM/YYYY
	}

	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, dateStr)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse timestamp '%s': %w", dateStr, lastErr)
}
