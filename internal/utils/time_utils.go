package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseStringTime parses durations such as "10s", "20M", "48h" or "2d".
// Anything time.ParseDuration accepts is accepted too. An empty string is zero.
func ParseStringTime(timeString string) (time.Duration, error) {
	timeString = strings.ToLower(strings.TrimSpace(timeString))
	if timeString == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(timeString); err == nil {
		return d, nil
	}
	if cutString, found := strings.CutSuffix(timeString, "d"); found {
		number, err := strconv.Atoi(cutString)
		if err != nil {
			return 0, fmt.Errorf("invalid time format %q: %w", timeString, err)
		}
		return time.Duration(number) * time.Hour * 24, nil
	}
	return 0, fmt.Errorf("invalid time format %q", timeString)
}
