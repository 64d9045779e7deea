package config

import (
	"fmt"
	"strings"
	"time"
)

// DurationOrDefault parses a duration from config, substituting
// fallback when the value is blank. The weather timeout and heartbeat
// interval ship as strings so config files can say "90s" or "30m".
func DurationOrDefault(value, fallback string) (time.Duration, error) {
	candidate := strings.TrimSpace(value)
	if candidate == "" {
		candidate = strings.TrimSpace(fallback)
	}
	if candidate == "" {
		return 0, fmt.Errorf("duration value is empty")
	}

	d, err := time.ParseDuration(candidate)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", candidate, err)
	}
	return d, nil
}
