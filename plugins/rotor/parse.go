package rotor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseChannelID accepts the numeric chat id as shown by Telegram clients,
// usually -100 followed by the channel number.
func parseChannelID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid channel id %q", s)
	}
	return id, nil
}

// parseInterval accepts whole seconds ("300") or a Go duration ("10m",
// "1h30m"), rounded down to the second.
func parseInterval(s string, min time.Duration) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("interval is required")
	}
	var d time.Duration
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n <= 0 || n > int64(365*24*time.Hour/time.Second) {
			return 0, fmt.Errorf("invalid interval %q", s)
		}
		d = time.Duration(n) * time.Second
	} else {
		v, err := time.ParseDuration(s)
		if err != nil || v <= 0 {
			return 0, fmt.Errorf("invalid interval %q (use seconds or e.g. 10m)", s)
		}
		d = v.Truncate(time.Second)
	}
	if d < min {
		return 0, fmt.Errorf("interval must be at least %s", min)
	}
	return d, nil
}
