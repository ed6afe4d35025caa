package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultMinInterval    = 30 * time.Second
	DefaultRateLimitPad   = 5 * time.Second
	DefaultMaxAttempts    = 5
	DefaultCallTimeout    = 30 * time.Second
	DefaultAuditRetention = 30 * 24 * time.Hour
	DefaultPollTimeout    = 10 * time.Second
	DefaultMetricsAddr    = "127.0.0.1:9090"
	DefaultMetricsPath    = "/metrics"
	DefaultAuditPrune     = "@daily"
)

// Rotation is the parsed form of RotationConfig.
type Rotation struct {
	MinInterval  time.Duration
	RateLimitPad time.Duration
	MaxAttempts  int
}

func (c *Config) RotationSettings() (Rotation, error) {
	var r Rotation
	var err error
	if r.MinInterval, err = ParseDurationOrDefault("rotation.min_interval", c.Rotation.MinInterval, DefaultMinInterval); err != nil {
		return r, err
	}
	if r.RateLimitPad, err = ParseDurationOrDefault("rotation.rate_limit_pad", c.Rotation.RateLimitPad, DefaultRateLimitPad); err != nil {
		return r, err
	}
	r.MaxAttempts = c.Rotation.MaxAttempts
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = DefaultMaxAttempts
	}
	return r, nil
}

// GroupLogChatID parses telegram.group_log. An empty value yields 0 (disabled).
func (c *Config) GroupLogChatID() (int64, error) {
	s := strings.TrimSpace(c.Telegram.GroupLog)
	if s == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram.group_log: must be a numeric chat id: %w", err)
	}
	return id, nil
}

func (c *Config) IsOwner(userID int64) bool {
	for _, id := range c.Telegram.OwnerUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Validate checks the fields the process cannot start without, and every
// duration/cron field for syntax. It is also used to gate hot reloads.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	if _, err := c.GroupLogChatID(); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}
	if c.MTProto.AppID <= 0 || strings.TrimSpace(c.MTProto.AppHash) == "" {
		errs = append(errs, errors.New("mtproto.app_id and mtproto.app_hash are required"))
	}
	if _, err := ParseDurationField("mtproto.call_timeout", c.MTProto.CallTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.RotationSettings(); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "sqlite":
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("storage.audit_retention", c.Storage.AuditRetention); err != nil {
		errs = append(errs, err)
	}

	if c.Housekeeping.Enabled {
		spec := strings.TrimSpace(c.Housekeeping.AuditPrune)
		if spec == "" {
			spec = DefaultAuditPrune
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Errorf("housekeeping.audit_prune: %w", err))
		}
		if tz := strings.TrimSpace(c.Housekeeping.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				errs = append(errs, fmt.Errorf("housekeeping.timezone: %w", err))
			}
		}
	}

	if c.Notifier != nil {
		for path, raw := range map[string]string{
			"notifier.retry_base":      c.Notifier.RetryBase,
			"notifier.retry_max_delay": c.Notifier.RetryMaxDelay,
			"notifier.dedup_window":    c.Notifier.DedupWindow,
		} {
			if _, err := ParseDurationField(path, raw); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
