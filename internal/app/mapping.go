package app

import (
	"strings"
	"time"

	"linkrotor/internal/config"
	"linkrotor/internal/mtproto"
	"linkrotor/internal/notifier"
	"linkrotor/internal/observability/server"
	"linkrotor/internal/storage"
	"linkrotor/internal/task/scheduler"
	kit "linkrotor/internal/transport"
	logx "linkrotor/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	// Validate already rejected a malformed group_log; 0 keeps the sink inert
	chatID, _ := cfg.GroupLogChatID()
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     chatID,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// notifyTarget is where rotation notices go. ChatID 0 disables them.
func notifyTarget(cfg *config.Config) kit.ChatTarget {
	chatID, _ := cfg.GroupLogChatID()
	return kit.ChatTarget{ChatID: chatID, ThreadID: cfg.Telegram.LogThreadID}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	path := strings.TrimSpace(sc.Path)
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if (driver == "" || driver == "sqlite" || driver == "sqlite3") && path == "" {
		path = "./linkrotor.db"
	}
	return storage.Config{
		Driver:      driver,
		Path:        path,
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: busy,
	}, nil
}

func auditRetention(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("storage.audit_retention", cfg.Storage.AuditRetention, config.DefaultAuditRetention)
}

func mapMTProtoConfig(cfg *config.Config) (mtproto.Config, error) {
	timeout, err := config.ParseDurationOrDefault("mtproto.call_timeout", cfg.MTProto.CallTimeout, config.DefaultCallTimeout)
	if err != nil {
		return mtproto.Config{}, err
	}
	return mtproto.Config{
		AppID:       cfg.MTProto.AppID,
		AppHash:     strings.TrimSpace(cfg.MTProto.AppHash),
		CallTimeout: timeout,
		Debug:       strings.EqualFold(strings.TrimSpace(cfg.Logging.Level), "trace"),
	}, nil
}

// mapNotifierConfig treats an omitted section as enabled with defaults.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	if cfg.Notifier == nil {
		return notifier.Config{Enabled: true, RetryMax: 3}, nil
	}
	nc := cfg.Notifier
	out := notifier.Config{
		Enabled:         nc.Enabled,
		Workers:         nc.Workers,
		QueueSize:       nc.QueueSize,
		RatePerSec:      nc.RatePerSec,
		RetryMax:        nc.RetryMax,
		DedupMaxEntries: nc.DedupMaxEntries,
		PersistDedup:    nc.PersistDedup,
	}
	var err error
	if out.RetryBase, err = config.ParseDurationField("notifier.retry_base", nc.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("notifier.retry_max_delay", nc.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationField("notifier.dedup_window", nc.DedupWindow); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Enabled:  cfg.Housekeeping.Enabled,
		Timezone: strings.TrimSpace(cfg.Housekeeping.Timezone),
	}
}

func mapServerConfig(cfg *config.Config) server.Config {
	return server.Config{
		Enabled: cfg.Metrics.Enabled,
		Addr:    strings.TrimSpace(cfg.Metrics.Addr),
		Path:    strings.TrimSpace(cfg.Metrics.Path),
		Pprof:   cfg.Metrics.Pprof,
	}
}

func auditPruneSpec(cfg *config.Config) string {
	if spec := strings.TrimSpace(cfg.Housekeeping.AuditPrune); spec != "" {
		return spec
	}
	return config.DefaultAuditPrune
}
