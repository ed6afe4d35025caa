package config

import (
	"reflect"
	"strings"

	logx "linkrotor/pkg/logx"
)

// ChangeSummary describes a config reload in terms of what can be applied live.
type ChangeSummary struct {
	// Sections lists every changed top-level section.
	Sections []string
	// RestartRequired lists changed sections that only take effect after a restart.
	RestartRequired []string
	// Attrs are log fields safe to emit (tokens, hashes and DSNs are never included).
	Attrs []logx.Field
}

func (s ChangeSummary) Changed(section string) bool {
	for _, x := range s.Sections {
		if x == section {
			return true
		}
	}
	return false
}

// SummarizeConfigChange compares two configs section by section.
func SummarizeConfigChange(oldCfg, newCfg *Config) ChangeSummary {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var out ChangeSummary
	mark := func(section string, restart bool, attrs ...logx.Field) {
		out.Sections = append(out.Sections, section)
		if restart {
			out.RestartRequired = append(out.RestartRequired, section)
		}
		out.Attrs = append(out.Attrs, attrs...)
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token {
		mark("telegram.token", true)
	}
	if strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) ||
		ot.LogThreadID != nt.LogThreadID {
		mark("telegram", false,
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
		)
	}

	if oldCfg.MTProto != newCfg.MTProto {
		mark("mtproto", true, logx.Int("mtproto.app_id", newCfg.MTProto.AppID))
	}
	if oldCfg.Rotation != newCfg.Rotation {
		mark("rotation", false,
			logx.String("rotation.min_interval", newCfg.Rotation.MinInterval),
			logx.Int("rotation.max_attempts", newCfg.Rotation.MaxAttempts),
		)
	}
	if oldCfg.Logging != newCfg.Logging {
		mark("logging", false,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		mark("notifier", false)
	}
	if oldCfg.Storage != newCfg.Storage {
		mark("storage", true, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.Housekeeping != newCfg.Housekeeping {
		mark("housekeeping", false, logx.Bool("housekeeping.enabled", newCfg.Housekeeping.Enabled))
	}
	if oldCfg.Metrics != newCfg.Metrics {
		mark("metrics", false, logx.String("metrics.addr", newCfg.Metrics.Addr))
	}
	return out
}
