package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces the environment overrides, e.g. LINKROTOR_TELEGRAM_TOKEN.
const EnvPrefix = "linkrotor"

// secretEnv lists the fields that may come from the environment instead of
// the config file. A set variable wins over the file value.
type secretEnv struct {
	TelegramToken string `envconfig:"TELEGRAM_TOKEN"`
	AppID         int    `envconfig:"MTPROTO_APP_ID"`
	AppHash       string `envconfig:"MTPROTO_APP_HASH"`
	StorageDSN    string `envconfig:"STORAGE_DSN"`
}

// ApplyEnv overlays LINKROTOR_* secrets onto cfg.
func ApplyEnv(cfg *Config) error {
	var env secretEnv
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	if v := strings.TrimSpace(env.TelegramToken); v != "" {
		cfg.Telegram.Token = v
	}
	if env.AppID != 0 {
		cfg.MTProto.AppID = env.AppID
	}
	if v := strings.TrimSpace(env.AppHash); v != "" {
		cfg.MTProto.AppHash = v
	}
	if v := strings.TrimSpace(env.StorageDSN); v != "" {
		cfg.Storage.DSN = v
	}
	return nil
}
