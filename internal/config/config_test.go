package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [42]
  group_log: "-1001234"
  poll_timeout: 10s
mtproto:
  app_id: 1
  app_hash: deadbeef
rotation:
  min_interval: 1m
logging:
  level: info
  console: true
  file: {enabled: false, path: ""}
  telegram: {enabled: false, thread_id: 0, min_level: warn, rate_per_sec: 1}
storage:
  driver: sqlite
  path: ./linkrotor.db
housekeeping:
  enabled: true
  audit_prune: "0 3 * * *"
metrics:
  enabled: false
`

func validConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{Token: "t", OwnerUserIDs: []int64{1}},
		MTProto:  MTProtoConfig{AppID: 1, AppHash: "h"},
	}
}

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || len(cfg.Telegram.OwnerUserIDs) != 1 || cfg.Telegram.OwnerUserIDs[0] != 42 {
		t.Fatalf("telegram section not decoded: %+v", cfg.Telegram)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	id, err := cfg.GroupLogChatID()
	if err != nil || id != -1001234 {
		t.Fatalf("GroupLogChatID = %d, %v", id, err)
	}
	rot, err := cfg.RotationSettings()
	if err != nil {
		t.Fatalf("RotationSettings error: %v", err)
	}
	if rot.MinInterval != time.Minute || rot.RateLimitPad != DefaultRateLimitPad || rot.MaxAttempts != DefaultMaxAttempts {
		t.Fatalf("unexpected rotation settings: %+v", rot)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	_, err := Decode("config.json", []byte(`{"telegram":{"token":"x"},"plugins":{}}`))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	t.Parallel()
	_, err := Decode("config.json", []byte(`{} {}`))
	if err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "ok", mutate: func(c *Config) {}},
		{name: "missing token", mutate: func(c *Config) { c.Telegram.Token = "" }, wantErr: "telegram.token"},
		{name: "bad group log", mutate: func(c *Config) { c.Telegram.GroupLog = "@chan" }, wantErr: "telegram.group_log"},
		{name: "missing app hash", mutate: func(c *Config) { c.MTProto.AppHash = "" }, wantErr: "mtproto.app_id"},
		{name: "bad interval", mutate: func(c *Config) { c.Rotation.MinInterval = "soon" }, wantErr: "rotation.min_interval"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Storage.Driver = "postgres" }, wantErr: "storage.dsn"},
		{name: "unknown driver", mutate: func(c *Config) { c.Storage.Driver = "mongo" }, wantErr: "storage.driver"},
		{name: "bad cron", mutate: func(c *Config) {
			c.Housekeeping.Enabled = true
			c.Housekeeping.AuditPrune = "every day"
		}, wantErr: "housekeeping.audit_prune"},
		{name: "bad notifier duration", mutate: func(c *Config) {
			c.Notifier = &NotifierConfig{RetryBase: "-1s"}
		}, wantErr: "notifier.retry_base"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestIsOwner(t *testing.T) {
	t.Parallel()
	c := validConfig()
	if !c.IsOwner(1) || c.IsOwner(2) {
		t.Fatal("IsOwner mismatch")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := validConfig()
	newCfg := validConfig()
	newCfg.Logging.Level = "debug"
	newCfg.Storage.Driver = "postgres"

	s := SummarizeConfigChange(oldCfg, newCfg)
	if !s.Changed("logging") || !s.Changed("storage") {
		t.Fatalf("sections = %v", s.Sections)
	}
	if s.Changed("telegram") {
		t.Fatalf("telegram should be unchanged: %v", s.Sections)
	}
	if len(s.RestartRequired) != 1 || s.RestartRequired[0] != "storage" {
		t.Fatalf("RestartRequired = %v", s.RestartRequired)
	}
}

func TestManagerLoadAndGet(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get should return the committed config")
	}
	if hashConfig(cfg) == 0 || hashConfig(cfg) != hashConfig(m.Get()) {
		t.Fatal("hash should be stable and non-zero")
	}
}

func TestPublishKeepsLatest(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("unused.json")
	ch := m.Subscribe(1)
	first, second := validConfig(), validConfig()
	m.publish(first)
	m.publish(second)
	if got := <-ch; got != second {
		t.Fatal("subscriber should receive the newest config")
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after Unsubscribe")
	}
}

func TestApplyEnvOverridesSecrets(t *testing.T) {
	t.Setenv("LINKROTOR_TELEGRAM_TOKEN", "999:env")
	t.Setenv("LINKROTOR_MTPROTO_APP_ID", "77")
	t.Setenv("LINKROTOR_STORAGE_DSN", "postgres://env")

	cfg := validConfig()
	if err := ApplyEnv(cfg); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Telegram.Token != "999:env" || cfg.MTProto.AppID != 77 || cfg.Storage.DSN != "postgres://env" {
		t.Fatalf("env not applied: %+v %+v %+v", cfg.Telegram, cfg.MTProto, cfg.Storage)
	}
	if cfg.MTProto.AppHash != "h" {
		t.Fatalf("unset variable overwrote app_hash: %q", cfg.MTProto.AppHash)
	}
}

func TestApplyEnvRejectsBadNumber(t *testing.T) {
	t.Setenv("LINKROTOR_MTPROTO_APP_ID", "twelve")
	if err := ApplyEnv(validConfig()); err == nil {
		t.Fatal("expected error for non-numeric app id")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{" 90s ", 90 * time.Second, false},
		{"30d", 30 * 24 * time.Hour, false},
		{"1h30m", 90 * time.Minute, false},
		{"-5s", 0, true},
		{"xd", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDurationField("storage.audit_retention", tt.raw)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Fatalf("ParseDurationField(%q) = %v, %v", tt.raw, got, err)
		}
	}
}

func TestDecodeRejectsEmptyYAML(t *testing.T) {
	t.Parallel()
	if _, err := Decode("config.yml", []byte("# nothing here\n")); err == nil {
		t.Fatal("expected error for an empty yaml document")
	}
}
