package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "linkrotor/pkg/logx"
)

// Store is the persistence API used by the rotation supervisor, the command
// router, the notifier and housekeeping. Implementations are safe for
// concurrent use.
type Store interface {
	UpsertUser(ctx context.Context, u User) error
	GetUserInfo(ctx context.Context, userID int64) (User, bool, error)

	SetSession(ctx context.Context, userID int64, credential string) error
	GetSession(ctx context.Context, userID int64) (credential string, ok bool, err error)
	// DeleteSession reports whether a session existed.
	DeleteSession(ctx context.Context, userID int64) (bool, error)

	// UpsertChannel creates or replaces the record's base name, interval and
	// active flag. CurrentAlias and LastChangedAt are preserved.
	UpsertChannel(ctx context.Context, c Channel) error
	GetChannel(ctx context.Context, userID, channelID int64) (Channel, bool, error)
	ListChannels(ctx context.Context, userID int64) ([]Channel, error)
	ListActiveChannels(ctx context.Context) ([]Channel, error)
	UpdateLastChanged(ctx context.Context, userID, channelID int64, alias string, at time.Time) error
	// StopChannel sets active=false; it is a no-op for unknown records.
	StopChannel(ctx context.Context, userID, channelID int64) error
	// DeleteChannel removes an inactive record (ErrNotFound, ErrChannelActive).
	DeleteChannel(ctx context.Context, userID, channelID int64) error

	AppendAudit(ctx context.Context, e AuditEntry) error
	PruneAudit(ctx context.Context, before time.Time) (int64, error)

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}

// Open initializes the configured store.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"))

	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql", "pgx":
		return openPostgres(ctx, cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
