package storage

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("storage: not found")
	// ErrChannelActive is returned when deleting a record that is still rotating.
	ErrChannelActive = errors.New("storage: channel is active")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite" (default): Path is the database file, ":memory:" for tests
//   - "postgres": DSN is a libpq/pgx connection string
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Channel is a persisted rotation record keyed by (UserID, ChannelID).
type Channel struct {
	UserID          int64
	ChannelID       int64
	BaseName        string
	IntervalSeconds int
	Active          bool
	CurrentAlias    string
	LastChangedAt   time.Time // zero when never changed
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (c Channel) Interval() time.Duration { return time.Duration(c.IntervalSeconds) * time.Second }

// User is the operator profile used for notification formatting.
type User struct {
	UserID      int64
	DisplayName string
	Username    string
	CreatedAt   time.Time
}

// Label returns the best human-readable name for the user.
func (u User) Label() string {
	switch {
	case u.DisplayName != "":
		return u.DisplayName
	case u.Username != "":
		return "@" + u.Username
	default:
		return ""
	}
}

// AuditEntry records an operator action or a rotation outcome.
type AuditEntry struct {
	At       time.Time
	ActorID  int64
	Action   string
	Target   string
	OK       bool
	Error    string
	MetaJSON string
}
