package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "linkrotor/pkg/logx"
)

//go:embed migrations/sqlite.sql
var sqliteSchema string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer; also keeps a ":memory:" database alive across calls
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Info("storage opened", logx.String("driver", "sqlite"), logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func ms(t time.Time) int64 { return t.UnixMilli() }

func fromMS(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64)
}

func (s *sqliteStore) UpsertUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(user_id, display_name, username, created_at) VALUES(?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET display_name=excluded.display_name, username=excluded.username`,
		u.UserID, u.DisplayName, u.Username, ms(time.Now()),
	)
	return err
}

func (s *sqliteStore) GetUserInfo(ctx context.Context, userID int64) (User, bool, error) {
	u := User{UserID: userID}
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT display_name, username, created_at FROM users WHERE user_id = ?`, userID,
	).Scan(&u.DisplayName, &u.Username, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, err
	}
	u.CreatedAt = time.UnixMilli(created)
	return u, true, nil
}

func (s *sqliteStore) SetSession(ctx context.Context, userID int64, credential string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(user_id, credential, updated_at) VALUES(?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET credential=excluded.credential, updated_at=excluded.updated_at`,
		userID, credential, ms(time.Now()),
	)
	return err
}

func (s *sqliteStore) GetSession(ctx context.Context, userID int64) (string, bool, error) {
	var cred string
	err := s.db.QueryRowContext(ctx, `SELECT credential FROM sessions WHERE user_id = ?`, userID).Scan(&cred)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return cred, true, nil
}

func (s *sqliteStore) DeleteSession(ctx context.Context, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqliteStore) UpsertChannel(ctx context.Context, c Channel) error {
	if c.IntervalSeconds <= 0 {
		return fmt.Errorf("interval_seconds must be > 0, got %d", c.IntervalSeconds)
	}
	now := ms(time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channels(user_id, channel_id, base_name, interval_seconds, active, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(user_id, channel_id) DO UPDATE SET
		   base_name=excluded.base_name,
		   interval_seconds=excluded.interval_seconds,
		   active=excluded.active,
		   updated_at=excluded.updated_at`,
		c.UserID, c.ChannelID, c.BaseName, c.IntervalSeconds, c.Active, now, now,
	)
	return err
}

const sqliteChannelCols = `user_id, channel_id, base_name, interval_seconds, active, current_alias, last_changed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteChannel(r rowScanner) (Channel, error) {
	var (
		c                Channel
		last             sql.NullInt64
		created, updated int64
	)
	if err := r.Scan(&c.UserID, &c.ChannelID, &c.BaseName, &c.IntervalSeconds, &c.Active,
		&c.CurrentAlias, &last, &created, &updated); err != nil {
		return Channel{}, err
	}
	c.LastChangedAt = fromMS(last)
	c.CreatedAt = time.UnixMilli(created)
	c.UpdatedAt = time.UnixMilli(updated)
	return c, nil
}

func (s *sqliteStore) GetChannel(ctx context.Context, userID, channelID int64) (Channel, bool, error) {
	c, err := scanSQLiteChannel(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteChannelCols+` FROM channels WHERE user_id = ? AND channel_id = ?`, userID, channelID))
	if errors.Is(err, sql.ErrNoRows) {
		return Channel{}, false, nil
	}
	if err != nil {
		return Channel{}, false, err
	}
	return c, true, nil
}

func (s *sqliteStore) queryChannels(ctx context.Context, q string, args ...any) ([]Channel, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Channel
	for rows.Next() {
		c, err := scanSQLiteChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListChannels(ctx context.Context, userID int64) ([]Channel, error) {
	return s.queryChannels(ctx,
		`SELECT `+sqliteChannelCols+` FROM channels WHERE user_id = ? ORDER BY channel_id`, userID)
}

func (s *sqliteStore) ListActiveChannels(ctx context.Context) ([]Channel, error) {
	return s.queryChannels(ctx,
		`SELECT `+sqliteChannelCols+` FROM channels WHERE active = 1 ORDER BY user_id, channel_id`)
}

func (s *sqliteStore) UpdateLastChanged(ctx context.Context, userID, channelID int64, alias string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE channels SET current_alias = ?, last_changed_at = ?, updated_at = ?
		 WHERE user_id = ? AND channel_id = ?`,
		alias, ms(at), ms(time.Now()), userID, channelID,
	)
	return err
}

func (s *sqliteStore) StopChannel(ctx context.Context, userID, channelID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE channels SET active = 0, updated_at = ? WHERE user_id = ? AND channel_id = ?`,
		ms(time.Now()), userID, channelID,
	)
	return err
}

func (s *sqliteStore) DeleteChannel(ctx context.Context, userID, channelID int64) error {
	c, ok, err := s.GetChannel(ctx, userID, channelID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if c.Active {
		return ErrChannelActive
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM channels WHERE user_id = ? AND channel_id = ? AND active = 0`, userID, channelID)
	return err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, action, target, ok, err, meta) VALUES(?,?,?,?,?,?,?)`,
		ms(e.At), e.ActorID, e.Action, e.Target, e.OK, nullStr(e.Error), nullStr(e.MetaJSON),
	)
	return err
}

func (s *sqliteStore) PruneAudit(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit WHERE at < ?`, ms(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, ms(until),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		if _, perr := s.db.ExecContext(pctx, `DELETE FROM dedup WHERE until < ?`, ms(time.Now())); perr != nil {
			s.log.Debug("dedup prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var until int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&until)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(until), true, nil
}
