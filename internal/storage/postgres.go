package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	logx "linkrotor/pkg/logx"
)

//go:embed migrations/postgres.sql
var postgresSchema string

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}
	if poolCfg.MaxConns < 4 {
		poolCfg.MaxConns = 4
	}
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Info("storage opened", logx.String("driver", "postgres"), logx.String("host", poolCfg.ConnConfig.Host))
	return &postgresStore{pool: pool, log: log}, nil
}

func (s *postgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *postgresStore) UpsertUser(ctx context.Context, u User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users(user_id, display_name, username) VALUES($1,$2,$3)
		 ON CONFLICT(user_id) DO UPDATE SET display_name=EXCLUDED.display_name, username=EXCLUDED.username`,
		u.UserID, u.DisplayName, u.Username,
	)
	return err
}

func (s *postgresStore) GetUserInfo(ctx context.Context, userID int64) (User, bool, error) {
	u := User{UserID: userID}
	err := s.pool.QueryRow(ctx,
		`SELECT display_name, username, created_at FROM users WHERE user_id = $1`, userID,
	).Scan(&u.DisplayName, &u.Username, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, fmt.Errorf("get user: %w", err)
	}
	return u, true, nil
}

func (s *postgresStore) SetSession(ctx context.Context, userID int64, credential string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions(user_id, credential, updated_at) VALUES($1,$2,now())
		 ON CONFLICT(user_id) DO UPDATE SET credential=EXCLUDED.credential, updated_at=now()`,
		userID, credential,
	)
	return err
}

func (s *postgresStore) GetSession(ctx context.Context, userID int64) (string, bool, error) {
	var cred string
	err := s.pool.QueryRow(ctx, `SELECT credential FROM sessions WHERE user_id = $1`, userID).Scan(&cred)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get session: %w", err)
	}
	return cred, true, nil
}

func (s *postgresStore) DeleteSession(ctx context.Context, userID int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *postgresStore) UpsertChannel(ctx context.Context, c Channel) error {
	if c.IntervalSeconds <= 0 {
		return fmt.Errorf("interval_seconds must be > 0, got %d", c.IntervalSeconds)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO channels(user_id, channel_id, base_name, interval_seconds, active)
		 VALUES($1,$2,$3,$4,$5)
		 ON CONFLICT(user_id, channel_id) DO UPDATE SET
		   base_name=EXCLUDED.base_name,
		   interval_seconds=EXCLUDED.interval_seconds,
		   active=EXCLUDED.active,
		   updated_at=now()`,
		c.UserID, c.ChannelID, c.BaseName, c.IntervalSeconds, c.Active,
	)
	return err
}

const pgChannelCols = `user_id, channel_id, base_name, interval_seconds, active, current_alias, last_changed_at, created_at, updated_at`

func scanPGChannel(r pgx.Row) (Channel, error) {
	var (
		c    Channel
		last *time.Time
	)
	if err := r.Scan(&c.UserID, &c.ChannelID, &c.BaseName, &c.IntervalSeconds, &c.Active,
		&c.CurrentAlias, &last, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return Channel{}, err
	}
	if last != nil {
		c.LastChangedAt = *last
	}
	return c, nil
}

func (s *postgresStore) GetChannel(ctx context.Context, userID, channelID int64) (Channel, bool, error) {
	c, err := scanPGChannel(s.pool.QueryRow(ctx,
		`SELECT `+pgChannelCols+` FROM channels WHERE user_id = $1 AND channel_id = $2`, userID, channelID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Channel{}, false, nil
	}
	if err != nil {
		return Channel{}, false, fmt.Errorf("get channel: %w", err)
	}
	return c, true, nil
}

func (s *postgresStore) queryChannels(ctx context.Context, q string, args ...any) ([]Channel, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Channel
	for rows.Next() {
		c, err := scanPGChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *postgresStore) ListChannels(ctx context.Context, userID int64) ([]Channel, error) {
	return s.queryChannels(ctx,
		`SELECT `+pgChannelCols+` FROM channels WHERE user_id = $1 ORDER BY channel_id`, userID)
}

func (s *postgresStore) ListActiveChannels(ctx context.Context) ([]Channel, error) {
	return s.queryChannels(ctx,
		`SELECT `+pgChannelCols+` FROM channels WHERE active ORDER BY user_id, channel_id`)
}

func (s *postgresStore) UpdateLastChanged(ctx context.Context, userID, channelID int64, alias string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE channels SET current_alias = $1, last_changed_at = $2, updated_at = now()
		 WHERE user_id = $3 AND channel_id = $4`,
		alias, at, userID, channelID,
	)
	return err
}

func (s *postgresStore) StopChannel(ctx context.Context, userID, channelID int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE channels SET active = FALSE, updated_at = now() WHERE user_id = $1 AND channel_id = $2`,
		userID, channelID,
	)
	return err
}

func (s *postgresStore) DeleteChannel(ctx context.Context, userID, channelID int64) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM channels WHERE user_id = $1 AND channel_id = $2 AND NOT active`, userID, channelID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	_, ok, err := s.GetChannel(ctx, userID, channelID)
	if err != nil {
		return err
	}
	if ok {
		return ErrChannelActive
	}
	return ErrNotFound
}

func (s *postgresStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit(at, actor_id, action, target, ok, err, meta) VALUES($1,$2,$3,$4,$5,$6,$7)`,
		e.At, e.ActorID, e.Action, e.Target, e.OK, nullStr(e.Error), nullStr(e.MetaJSON),
	)
	return err
}

func (s *postgresStore) PruneAudit(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM audit WHERE at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *postgresStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dedup(key, until) VALUES($1,$2)
		 ON CONFLICT(key) DO UPDATE SET until=EXCLUDED.until`,
		key, until,
	)
	return err
}

func (s *postgresStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var until time.Time
	err := s.pool.QueryRow(ctx, `SELECT until FROM dedup WHERE key = $1`, key).Scan(&until)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return until, true, nil
}
