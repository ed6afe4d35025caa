// Package rotor is the operator command surface: session login, starting and
// stopping rotations, and listing a user's channels.
package rotor

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"linkrotor/internal/storage"
	"linkrotor/internal/transport/telegram/router"
	logx "linkrotor/pkg/logx"
)

// Rotations is the slice of the rotation supervisor the commands drive.
type Rotations interface {
	Start(ctx context.Context, userID, channelID int64, baseName string, interval time.Duration) error
	Stop(ctx context.Context, userID, channelID int64) error
	IsActive(userID, channelID int64) bool
}

// SessionChecker opens a session once to confirm it is authorized and
// returns the account's display name.
type SessionChecker interface {
	Check(ctx context.Context, credential string) (string, error)
}

// Settings are the hot-reloadable knobs of the command surface.
type Settings struct {
	MinInterval time.Duration
}

type Deps struct {
	Store     storage.Store
	Rotations Rotations
	// Validate rejects credentials with an unknown encoding without a
	// network round trip.
	Validate func(ctx context.Context, credential string) error
	// Checker is optional; when set /login verifies the session online.
	Checker SessionChecker
	Log     logx.Logger
	Now     func() time.Time
}

type Plugin struct {
	deps     Deps
	log      logx.Logger
	settings atomic.Pointer[Settings]
}

func New(deps Deps, s Settings) *Plugin {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	p := &Plugin{deps: deps, log: deps.Log.With(logx.String("comp", "rotor"))}
	p.Apply(s)
	return p
}

// Apply swaps settings live.
func (p *Plugin) Apply(s Settings) {
	if s.MinInterval <= 0 {
		s.MinInterval = 30 * time.Second
	}
	p.settings.Store(&s)
}

func (p *Plugin) cfg() Settings { return *p.settings.Load() }

// TrackUsers upserts the sender's profile before every command so
// notices can name them.
func (p *Plugin) TrackUsers() router.Middleware {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx context.Context, req *router.Request) error {
			if m := req.Message; m != nil && m.FromID != 0 {
				err := p.deps.Store.UpsertUser(ctx, storage.User{
					UserID:      m.FromID,
					DisplayName: m.FromName,
					Username:    m.FromUsername,
				})
				if err != nil {
					req.Logger.Warn("upsert user failed", logx.Err(err))
				}
			}
			return next(ctx, req)
		}
	}
}

func (p *Plugin) audit(ctx context.Context, actor int64, action, target string, err error, meta map[string]any) {
	e := storage.AuditEntry{At: p.deps.Now(), ActorID: actor, Action: action, Target: target, OK: err == nil}
	if err != nil {
		e.Error = err.Error()
	}
	if len(meta) > 0 {
		if b, mErr := json.Marshal(meta); mErr == nil {
			e.MetaJSON = string(b)
		}
	}
	if aErr := p.deps.Store.AppendAudit(ctx, e); aErr != nil {
		p.log.Debug("audit append failed", logx.String("action", action), logx.Err(aErr))
	}
}
