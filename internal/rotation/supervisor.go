package rotation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"linkrotor/internal/eventbus"
	rt "linkrotor/internal/runtime/supervisor"
	"linkrotor/internal/storage"
	kit "linkrotor/internal/transport"
	logx "linkrotor/pkg/logx"
)

// Store is the slice of storage the supervisor and its workers need.
type Store interface {
	GetSession(ctx context.Context, userID int64) (credential string, ok bool, err error)
	ListActiveChannels(ctx context.Context) ([]storage.Channel, error)
	UpdateLastChanged(ctx context.Context, userID, channelID int64, alias string, at time.Time) error
	StopChannel(ctx context.Context, userID, channelID int64) error
	GetUserInfo(ctx context.Context, userID int64) (storage.User, bool, error)
}

// auditor is implemented by stores that keep an audit trail.
type auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type Notifier interface {
	Notify(ctx context.Context, n kit.Notification) error
}

type Key struct {
	UserID    int64
	ChannelID int64
}

func (k Key) String() string { return fmt.Sprintf("%d/%d", k.UserID, k.ChannelID) }

// WorkerInfo is a read-only view of a live worker.
type WorkerInfo struct {
	Key       Key
	RunID     string
	BaseName  string
	Interval  time.Duration
	StartedAt time.Time
}

type Options struct {
	Store    Store
	Client   AliasClient
	Notifier Notifier // optional
	Bus      eventbus.Bus
	Clock    clockwork.Clock
	Log      logx.Logger

	// NotifyTarget receives success/failure notices; ChatID 0 disables them.
	NotifyTarget kit.ChatTarget
	// RateLimitPad is added to every server-requested wait. Default 5s.
	RateLimitPad time.Duration
	// MaxAttempts bounds candidates per cycle on name conflicts. Default 5.
	MaxAttempts int
	// Suffix generates candidate suffixes. Default: 2 random [A-Za-z0-9].
	Suffix func() string
}

type handle struct {
	key       Key
	runID     string
	baseName  string
	interval  time.Duration
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// Supervisor owns the registry of live rotation workers.
type Supervisor struct {
	store    Store
	client   AliasClient
	notifier Notifier
	bus      eventbus.Bus
	clock    clockwork.Clock
	log      logx.Logger

	pad         time.Duration
	maxAttempts int
	suffix      func() string

	target atomic.Value // kit.ChatTarget

	// goroutines run under rt so panics are captured and Shutdown can wait
	rt *rt.Supervisor

	mu      sync.Mutex
	workers map[Key]*handle
	closing bool
}

func NewSupervisor(opts Options) *Supervisor {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	if opts.RateLimitPad <= 0 {
		opts.RateLimitPad = 5 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Suffix == nil {
		opts.Suffix = randomSuffix
	}
	log := opts.Log.With(logx.String("comp", "rotation"))
	s := &Supervisor{
		store:       opts.Store,
		client:      opts.Client,
		notifier:    opts.Notifier,
		bus:         opts.Bus,
		clock:       opts.Clock,
		log:         log,
		pad:         opts.RateLimitPad,
		maxAttempts: opts.MaxAttempts,
		suffix:      opts.Suffix,
		rt:          rt.NewSupervisor(context.Background(), rt.WithLogger(log)),
		workers:     map[Key]*handle{},
	}
	s.target.Store(opts.NotifyTarget)
	return s
}

// SetNotifyTarget swaps the chat receiving notices (config hot reload).
func (s *Supervisor) SetNotifyTarget(t kit.ChatTarget) { s.target.Store(t) }

func (s *Supervisor) notifyTarget() kit.ChatTarget {
	t, _ := s.target.Load().(kit.ChatTarget)
	return t
}

// Start launches a worker for (userID, channelID). Start does not write the
// record; callers persist it as active once Start succeeds.
func (s *Supervisor) Start(ctx context.Context, userID, channelID int64, baseName string, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: interval must be > 0", ErrInvalidArgument)
	}
	if !ValidBaseName(baseName) {
		return fmt.Errorf("%w: base name %q", ErrInvalidArgument, baseName)
	}
	key := Key{UserID: userID, ChannelID: channelID}

	// registry lock is held across the session lookup so two concurrent
	// Starts for one key cannot both pass the presence check
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return ErrClosed
	}
	if _, ok := s.workers[key]; ok {
		return ErrAlreadyActive
	}
	_, ok, err := s.store.GetSession(ctx, userID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return ErrNoCredential
	}

	wctx, cancel := context.WithCancel(s.rt.Context())
	h := &handle{
		key:       key,
		runID:     uuid.NewString(),
		baseName:  baseName,
		interval:  interval,
		startedAt: s.clock.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.workers[key] = h
	s.rt.Go0("rotation:"+key.String(), func(context.Context) { s.run(wctx, h) })

	s.log.Info("rotation started",
		logx.Int64("user_id", userID), logx.Int64("channel_id", channelID),
		logx.String("run_id", h.runID), logx.String("base", baseName), logx.Duration("interval", interval))
	s.publish(eventbus.TypeWorkerStarted, h, eventbus.RotationEvent{})
	return nil
}

// Stop cancels the worker for the key and marks the record inactive.
// The registry entry is removed by the worker itself once it unwinds.
func (s *Supervisor) Stop(ctx context.Context, userID, channelID int64) error {
	key := Key{UserID: userID, ChannelID: channelID}
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.workers[key]
	if !ok {
		return ErrNotActive
	}
	h.cancel()
	if err := s.store.StopChannel(ctx, userID, channelID); err != nil {
		return fmt.Errorf("persist stop: %w", err)
	}
	s.log.Info("rotation stop requested", logx.Int64("user_id", userID), logx.Int64("channel_id", channelID), logx.String("run_id", h.runID))
	return nil
}

// ResumeAll starts a worker for every active record. Failures are logged and
// skipped; such records stay active in storage until an operator acts.
// It returns the number of workers started.
func (s *Supervisor) ResumeAll(ctx context.Context) (int, error) {
	recs, err := s.store.ListActiveChannels(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active channels: %w", err)
	}
	started := 0
	for _, r := range recs {
		err := s.Start(ctx, r.UserID, r.ChannelID, r.BaseName, r.Interval())
		if err != nil {
			s.log.Warn("resume failed",
				logx.Int64("user_id", r.UserID), logx.Int64("channel_id", r.ChannelID), logx.Err(err))
			continue
		}
		started++
	}
	s.log.Info("rotations resumed", logx.Int("started", started), logx.Int("records", len(recs)))
	return started, nil
}

func (s *Supervisor) IsActive(userID, channelID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.workers[Key{UserID: userID, ChannelID: channelID}]
	return ok
}

// Active returns live workers sorted by key.
func (s *Supervisor) Active() []WorkerInfo {
	s.mu.Lock()
	out := make([]WorkerInfo, 0, len(s.workers))
	for _, h := range s.workers {
		out = append(out, WorkerInfo{
			Key:       h.key,
			RunID:     h.runID,
			BaseName:  h.baseName,
			Interval:  h.interval,
			StartedAt: h.startedAt,
		})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.UserID != out[j].Key.UserID {
			return out[i].Key.UserID < out[j].Key.UserID
		}
		return out[i].Key.ChannelID < out[j].Key.ChannelID
	})
	return out
}

// Runtime returns the supervisor running the workers, for status reporting.
func (s *Supervisor) Runtime() *rt.Supervisor { return s.rt }

// Shutdown cancels every worker and waits for them to exit (bounded by ctx).
// Records are left active so the next process resumes them.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	n := len(s.workers)
	s.mu.Unlock()
	s.log.Info("rotation shutdown", logx.Int("workers", n))
	return s.rt.Stop(ctx)
}

// release marks the record inactive and removes h from the registry. It runs
// once per worker. Both happen under the registry lock so a Start racing with
// the unwind never sees its fresh record overwritten.
func (s *Supervisor) release(h *handle) {
	h.cancel()
	s.mu.Lock()
	if !s.closing {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.store.StopChannel(ctx, h.key.UserID, h.key.ChannelID); err != nil {
			s.log.Warn("persist inactive failed",
				logx.Int64("user_id", h.key.UserID), logx.Int64("channel_id", h.key.ChannelID), logx.Err(err))
		}
		cancel()
	}
	if cur, ok := s.workers[h.key]; ok && cur == h {
		delete(s.workers, h.key)
	}
	s.mu.Unlock()
	close(h.done)
	s.publish(eventbus.TypeWorkerStopped, h, eventbus.RotationEvent{})
}

func (s *Supervisor) publish(typ string, h *handle, ev eventbus.RotationEvent) {
	if s.bus == nil {
		return
	}
	ev.UserID = h.key.UserID
	ev.ChannelID = h.key.ChannelID
	ev.RunID = h.runID
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.clock.Now(), Data: ev})
}
