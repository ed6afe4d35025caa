package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"linkrotor/internal/eventbus"
	logx "linkrotor/pkg/logx"
)

// Config controls the scheduler service.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"; empty means Local
	// DefaultTimeout bounds jobs registered with timeout 0. Default 5m.
	DefaultTimeout time.Duration
	// HistorySize is the number of finished runs kept for Snapshot. Default 20.
	HistorySize int
}

// Job is a unit of housekeeping work.
type Job func(ctx context.Context) error

type scheduleDef struct {
	name          string
	spec          string // cron spec or @every
	timeout       time.Duration
	job           Job
	entryID       cron.EntryID
	startupSpread time.Duration // initial random delay for @every schedules
	running       *atomic.Bool
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	// parent is set by Start; runCtx is cancelled by Stop so running jobs abort
	parent    context.Context
	runCtx    context.Context
	runCancel context.CancelFunc

	// jobs never take mu; Stop holds it while waiting for them
	historySize atomic.Int64
	hmu         sync.Mutex
	history     []HistoryItem

	skipped atomic.Uint64
	failed  atomic.Uint64
}

type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
	Running bool
}

// HistoryItem is one finished run.
type HistoryItem struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Error    string
}

// TaskEvent is the payload of eventbus.TypeTaskFinished.
type TaskEvent struct {
	Name     string
	Duration time.Duration
	Error    string
}

type Snapshot struct {
	Enabled   bool
	Running   bool
	Timezone  string
	Skipped   uint64
	Failed    uint64
	Schedules []ScheduleInfo
	History   []HistoryItem
}
