// Package system holds the operational commands: liveness, uptime and the
// owner-only runtime status.
package system

import (
	"context"
	"time"

	"linkrotor/internal/notifier"
	"linkrotor/internal/rotation"
	"linkrotor/internal/task/scheduler"
	"linkrotor/internal/transport/telegram/router"
)

type Workers interface {
	Active() []rotation.WorkerInfo
}

type Notifier interface {
	Enabled() bool
	Running() bool
	History() []notifier.HistoryItem
}

type Scheduler interface {
	Snapshot() scheduler.Snapshot
	RunNow(ctx context.Context, name string) error
}

// Deps are all optional except StartedAt; missing parts are shown as
// unavailable.
type Deps struct {
	StartedAt   time.Time
	Workers     Workers
	Notifier    Notifier
	Scheduler   Scheduler
	Supervisors *router.SupervisorRegistry
	Now         func() time.Time
}

type Plugin struct {
	deps Deps
}

func New(deps Deps) *Plugin {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.StartedAt.IsZero() {
		deps.StartedAt = deps.Now()
	}
	return &Plugin{deps: deps}
}

func (p *Plugin) Commands() []router.Command {
	return []router.Command{
		{
			Route:       "ping",
			Aliases:     []string{"health"},
			Description: "health check",
			Usage:       "/ping",
			Handle: func(ctx context.Context, req *router.Request) error {
				return req.Reply(ctx, "pong")
			},
		},
		{
			Route:       "uptime",
			Aliases:     []string{"up"},
			Description: "show process uptime",
			Usage:       "/uptime",
			Handle: func(ctx context.Context, req *router.Request) error {
				return req.Reply(ctx, "uptime: "+durRel(p.deps.Now().Sub(p.deps.StartedAt)))
			},
		},
		{
			Route:       "status",
			Aliases:     []string{"sysinfo"},
			Description: "runtime status",
			Usage:       "/status",
			Access:      router.AccessOwnerOnly,
			Handle:      p.cmdStatus,
		},
		{
			Route:       "status workers",
			Aliases:     []string{"workers"},
			Description: "live rotation workers",
			Usage:       "/status workers",
			Access:      router.AccessOwnerOnly,
			Handle:      p.cmdWorkers,
		},
		{
			Route:       "tasks",
			Aliases:     []string{"sched_list"},
			Description: "housekeeping schedules",
			Usage:       "/tasks",
			Access:      router.AccessOwnerOnly,
			Handle:      p.cmdTasks,
		},
		{
			Route:       "tasks run",
			Description: "run a housekeeping job now",
			Usage:       "/tasks run <name>",
			Access:      router.AccessOwnerOnly,
			Timeout:     2 * time.Minute,
			Handle:      p.cmdTaskRun,
		},
	}
}
