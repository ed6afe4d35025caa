package system

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"linkrotor/internal/task/scheduler"
	"linkrotor/internal/transport/telegram/router"
	"linkrotor/pkg/tgui"
)

func (p *Plugin) cmdStatus(ctx context.Context, req *router.Request) error {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	now := p.deps.Now()

	b := tgui.New().Title("🩺", "Status").
		KV("Uptime", tgui.Esc(durRel(now.Sub(p.deps.StartedAt)))).
		KV("Go", tgui.Esc(runtime.Version())).
		KV("Goroutines", tgui.Esc(strconv.Itoa(runtime.NumGoroutine()))).
		KV("Memory", tgui.Esc(fmtBytes(m.Alloc)+" alloc, "+fmtBytes(m.Sys)+" sys"))

	b.Blank().Line(tgui.B("Rotation"))
	if w := p.deps.Workers; w != nil {
		b.KV("Live workers", tgui.Esc(strconv.Itoa(len(w.Active()))))
	} else {
		b.Line(tgui.I("unavailable"))
	}

	b.Blank().Line(tgui.B("Notifier"))
	if n := p.deps.Notifier; n != nil {
		state := "disabled"
		switch {
		case n.Running():
			state = "running"
		case n.Enabled():
			state = "stopped"
		}
		b.KV("State", tgui.Esc(state))
		if h := n.History(); len(h) > 0 {
			last := h[len(h)-1]
			b.KV("Last sent", tgui.Esc(durRel(now.Sub(last.At))+" ago"))
		}
	} else {
		b.Line(tgui.I("unavailable"))
	}

	b.Blank().Line(tgui.B("Housekeeping"))
	if s := p.deps.Scheduler; s != nil {
		snap := s.Snapshot()
		b.KV("State", tgui.Esc(schedState(snap)))
		b.KV("Schedules", tgui.Esc(strconv.Itoa(len(snap.Schedules))))
		if snap.Failed > 0 {
			b.KV("Failed runs", tgui.Esc(strconv.FormatUint(snap.Failed, 10)))
		}
	} else {
		b.Line(tgui.I("unavailable"))
	}

	if reg := p.deps.Supervisors; reg != nil {
		b.Blank().Line(tgui.B("Supervisors"))
		for _, st := range reg.Snapshot() {
			if !st.Running {
				b.Bullet(tgui.JoinH(" ", tgui.Raw("⏸"), tgui.Code(st.Name)))
				continue
			}
			c := st.State.Counters
			line := tgui.JoinH(" ",
				tgui.Raw("▶️"),
				tgui.Code(st.Name),
				tgui.Esc(fmt.Sprintf("active=%d started=%d panics=%d", c.Active, c.Started, c.Panics)),
			)
			if st.State.FirstError != "" {
				line = tgui.JoinH(" ", line, tgui.Esc("err: "+tgui.TruncRunes(st.State.FirstError, 120)))
			}
			b.Bullet(line)
		}
	}
	return req.Reply(ctx, b.String())
}

func (p *Plugin) cmdWorkers(ctx context.Context, req *router.Request) error {
	if p.deps.Workers == nil {
		return req.Reply(ctx, "rotation supervisor is unavailable")
	}
	ws := p.deps.Workers.Active()
	if len(ws) == 0 {
		return req.Reply(ctx, "no live workers")
	}
	now := p.deps.Now()
	b := tgui.New().Title("🔄", fmt.Sprintf("Workers (%d)", len(ws)))
	for _, w := range ws {
		b.Bullet(tgui.JoinH(" ",
			tgui.Code(w.Key.String()),
			tgui.Esc(w.BaseName+"??"),
			tgui.Esc("every "+w.Interval.String()),
			tgui.Esc("up "+durRel(now.Sub(w.StartedAt))),
			tgui.I(shortID(w.RunID)),
		))
	}
	for _, part := range b.Parts() {
		if err := req.Reply(ctx, part); err != nil {
			return err
		}
	}
	return nil
}

func (p *Plugin) cmdTasks(ctx context.Context, req *router.Request) error {
	if p.deps.Scheduler == nil {
		return req.Reply(ctx, "scheduler is unavailable")
	}
	snap := p.deps.Scheduler.Snapshot()
	b := tgui.New().Title("⏱", "Housekeeping ("+snap.Timezone+")").
		KV("State", tgui.Esc(schedState(snap)))
	if snap.Skipped > 0 {
		b.KV("Skipped triggers", tgui.Esc(strconv.FormatUint(snap.Skipped, 10)))
	}
	if len(snap.Schedules) == 0 {
		b.Line(tgui.I("no schedules"))
	}
	now := p.deps.Now()
	for _, t := range snap.Schedules {
		next := "-"
		if !t.Next.IsZero() {
			next = t.Next.Format(time.DateTime)
			if t.Next.After(now) {
				next += " (in " + durRel(t.Next.Sub(now)) + ")"
			}
		}
		line := tgui.JoinH(" ", tgui.Code(t.Name), tgui.Esc(t.Spec+", next "+next))
		if t.Running {
			line = tgui.JoinH(" ", line, tgui.I("running"))
		}
		b.Bullet(line)
	}
	if n := len(snap.History); n > 0 {
		last := snap.History[n-1]
		res := "ok"
		if last.Error != "" {
			res = "error: " + last.Error
		}
		b.Blank().KV("Last run", tgui.Esc(last.Name+" "+durRel(now.Sub(last.Started))+" ago, "+last.Duration.Round(time.Millisecond).String()+", "+res))
	}
	return req.Reply(ctx, b.String())
}

func (p *Plugin) cmdTaskRun(ctx context.Context, req *router.Request) error {
	if p.deps.Scheduler == nil {
		return req.Reply(ctx, "scheduler is unavailable")
	}
	if len(req.Args) != 1 {
		return req.Reply(ctx, "Usage: <code>/tasks run &lt;name&gt;</code>")
	}
	name := req.Args[0]
	start := p.deps.Now()
	err := p.deps.Scheduler.RunNow(ctx, name)
	switch {
	case errors.Is(err, scheduler.ErrUnknownSchedule):
		return req.Reply(ctx, "unknown task "+tgui.Code(name).String())
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		return req.Reply(ctx, tgui.Code(name).String()+" is already running")
	case err != nil:
		return req.Reply(ctx, "❌ "+tgui.Code(name).String()+": "+tgui.Esc(err.Error()).String())
	}
	return req.Reply(ctx, "✅ "+tgui.Code(name).String()+" done in "+p.deps.Now().Sub(start).Round(time.Millisecond).String())
}

func schedState(s scheduler.Snapshot) string {
	switch {
	case s.Running:
		return "running"
	case s.Enabled:
		return "stopped"
	default:
		return "disabled"
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func fmtBytes(n uint64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)
	switch {
	case n >= GB:
		return fmt.Sprintf("%.1fGB", float64(n)/GB)
	case n >= MB:
		return fmt.Sprintf("%.1fMB", float64(n)/MB)
	case n >= KB:
		return fmt.Sprintf("%.1fKB", float64(n)/KB)
	default:
		return fmt.Sprintf("%dB", n)
	}
}

func durRel(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%dd%dh", int(d.Hours())/24, int(d.Hours())%24)
	}
}
