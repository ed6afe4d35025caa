package system

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"linkrotor/internal/notifier"
	"linkrotor/internal/rotation"
	rtsup "linkrotor/internal/runtime/supervisor"
	"linkrotor/internal/task/scheduler"
	kit "linkrotor/internal/transport"
	"linkrotor/internal/transport/telegram/router"
	logx "linkrotor/pkg/logx"
)

type fakeAdapter struct{ texts []string }

func (a *fakeAdapter) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.texts = append(a.texts, text)
	return kit.MessageRef{}, nil
}
func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error    { return nil }
func (a *fakeAdapter) Stop(context.Context) error                         { return nil }
func (a *fakeAdapter) DeleteMessage(context.Context, kit.MessageRef) error { return nil }

func (a *fakeAdapter) last() string { return a.texts[len(a.texts)-1] }

type fakeWorkers []rotation.WorkerInfo

func (w fakeWorkers) Active() []rotation.WorkerInfo { return w }

type fakeNotifier struct{}

func (fakeNotifier) Enabled() bool { return true }
func (fakeNotifier) Running() bool { return true }
func (fakeNotifier) History() []notifier.HistoryItem {
	return []notifier.HistoryItem{{At: time.Date(2026, 5, 1, 11, 59, 0, 0, time.UTC), Text: "x"}}
}

type fakeScheduler struct {
	snap  scheduler.Snapshot
	err   error
	names []string
}

func (s *fakeScheduler) Snapshot() scheduler.Snapshot { return s.snap }
func (s *fakeScheduler) RunNow(_ context.Context, name string) error {
	s.names = append(s.names, name)
	return s.err
}

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newPlugin(d Deps) (*Plugin, *fakeAdapter, func(args ...string) *router.Request) {
	d.Now = func() time.Time { return now }
	p := New(d)
	ad := &fakeAdapter{}
	return p, ad, func(args ...string) *router.Request {
		return &router.Request{Args: args, Adapter: ad, Logger: logx.Nop(), FromID: 1, IsOwner: true}
	}
}

func TestUptime(t *testing.T) {
	t.Parallel()
	p, ad, req := newPlugin(Deps{StartedAt: now.Add(-90 * time.Minute)})
	for _, c := range p.Commands() {
		if c.Route == "uptime" {
			if err := c.Handle(context.Background(), req()); err != nil {
				t.Fatal(err)
			}
		}
	}
	if ad.last() != "uptime: 1h30m" {
		t.Fatalf("reply = %q", ad.last())
	}
}

func TestStatusSections(t *testing.T) {
	t.Parallel()
	reg := router.NewSupervisorRegistry()
	sup := rtsup.NewSupervisor(context.Background())
	defer sup.Cancel()
	reg.Set("notifier", func() *rtsup.Supervisor { return sup })
	reg.Set("obs_http", func() *rtsup.Supervisor { return nil })

	p, ad, req := newPlugin(Deps{
		StartedAt:   now.Add(-time.Hour),
		Workers:     fakeWorkers{{Key: rotation.Key{UserID: 1, ChannelID: -100}}},
		Notifier:    fakeNotifier{},
		Scheduler:   &fakeScheduler{snap: scheduler.Snapshot{Enabled: true, Running: true, Schedules: make([]scheduler.ScheduleInfo, 1)}},
		Supervisors: reg,
	})
	if err := p.cmdStatus(context.Background(), req()); err != nil {
		t.Fatal(err)
	}
	out := ad.last()
	for _, want := range []string{
		"<b>Live workers:</b> 1",
		"<b>Last sent:</b> 1m0s ago",
		"<b>Schedules:</b> 1",
		"▶️ <code>notifier</code>",
		"⏸ <code>obs_http</code>",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("status missing %q:\n%s", want, out)
		}
	}
}

func TestStatusWithoutDeps(t *testing.T) {
	t.Parallel()
	p, ad, req := newPlugin(Deps{})
	if err := p.cmdStatus(context.Background(), req()); err != nil {
		t.Fatal(err)
	}
	if strings.Count(ad.last(), "unavailable") != 3 {
		t.Fatalf("status = %q", ad.last())
	}
}

func TestWorkersList(t *testing.T) {
	t.Parallel()
	p, ad, req := newPlugin(Deps{Workers: fakeWorkers{{
		Key:       rotation.Key{UserID: 7, ChannelID: -1001},
		RunID:     "0123456789abcdef",
		BaseName:  "news",
		Interval:  10 * time.Minute,
		StartedAt: now.Add(-5 * time.Minute),
	}}})
	if err := p.cmdWorkers(context.Background(), req()); err != nil {
		t.Fatal(err)
	}
	out := ad.last()
	if !strings.Contains(out, "<code>7/-1001</code> news?? every 10m0s up 5m0s <i>01234567</i>") {
		t.Fatalf("workers = %q", out)
	}
}

func TestTaskRun(t *testing.T) {
	t.Parallel()
	s := &fakeScheduler{}
	p, ad, req := newPlugin(Deps{Scheduler: s})
	ctx := context.Background()

	if err := p.cmdTaskRun(ctx, req("audit.prune")); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(ad.last(), "✅ <code>audit.prune</code> done") {
		t.Fatalf("reply = %q", ad.last())
	}

	s.err = scheduler.ErrUnknownSchedule
	_ = p.cmdTaskRun(ctx, req("nope"))
	if !strings.Contains(ad.last(), "unknown task") {
		t.Fatalf("reply = %q", ad.last())
	}

	s.err = errors.New("db locked")
	_ = p.cmdTaskRun(ctx, req("audit.prune"))
	if !strings.Contains(ad.last(), "db locked") {
		t.Fatalf("reply = %q", ad.last())
	}
	if len(s.names) != 3 {
		t.Fatalf("runs = %q", s.names)
	}
}

func TestDurRel(t *testing.T) {
	t.Parallel()
	tests := map[time.Duration]string{
		42 * time.Second:              "42s",
		-42 * time.Second:             "42s",
		3*time.Minute + 5*time.Second: "3m5s",
		5*time.Hour + 7*time.Minute:   "5h7m",
		73 * time.Hour:                "3d1h",
	}
	for in, want := range tests {
		if got := durRel(in); got != want {
			t.Fatalf("durRel(%v) = %q, want %q", in, got, want)
		}
	}
}
