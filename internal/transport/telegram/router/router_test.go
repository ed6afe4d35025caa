package router

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	kit "linkrotor/internal/transport"
	logx "linkrotor/pkg/logx"
)

type fakeAdapter struct {
	mu    sync.Mutex
	texts []string
}

func (a *fakeAdapter) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.texts = append(a.texts, text)
	return kit.MessageRef{MessageID: len(a.texts)}, nil
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error    { return nil }
func (a *fakeAdapter) Stop(context.Context) error                         { return nil }
func (a *fakeAdapter) DeleteMessage(context.Context, kit.MessageRef) error { return nil }

func (a *fakeAdapter) sent() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.texts...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestTokenizeCommandLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want []string
	}{
		{`/rotate -1001 news 60`, []string{"/rotate", "-1001", "news", "60"}},
		{`/login "1abc def"`, []string{"/login", "1abc def"}},
		{`/x a\ b 'c d'`, []string{"/x", "a b", "c d"}},
		{"  ", nil},
	}
	for _, tt := range tests {
		if got := tokenizeCommandLine(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("tokenize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseFlagsKeepsNegativeIDs(t *testing.T) {
	t.Parallel()
	pos, flags, bools := parseFlags([]string{"-1001234", "news", "--every", "10m", "-v", "-x=1"})
	if !reflect.DeepEqual(pos, []string{"-1001234", "news"}) {
		t.Fatalf("pos = %q", pos)
	}
	if flags["every"] != "10m" || flags["x"] != "1" {
		t.Fatalf("flags = %v", flags)
	}
	if !bools["v"] {
		t.Fatalf("bools = %v", bools)
	}
}

func TestSanitizeTelegramCommand(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"status workers": "status_workers",
		"Rotate-Now":     "rotate_now",
		"9lives":         "cmd_9lives",
		"!!":             "",
	}
	for in, want := range tests {
		if got := sanitizeTelegramCommand(in); got != want {
			t.Fatalf("sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

func newManager(t *testing.T, owners []int64, cmds ...Command) (*CommandManager, *fakeAdapter, chan kit.Update) {
	t.Helper()
	ad := &fakeAdapter{}
	m := NewCommandManager(logx.Nop(), ad, owners)
	m.SetRegistry(context.Background(), cmds)
	return m, ad, run(t, m)
}

func run(t *testing.T, m *CommandManager) chan kit.Update {
	t.Helper()
	updates := make(chan kit.Update, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.DispatchLoop(ctx, updates)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return updates
}

func msg(from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: from, FromID: from, Text: text, IsPrivate: true}}
}

func TestDispatchRoutesArgsAndAliases(t *testing.T) {
	t.Parallel()
	var (
		mu   sync.Mutex
		seen [][]string
	)
	rotate := Command{
		Route:   "rotate",
		Aliases: []string{"r"},
		Handle: func(_ context.Context, req *Request) error {
			mu.Lock()
			seen = append(seen, req.Args)
			mu.Unlock()
			return nil
		},
	}
	_, _, updates := newManager(t, nil, rotate)

	updates <- msg(1, "/rotate -1001 news 60")
	updates <- msg(1, "/r@linkrotor_bot -1002 daily 10m")
	waitFor(t, "two handled commands", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	})
	mu.Lock()
	defer mu.Unlock()
	for _, args := range seen {
		if len(args) != 3 || !strings.HasPrefix(args[0], "-100") {
			t.Fatalf("args = %q", args)
		}
	}
}

func TestOwnerOnlyAndUnknown(t *testing.T) {
	t.Parallel()
	called := make(chan int64, 2)
	status := Command{
		Route:  "status",
		Access: AccessOwnerOnly,
		Handle: func(_ context.Context, req *Request) error {
			called <- req.FromID
			return nil
		},
	}
	m, ad, updates := newManager(t, []int64{7}, status)

	updates <- msg(1, "/status")
	updates <- msg(2, "/nope")
	waitFor(t, "two replies", func() bool { return len(ad.sent()) == 2 })
	if got := ad.sent(); got[0] != "unauthorized" || !strings.Contains(got[1], "Unknown command") {
		t.Fatalf("replies = %q", got)
	}

	m.SetOwners([]int64{1})
	updates <- msg(1, "/status")
	select {
	case id := <-called:
		if id != 1 {
			t.Fatalf("handled for %d", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("owner command was not dispatched")
	}
}

func TestMiddlewareWrapsCommands(t *testing.T) {
	t.Parallel()
	hit := make(chan string, 1)
	m := NewCommandManager(logx.Nop(), &fakeAdapter{}, nil)
	m.Use(func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			hit <- req.Command
			return next(ctx, req)
		}
	})
	m.SetRegistry(context.Background(), []Command{{Route: "ping", Handle: func(context.Context, *Request) error { return nil }}})
	updates := run(t, m)

	updates <- msg(1, "/ping")
	select {
	case cmd := <-hit:
		if cmd != "ping" {
			t.Fatalf("middleware saw %q", cmd)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("middleware never ran")
	}
}

func TestHelpHidesOwnerCommands(t *testing.T) {
	t.Parallel()
	noop := func(context.Context, *Request) error { return nil }
	m := NewCommandManager(logx.Nop(), &fakeAdapter{}, nil)
	m.SetRegistry(context.Background(), []Command{
		{Route: "rotate", Description: "start rotating", Usage: "/rotate <channel_id> <base> <interval>", Handle: noop},
		{Route: "status", Description: "runtime status", Access: AccessOwnerOnly, Handle: noop},
	})

	public := m.helpText(nil, false)
	if !strings.Contains(public, "/rotate") || strings.Contains(public, "/status") {
		t.Fatalf("public help = %q", public)
	}
	if owner := m.helpText(nil, true); !strings.Contains(owner, "/status") {
		t.Fatalf("owner help = %q", owner)
	}
	if detail := m.helpText([]string{"rotate"}, false); !strings.Contains(detail, "&lt;channel_id&gt;") {
		t.Fatalf("detail = %q", detail)
	}

	menu := buildTelegramMenuCommands(m.root, nil)
	for _, c := range menu {
		if c.Command == "status" {
			t.Fatal("owner-only command leaked into the public menu")
		}
	}
}
