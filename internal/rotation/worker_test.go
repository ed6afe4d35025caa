package rotation

import (
	"context"
	"strings"
	"testing"
	"time"

	"linkrotor/internal/eventbus"
	"linkrotor/internal/storage"
)

func TestSuffixAlphabetAndLength(t *testing.T) {
	t.Parallel()
	for i := 0; i < 1000; i++ {
		s := randomSuffix()
		if len(s) != 2 {
			t.Fatalf("suffix %q has length %d", s, len(s))
		}
		for _, r := range s {
			if !strings.ContainsRune(suffixAlphabet, r) {
				t.Fatalf("suffix %q contains %q outside the alphabet", s, r)
			}
		}
	}
}

func TestValidBaseName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want bool
	}{
		{"news", true},
		{"news_daily", true},
		{"ab", false},
		{"1news", false},
		{"news-daily", false},
		{strings.Repeat("a", 30), true},
		{strings.Repeat("a", 31), false},
	}
	for _, tt := range tests {
		if got := ValidBaseName(tt.in); got != tt.want {
			t.Fatalf("ValidBaseName(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// End-to-end: two conflicts, then success, one notice, next cycle after the interval.
func TestNameTakenTwiceThenSuccess(t *testing.T) {
	t.Parallel()
	h := newHarness(t, NameTaken{}, NameTaken{}, Success{Alias: "news7x"})
	h.store.setSession(1, "cred")
	h.store.users[1] = storage.User{UserID: 1, DisplayName: "Ann"}
	h.store.addChannel(storage.Channel{UserID: 1, ChannelID: -100, BaseName: "news", IntervalSeconds: 60, Active: true})
	start := h.clock.Now()

	if err := h.sup.Start(context.Background(), 1, -100, "news", 60*time.Second); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.blockUntilSleeping(t, 1)

	if got := h.client.calls(); got != 3 {
		t.Fatalf("client calls = %d, want 3", got)
	}
	for _, c := range h.client.candidates {
		if !strings.HasPrefix(c, "news") || len(c) != len("news")+2 {
			t.Fatalf("bad candidate %q", c)
		}
	}
	texts := h.notifier.texts()
	if len(texts) != 1 || !strings.Contains(texts[0], "news7x") {
		t.Fatalf("notifications = %q, want one containing news7x", texts)
	}
	rec := h.store.channel(1, -100)
	if rec.CurrentAlias != "news7x" || !rec.LastChangedAt.Equal(start) {
		t.Fatalf("record = %+v, want alias news7x changed at %v", rec, start)
	}

	h.clock.Advance(60*time.Second - time.Nanosecond)
	if got := h.client.calls(); got != 3 {
		t.Fatalf("next attempt ran before the interval elapsed (calls=%d)", got)
	}
	h.clock.Advance(time.Nanosecond)
	h.blockUntilSleeping(t, 1)
	if got := h.client.calls(); got != 4 {
		t.Fatalf("client calls after interval = %d, want 4", got)
	}
}

func TestNameBudgetExhaustedIsReportedAndScheduleContinues(t *testing.T) {
	t.Parallel()
	script := []Outcome{NameTaken{}, NameTaken{}, NameTaken{}, NameTaken{}, NameTaken{}, NameTaken{}}
	h := newHarness(t, script...)
	h.store.setSession(1, "cred")

	if err := h.sup.Start(context.Background(), 1, -100, "news", time.Minute); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.blockUntilSleeping(t, 1)

	if got := h.client.calls(); got != 5 {
		t.Fatalf("client calls = %d, want 5", got)
	}
	texts := h.notifier.texts()
	if len(texts) != 1 || !strings.Contains(texts[0], "Error changing link") {
		t.Fatalf("notifications = %q, want one failure", texts)
	}
	if !h.sup.IsActive(1, -100) {
		t.Fatal("worker must survive a failed cycle")
	}
	h.notifier.mu.Lock()
	noDedup := h.notifier.sent[0].NoDedup
	h.notifier.mu.Unlock()
	if !noDedup {
		t.Fatal("failure notice must bypass dedup so repeats are announced")
	}

	// the sixth scripted NameTaken belongs to the next cycle, which then succeeds
	h.clock.Advance(time.Minute)
	h.blockUntilSleeping(t, 1)
	if got := h.client.calls(); got != 7 {
		t.Fatalf("client calls = %d, want 7", got)
	}
	if texts := h.notifier.texts(); len(texts) != 2 || !strings.Contains(texts[1], "news") {
		t.Fatalf("notifications = %q, want a success on the second cycle", texts)
	}
}

func TestRateLimitedSleepsWaitPlusPadAndKeepsBudget(t *testing.T) {
	t.Parallel()
	script := []Outcome{
		NameTaken{}, NameTaken{}, NameTaken{}, NameTaken{},
		RateLimited{Wait: 10 * time.Second},
		NameTaken{}, NameTaken{}, NameTaken{}, NameTaken{},
		Success{Alias: "newsOK"},
	}
	h := newHarness(t, script...)
	h.store.setSession(1, "cred")
	events, unsub := h.bus.Subscribe(64)
	defer unsub()

	if err := h.sup.Start(context.Background(), 1, -100, "news", time.Hour); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.blockUntilSleeping(t, 1)
	if got := h.client.calls(); got != 5 {
		t.Fatalf("calls before backoff = %d, want 5", got)
	}
	if n := len(h.notifier.texts()); n != 0 {
		t.Fatalf("rate limit must not notify, got %d notices", n)
	}

	h.clock.Advance(15*time.Second - time.Nanosecond)
	if got := h.client.calls(); got != 5 {
		t.Fatalf("retried before wait+5s elapsed (calls=%d)", got)
	}
	h.clock.Advance(time.Nanosecond)
	h.blockUntilSleeping(t, 1)

	if got := h.client.calls(); got != 10 {
		t.Fatalf("calls = %d, want 10", got)
	}
	texts := h.notifier.texts()
	if len(texts) != 1 || !strings.Contains(texts[0], "newsOK") {
		t.Fatalf("notifications = %q, want success with newsOK", texts)
	}

	var sawRateLimit bool
	for len(events) > 0 {
		ev := <-events
		if ev.Type == eventbus.TypeRateLimited {
			sawRateLimit = ev.Data.(eventbus.RotationEvent).Wait == 10*time.Second
		}
	}
	if !sawRateLimit {
		t.Fatal("expected a rate limit event carrying the server wait")
	}
}

func TestFailureIsNotifiedAndRetriedAfterInterval(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Failure{Message: "CHAT_ADMIN_REQUIRED"})
	h.store.setSession(1, "cred")

	if err := h.sup.Start(context.Background(), 1, -100, "news", 2*time.Minute); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.blockUntilSleeping(t, 1)
	texts := h.notifier.texts()
	if len(texts) != 1 || !strings.Contains(texts[0], "CHAT_ADMIN_REQUIRED") {
		t.Fatalf("notifications = %q", texts)
	}
	if len(h.store.audits) != 1 || h.store.audits[0].OK {
		t.Fatalf("audits = %+v, want one failed entry", h.store.audits)
	}

	h.clock.Advance(2*time.Minute - time.Nanosecond)
	if got := h.client.calls(); got != 1 {
		t.Fatalf("fatal path retried early (calls=%d)", got)
	}
	h.clock.Advance(time.Nanosecond)
	h.blockUntilSleeping(t, 1)
	if got := h.client.calls(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestCredentialIsResolvedEveryCycle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.store.setSession(1, "first")

	if err := h.sup.Start(context.Background(), 1, -100, "news", time.Minute); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.blockUntilSleeping(t, 1)

	h.store.setSession(1, "second")
	h.clock.Advance(time.Minute)
	h.blockUntilSleeping(t, 1)

	h.client.mu.Lock()
	creds := append([]string(nil), h.client.creds...)
	h.client.mu.Unlock()
	if len(creds) != 2 || creds[0] != "first" || creds[1] != "second" {
		t.Fatalf("creds = %q, want [first second]", creds)
	}

	// a revoked session fails the next cycle but keeps the schedule
	h.store.setSession(1, "")
	h.clock.Advance(time.Minute)
	h.blockUntilSleeping(t, 1)
	texts := h.notifier.texts()
	if last := texts[len(texts)-1]; !strings.Contains(last, "session not found") {
		t.Fatalf("last notice = %q, want missing session", last)
	}
	if h.client.calls() != 2 {
		t.Fatal("client must not be called without a session")
	}
	if !h.sup.IsActive(1, -100) {
		t.Fatal("worker must keep running without a session")
	}
}

func TestStopDuringRateLimitBackoff(t *testing.T) {
	t.Parallel()
	h := newHarness(t, RateLimited{Wait: time.Hour})
	h.store.setSession(1, "cred")

	if err := h.sup.Start(context.Background(), 1, -100, "news", time.Minute); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.blockUntilSleeping(t, 1)
	if err := h.sup.Stop(context.Background(), 1, -100); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitFor(t, "worker to exit", func() bool { return !h.sup.IsActive(1, -100) })
	if n := len(h.notifier.texts()); n != 0 {
		t.Fatalf("cancelled worker sent %d notices", n)
	}
}

func TestStopDuringClientCall(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.client.block = true
	h.client.entered = make(chan struct{}, 1)
	h.store.setSession(1, "cred")

	if err := h.sup.Start(context.Background(), 1, -100, "news", time.Minute); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-h.client.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("client was never called")
	}
	if err := h.sup.Stop(context.Background(), 1, -100); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitFor(t, "worker to exit", func() bool { return !h.sup.IsActive(1, -100) })
	if n := len(h.notifier.texts()); n != 0 {
		t.Fatalf("cancelled worker sent %d notices", n)
	}
}

func TestNoticeFormatting(t *testing.T) {
	t.Parallel()
	ok := successText(Notice{UserID: 1, ChannelID: -100, DisplayName: "<Ann>", Alias: "news7x", Interval: time.Minute})
	for _, want := range []string{"@news7x", "<code>-100</code>", "&lt;Ann&gt;", "60s"} {
		if !strings.Contains(ok, want) {
			t.Fatalf("success text %q missing %q", ok, want)
		}
	}
	bad := failureText(Notice{UserID: 1, ChannelID: -100, Error: "a<b"})
	if !strings.Contains(bad, "a&lt;b") || strings.Contains(bad, "(") {
		t.Fatalf("failure text = %q", bad)
	}
}
