package rotation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"linkrotor/internal/eventbus"
	"linkrotor/internal/storage"
	kit "linkrotor/internal/transport"
)

type fakeStore struct {
	mu        sync.Mutex
	sessions  map[int64]string
	users     map[int64]storage.User
	channels  map[Key]storage.Channel
	stops     []Key
	mutations int
	audits    []storage.AuditEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: map[int64]string{},
		users:    map[int64]storage.User{},
		channels: map[Key]storage.Channel{},
	}
}

func (f *fakeStore) setSession(userID int64, cred string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cred == "" {
		delete(f.sessions, userID)
		return
	}
	f.sessions[userID] = cred
}

func (f *fakeStore) addChannel(c storage.Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[Key{UserID: c.UserID, ChannelID: c.ChannelID}] = c
}

func (f *fakeStore) channel(userID, channelID int64) storage.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[Key{UserID: userID, ChannelID: channelID}]
}

func (f *fakeStore) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stops)
}

func (f *fakeStore) mutationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mutations
}

func (f *fakeStore) GetSession(_ context.Context, userID int64) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.sessions[userID]
	return c, ok, nil
}

func (f *fakeStore) ListActiveChannels(context.Context) ([]storage.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.Channel
	for _, c := range f.channels {
		if c.Active {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateLastChanged(_ context.Context, userID, channelID int64, alias string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations++
	k := Key{UserID: userID, ChannelID: channelID}
	c := f.channels[k]
	c.CurrentAlias = alias
	c.LastChangedAt = at
	f.channels[k] = c
	return nil
}

func (f *fakeStore) StopChannel(_ context.Context, userID, channelID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations++
	k := Key{UserID: userID, ChannelID: channelID}
	f.stops = append(f.stops, k)
	if c, ok := f.channels[k]; ok {
		c.Active = false
		f.channels[k] = c
	}
	return nil
}

func (f *fakeStore) GetUserInfo(_ context.Context, userID int64) (storage.User, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	return u, ok, nil
}

func (f *fakeStore) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits = append(f.audits, e)
	return nil
}

// fakeClient replays scripted outcomes, then answers Success with the candidate.
type fakeClient struct {
	mu         sync.Mutex
	script     []Outcome
	candidates []string
	creds      []string
	block      bool // wait for ctx instead of answering
	entered    chan struct{}
}

func (c *fakeClient) SetAlias(ctx context.Context, cred string, _ int64, candidate string) Outcome {
	c.mu.Lock()
	c.candidates = append(c.candidates, candidate)
	c.creds = append(c.creds, cred)
	block := c.block
	var out Outcome = Success{}
	if len(c.script) > 0 {
		out = c.script[0]
		c.script = c.script[1:]
	}
	c.mu.Unlock()

	if block {
		if c.entered != nil {
			c.entered <- struct{}{}
		}
		<-ctx.Done()
		return Failure{Message: ctx.Err().Error()}
	}
	return out
}

func (c *fakeClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.candidates)
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []kit.Notification
}

func (n *fakeNotifier) Notify(_ context.Context, msg kit.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *fakeNotifier) texts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, m := range n.sent {
		out = append(out, m.Text)
	}
	return out
}

type harness struct {
	sup      *Supervisor
	store    *fakeStore
	client   *fakeClient
	notifier *fakeNotifier
	clock    *clockwork.FakeClock
	bus      eventbus.Bus
}

func newHarness(t *testing.T, script ...Outcome) *harness {
	t.Helper()
	h := &harness{
		store:    newFakeStore(),
		client:   &fakeClient{script: script},
		notifier: &fakeNotifier{},
		clock:    clockwork.NewFakeClock(),
		bus:      eventbus.New(),
	}
	h.sup = NewSupervisor(Options{
		Store:        h.store,
		Client:       h.client,
		Notifier:     h.notifier,
		Bus:          h.bus,
		Clock:        h.clock,
		NotifyTarget: kit.ChatTarget{ChatID: -1001},
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.sup.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})
	return h
}

// blockUntilSleeping waits until n workers are parked on a timer.
func (h *harness) blockUntilSleeping(t *testing.T, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.clock.BlockUntilContext(ctx, n); err != nil {
		t.Fatalf("timed out waiting for %d sleeping workers: %v", n, err)
	}
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
