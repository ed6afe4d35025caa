package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "linkrotor/pkg/logx"
)

func openMemory(t *testing.T) Store {
	t.Helper()
	st, err := Open(context.Background(), Config{Driver: "sqlite", Path: ":memory:"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(context.Background(), Config{Driver: "mongo"}, logx.Nop())
	require.Error(t, err)
}

func TestSessions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openMemory(t)

	_, ok, err := st.GetSession(ctx, 7)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, st.SetSession(ctx, 7, "cred-1"))
	require.NoError(t, st.SetSession(ctx, 7, "cred-2"))
	cred, ok, err := st.GetSession(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "cred-2", cred)

	deleted, err := st.DeleteSession(ctx, 7)
	require.NoError(t, err)
	require.True(t, deleted)
	deleted, err = st.DeleteSession(ctx, 7)
	require.NoError(t, err)
	require.False(t, deleted)
}

func TestUsers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openMemory(t)

	require.NoError(t, st.UpsertUser(ctx, User{UserID: 1, DisplayName: "Ann", Username: "ann"}))
	require.NoError(t, st.UpsertUser(ctx, User{UserID: 1, DisplayName: "Ann B", Username: "ann"}))
	u, ok, err := st.GetUserInfo(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Ann B", u.DisplayName)
	require.Equal(t, "Ann B", u.Label())

	_, ok, err = st.GetUserInfo(ctx, 2)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestChannelLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openMemory(t)

	rec := Channel{UserID: 1, ChannelID: -100, BaseName: "news", IntervalSeconds: 60, Active: true}
	require.NoError(t, st.UpsertChannel(ctx, rec))
	require.NoError(t, st.UpsertChannel(ctx, Channel{UserID: 2, ChannelID: -100, BaseName: "other", IntervalSeconds: 30, Active: true}))

	at := time.UnixMilli(time.Now().UnixMilli())
	require.NoError(t, st.UpdateLastChanged(ctx, 1, -100, "newsAb", at))

	got, ok, err := st.GetChannel(ctx, 1, -100)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "newsAb", got.CurrentAlias)
	require.True(t, got.LastChangedAt.Equal(at))
	require.Equal(t, time.Minute, got.Interval())

	// re-upsert keeps alias and timestamp
	require.NoError(t, st.UpsertChannel(ctx, Channel{UserID: 1, ChannelID: -100, BaseName: "daily", IntervalSeconds: 120, Active: true}))
	got, _, err = st.GetChannel(ctx, 1, -100)
	require.NoError(t, err)
	require.Equal(t, "daily", got.BaseName)
	require.Equal(t, "newsAb", got.CurrentAlias)

	active, err := st.ListActiveChannels(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)

	// stop is scoped to the owner of the record
	require.NoError(t, st.StopChannel(ctx, 1, -100))
	active, err = st.ListActiveChannels(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, int64(2), active[0].UserID)

	require.ErrorIs(t, st.DeleteChannel(ctx, 2, -100), ErrChannelActive)
	require.ErrorIs(t, st.DeleteChannel(ctx, 3, -100), ErrNotFound)
	require.NoError(t, st.DeleteChannel(ctx, 1, -100))

	mine, err := st.ListChannels(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, mine)
}

func TestUpsertChannelRejectsZeroInterval(t *testing.T) {
	t.Parallel()
	st := openMemory(t)
	err := st.UpsertChannel(context.Background(), Channel{UserID: 1, ChannelID: 1, BaseName: "abc"})
	require.Error(t, err)
}

func TestAuditPrune(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openMemory(t)

	now := time.Now()
	require.NoError(t, st.AppendAudit(ctx, AuditEntry{At: now.Add(-48 * time.Hour), ActorID: 1, Action: "rotate", OK: true}))
	require.NoError(t, st.AppendAudit(ctx, AuditEntry{At: now, ActorID: 1, Action: "stop", OK: false, Error: "not active"}))

	n, err := st.PruneAudit(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestDedup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openMemory(t)

	_, ok, err := st.GetDedup(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)

	until := time.UnixMilli(time.Now().Add(time.Minute).UnixMilli())
	require.NoError(t, st.PutDedup(ctx, "k", until))
	got, ok, err := st.GetDedup(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Equal(until))
}
