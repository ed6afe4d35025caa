package mtproto

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gotd/td/bin"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/gotd/td/tgmock"
	"github.com/stretchr/testify/require"

	"linkrotor/internal/rotation"
)

const (
	testChannelID  int64 = -1001234567890
	testBareID     int64 = 1234567890
	testAccessHash int64 = 778899
)

// expectDialogs scripts one messages.getDialogs reply listing the given channels.
func expectDialogs(t *testing.T, m *tgmock.Mock, ids ...int64) {
	t.Helper()
	res := &tg.MessagesDialogsSlice{Count: len(ids)}
	for _, id := range ids {
		res.Dialogs = append(res.Dialogs, &tg.Dialog{Peer: &tg.PeerChannel{ChannelID: id}})
		res.Chats = append(res.Chats, &tg.Channel{
			ID:         id,
			AccessHash: testAccessHash,
			Title:      "chan",
			Photo:      &tg.ChatPhotoEmpty{},
		})
	}
	m.ExpectFunc(func(b bin.Encoder) {
		_, ok := b.(*tg.MessagesGetDialogsRequest)
		require.True(t, ok, "expected messages.getDialogs, got %T", b)
	}).ThenResult(res)
}

func expectUpdate(m *tgmock.Mock, candidate string) *tgmock.RequestBuilder {
	return m.ExpectCall(&tg.ChannelsUpdateUsernameRequest{
		Channel:  &tg.InputChannel{ChannelID: testBareID, AccessHash: testAccessHash},
		Username: candidate,
	})
}

func TestFindChannelWalksDialogs(t *testing.T) {
	t.Parallel()
	m := tgmock.NewRequire(t)
	expectDialogs(t, m, 555, testBareID)

	ch, err := findChannel(context.Background(), tg.NewClient(m), testChannelID)
	require.NoError(t, err)
	require.Equal(t, &tg.InputChannel{ChannelID: testBareID, AccessHash: testAccessHash}, ch)
}

func TestFindChannelNotFound(t *testing.T) {
	t.Parallel()
	m := tgmock.NewRequire(t)
	expectDialogs(t, m, 555, 556)
	// an empty page ends the listing
	expectDialogs(t, m)

	_, err := findChannel(context.Background(), tg.NewClient(m), testChannelID)
	require.ErrorIs(t, err, ErrChannelNotFound)

	m = tgmock.NewRequire(t)
	expectDialogs(t, m)
	got := updateAlias(context.Background(), tg.NewClient(m), testChannelID, "news7x")
	f, ok := got.(rotation.Failure)
	require.True(t, ok, "got %#v", got)
	require.Contains(t, f.Message, "not found")
}

func TestUpdateAliasOutcomes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		script func(b *tgmock.RequestBuilder)
		want   rotation.Outcome
	}{
		{
			name:   "set",
			script: func(b *tgmock.RequestBuilder) { b.ThenTrue() },
			want:   rotation.Success{Alias: "news7x"},
		},
		{
			name: "occupied",
			script: func(b *tgmock.RequestBuilder) {
				b.ThenRPCErr(tgerr.New(400, "USERNAME_OCCUPIED"))
			},
			want: rotation.NameTaken{},
		},
		{
			name:   "flood",
			script: func(b *tgmock.RequestBuilder) { b.ThenFlood(30) },
			want:   rotation.RateLimited{Wait: 30 * time.Second},
		},
		{
			name: "admin required",
			script: func(b *tgmock.RequestBuilder) {
				b.ThenRPCErr(tgerr.New(400, "CHAT_ADMIN_REQUIRED"))
			},
			want: rotation.Failure{Message: "CHAT_ADMIN_REQUIRED"},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := tgmock.NewRequire(t)
			expectDialogs(t, m, testBareID)
			tt.script(expectUpdate(m, "news7x"))

			got := updateAlias(context.Background(), tg.NewClient(m), testChannelID, "news7x")
			require.Equal(t, tt.want, got)
		})
	}
}

func TestSetUsernameFloodWhileListing(t *testing.T) {
	t.Parallel()
	m := tgmock.NewRequire(t)
	m.Expect().ThenFlood(12)

	err := setUsername(context.Background(), tg.NewClient(m), testChannelID, "news7x")
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrChannelNotFound))
	require.Equal(t, rotation.RateLimited{Wait: 12 * time.Second}, Classify(err, "news7x"))
}
