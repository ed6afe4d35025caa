package mtproto

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/query"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"linkrotor/internal/rotation"
	logx "linkrotor/pkg/logx"
)

// Config holds the application credentials shared by every user session.
type Config struct {
	AppID       int
	AppHash     string
	CallTimeout time.Duration
	// Debug routes gotd's internal logs to a development zap logger.
	Debug bool
}

// Client changes channel usernames through a user's own MTProto session.
// A fresh connection is opened per call from the stored session data, so
// the credential in storage is always the one in use.
type Client struct {
	cfg  Config
	log  logx.Logger
	zlog *zap.Logger
}

var _ rotation.AliasClient = (*Client)(nil)

func New(cfg Config, log logx.Logger) (*Client, error) {
	if cfg.AppID <= 0 || cfg.AppHash == "" {
		return nil, errors.New("mtproto: app_id and app_hash are required")
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	zlog := zap.NewNop()
	if cfg.Debug {
		if l, err := zap.NewDevelopment(); err == nil {
			zlog = l.Named("gotd")
		}
	}
	return &Client{cfg: cfg, log: log.With(logx.String("comp", "mtproto")), zlog: zlog}, nil
}

func (c *Client) newTelegram(ctx context.Context, credential string) (*telegram.Client, error) {
	storage, err := loadSession(ctx, credential)
	if err != nil {
		return nil, err
	}
	return telegram.NewClient(c.cfg.AppID, c.cfg.AppHash, telegram.Options{
		SessionStorage: storage,
		Logger:         c.zlog,
	}), nil
}

// SetAlias sets candidate as the public username of channelID.
func (c *Client) SetAlias(ctx context.Context, credential string, channelID int64, candidate string) rotation.Outcome {
	tc, err := c.newTelegram(ctx, credential)
	if err != nil {
		return rotation.Failure{Message: err.Error()}
	}

	cctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	var out rotation.Outcome
	runErr := tc.Run(cctx, func(ctx context.Context) error {
		out = updateAlias(ctx, tc.API(), channelID, candidate)
		return nil
	})
	if runErr != nil {
		c.log.Debug("mtproto session failed", logx.Int64("channel_id", channelID), logx.Err(runErr))
		return Classify(runErr, candidate)
	}
	return out
}

func updateAlias(ctx context.Context, api *tg.Client, channelID int64, candidate string) rotation.Outcome {
	return Classify(setUsername(ctx, api, channelID, candidate), candidate)
}

// setUsername resolves channelID among the account's dialogs and assigns it candidate.
func setUsername(ctx context.Context, api *tg.Client, channelID int64, candidate string) error {
	ch, err := findChannel(ctx, api, channelID)
	if err != nil {
		return err
	}
	_, err = api.ChannelsUpdateUsername(ctx, &tg.ChannelsUpdateUsernameRequest{
		Channel:  ch,
		Username: candidate,
	})
	return err
}

// Check verifies that credential decodes and can open an authorized session.
func (c *Client) Check(ctx context.Context, credential string) (string, error) {
	tc, err := c.newTelegram(ctx, credential)
	if err != nil {
		return "", err
	}
	cctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	var name string
	err = tc.Run(cctx, func(ctx context.Context) error {
		st, err := tc.Auth().Status(ctx)
		if err != nil {
			return err
		}
		if !st.Authorized || st.User == nil {
			return errors.New("session is not authorized")
		}
		name = st.User.FirstName
		if st.User.Username != "" {
			name = "@" + st.User.Username
		}
		return nil
	})
	return name, err
}

// ErrChannelNotFound is returned when the account has no dialog with the channel.
var ErrChannelNotFound = errors.New("channel not found in the account's dialogs")

// findChannel resolves the access hash of channelID by walking the user's dialogs.
func findChannel(ctx context.Context, api *tg.Client, channelID int64) (*tg.InputChannel, error) {
	id := ToMTProtoID(channelID)
	iter := query.GetDialogs(api).BatchSize(100).Iter()
	for iter.Next(ctx) {
		p, ok := iter.Value().Peer.(*tg.InputPeerChannel)
		if ok && p.ChannelID == id {
			return &tg.InputChannel{ChannelID: p.ChannelID, AccessHash: p.AccessHash}, nil
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list dialogs: %w", err)
	}
	return nil, fmt.Errorf("%w: %d", ErrChannelNotFound, channelID)
}

// ToMTProtoID converts a Bot API channel id (-100xxxxxxxxxx) to the bare MTProto id.
func ToMTProtoID(id int64) int64 {
	const channelOffset = 1_000_000_000_000
	if id < 0 {
		id = -id
		if id > channelOffset {
			id -= channelOffset
		}
	}
	return id
}
