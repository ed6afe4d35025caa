package rotor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"linkrotor/internal/rotation"
	"linkrotor/internal/storage"
	kit "linkrotor/internal/transport"
	"linkrotor/internal/transport/telegram/router"
	logx "linkrotor/pkg/logx"
	"linkrotor/pkg/tgui"
)

func (p *Plugin) Commands() []router.Command {
	return []router.Command{
		{
			Route:       "start",
			Description: "introduction",
			Usage:       "/start",
			Handle:      p.cmdStart,
		},
		{
			Route:       "login",
			Description: "store your Telegram session",
			Usage:       "/login <session string>",
			PrivateOnly: true,
			Timeout:     45 * time.Second,
			Handle:      p.cmdLogin,
		},
		{
			Route:       "logout",
			Description: "delete your stored session",
			Usage:       "/logout",
			Handle:      p.cmdLogout,
		},
		{
			Route:       "rotate",
			Aliases:     []string{"add"},
			Description: "start rotating a channel's public link",
			Usage:       "/rotate <channel_id> <base_name> <interval: 300 | 10m>",
			Timeout:     15 * time.Second,
			Handle:      p.cmdRotate,
		},
		{
			Route:       "stop",
			Description: "stop rotating a channel",
			Usage:       "/stop <channel_id>",
			Timeout:     15 * time.Second,
			Handle:      p.cmdStop,
		},
		{
			Route:       "list",
			Aliases:     []string{"ls"},
			Description: "your channels",
			Usage:       "/list",
			Handle:      p.cmdList,
		},
		{
			Route:       "forget",
			Description: "delete a stopped channel",
			Usage:       "/forget <channel_id>",
			Handle:      p.cmdForget,
		},
	}
}

func (p *Plugin) cmdStart(ctx context.Context, req *router.Request) error {
	b := tgui.New().Title("👋", "Link rotator").
		Text("I change your channel's public link on a schedule so old links stop working.").
		Blank().
		Bullet("1. <code>/login &lt;session&gt;</code> in this private chat").
		Bullet("2. make your account an admin of the channel").
		Bullet("3. <code>/rotate &lt;channel_id&gt; &lt;base_name&gt; &lt;interval&gt;</code>").
		Blank().
		Line("Send <code>/help</code> for every command.")
	return req.Reply(ctx, b.String())
}

func (p *Plugin) cmdLogin(ctx context.Context, req *router.Request) error {
	// the message carries a credential; drop it from the chat first
	if m := req.Message; m != nil {
		ref := kit.MessageRef{ChatID: m.ChatID, ThreadID: m.ThreadID, MessageID: m.ID}
		if err := req.Adapter.DeleteMessage(ctx, ref); err != nil {
			req.Logger.Debug("delete login message failed", logx.Err(err))
		}
	}
	if len(req.Args) != 1 {
		return req.Reply(ctx, "Usage: <code>/login &lt;session string&gt;</code>")
	}
	cred := strings.TrimSpace(req.Args[0])

	if p.deps.Validate != nil {
		if err := p.deps.Validate(ctx, cred); err != nil {
			p.audit(ctx, req.FromID, "login", "", err, nil)
			return req.Reply(ctx, "❌ That does not look like a session string.")
		}
	}
	account := ""
	if p.deps.Checker != nil {
		name, err := p.deps.Checker.Check(ctx, cred)
		if err != nil {
			p.audit(ctx, req.FromID, "login", "", err, nil)
			return req.Reply(ctx, "❌ Session rejected: "+tgui.Esc(err.Error()).String())
		}
		account = name
	}
	if err := p.deps.Store.SetSession(ctx, req.FromID, cred); err != nil {
		p.audit(ctx, req.FromID, "login", "", err, nil)
		return fmt.Errorf("store session: %w", err)
	}
	p.audit(ctx, req.FromID, "login", account, nil, nil)

	b := tgui.New().Title("✅", "Session saved")
	if account != "" {
		b.KV("Account", tgui.Esc(account))
	}
	return req.Reply(ctx, b.String())
}

func (p *Plugin) cmdLogout(ctx context.Context, req *router.Request) error {
	existed, err := p.deps.Store.DeleteSession(ctx, req.FromID)
	p.audit(ctx, req.FromID, "logout", "", err, nil)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if !existed {
		return req.Reply(ctx, "No session stored.")
	}
	return req.Reply(ctx, "Session deleted. Running rotations will fail until you /login again.")
}

func (p *Plugin) cmdRotate(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 3 {
		return req.Reply(ctx, "Usage: <code>/rotate &lt;channel_id&gt; &lt;base_name&gt; &lt;interval&gt;</code>")
	}
	channelID, err := parseChannelID(req.Args[0])
	if err != nil {
		return req.Reply(ctx, "❌ "+tgui.Esc(err.Error()).String())
	}
	base := strings.TrimPrefix(req.Args[1], "@")
	if !rotation.ValidBaseName(base) {
		return req.Reply(ctx, fmt.Sprintf("❌ Base name must start with a letter and use %d..%d letters, digits or underscores.", rotation.MinBaseLen, rotation.MaxBaseLen))
	}
	interval, err := parseInterval(req.Args[2], p.cfg().MinInterval)
	if err != nil {
		return req.Reply(ctx, "❌ "+tgui.Esc(err.Error()).String())
	}
	target := strconv.FormatInt(channelID, 10)
	meta := map[string]any{"base": base, "interval_s": int(interval / time.Second)}

	// create the row first so the first rename has a record to land on;
	// an existing row is left alone until Start succeeds
	if _, ok, err := p.deps.Store.GetChannel(ctx, req.FromID, channelID); err != nil {
		return fmt.Errorf("load channel: %w", err)
	} else if !ok {
		if err := p.deps.Store.UpsertChannel(ctx, p.record(req.FromID, channelID, base, interval, false)); err != nil {
			return fmt.Errorf("create channel: %w", err)
		}
	}

	if err := p.deps.Rotations.Start(ctx, req.FromID, channelID, base, interval); err != nil {
		p.audit(ctx, req.FromID, "rotate", target, err, meta)
		return req.Reply(ctx, "❌ "+startReason(err))
	}
	if err := p.deps.Store.UpsertChannel(ctx, p.record(req.FromID, channelID, base, interval, true)); err != nil {
		if sErr := p.deps.Rotations.Stop(ctx, req.FromID, channelID); sErr != nil {
			req.Logger.Warn("stop after failed upsert", logx.Err(sErr))
		}
		p.audit(ctx, req.FromID, "rotate", target, err, meta)
		return fmt.Errorf("persist channel: %w", err)
	}
	// a /stop handled between Start and the upsert above leaves no worker
	if !p.deps.Rotations.IsActive(req.FromID, channelID) {
		if err := p.deps.Store.StopChannel(ctx, req.FromID, channelID); err != nil {
			return fmt.Errorf("clear stopped channel: %w", err)
		}
		req.Logger.Info("rotation stopped before it was persisted", logx.Int64("channel_id", channelID))
		return req.Reply(ctx, "⏹ Rotation of "+tgui.Code(target).String()+" was stopped while starting.")
	}
	p.audit(ctx, req.FromID, "rotate", target, nil, meta)

	b := tgui.New().Title("🔄", "Rotation started").
		KV("Channel ID", tgui.Code(target)).
		KV("Base name", tgui.Code(base)).
		KV("Interval", tgui.Esc(interval.String()))
	return req.Reply(ctx, b.String())
}

func (p *Plugin) record(userID, channelID int64, base string, interval time.Duration, active bool) storage.Channel {
	return storage.Channel{
		UserID:          userID,
		ChannelID:       channelID,
		BaseName:        base,
		IntervalSeconds: int(interval / time.Second),
		Active:          active,
	}
}

func (p *Plugin) cmdStop(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		return req.Reply(ctx, "Usage: <code>/stop &lt;channel_id&gt;</code>")
	}
	channelID, err := parseChannelID(req.Args[0])
	if err != nil {
		return req.Reply(ctx, "❌ "+tgui.Esc(err.Error()).String())
	}
	target := strconv.FormatInt(channelID, 10)

	err = p.deps.Rotations.Stop(ctx, req.FromID, channelID)
	if errors.Is(err, rotation.ErrNotActive) {
		// a record left active by a failed resume has no worker; clear it anyway
		rec, ok, gErr := p.deps.Store.GetChannel(ctx, req.FromID, channelID)
		if gErr != nil {
			return fmt.Errorf("load channel: %w", gErr)
		}
		if !ok || !rec.Active {
			return req.Reply(ctx, "Not rotating.")
		}
		err = p.deps.Store.StopChannel(ctx, req.FromID, channelID)
	}
	p.audit(ctx, req.FromID, "stop", target, err, nil)
	if err != nil {
		return fmt.Errorf("stop rotation: %w", err)
	}
	return req.Reply(ctx, "⏹ Stopped "+tgui.Code(target).String())
}

func (p *Plugin) cmdList(ctx context.Context, req *router.Request) error {
	recs, err := p.deps.Store.ListChannels(ctx, req.FromID)
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}
	if len(recs) == 0 {
		return req.Reply(ctx, "No channels yet. Start one with /rotate.")
	}
	b := tgui.New().Title("📋", "Your channels")
	for _, r := range recs {
		state := "⏸"
		switch {
		case p.deps.Rotations.IsActive(r.UserID, r.ChannelID):
			state = "▶️"
		case r.Active:
			// active in storage, no live worker
			state = "⚠️"
		}
		line := tgui.JoinH(" ",
			tgui.Raw(state),
			tgui.Code(strconv.FormatInt(r.ChannelID, 10)),
			tgui.Esc(r.BaseName+"??"),
			tgui.Esc("every "+r.Interval().String()),
		)
		if r.CurrentAlias != "" {
			line = tgui.JoinH(" ", line, tgui.Esc("now @"+r.CurrentAlias))
		}
		if !r.LastChangedAt.IsZero() {
			line = tgui.JoinH(" ", line, tgui.Esc("("+r.LastChangedAt.UTC().Format(time.DateTime)+" UTC)"))
		}
		b.Bullet(line)
	}
	for _, part := range b.Parts() {
		if err := req.Reply(ctx, part); err != nil {
			return err
		}
	}
	return nil
}

func (p *Plugin) cmdForget(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		return req.Reply(ctx, "Usage: <code>/forget &lt;channel_id&gt;</code>")
	}
	channelID, err := parseChannelID(req.Args[0])
	if err != nil {
		return req.Reply(ctx, "❌ "+tgui.Esc(err.Error()).String())
	}
	if p.deps.Rotations.IsActive(req.FromID, channelID) {
		return req.Reply(ctx, "Stop the rotation first: <code>/stop "+strconv.FormatInt(channelID, 10)+"</code>")
	}
	err = p.deps.Store.DeleteChannel(ctx, req.FromID, channelID)
	p.audit(ctx, req.FromID, "forget", strconv.FormatInt(channelID, 10), err, nil)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return req.Reply(ctx, "Unknown channel.")
	case errors.Is(err, storage.ErrChannelActive):
		return req.Reply(ctx, "Stop the rotation first.")
	case err != nil:
		return fmt.Errorf("delete channel: %w", err)
	}
	return req.Reply(ctx, "🗑 Forgotten.")
}

// startReason renders a Start error for the user.
func startReason(err error) string {
	switch {
	case errors.Is(err, rotation.ErrAlreadyActive):
		return "Already rotating. /stop it first to change settings."
	case errors.Is(err, rotation.ErrNoCredential):
		return "No session stored. Use /login in a private chat first."
	case errors.Is(err, rotation.ErrInvalidArgument):
		return tgui.Esc(err.Error()).String()
	case errors.Is(err, rotation.ErrClosed):
		return "Shutting down, try again shortly."
	default:
		return "Could not start: " + tgui.Esc(err.Error()).String()
	}
}
