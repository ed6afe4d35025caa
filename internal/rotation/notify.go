package rotation

import (
	"strconv"
	"time"

	kit "linkrotor/internal/transport"
	"linkrotor/pkg/tgui"
)

// Notice is the payload of a success or failure announcement.
type Notice struct {
	UserID      int64
	ChannelID   int64
	DisplayName string
	Alias       string
	Error       string
	Interval    time.Duration
}

func userLine(n Notice) tgui.H {
	id := tgui.Code(strconv.FormatInt(n.UserID, 10))
	if n.DisplayName == "" {
		return id
	}
	return tgui.H(id.String() + " (" + tgui.Mention(n.DisplayName, n.UserID).String() + ")")
}

func successText(n Notice) string {
	return tgui.New().
		Title("🔄", "Link changed successfully!").
		Blank().
		KV("Channel ID", tgui.Code(strconv.FormatInt(n.ChannelID, 10))).
		KV("New Username", tgui.Code("@"+n.Alias)).
		KV("User ID", userLine(n)).
		KV("Interval", tgui.Esc(formatInterval(n.Interval))).
		String()
}

func failureText(n Notice) string {
	return tgui.New().
		Title("⚠️", "Error changing link!").
		Blank().
		KV("Channel ID", tgui.Code(strconv.FormatInt(n.ChannelID, 10))).
		KV("User ID", userLine(n)).
		KV("Reason", tgui.Esc(tgui.TruncRunes(n.Error, 1024))).
		String()
}

func notification(target kit.ChatTarget, text string) kit.Notification {
	return kit.Notification{
		Channel:  "telegram",
		Priority: 5,
		Target:   target,
		Text:     text,
		Options:  tgui.Options(),
		NoDedup:  true,
	}
}

func formatInterval(d time.Duration) string {
	return strconv.FormatInt(int64(d/time.Second), 10) + "s"
}
