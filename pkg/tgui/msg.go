package tgui

import (
	"context"
	"strings"

	kit "linkrotor/internal/transport"
)

// Builder accumulates HTML lines for one reply.
// Default: ParseMode=HTML, DisablePreview=true.
type Builder struct {
	lines []string
}

func New() *Builder { return &Builder{} }

// Title adds a bold heading with an optional emoji prefix.
func (b *Builder) Title(emoji, title string) *Builder {
	h := B(title)
	if emoji != "" {
		h = H(emoji + " " + h.String())
	}
	return b.Line(h)
}

func (b *Builder) Line(h H) *Builder {
	b.lines = append(b.lines, h.String())
	return b
}

// Text adds an escaped plain-text line.
func (b *Builder) Text(s string) *Builder { return b.Line(Esc(s)) }

func (b *Builder) KV(key string, value H) *Builder { return b.Line(KV(key, value)) }

func (b *Builder) Blank() *Builder {
	b.lines = append(b.lines, "")
	return b
}

// Bullet adds "• item".
func (b *Builder) Bullet(h H) *Builder { return b.Line(H("• " + h.String())) }

func (b *Builder) Len() int { return len(b.lines) }

// Parts returns the message texts, each under Telegram's length limit.
// Lines are never split, so HTML tags stay balanced.
func (b *Builder) Parts() []string { return SplitLines(b.lines, 0) }

// String joins all lines; use Parts when the text may be long.
func (b *Builder) String() string { return strings.Join(b.lines, "\n") }

func Options() *kit.SendOptions {
	return &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
}

// Send delivers every part in order. It stops at the first error.
func (b *Builder) Send(ctx context.Context, s kit.Sender, to kit.ChatTarget) (kit.MessageRef, error) {
	var first kit.MessageRef
	for i, p := range b.Parts() {
		ref, err := s.SendText(ctx, to, p, Options())
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = ref
		}
	}
	return first, nil
}
