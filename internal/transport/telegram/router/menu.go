package router

import (
	"sort"
	"strings"
	"unicode"

	kit "linkrotor/internal/transport"
)

const (
	maxMenuCommands = 100
	maxMenuDesc     = 256
)

// sanitizeTelegramCommand maps a route or alias onto Telegram's command
// alphabet [a-z0-9_]{1,32}. It returns "" when nothing usable is left.
func sanitizeTelegramCommand(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || r == '/' || unicode.IsSpace(r):
			if b.Len() > 0 && !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
	}
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

// telegramCommandNameFromRoute joins a multi-token route with underscores:
// ["status","workers"] -> "status_workers".
func telegramCommandNameFromRoute(route []string) (string, bool) {
	out := sanitizeTelegramCommand(strings.Join(route, "_"))
	return out, out != ""
}

// buildTelegramMenuCommands lists the commands shown in Telegram's "/" menu.
// The menu is global, so owner-only commands are left out.
func buildTelegramMenuCommands(root *cmdNode, cmds []Command) []kit.BotCommand {
	byCmd := map[string]kit.BotCommand{}
	add := func(name, desc string) {
		name = sanitizeTelegramCommand(name)
		if name == "" {
			return
		}
		desc = strings.ReplaceAll(strings.TrimSpace(desc), "\n", " ")
		if desc == "" {
			desc = name
		}
		if len(desc) > maxMenuDesc {
			desc = desc[:maxMenuDesc]
		}
		if _, ok := byCmd[name]; !ok {
			byCmd[name] = kit.BotCommand{Command: name, Description: desc}
		}
	}

	for _, name := range root.childNames() {
		n, _ := root.child(name)
		if n == nil || nodeIsOwnerOnly(n) {
			continue
		}
		add(name, summarizeNodeDesc(n))
	}
	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) < 2 || c.Access == AccessOwnerOnly {
			continue
		}
		if menu, ok := telegramCommandNameFromRoute(route); ok {
			add(menu, c.Description)
		}
	}

	out := make([]kit.BotCommand, 0, len(byCmd))
	for _, c := range byCmd {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	if len(out) > maxMenuCommands {
		out = out[:maxMenuCommands]
	}
	return out
}
