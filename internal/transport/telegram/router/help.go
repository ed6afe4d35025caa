package router

import (
	"sort"
	"strings"

	"linkrotor/pkg/tgui"
)

// helpText renders help for path in Telegram HTML. Owner-only commands are
// listed only to owners.
func (m *CommandManager) helpText(path []string, owner bool) string {
	m.mu.RLock()
	root, alias := m.root, m.alias
	m.mu.RUnlock()

	if len(path) == 0 {
		return helpTop(root, owner)
	}

	cur := root
	full := make([]string, 0, len(path))
	for _, p := range path {
		p = strings.TrimPrefix(p, "/")
		n, ok := cur.child(p)
		if !ok {
			if leaf, ok := alias[p]; ok && leaf != nil && leaf.cmd != nil {
				cur, full = leaf, splitRoute(leaf.cmd.Route)
				break
			}
			return tgui.New().Title("❓", "Unknown command").Line("Try <code>/help</code> for the command list.").String()
		}
		cur = n
		full = append(full, p)
	}
	if nodeIsOwnerOnly(cur) && !owner {
		return tgui.New().Title("🔒", "Owner only").String()
	}
	return helpNode(cur, full)
}

type topRow struct {
	name string
	desc string
	lock bool
}

func helpTop(root *cmdNode, owner bool) string {
	rows := make([]topRow, 0, len(root.children))
	for _, name := range root.childNames() {
		n, _ := root.child(name)
		lock := nodeIsOwnerOnly(n)
		if lock && !owner {
			continue
		}
		rows = append(rows, topRow{name: name, desc: summarizeNodeDesc(n), lock: lock})
	}
	// owner-only last, alphabetical within each group
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].lock != rows[j].lock {
			return !rows[i].lock
		}
		return rows[i].name < rows[j].name
	})

	b := tgui.New().Title("📚", "Commands").Line("Send <code>/help &lt;cmd&gt;</code> for details.").Blank()
	for _, r := range rows {
		line := "<code>/" + tgui.Esc(r.name) + "</code>"
		if r.lock {
			line = "🔒 " + line
		}
		if r.desc != "" {
			line += ": " + tgui.Esc(r.desc)
		}
		b.Bullet(line)
	}
	return b.String()
}

func helpNode(cur *cmdNode, full []string) string {
	b := tgui.New().Title("📚", "/"+strings.Join(full, " "))
	if c := cur.cmd; c != nil {
		if d := strings.TrimSpace(c.Description); d != "" {
			b.Line(tgui.Esc(d))
		}
		if c.Access == AccessOwnerOnly {
			b.Line("🔒 <i>owner only</i>")
		}
		if c.PrivateOnly {
			b.Line("<i>private chat only</i>")
		}
		if u := strings.TrimSpace(c.Usage); u != "" {
			b.Blank().Line("<b>Usage</b>").Line("<code>" + tgui.Esc(u) + "</code>")
		}
		if short := buildShortcuts(*c); len(short) > 0 {
			b.Blank().Line("<b>Shortcuts</b>")
			for _, s := range short {
				b.Bullet("<code>/" + tgui.Esc(s) + "</code>")
			}
		}
	}
	if len(cur.children) > 0 {
		b.Blank().Line("<b>Subcommands</b>")
		for _, name := range cur.childNames() {
			n, _ := cur.child(name)
			line := "<code>/" + tgui.Esc(strings.Join(append(append([]string(nil), full...), name), " ")) + "</code>"
			if d := summarizeNodeDesc(n); d != "" {
				line += ": " + tgui.Esc(d)
			}
			b.Bullet(line)
		}
	}
	return b.String()
}

func summarizeNodeDesc(n *cmdNode) string {
	if n.cmd != nil {
		if d := strings.TrimSpace(n.cmd.Description); d != "" {
			return d
		}
	}
	kids := n.childNames()
	if len(kids) == 0 {
		return ""
	}
	s := strings.Join(kids[:min(3, len(kids))], ", ")
	if len(kids) > 3 {
		s += ", …"
	}
	return "subcommands: " + s
}

// nodeIsOwnerOnly is true for an owner-only command, or a group whose
// commands are all owner-only.
func nodeIsOwnerOnly(n *cmdNode) bool {
	if n.cmd != nil {
		return n.cmd.Access == AccessOwnerOnly
	}
	for _, ch := range n.children {
		if !nodeIsOwnerOnly(ch) {
			return false
		}
	}
	return true
}

func buildShortcuts(c Command) []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	if route := splitRoute(c.Route); len(route) > 1 {
		if menu, ok := telegramCommandNameFromRoute(route); ok {
			add(menu)
		}
	}
	for _, a := range c.Aliases {
		a = strings.TrimSpace(a)
		if a == "" || strings.Contains(a, " ") {
			continue
		}
		add(a)
		add(sanitizeTelegramCommand(a))
	}
	sort.Strings(out)
	return out
}
