package router

import (
	"context"
	"strings"

	kit "voxbot/internal/transport"
	"voxbot/pkg/tgui"
)

const maxMenuDescription = 256

// sanitizeCommand maps a name onto Telegram's [a-z0-9_]{1,32}.
func sanitizeCommand(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		case r == '_' || r == '-' || r == ' ':
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "_") {
				b.WriteByte('_')
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

// MenuCommands returns the non-admin, visible commands for the client menu.
func (r *Router) MenuCommands() []kit.BotCommand {
	var out []kit.BotCommand
	seen := map[string]bool{}
	for _, c := range r.Commands() {
		if c.Admin || c.Hidden {
			continue
		}
		name := sanitizeCommand(c.Name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		desc := strings.TrimSpace(c.Description)
		if desc == "" {
			desc = name
		}
		desc = tgui.TruncRunes(desc, maxMenuDescription-1)
		out = append(out, kit.BotCommand{Command: name, Description: desc})
	}
	return out
}

// PublishMenu pushes MenuCommands when the adapter supports it.
func (r *Router) PublishMenu(ctx context.Context) error {
	up, ok := r.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	return up.UpdateMenuCommands(ctx, r.MenuCommands())
}
