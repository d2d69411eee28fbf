package router

import (
	"strings"

	"voxbot/pkg/tgui"
)

// HelpHTML lists visible commands; admin commands are shown to admins only.
func (r *Router) HelpHTML(admin bool) string {
	var user, adm []string
	for _, c := range r.Commands() {
		if c.Hidden {
			continue
		}
		line := "/" + tgui.Esc(c.Name).String()
		if c.Usage != "" {
			line += " " + tgui.Code(c.Usage).String()
		}
		if c.Description != "" {
			line += " - " + tgui.Esc(c.Description).String()
		}
		if c.Admin {
			adm = append(adm, line)
		} else {
			user = append(user, line)
		}
	}

	var b strings.Builder
	b.WriteString(tgui.B("Commands").String())
	for _, l := range user {
		b.WriteString("\n" + l)
	}
	if admin && len(adm) > 0 {
		b.WriteString("\n\n" + tgui.B("Admin").String())
		for _, l := range adm {
			b.WriteString("\n" + l)
		}
	}
	return b.String()
}
