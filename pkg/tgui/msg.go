package tgui

import (
	"context"
	"strings"

	kit "voxbot/internal/transport"
)

// Message is rendered text plus send options. More holds follow-up parts
// that are sent as separate messages without markup.
type Message struct {
	Text string
	Opt  *kit.SendOptions
	More []string
}

// Sender is the part of the transport adapter a Message needs.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error
}

func (m Message) options() *kit.SendOptions {
	if m.Opt == nil {
		return &kit.SendOptions{}
	}
	return m.Opt
}

func (m Message) sendMore(ctx context.Context, s Sender, to kit.ChatTarget) error {
	if len(m.More) == 0 {
		return nil
	}
	opt := *m.options()
	opt.ReplyMarkup = nil
	opt.ReplyTo = 0
	for _, t := range m.More {
		if strings.TrimSpace(t) == "" {
			continue
		}
		if _, err := s.SendText(ctx, to, t, &opt); err != nil {
			return err
		}
	}
	return nil
}

// Send delivers the message and any follow-up parts. Markup goes on the
// first message only.
func (m Message) Send(ctx context.Context, s Sender, to kit.ChatTarget) (kit.MessageRef, error) {
	ref, err := s.SendText(ctx, to, m.Text, m.options())
	if err != nil {
		return ref, err
	}
	return ref, m.sendMore(ctx, s, to)
}

// Edit replaces the text of ref; follow-up parts are sent as new messages.
func (m Message) Edit(ctx context.Context, s Sender, ref kit.MessageRef) error {
	if err := s.EditText(ctx, ref, m.Text, m.options()); err != nil {
		return err
	}
	return m.sendMore(ctx, s, kit.ChatTarget{ChatID: ref.ChatID, ThreadID: ref.ThreadID})
}

// Builder assembles an HTML card line by line. Every text argument is
// escaped.
type Builder struct {
	inline *Inline
	lines  []string
	more   []string
}

func New() *Builder { return &Builder{} }

func (b *Builder) Inline(kb *Inline) *Builder {
	b.inline = kb
	return b
}

// Title adds a bold line with an optional emoji prefix.
func (b *Builder) Title(emoji, title string) *Builder {
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	if e := strings.TrimSpace(emoji); e != "" {
		b.lines = append(b.lines, Esc(e).String()+" "+B(t).String())
		return b
	}
	b.lines = append(b.lines, B(t).String())
	return b
}

func (b *Builder) Section(title string) *Builder {
	if t := strings.TrimSpace(title); t != "" {
		b.lines = append(b.lines, B(t).String())
	}
	return b
}

func (b *Builder) Line(s string) *Builder {
	b.lines = append(b.lines, Esc(s).String())
	return b
}

// HTML appends an already escaped line.
func (b *Builder) HTML(h H) *Builder {
	b.lines = append(b.lines, h.String())
	return b
}

func (b *Builder) Blank() *Builder {
	b.lines = append(b.lines, "")
	return b
}

func (b *Builder) Bullets(items ...string) *Builder {
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			b.lines = append(b.lines, "• "+Esc(it).String())
		}
	}
	return b
}

// KV adds "• key: value" with a bold key.
func (b *Builder) KV(key, value string) *Builder {
	key = strings.TrimSpace(key)
	if key == "" {
		return b
	}
	b.lines = append(b.lines, "• "+B(key).String()+": "+Esc(strings.TrimSpace(value)).String())
	return b
}

// Pre adds a preformatted block; text past limit runes spills into
// follow-up messages, each with balanced tags.
func (b *Builder) Pre(text string, limit int) *Builder {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return b
	}
	if limit <= 0 {
		limit = 3500
	}
	for i, chunk := range splitRunes(text, limit) {
		if i == 0 {
			b.lines = append(b.lines, Pre(chunk).String())
			continue
		}
		b.more = append(b.more, Pre(chunk).String())
	}
	return b
}

func (b *Builder) Build() Message {
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if b.inline != nil && b.inline.Rows() > 0 {
		opt.ReplyMarkup = b.inline.Markup()
	}
	return Message{
		Text: strings.Trim(strings.Join(b.lines, "\n"), "\n"),
		Opt:  opt,
		More: append([]string(nil), b.more...),
	}
}

// splitRunes cuts s into chunks of at most n runes, preferring a newline
// in the last two thirds of a window.
func splitRunes(s string, n int) []string {
	var out []string
	r := []rune(s)
	for len(r) > n {
		cut := n
		for i := n - 1; i >= n/3; i-- {
			if r[i] == '\n' {
				cut = i + 1
				break
			}
		}
		out = append(out, strings.TrimRight(string(r[:cut]), "\n"))
		r = r[cut:]
	}
	if len(r) > 0 {
		out = append(out, string(r))
	}
	return out
}
