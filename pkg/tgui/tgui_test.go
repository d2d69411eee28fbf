package tgui

import (
	"context"
	"strings"
	"testing"

	kit "voxbot/internal/transport"
)

func TestEscAndBuilder(t *testing.T) {
	msg := New().
		Title("📣", "Broadcast <done>").
		KV("Sent", "3 & 4").
		Bullets("a<b", " ").
		Build()

	want := "📣 <b>Broadcast &lt;done&gt;</b>\n• <b>Sent</b>: 3 &amp; 4\n• a&lt;b"
	if msg.Text != want {
		t.Fatalf("text = %q, want %q", msg.Text, want)
	}
	if msg.Opt.ParseMode != "HTML" || !msg.Opt.DisablePreview {
		t.Fatalf("unexpected options: %+v", msg.Opt)
	}
	if msg.Opt.ReplyMarkup != nil {
		t.Fatalf("markup should be nil without buttons")
	}
}

func TestTruncRunes(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 3, "hel…"},
		{"привет", 2, "пр…"},
		{"x", 0, ""},
	}
	for _, tc := range cases {
		if got := TruncRunes(tc.in, tc.n); got != tc.want {
			t.Fatalf("TruncRunes(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestCallbackData(t *testing.T) {
	d := Data("bc", "cancel", "id:1")
	cb, ok := ParseData(d)
	if !ok || cb.Scope != "bc" || cb.Action != "cancel" || cb.Payload != "id:1" {
		t.Fatalf("ParseData(%q) = %+v, %v", d, cb, ok)
	}
	if _, ok := ParseData("nocolon"); ok {
		t.Fatalf("expected parse failure")
	}
	if _, err := CheckedData("s", "a", strings.Repeat("x", 80)); err != ErrCallbackDataTooLong {
		t.Fatalf("expected ErrCallbackDataTooLong, got %v", err)
	}
}

func TestPaginate(t *testing.T) {
	items := make([]int, 47)
	p := Paginate(items, 1, 10)
	if len(p.Items) != 10 || !p.HasPrev || !p.HasNext || p.Pages != 5 {
		t.Fatalf("unexpected page: %+v", p)
	}
	if got := p.Label(); got != "Page 2/5 • 11-20 of 47" {
		t.Fatalf("label = %q", got)
	}
	last := Paginate(items, 99, 10)
	if last.Index != 4 || len(last.Items) != 7 || last.HasNext {
		t.Fatalf("unexpected last page: %+v", last)
	}
	if got := Paginate([]int{}, 0, 10).Label(); got != "Page 1/1" {
		t.Fatalf("empty label = %q", got)
	}
}

type recSender struct {
	texts []string
	opts  []*kit.SendOptions
}

func (s *recSender) SendText(_ context.Context, _ kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	s.texts = append(s.texts, text)
	s.opts = append(s.opts, opt)
	return kit.MessageRef{ChatID: 1, MessageID: len(s.texts)}, nil
}

func (s *recSender) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func TestPreSpillsIntoFollowUps(t *testing.T) {
	body := strings.Repeat("line\n", 30)
	msg := New().Inline(NewInline().Row(Btn("x", "a:b"))).Pre(body, 40).Build()
	if len(msg.More) == 0 {
		t.Fatalf("expected follow-up chunks")
	}

	s := &recSender{}
	if _, err := msg.Send(context.Background(), s, kit.ChatTarget{ChatID: 1}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(s.texts) != 1+len(msg.More) {
		t.Fatalf("sent %d messages, want %d", len(s.texts), 1+len(msg.More))
	}
	if s.opts[0].ReplyMarkup == nil {
		t.Fatalf("first message should carry markup")
	}
	for i, o := range s.opts[1:] {
		if o.ReplyMarkup != nil {
			t.Fatalf("follow-up %d carries markup", i)
		}
	}
	for _, txt := range s.texts {
		if !strings.HasPrefix(txt, "<pre>") || !strings.HasSuffix(txt, "</pre>") {
			t.Fatalf("unbalanced chunk %q", txt)
		}
	}
}
