package router

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	kit "voxbot/internal/transport"
	"voxbot/pkg/logx"
)

type fakeAdapter struct {
	mu       sync.Mutex
	sent     []string
	answered []string
	menu     []kit.BotCommand
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return kit.MessageRef{ChatID: 1, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, text)
	return nil
}

func (f *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menu = cmds
	return nil
}

func (f *fakeAdapter) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeAdapter) answers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.answered...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func startRouter(t *testing.T, r *Router) chan<- kit.Update {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 16)
	done := make(chan struct{})
	go func() {
		_ = r.DispatchLoop(ctx, updates)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return updates
}

func msgUpdate(from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ID: 1, ChatID: from, From: kit.User{ID: from}, Text: text, IsPrivate: true,
	}}
}

func TestParseCommand(t *testing.T) {
	cases := []struct {
		in   string
		name string
		args []string
		raw  string
		ok   bool
	}{
		{"/start", "start", nil, "", true},
		{"/Broadcast@VoxBot all hello  world", "broadcast", []string{"all", "hello", "world"}, "all hello  world", true},
		{"/reject abc \"not a channel\"", "reject", []string{"abc", "not a channel"}, "abc \"not a channel\"", true},
		{"/broadcast\nall", "broadcast", []string{"all"}, "all", true},
		{"hello", "", nil, "", false},
		{"/", "", nil, "", false},
		{"/@bot", "", nil, "", false},
	}
	for _, c := range cases {
		name, args, raw, ok := parseCommand(c.in)
		if name != c.name || ok != c.ok || raw != c.raw || !reflect.DeepEqual(args, c.args) {
			t.Fatalf("parseCommand(%q) = %q %q %q %v", c.in, name, args, raw, ok)
		}
	}
}

func TestTokenize(t *testing.T) {
	got := tokenize(`a "b c" 'd e' f\ g ""`)
	want := []string{"a", "b c", "d e", "f g", ""}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("tokenize = %q, want %q", got, want)
	}
}

func TestRouteCommandsAndAccess(t *testing.T) {
	ad := &fakeAdapter{}
	r := New(ad, logx.Nop(), WithWorkers(2), WithAdminCheck(func(id int64) bool { return id == 42 }))

	var mu sync.Mutex
	var calls []string
	record := func(ctx context.Context, req *Request) error {
		mu.Lock()
		calls = append(calls, req.Command+":"+strings.Join(req.Args, ","))
		mu.Unlock()
		return nil
	}
	r.Handle(
		Command{Name: "ping", Aliases: []string{"p"}, Handle: record},
		Command{Name: "ban", Admin: true, Handle: record},
	)
	updates := startRouter(t, r)

	updates <- msgUpdate(7, "/ping a b")
	updates <- msgUpdate(7, "/p")
	updates <- msgUpdate(7, "/ban 5")
	updates <- msgUpdate(42, "/ban 5")
	updates <- msgUpdate(7, "/nope")

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 3 && len(ad.texts()) == 2
	})
	mu.Lock()
	got := append([]string(nil), calls...)
	mu.Unlock()
	want := map[string]bool{"ping:a,b": true, "ping:": true, "ban:5": true}
	for _, c := range got {
		if !want[c] {
			t.Fatalf("unexpected call %q in %q", c, got)
		}
	}
	texts := strings.Join(ad.texts(), "|")
	if !strings.Contains(texts, adminText) || !strings.Contains(texts, unknownText) {
		t.Fatalf("replies = %q", texts)
	}
}

func TestUserErrorAndGenericFailure(t *testing.T) {
	ad := &fakeAdapter{}
	r := New(ad, logx.Nop(), WithWorkers(1))
	r.Handle(
		Command{Name: "usage", Handle: func(context.Context, *Request) error { return Errorf("Usage: /usage <x>") }},
		Command{Name: "boom", Handle: func(context.Context, *Request) error { return errors.New("db down") }},
		Command{Name: "panic", Handle: func(context.Context, *Request) error { panic("oops") }},
	)
	updates := startRouter(t, r)
	updates <- msgUpdate(1, "/usage")
	updates <- msgUpdate(1, "/boom")
	updates <- msgUpdate(1, "/panic")

	waitFor(t, func() bool { return len(ad.texts()) == 3 })
	texts := ad.texts()
	if texts[0] != "Usage: /usage <x>" || texts[1] != failText || texts[2] != failText {
		t.Fatalf("replies = %q", texts)
	}
}

func TestCallbacksMediaAndGates(t *testing.T) {
	ad := &fakeAdapter{}
	r := New(ad, logx.Nop(), WithWorkers(1))

	payloads := make(chan string, 1)
	r.HandleCallback(CallbackRoute{Scope: "bc", Action: "cancel", Admin: true, Handle: func(ctx context.Context, req *Request) error {
		payloads <- req.Payload
		return req.Answer(ctx, "canceled")
	}})
	r.SetAdminCheck(func(id int64) bool { return id == 42 })

	media := make(chan string, 1)
	r.HandleMedia(func(ctx context.Context, req *Request) error {
		media <- req.Message.Media.FileID
		return nil
	})

	var gated []string
	var gmu sync.Mutex
	r.Use(func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			gmu.Lock()
			gated = append(gated, req.Command)
			gmu.Unlock()
			return next(ctx, req)
		}
	})
	updates := startRouter(t, r)

	updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "c1", From: kit.User{ID: 7}, Data: "bc:cancel:x:y"}}
	updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "c2", From: kit.User{ID: 42}, Data: "bc:cancel:x:y"}}
	if got := <-payloads; got != "x:y" {
		t.Fatalf("payload = %q", got)
	}

	up := msgUpdate(7, "")
	up.Message.Media = &kit.Media{Kind: kit.MediaAudio, FileID: "f1"}
	updates <- up
	if got := <-media; got != "f1" {
		t.Fatalf("media file = %q", got)
	}

	waitFor(t, func() bool { return len(ad.answers()) == 2 })
	answers := ad.answers()
	if answers[0] != "forbidden" || answers[1] != "canceled" {
		t.Fatalf("answers = %q", answers)
	}
	gmu.Lock()
	defer gmu.Unlock()
	if !reflect.DeepEqual(gated, []string{"cb:bc:cancel", "media"}) {
		t.Fatalf("gated = %q", gated)
	}
}

func TestHelpAndMenu(t *testing.T) {
	ad := &fakeAdapter{}
	r := New(ad, logx.Nop())
	h := func(context.Context, *Request) error { return nil }
	r.Handle(
		Command{Name: "start", Description: "Start the bot", Handle: h},
		Command{Name: "request_channel", Usage: "<@channel>", Description: "Suggest a channel", Handle: h},
		Command{Name: "broadcast", Admin: true, Description: "Send to users", Handle: h},
		Command{Name: "debug", Hidden: true, Handle: h},
	)

	user := r.HelpHTML(false)
	if !strings.Contains(user, "/request_channel <code>&lt;@channel&gt;</code> - Suggest a channel") {
		t.Fatalf("help = %q", user)
	}
	if strings.Contains(user, "broadcast") || strings.Contains(user, "debug") {
		t.Fatalf("user help leaks admin or hidden commands: %q", user)
	}
	if !strings.Contains(r.HelpHTML(true), "/broadcast") {
		t.Fatalf("admin help misses /broadcast")
	}

	if err := r.PublishMenu(context.Background()); err != nil {
		t.Fatalf("PublishMenu: %v", err)
	}
	want := []kit.BotCommand{
		{Command: "start", Description: "Start the bot"},
		{Command: "request_channel", Description: "Suggest a channel"},
	}
	if !reflect.DeepEqual(ad.menu, want) {
		t.Fatalf("menu = %+v", ad.menu)
	}
	if got := sanitizeCommand("My-Cmd two"); got != "my_cmd_two" {
		t.Fatalf("sanitizeCommand = %q", got)
	}
}
