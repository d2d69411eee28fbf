package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "voxbot/internal/transport"
)

func TestClassifySendError(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		want  kit.SendStatus
		retry time.Duration
	}{
		{"blocked", tele.ErrBlockedByUser, kit.SendBlocked, 0},
		{"deactivated", fmt.Errorf("send: %w", tele.ErrUserIsDeactivated), kit.SendBlocked, 0},
		{"chat not found", tele.ErrChatNotFound, kit.SendBadRequest, 0},
		{"unknown 400", errors.New("telegram: Bad Request: message text is empty (400)"), kit.SendBadRequest, 0},
		{"unknown 403", errors.New("telegram: Forbidden: bot was kicked from the group chat (403)"), kit.SendBlocked, 0},
		{"flood text", errors.New("telegram: Too Many Requests: retry after 7 (429)"), kit.SendRateLimited, 7 * time.Second},
		{"timeout", context.DeadlineExceeded, kit.SendFailed, 0},
		{"network", errors.New("dial tcp 149.154.167.220:443: connect: connection refused"), kit.SendFailed, 0},
		{"server", errors.New("telegram: Internal Server Error (500)"), kit.SendFailed, 0},
	}
	for _, c := range cases {
		res := classifySendError(c.err)
		if res.Status != c.want || res.RetryAfter != c.retry {
			t.Fatalf("%s: got %v/%v want %v/%v", c.name, res.Status, res.RetryAfter, c.want, c.retry)
		}
		if res.Err == nil {
			t.Fatalf("%s: error dropped", c.name)
		}
	}
}

func TestResultOK(t *testing.T) {
	res := result(5, &tele.Message{ID: 9}, nil)
	if res.Status != kit.SendOK || res.Ref.ChatID != 5 || res.Ref.MessageID != 9 {
		t.Fatalf("result=%+v", res)
	}
}

func TestChatError(t *testing.T) {
	cases := []struct {
		err  error
		want error
	}{
		{tele.ErrChatNotFound, kit.ErrChatNotFound},
		{errors.New("telegram: Bad Request: user not found (400)"), kit.ErrUserNotFound},
		{errors.New("telegram: Forbidden: bot is not a member of the channel chat (403)"), kit.ErrForbidden},
		{errors.New("telegram: Bad Request: member list is inaccessible (400)"), kit.ErrForbidden},
	}
	for _, c := range cases {
		if got := chatError(c.err); !errors.Is(got, c.want) {
			t.Fatalf("chatError(%v)=%v want %v", c.err, got, c.want)
		}
	}
	plain := errors.New("EOF")
	if got := chatError(plain); got != plain {
		t.Fatalf("unknown error rewrapped: %v", got)
	}
}

func TestSplitTelegramText(t *testing.T) {
	if got := splitTelegramText("short", 10, ""); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short=%q", got)
	}

	long := strings.Repeat("a", 25)
	got := splitTelegramText(long, 10, "")
	if len(got) != 3 || got[0] != strings.Repeat("a", 10) || got[2] != "aaaaa" {
		t.Fatalf("plain=%q", got)
	}

	lines := "aaaaaa\nbbbbbb\ncccccc"
	got = splitTelegramText(lines, 10, "")
	if len(got) != 3 || got[0] != "aaaaaa" || got[1] != "bbbbbb" {
		t.Fatalf("lines=%q", got)
	}

	html := "abcdef<b>bold</b>"
	got = splitTelegramText(html, 8, "HTML")
	if got[0] != "abcdef" {
		t.Fatalf("html first chunk=%q", got[0])
	}
	if strings.Join(got, "") != html {
		t.Fatalf("html chunks lost text: %q", got)
	}
}

func TestCallHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	if err := call(ctx, func() error { ran = true; return nil }); !errors.Is(err, context.Canceled) || ran {
		t.Fatalf("call on canceled ctx err=%v ran=%v", err, ran)
	}

	ctx, cancel = context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	block := make(chan struct{})
	defer close(block)
	if err := call(ctx, func() error { <-block; return nil }); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("call timeout err=%v", err)
	}
}
