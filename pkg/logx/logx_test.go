package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARNING ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"nonsense", zerolog.InfoLevel},
	}
	for _, c := range cases {
		if got := parseLevel(c.in, zerolog.InfoLevel); got != c.want {
			t.Fatalf("parseLevel(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestLoggerWritesFieldsInOrder(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSON(&buf, "debug").With(Comp("test"), String("k", "first"))
	log.Info("hello", String("k", "second"), Int("n", 3))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v (%s)", err, buf.String())
	}
	if m["message"] != "hello" || m["comp"] != "test" {
		t.Fatalf("unexpected line: %v", m)
	}
	if m["n"] != float64(3) {
		t.Fatalf("n=%v", m["n"])
	}
	if !strings.Contains(buf.String(), `"k":"second"`) {
		t.Fatalf("call-site field missing: %s", buf.String())
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.Error("must not panic")
	if Nop().IsZero() {
		t.Fatalf("Nop logger is not zero")
	}
}

func TestFormatTelegramJSON(t *testing.T) {
	line := []byte(`{"level":"error","time":"x","message":"send failed","comp":"broadcast","err":"boom"}`)
	got := formatTelegramJSON(line)
	want := "[ERROR] send failed\n- comp=broadcast\n- err=boom"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if got := formatTelegramJSON([]byte("  plain text \n")); got != "plain text" {
		t.Fatalf("raw fallback: %q", got)
	}
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingSender) SendLog(_ context.Context, _ int64, _ int, text string) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, text)
	r.mu.Unlock()
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestTelegramSinkRespectsMinLevel(t *testing.T) {
	svc, log := New(Config{
		Level:    "debug",
		Telegram: TelegramConfig{Enabled: true, ChatID: -100, MinLevel: "error", RatePerSec: 100},
	})
	defer svc.Close()
	rec := &recordingSender{}
	svc.SetSender(rec)

	log.Warn("below threshold")
	log.Error("above threshold")

	deadline := time.Now().Add(2 * time.Second)
	for rec.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if n := rec.count(); n != 1 {
		t.Fatalf("sent %d messages, want 1", n)
	}
}
