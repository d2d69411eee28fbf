package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  admin_ids: [42]
logging:
  level: debug
  console: true
broadcast:
  batch_size: 30
  cooldown: 1s
maintenance:
  history_compact: "0 0 3 * * *"
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	p := writeFile(t, t.TempDir(), "config.yaml", sampleYAML)
	m := NewConfigManager(p)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || !cfg.Telegram.IsAdmin(42) || cfg.Telegram.IsAdmin(7) {
		t.Fatalf("telegram section not decoded: %+v", cfg.Telegram)
	}
	if cfg.Broadcast.BatchSize != 30 || cfg.Broadcast.Cooldown != "1s" {
		t.Fatalf("broadcast section not decoded: %+v", cfg.Broadcast)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if m.Get() != cfg {
		t.Fatalf("Load must commit the parsed config")
	}
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	cases := map[string]string{
		"unknown":  `{"telegram":{"token":"x"},"plugins":{}}`,
		"trailing": `{"telegram":{"token":"x"}}{"telegram":{}}`,
	}
	for name, body := range cases {
		if _, err := Decode("config.json", []byte(body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Broadcast:   BroadcastConfig{Cooldown: "soon", BatchSize: -1},
		Maintenance: MaintenanceConfig{TempCleanup: "every tuesday"},
		Telegram:    TelegramConfig{GroupLog: "not-a-number"},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	if !errors.Is(err, ErrNoToken) {
		t.Fatalf("missing token not reported: %v", err)
	}
	for _, want := range []string{"broadcast.cooldown", "batch_size", "maintenance.temp_cleanup", "group_log"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}

	ok := &Config{Telegram: TelegramConfig{Token: "t", GroupLog: "-1001"}, Maintenance: MaintenanceConfig{HistoryCompact: "-"}}
	if err := Validate(ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id, _ := ok.Telegram.GroupLogID(); id != -1001 {
		t.Fatalf("group log id=%d", id)
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", 3*time.Second)
	if err != nil || d != 3*time.Second {
		t.Fatalf("default: %v %v", d, err)
	}
	if _, err := ParseDurationOrDefault("x", "-1s", time.Second); err == nil {
		t.Fatalf("negative durations must be rejected")
	}
	if got := DurationOr("garbage", time.Minute); got != time.Minute {
		t.Fatalf("DurationOr fallback=%v", got)
	}
}

func TestReloadPublishesOnlyValidChanges(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", `{"telegram":{"token":"a"}}`)
	m := NewConfigManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	m.SetValidator(func(_ context.Context, cfg *Config) error { return Validate(cfg) })
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	// Unchanged content is not republished.
	if err := m.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	select {
	case <-sub:
		t.Fatalf("unchanged config was published")
	default:
	}

	writeFile(t, dir, "config.json", `{"telegram":{"token":""}}`)
	if err := m.Reload(context.Background()); err == nil {
		t.Fatalf("invalid config must be rejected")
	}
	if m.Get().Telegram.Token != "a" {
		t.Fatalf("rejected config was committed")
	}

	writeFile(t, dir, "config.json", `{"telegram":{"token":"b"},"broadcast":{"batch_size":10}}`)
	if err := m.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	select {
	case cfg := <-sub:
		if cfg.Broadcast.BatchSize != 10 {
			t.Fatalf("published stale config: %+v", cfg.Broadcast)
		}
	default:
		t.Fatalf("valid change was not published")
	}
}

func TestSummarizeChange(t *testing.T) {
	a := &Config{Telegram: TelegramConfig{Token: "secret-a", AdminIDs: []int64{1}}}
	b := &Config{
		Telegram:  TelegramConfig{Token: "secret-b", AdminIDs: []int64{1, 2}},
		Broadcast: BroadcastConfig{BatchSize: 10},
	}
	ch := SummarizeChange(a, b)
	got := strings.Join(ch.Sections, ",")
	if got != "telegram,admins,broadcast" {
		t.Fatalf("sections=%s", got)
	}
	if strings.Join(ch.RestartRequired, ",") != "telegram" {
		t.Fatalf("restart required=%v", ch.RestartRequired)
	}
	if !SummarizeChange(a, a).Empty() {
		t.Fatalf("identical configs must produce an empty change")
	}
}

func TestExampleConfigIsValid(t *testing.T) {
	cfg, err := NewConfigManager(filepath.Join("..", "..", "config.example.yaml")).Parse()
	if err != nil {
		t.Fatalf("parse example: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("validate example: %v", err)
	}
	if cfg.Broadcast.BatchSize != 30 || cfg.Maintenance.HistoryCompact != "@daily" {
		t.Fatalf("example decoded wrong: %+v", cfg.Broadcast)
	}
}
