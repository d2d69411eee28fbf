// Package voice turns uploaded audio files into Telegram voice notes with ffmpeg.
package voice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"voxbot/internal/eventbus"
	"voxbot/internal/storage"
	"voxbot/pkg/logx"
)

var (
	ErrTooLarge          = errors.New("voice: file too large")
	ErrUnsupportedFormat = errors.New("voice: unsupported format")
	ErrFFmpegMissing     = errors.New("voice: ffmpeg not found")
)

const (
	DefaultMaxSize = 50 << 20
	defaultTimeout = 2 * time.Minute
	defaultBitrate = "64k"
)

var DefaultFormats = []string{"mp3", "wav", "ogg", "m4a", "flac", "aac"}

var mimeFormats = map[string]string{
	"audio/mpeg":   "mp3",
	"audio/mp3":    "mp3",
	"audio/wav":    "wav",
	"audio/x-wav":  "wav",
	"audio/ogg":    "ogg",
	"audio/mp4":    "m4a",
	"audio/x-m4a":  "m4a",
	"audio/flac":   "flac",
	"audio/x-flac": "flac",
	"audio/aac":    "aac",
}

type Config struct {
	FFmpegPath string
	TempDir    string
	MaxSize    int64
	Formats    []string
	Timeout    time.Duration
	Bitrate    string
}

func (c Config) withDefaults() Config {
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if c.TempDir == "" {
		c.TempDir = "./temp"
	}
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultMaxSize
	}
	if len(c.Formats) == 0 {
		c.Formats = DefaultFormats
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.Bitrate == "" {
		c.Bitrate = defaultBitrate
	}
	return c
}

// Source is the uploaded file as the chat platform describes it.
type Source struct {
	FileID   string
	FileName string
	MIME     string
	Size     int64
}

type Downloader interface {
	Download(ctx context.Context, fileID, dst string) error
}

type Recorder interface {
	LogConversion(ctx context.Context, c storage.Conversion) error
}

type Observer interface {
	ConversionDone(ok bool, d time.Duration)
}

// Result describes one finished conversion.
type Result struct {
	Format   string
	Size     int64
	Duration time.Duration
}

type Converter struct {
	cfg  Config
	dl   Downloader
	rec  Recorder
	obs  Observer
	bus  eventbus.Bus
	log  logx.Logger
	exec func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func NewConverter(cfg Config, dl Downloader, rec Recorder, obs Observer, bus eventbus.Bus, log logx.Logger) (*Converter, error) {
	cfg = cfg.withDefaults()
	formats := make([]string, 0, len(cfg.Formats))
	for _, f := range cfg.Formats {
		formats = append(formats, strings.ToLower(strings.TrimPrefix(strings.TrimSpace(f), ".")))
	}
	cfg.Formats = formats
	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("voice: temp dir: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Converter{
		cfg: cfg, dl: dl, rec: rec, obs: obs, bus: bus,
		log:  log.With(logx.Comp("voice")),
		exec: runCombined,
	}, nil
}

func runCombined(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

func (c *Converter) TempDir() string   { return c.cfg.TempDir }
func (c *Converter) MaxSize() int64    { return c.cfg.MaxSize }
func (c *Converter) Formats() []string { return c.cfg.Formats }

// Format returns the lower-case extension of src, falling back to its MIME type.
func Format(src Source) string {
	if ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(src.FileName), ".")); ext != "" {
		return ext
	}
	return mimeFormats[strings.ToLower(src.MIME)]
}

// Validate checks size and format before anything is downloaded.
func (c *Converter) Validate(src Source) (string, error) {
	if src.Size > c.cfg.MaxSize {
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, src.Size, c.cfg.MaxSize)
	}
	f := Format(src)
	for _, ok := range c.cfg.Formats {
		if f == ok {
			return f, nil
		}
	}
	return f, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
}

// Convert downloads src, encodes it as mono 48kHz Opus and hands the .ogg
// path to send. Temp files are removed before Convert returns, and every
// attempt is recorded.
func (c *Converter) Convert(ctx context.Context, userID int64, src Source, send func(ctx context.Context, path string) error) (res Result, err error) {
	start := time.Now()
	format := Format(src)
	res = Result{Format: format, Size: src.Size}
	defer func() {
		res.Duration = time.Since(start)
		c.finish(ctx, userID, res, err)
	}()

	if format, err = c.Validate(src); err != nil {
		return res, err
	}

	in, err := c.tempFile("in-*."+format, userID)
	if err != nil {
		return res, err
	}
	defer c.remove(in)
	out, err := c.tempFile("out-*.ogg", userID)
	if err != nil {
		return res, err
	}
	defer c.remove(out)

	cctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if err = c.dl.Download(cctx, src.FileID, in); err != nil {
		return res, fmt.Errorf("download: %w", err)
	}
	if err = c.encode(cctx, in, out); err != nil {
		return res, err
	}
	if err = send(ctx, out); err != nil {
		return res, fmt.Errorf("send voice: %w", err)
	}
	return res, nil
}

func (c *Converter) encode(ctx context.Context, in, out string) error {
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", in,
		"-vn", "-ac", "1", "-ar", "48000",
		"-c:a", "libopus", "-b:a", c.cfg.Bitrate, "-vbr", "on",
		out,
	}
	output, err := c.exec(ctx, c.cfg.FFmpegPath, args...)
	if err == nil {
		return nil
	}
	if errors.Is(err, exec.ErrNotFound) {
		return ErrFFmpegMissing
	}
	if ctx.Err() != nil {
		return fmt.Errorf("ffmpeg: %w", ctx.Err())
	}
	return fmt.Errorf("ffmpeg: %w: %s", err, tail(output, 300))
}

func (c *Converter) tempFile(pattern string, userID int64) (string, error) {
	f, err := os.CreateTemp(c.cfg.TempDir, fmt.Sprintf("%d-%s", userID, pattern))
	if err != nil {
		return "", fmt.Errorf("voice: temp file: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return name, nil
}

func (c *Converter) remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.log.Warn("remove temp file failed", logx.String("path", path), logx.Err(err))
	}
}

func (c *Converter) finish(ctx context.Context, userID int64, res Result, err error) {
	conv := storage.Conversion{
		UserID:         userID,
		OriginalFormat: res.Format,
		FileSize:       res.Size,
		Duration:       res.Duration,
		Success:        err == nil,
	}
	if err != nil {
		conv.Error = err.Error()
	}
	if c.rec != nil {
		if rerr := c.rec.LogConversion(context.WithoutCancel(ctx), conv); rerr != nil {
			c.log.Warn("log conversion failed", logx.Int64("user_id", userID), logx.Err(rerr))
		}
	}
	if c.obs != nil {
		c.obs.ConversionDone(err == nil, res.Duration)
	}
	if c.bus != nil {
		c.bus.Publish(eventbus.Event{Type: eventbus.ConversionDone, Data: conv})
	}
	if err != nil {
		c.log.Warn("conversion failed", logx.Int64("user_id", userID), logx.String("format", res.Format), logx.Err(err))
		return
	}
	c.log.Info("conversion done", logx.Int64("user_id", userID), logx.String("format", res.Format),
		logx.Int64("size", res.Size), logx.Duration("took", res.Duration))
}

// CleanupTemp removes files in the temp dir older than maxAge.
func (c *Converter) CleanupTemp(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(c.cfg.TempDir)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(c.cfg.TempDir, e.Name())); err == nil {
			n++
		}
	}
	return n, nil
}

func tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		s = "..." + s[len(s)-n:]
	}
	return s
}
