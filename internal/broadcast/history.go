package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is the human-readable time stored with every record.
const TimestampLayout = "02.01.2006 15:04"

// Record is one entry of the history file. A record without Results is a
// cancellation marker for the run with the same id.
type Record struct {
	ID             string  `json:"id"`
	AdminID        int64   `json:"admin_id"`
	TargetType     string  `json:"target_type"`
	MessagePreview string  `json:"message_preview"`
	Results        *Counts `json:"results"`
	Duration       float64 `json:"duration"`
	Timestamp      string  `json:"timestamp"`
	Canceled       bool    `json:"canceled,omitempty"`
	Skipped        int     `json:"skipped_count,omitempty"`
}

func (r Record) IsMarker() bool { return r.Results == nil }

// cancelMarker is the on-disk form of a marker record.
type cancelMarker struct {
	ID        string `json:"id"`
	Canceled  bool   `json:"canceled"`
	Timestamp string `json:"timestamp"`
}

// MarshalJSON writes run records with every field and markers with only
// their id, flag and time.
func (r Record) MarshalJSON() ([]byte, error) {
	if r.IsMarker() {
		return json.Marshal(cancelMarker{ID: r.ID, Canceled: true, Timestamp: r.Timestamp})
	}
	type run Record
	return json.Marshal(run(r))
}

// Stats aggregate every run record; cancellation markers are not counted.
type Stats struct {
	TotalBroadcasts   int     `json:"total_broadcasts"`
	TotalMessagesSent int     `json:"total_messages_sent"`
	SuccessRate       float64 `json:"success_rate"`
	LastBroadcast     *Record `json:"last_broadcast"`
}

// NewRecordID returns a time-ordered unique id.
func NewRecordID(now time.Time) string {
	return now.UTC().Format("20060102T150405.000") + "-" + uuid.NewString()[:8]
}

// History is an append-only JSON array on disk. Every write rewrites the
// whole file through a temp file and rename under one mutex.
type History struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

func NewHistory(path string) *History {
	return &History{path: path, now: time.Now}
}

func (h *History) Path() string { return h.path }

// ReadAll returns every record. A missing or unreadable file reads as empty.
func (h *History) ReadAll() []Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.readLocked()
}

func (h *History) readLocked() []Record {
	b, err := os.ReadFile(h.path)
	if err != nil {
		return nil
	}
	var recs []Record
	if err := json.Unmarshal(b, &recs); err != nil {
		return nil
	}
	return recs
}

func (h *History) writeLocked(recs []Record) error {
	if recs == nil {
		recs = []Record{}
	}
	b, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(h.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	// A unique temp name keeps a concurrent writer in another process (the
	// offline CLI) from clobbering this one's half-written file.
	f, err := os.CreateTemp(filepath.Dir(h.path), ".history-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, h.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Append adds rec. The id and timestamp are filled in when empty.
func (h *History) Append(rec Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	if rec.ID == "" {
		rec.ID = NewRecordID(now)
	}
	if rec.Timestamp == "" {
		rec.Timestamp = now.Format(TimestampLayout)
	}
	recs := append(h.readLocked(), rec)
	if err := h.writeLocked(recs); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// Cancel appends a cancellation marker for id.
func (h *History) Cancel(id string) error {
	if id == "" {
		return errors.New("cancel history: empty id")
	}
	return h.Append(Record{ID: id, Canceled: true})
}

// Compact keeps the newest max records. It reports how many were dropped.
func (h *History) Compact(max int) (int, error) {
	if max <= 0 {
		return 0, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	recs := h.readLocked()
	if len(recs) <= max {
		return 0, nil
	}
	dropped := len(recs) - max
	if err := h.writeLocked(recs[dropped:]); err != nil {
		return 0, fmt.Errorf("compact history: %w", err)
	}
	return dropped, nil
}

func (h *History) Stats() Stats {
	return ComputeStats(h.ReadAll())
}

// ComputeStats folds records into Stats.
func ComputeStats(recs []Record) Stats {
	var (
		st      Stats
		success int
	)
	for i := range recs {
		r := recs[i]
		if r.IsMarker() {
			continue
		}
		st.TotalBroadcasts++
		st.TotalMessagesSent += r.Results.Total
		success += r.Results.Success
		st.LastBroadcast = &recs[i]
	}
	if st.TotalMessagesSent > 0 {
		st.SuccessRate = round2(float64(success) / float64(st.TotalMessagesSent) * 100)
	}
	return st
}

// Exists reports whether the history file is present.
func (h *History) Exists() bool {
	_, err := os.Stat(h.path)
	return !errors.Is(err, fs.ErrNotExist)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
