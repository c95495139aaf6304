// Package capture reads the output directory of the external continuous
// capture process. Nothing here writes captures.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"
)

// ErrNoFreshCapture is returned when no capture was written inside the
// freshness window.
var ErrNoFreshCapture = errors.New("no capture within freshness window")

// ErrNoCapture is returned when the directory holds no capture at all.
var ErrNoCapture = errors.New("no capture available")

const (
	// FreshnessWindow bounds how far a capture mtime may be from "now".
	FreshnessWindow = time.Second
	// FlushWait lets the writer finish the current frame.
	FlushWait = 500 * time.Millisecond

	CapturesKind = "captures"
	SegmentsKind = "segments"
)

var (
	captureRe = regexp.MustCompile(`^capture_(\d+)\.jpg$`)
	segmentRe = regexp.MustCompile(`^segment_(\d+)\.ts$`)
)

// Capture is one full-size capture file.
type Capture struct {
	Path     string    `json:"path"`
	Sequence int       `json:"sequence"`
	ModTime  time.Time `json:"mod_time"`
}

// Age relative to now, always positive.
func (c Capture) Age(now time.Time) time.Duration {
	d := now.Sub(c.ModTime)
	if d < 0 {
		return -d
	}
	return d
}

// ResolveStoragePath returns <base>/hot/<kind> when that RAM-backed
// directory exists, else <base>/<kind>.
func ResolveStoragePath(base, kind string) string {
	hot := filepath.Join(base, "hot", kind)
	if fi, err := os.Stat(hot); err == nil && fi.IsDir() {
		return hot
	}
	return filepath.Join(base, kind)
}

// SlotPaths holds the directories of one capture slot.
type SlotPaths struct {
	Stream  string `json:"stream_path"`
	Capture string `json:"capture_path"`
}

// PathsForSlot builds the default paths for a capture slot name such as
// "capture1".
func PathsForSlot(root, slot string) SlotPaths {
	dir := filepath.Join(root, slot)
	return SlotPaths{Stream: dir, Capture: dir}
}

// Store reads captures below one slot directory.
type Store struct {
	base      string
	window    time.Duration
	flushWait time.Duration
	now       func() time.Time
}

// NewStore creates a reader for the slot directory base.
func NewStore(base string) *Store {
	return &Store{
		base:      base,
		window:    FreshnessWindow,
		flushWait: FlushWait,
		now:       time.Now,
	}
}

// Base returns the slot directory.
func (s *Store) Base() string {
	return s.base
}

// CapturesDir returns the current captures directory, hot tier first.
func (s *Store) CapturesDir() string {
	return ResolveStoragePath(s.base, CapturesKind)
}

// SegmentsDir returns the current HLS segments directory, hot tier first.
func (s *Store) SegmentsDir() string {
	return ResolveStoragePath(s.base, SegmentsKind)
}

// ListCaptures returns full captures ordered by sequence. Thumbnails and
// other files are skipped.
func (s *Store) ListCaptures() ([]Capture, error) {
	return listNumbered(s.CapturesDir(), captureRe)
}

// ListSegments returns HLS segments ordered by sequence.
func (s *Store) ListSegments() ([]Capture, error) {
	return listNumbered(s.SegmentsDir(), segmentRe)
}

// Closest returns the capture whose mtime is nearest to now, among those
// inside the freshness window.
func (s *Store) Closest(now time.Time) (Capture, error) {
	captures, err := s.ListCaptures()
	if err != nil {
		return Capture{}, err
	}

	var (
		best  Capture
		found bool
	)
	for _, c := range captures {
		age := c.Age(now)
		if age > s.window {
			continue
		}
		if !found || age < best.Age(now) || (age == best.Age(now) && c.Sequence > best.Sequence) {
			best = c
			found = true
		}
	}
	if !found {
		return Capture{}, fmt.Errorf("%w in %s", ErrNoFreshCapture, s.CapturesDir())
	}
	return best, nil
}

// TakeScreenshot waits for the writer to flush and returns the path of the
// capture closest to now.
func (s *Store) TakeScreenshot(ctx context.Context) (string, error) {
	if s.flushWait > 0 {
		t := time.NewTimer(s.flushWait)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		case <-t.C:
		}
	}
	c, err := s.Closest(s.now())
	if err != nil {
		return "", err
	}
	return c.Path, nil
}

// Latest returns the newest capture regardless of age.
func (s *Store) Latest() (Capture, error) {
	recent, err := s.Recent(1)
	if err != nil {
		return Capture{}, err
	}
	return recent[0], nil
}

// Recent returns up to n captures, newest first.
func (s *Store) Recent(n int) ([]Capture, error) {
	captures, err := s.ListCaptures()
	if err != nil {
		return nil, err
	}
	if len(captures) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoCapture, s.CapturesDir())
	}
	sort.SliceStable(captures, func(i, j int) bool {
		return captures[i].ModTime.After(captures[j].ModTime)
	})
	if n > 0 && len(captures) > n {
		captures = captures[:n]
	}
	return captures, nil
}

func listNumbered(dir string, re *regexp.Regexp) ([]Capture, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var out []Capture
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := re.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		seq, _ := strconv.Atoi(m[1])
		out = append(out, Capture{
			Path:     filepath.Join(dir, e.Name()),
			Sequence: seq,
			ModTime:  info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}
