// Package locator implements the call-to-recording correlation
// heuristic. There is no OS-level linkage between a call and the file
// the independent recorder app writes, so the locator accepts the most
// recently modified file within a bounded time window after call end.
// The window is one-sided toward recency: a false negative (recorder
// wrote elsewhere or too late) is preferred over picking an unrelated
// older file.
package locator

import (
	"log/slog"
	"time"

	"github.com/recsync/recsync/internal/scanner"
)

// Defaults for the correlation window.
const (
	DefaultWindow = 2 * time.Minute
	DefaultSkew   = 5 * time.Second
)

// Locator searches an ordered list of candidate directories for the
// recording written for a just-ended call. Directory availability is
// never cached: every Locate call re-scans, so storage appearing or
// disappearing between calls is picked up naturally.
type Locator struct {
	dirs   []string
	window time.Duration // how long after call end a write still counts
	skew   time.Duration // timestamp jitter absorbed before call end
	logger *slog.Logger
}

// New creates a Locator over the given candidate directories. Zero
// window or skew fall back to the defaults.
func New(dirs []string, window, skew time.Duration, logger *slog.Logger) *Locator {
	if window <= 0 {
		window = DefaultWindow
	}
	if skew <= 0 {
		skew = DefaultSkew
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Locator{
		dirs:   dirs,
		window: window,
		skew:   skew,
		logger: logger.With("component", "locator"),
	}
}

// Locate returns the best-matching recently written file for a call
// that ended at endedAt, or nil when nothing qualifies. A file
// qualifies when its modification time lies in
// [endedAt - skew, endedAt + window]. Among qualifying files the one
// with the latest modification time wins; ties break to the
// lexicographically greatest path so the choice is deterministic.
// Unreadable or missing directories are logged and skipped.
func (l *Locator) Locate(endedAt time.Time) *scanner.FileInfo {
	lower := endedAt.Add(-l.skew).UnixMilli()
	upper := endedAt.Add(l.window).UnixMilli()

	var best *scanner.FileInfo
	for _, dir := range l.dirs {
		files, err := scanner.List(dir)
		if err != nil {
			l.logger.Debug("skipping candidate directory", "dir", dir, "error", err)
			continue
		}

		for i := range files {
			f := &files[i]
			if f.ModifiedAt < lower || f.ModifiedAt > upper {
				continue
			}
			if best == nil ||
				f.ModifiedAt > best.ModifiedAt ||
				(f.ModifiedAt == best.ModifiedAt && f.Path > best.Path) {
				best = f
			}
		}
	}

	if best == nil {
		l.logger.Info("no recording found within window",
			"ended_at", endedAt, "window", l.window, "dirs", len(l.dirs))
		return nil
	}

	match := *best
	l.logger.Info("recording matched",
		"path", match.Path, "modified_at", match.ModifiedAt, "size", match.SizeBytes)
	return &match
}
