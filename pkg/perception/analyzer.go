package perception

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/urmzd/watchgate/pkg/ai"
)

const (
	// AnalysisInterval is the minimum spacing between non-forced scene
	// analysis calls.
	AnalysisInterval = 30 * time.Second

	// MaxSnapshots is the retention cap on stored snapshot files.
	MaxSnapshots = 100

	// MaxSnapshotAge is the retention cap on snapshot age.
	MaxSnapshotAge = 7 * 24 * time.Hour

	defaultPrompt = "Describe what you see in this image. Focus on any people, animals, or unusual activity."
)

// Analyzer throttles scene analysis against the vision provider and
// retains successful frames on disk.
type Analyzer struct {
	vision      ai.VisionProvider
	snapshotDir string

	mu       sync.Mutex
	interval time.Duration
	lastCall time.Time
	now      func() time.Time
}

// NewAnalyzer creates an analyzer storing snapshots under snapshotDir.
func NewAnalyzer(vision ai.VisionProvider, snapshotDir string) *Analyzer {
	return &Analyzer{
		vision:      vision,
		snapshotDir: snapshotDir,
		interval:    AnalysisInterval,
		now:         time.Now,
	}
}

// SetInterval adjusts the spacing between non-forced analysis calls.
// Non-positive values are ignored.
func (a *Analyzer) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	a.mu.Lock()
	a.interval = d
	a.mu.Unlock()
}

// Analyze runs scene analysis on frame. Non-forced calls within
// AnalysisInterval of the previous successful call return (nil, nil) and
// perform no side effects. A successful analysis saves the frame as a
// snapshot and triggers retention cleanup.
func (a *Analyzer) Analyze(ctx context.Context, frame []byte, prompt string, force bool) (*ai.Analysis, error) {
	a.mu.Lock()
	now := a.now()
	if !force && now.Sub(a.lastCall) < a.interval {
		a.mu.Unlock()
		log.Debug().Msg("Scene analysis rate limited")
		return nil, nil
	}
	a.mu.Unlock()

	if prompt == "" {
		prompt = defaultPrompt
	}

	result, err := a.vision.Analyze(ctx, frame, prompt)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.lastCall = now
	a.mu.Unlock()

	if path, err := a.saveSnapshot(frame); err != nil {
		log.Warn().Err(err).Msg("Failed to save snapshot")
	} else {
		log.Debug().Str("path", path).Msg("Saved snapshot")
	}

	log.Info().Float64("confidence", result.Confidence).Msg("Scene analysis complete")
	return result, nil
}

func (a *Analyzer) saveSnapshot(frame []byte) (string, error) {
	if err := os.MkdirAll(a.snapshotDir, 0o755); err != nil {
		return "", err
	}

	name := a.now().Format("20060102_150405") + ".jpg"
	path := filepath.Join(a.snapshotDir, name)
	if err := os.WriteFile(path, frame, 0o644); err != nil {
		return "", err
	}

	a.cleanupSnapshots()
	return path, nil
}

// cleanupSnapshots first drops snapshots older than MaxSnapshotAge, then
// independently trims the remainder down to MaxSnapshots, oldest first.
func (a *Analyzer) cleanupSnapshots() {
	paths, err := filepath.Glob(filepath.Join(a.snapshotDir, "*.jpg"))
	if err != nil || len(paths) == 0 {
		return
	}

	now := a.now()

	type snap struct {
		path  string
		mtime time.Time
	}
	var snaps []snap
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > MaxSnapshotAge {
			if err := os.Remove(p); err != nil {
				log.Warn().Err(err).Str("path", p).Msg("Failed to delete old snapshot")
			}
			continue
		}
		snaps = append(snaps, snap{path: p, mtime: info.ModTime()})
	}

	if len(snaps) <= MaxSnapshots {
		return
	}

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].mtime.Before(snaps[j].mtime) })
	for _, s := range snaps[:len(snaps)-MaxSnapshots] {
		if err := os.Remove(s.path); err != nil {
			log.Warn().Err(err).Str("path", s.path).Msg("Failed to delete excess snapshot")
		}
	}
}
