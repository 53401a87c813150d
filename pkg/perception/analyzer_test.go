package perception

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/urmzd/watchgate/pkg/ai"
)

type countingVision struct {
	calls int
}

func (v *countingVision) Analyze(ctx context.Context, image []byte, prompt string) (*ai.Analysis, error) {
	v.calls++
	return &ai.Analysis{Description: "a cat", Confidence: 0.9}, nil
}

func TestAnalyze_RateLimited(t *testing.T) {
	vision := &countingVision{}
	a := NewAnalyzer(vision, t.TempDir())

	now := time.Now()
	a.now = func() time.Time { return now }

	result, err := a.Analyze(context.Background(), []byte("frame"), "", false)
	if err != nil || result == nil {
		t.Fatalf("first call failed: result=%v err=%v", result, err)
	}

	now = now.Add(10 * time.Second)
	result, err = a.Analyze(context.Background(), []byte("frame"), "", false)
	if err != nil {
		t.Fatalf("throttled call must not error: %v", err)
	}
	if result != nil {
		t.Error("second call within 30s must return no result")
	}
	if vision.calls != 1 {
		t.Errorf("vision called %d times, want 1", vision.calls)
	}

	now = now.Add(AnalysisInterval)
	if result, _ = a.Analyze(context.Background(), []byte("frame"), "", false); result == nil {
		t.Error("call after the interval must proceed")
	}
}

func TestAnalyze_ForceBypassesRateLimit(t *testing.T) {
	vision := &countingVision{}
	a := NewAnalyzer(vision, t.TempDir())

	now := time.Now()
	a.now = func() time.Time { return now }

	if _, err := a.Analyze(context.Background(), []byte("frame"), "", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, err := a.Analyze(context.Background(), []byte("frame"), "", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil {
		t.Error("forced call must proceed regardless of timing")
	}
	if vision.calls != 2 {
		t.Errorf("vision called %d times, want 2", vision.calls)
	}
}

func TestAnalyze_SavesSnapshot(t *testing.T) {
	dir := t.TempDir()
	a := NewAnalyzer(&countingVision{}, dir)

	if _, err := a.Analyze(context.Background(), []byte("jpegbytes"), "", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "*.jpg"))
	if len(matches) != 1 {
		t.Fatalf("got %d snapshots, want 1", len(matches))
	}
}

func TestCleanup_TrimsToMaxSnapshots(t *testing.T) {
	dir := t.TempDir()
	a := NewAnalyzer(&countingVision{}, dir)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 110; i++ {
		path := filepath.Join(dir, fmt.Sprintf("snap_%03d.jpg", i))
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		mtime := base.Add(time.Duration(i) * time.Second)
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}

	a.cleanupSnapshots()

	matches, _ := filepath.Glob(filepath.Join(dir, "*.jpg"))
	if len(matches) != MaxSnapshots {
		t.Fatalf("got %d snapshots after cleanup, want %d", len(matches), MaxSnapshots)
	}
	// The ten oldest must be the ones removed.
	for i := 0; i < 10; i++ {
		path := filepath.Join(dir, fmt.Sprintf("snap_%03d.jpg", i))
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("oldest snapshot %s should have been removed", filepath.Base(path))
		}
	}
}

func TestCleanup_RemovesExpiredRegardlessOfCount(t *testing.T) {
	dir := t.TempDir()
	a := NewAnalyzer(&countingVision{}, dir)

	old := filepath.Join(dir, "old.jpg")
	fresh := filepath.Join(dir, "fresh.jpg")
	for _, p := range []string{old, fresh} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	expired := time.Now().Add(-MaxSnapshotAge - time.Hour)
	if err := os.Chtimes(old, expired, expired); err != nil {
		t.Fatal(err)
	}

	a.cleanupSnapshots()

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("snapshot past the age limit must be removed even under the count cap")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("fresh snapshot must survive: %v", err)
	}
}
