package motion_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/moodsense/internal/motion"
	"github.com/MrWong99/moodsense/pkg/emotion"
	"github.com/MrWong99/moodsense/pkg/store/memory"
)

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

type sinkRecorder struct {
	mu  sync.Mutex
	obs []emotion.Observation
}

func (s *sinkRecorder) sink(_ context.Context, o emotion.Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obs = append(s.obs, o)
}

func (s *sinkRecorder) last() emotion.Observation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.obs[len(s.obs)-1]
}

func TestTracker_MovingAndStationarySeconds(t *testing.T) {
	rec := &sinkRecorder{}
	tr := motion.New(nil, rec.sink)
	ctx := context.Background()

	tr.OnCounter(1000)
	raw := int64(1000)
	moving := map[int]bool{1: true, 3: true, 5: true}
	for i := 1; i <= 10; i++ {
		if moving[i] {
			raw += 12
			tr.OnCounter(raw)
		}
		tr.Tick(ctx, t0.Add(time.Duration(i)*time.Second))
	}

	c := tr.Snapshot()
	if c.TimeMoving != 3 || c.TimeStationary != 7 {
		t.Errorf("moving/stationary = %d/%d, want 3/7", c.TimeMoving, c.TimeStationary)
	}
	if want := t0.Add(5 * time.Second); !c.LastMovement.Equal(want) {
		t.Errorf("LastMovement = %v, want %v", c.LastMovement, want)
	}
	if c.Steps != 36 {
		t.Errorf("Steps = %d, want 36", c.Steps)
	}

	if len(rec.obs) != 10 {
		t.Fatalf("sink received %d observations, want 10", len(rec.obs))
	}
	last := rec.last()
	if last.Source != emotion.SourceMotion || last.Motion == nil {
		t.Fatalf("last observation = %+v", last)
	}
	if last.Motion.Steps != 36 || last.Motion.TimeMovingSeconds != 3 || last.Motion.TimeStationarySeconds != 7 {
		t.Errorf("last motion sample = %+v", *last.Motion)
	}
}

func TestTracker_NoCounterYet(t *testing.T) {
	tr := motion.New(nil, nil)
	tr.Tick(context.Background(), t0)
	c := tr.Snapshot()
	if c.Steps != -1 {
		t.Errorf("Steps = %d, want -1 before any reading", c.Steps)
	}
	if c.TimeStationary != 1 {
		t.Errorf("TimeStationary = %d, want 1", c.TimeStationary)
	}
	if !tr.Isolated(t0) {
		t.Error("tracker without movement must be isolated")
	}
}

func TestTracker_BaselineAndRestart(t *testing.T) {
	tr := motion.New(nil, nil)
	tr.OnCounter(5000)
	tr.OnCounter(5100)
	if got := tr.Snapshot().Steps; got != 100 {
		t.Fatalf("Steps = %d, want 100", got)
	}
	// Device reboot: the raw counter starts over.
	tr.OnCounter(3)
	if got := tr.Snapshot().Steps; got != 100 {
		t.Fatalf("Steps after restart = %d, want 100", got)
	}
	tr.OnCounter(23)
	if got := tr.Snapshot().Steps; got != 120 {
		t.Fatalf("Steps = %d, want 120", got)
	}
}

func TestTracker_IgnoresStaleReading(t *testing.T) {
	tr := motion.New(nil, nil)
	for _, raw := range []int64{1000, 1020, 1010} {
		tr.OnCounter(raw)
	}
	if got := tr.Snapshot().Steps; got != 20 {
		t.Fatalf("Steps after late reading = %d, want 20", got)
	}
	tr.OnCounter(1021)
	if got := tr.Snapshot().Steps; got != 21 {
		t.Fatalf("Steps = %d, want 21", got)
	}
}

func TestTracker_RestartAboveBaseline(t *testing.T) {
	tr := motion.New(nil, nil)
	tr.OnCounter(10)
	tr.OnCounter(5010)
	// The device restarted and has already counted 20 steps, which is still
	// above the original baseline.
	tr.OnCounter(20)
	if got := tr.Snapshot().Steps; got != 5000 {
		t.Fatalf("Steps after restart = %d, want 5000", got)
	}
	tr.OnCounter(45)
	if got := tr.Snapshot().Steps; got != 5025 {
		t.Fatalf("Steps = %d, want 5025", got)
	}
}

func TestTracker_Isolation(t *testing.T) {
	tr := motion.New(nil, nil, motion.WithIsolationAfter(30*time.Minute))
	tr.OnCounter(0)
	tr.OnCounter(10)
	tr.Tick(context.Background(), t0)

	if tr.Isolated(t0.Add(30 * time.Minute)) {
		t.Error("exactly 30m without movement must not be isolated")
	}
	if !tr.Isolated(t0.Add(30*time.Minute + time.Second)) {
		t.Error("more than 30m without movement must be isolated")
	}
}

func TestTracker_FlushInterval(t *testing.T) {
	remote := memory.NewRemote()
	tr := motion.New(remote, nil, motion.WithFlushInterval(30*time.Second))
	ctx := context.Background()

	tr.OnCounter(0)
	for i := 1; i <= 61; i++ {
		tr.OnCounter(int64(i * 2))
		tr.Tick(ctx, t0.Add(time.Duration(i)*time.Second))
	}

	recs := remote.Records(emotion.CollectionActivity)
	// Attempts at t=1s, 31s and 61s.
	if len(recs) != 3 {
		t.Fatalf("got %d activity records, want 3", len(recs))
	}
	total := 0
	for _, r := range recs {
		total += r.Fields["steps"].(int)
	}
	if total != 122 {
		t.Errorf("flushed steps = %d, want 122", total)
	}
	if got := recs[1].Fields["timeMoving"].(int); got != 30 {
		t.Errorf("second flush timeMoving = %d, want 30", got)
	}
	if !recs[2].Timestamp.Equal(t0.Add(61 * time.Second)) {
		t.Errorf("third flush timestamp = %v", recs[2].Timestamp)
	}
	if steps, _, _ := tr.Pending(); steps != 0 {
		t.Errorf("pending steps = %d, want 0", steps)
	}
}

func TestTracker_FailedFlushKeepsDeltas(t *testing.T) {
	remote := memory.NewRemote()
	remote.SetAppendErr(errors.New("offline"))
	tr := motion.New(remote, nil, motion.WithFlushInterval(30*time.Second))
	ctx := context.Background()

	tr.OnCounter(0)
	for i := 1; i <= 30; i++ {
		tr.Tick(ctx, t0.Add(time.Duration(i)*time.Second))
	}
	if _, _, stationary := tr.Pending(); stationary != 30 {
		t.Fatalf("pending stationary = %d, want 30 after failed flush", stationary)
	}

	remote.SetAppendErr(nil)
	// Not due yet: the failed attempt at t=1s still counts as the last attempt.
	tr.Tick(ctx, t0.Add(30*time.Second))
	if n := len(remote.Records(emotion.CollectionActivity)); n != 0 {
		t.Fatalf("flushed %d records before the interval elapsed", n)
	}
	tr.Tick(ctx, t0.Add(31*time.Second))

	recs := remote.Records(emotion.CollectionActivity)
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	if got := recs[0].Fields["timeStationary"].(int); got != 32 {
		t.Errorf("timeStationary = %d, want 32", got)
	}
	if got := recs[0].Fields["isolated"].(bool); !got {
		t.Error("isolated = false, want true without any movement")
	}
	if _, _, stationary := tr.Pending(); stationary != 0 {
		t.Errorf("pending stationary = %d, want 0 after success", stationary)
	}
}

func TestTracker_RunStopsOnCancel(t *testing.T) {
	tr := motion.New(nil, nil, motion.WithTick(time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for tr.Snapshot().TimeStationary < 3 {
		select {
		case <-deadline:
			t.Fatal("Run did not tick")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
