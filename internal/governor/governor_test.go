package governor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tickstream/capture/internal/queue"
)

type fakeFlusher struct {
	mu      sync.Mutex
	flushes int
}

func (f *fakeFlusher) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
}

func (f *fakeFlusher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushes
}

type fakePauser struct {
	mu      sync.Mutex
	paused  bool
	pauses  int
	resumes int
}

func (p *fakePauser) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
	p.pauses++
}

func (p *fakePauser) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
	p.resumes++
}

func (p *fakePauser) state() (bool, int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused, p.pauses, p.resumes
}

// scriptedHeap returns successive values, repeating the last.
type scriptedHeap struct {
	mu     sync.Mutex
	values []float64
	idx    int
}

func (h *scriptedHeap) read() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	v := h.values[h.idx]
	if h.idx < len(h.values)-1 {
		h.idx++
	}
	return v
}

func newTestGovernor(heap *scriptedHeap) (*Governor, *fakeFlusher, *fakePauser) {
	flusher := &fakeFlusher{}
	pauser := &fakePauser{}
	g := New(Config{
		ThresholdMB:   100,
		CheckInterval: 5 * time.Millisecond,
	}, queue.NewSet(queue.Config{Capacity: 10}), flusher, pauser, nil)
	g.heapMB = heap.read
	return g, flusher, pauser
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func TestGovernor_UnderThresholdDoesNothing(t *testing.T) {
	heap := &scriptedHeap{values: []float64{50}}
	g, flusher, pauser := newTestGovernor(heap)

	g.Start(context.Background())
	defer g.Stop(context.Background())

	waitFor(t, func() bool { return g.Stats().SamplesTaken >= 3 }, "no samples taken")

	if flusher.count() != 0 {
		t.Errorf("flushes = %d, want 0", flusher.count())
	}
	if paused, _, _ := pauser.state(); paused {
		t.Error("feed paused under threshold")
	}
}

func TestGovernor_ForcesFlushBeforePausing(t *testing.T) {
	// Over threshold, recovered by the forced flush.
	heap := &scriptedHeap{values: []float64{150, 80}}
	g, flusher, pauser := newTestGovernor(heap)

	g.Start(context.Background())
	defer g.Stop(context.Background())

	waitFor(t, func() bool { return flusher.count() >= 1 }, "no forced flush")
	waitFor(t, func() bool { return g.Stats().SamplesTaken >= 3 }, "sampling stalled")

	// The flush relieved the pressure, so the feed was never paused.
	if _, pauses, _ := pauser.state(); pauses != 0 {
		t.Errorf("pauses = %d, want 0", pauses)
	}
}

func TestGovernor_PausesWhenFlushDoesNotRecover(t *testing.T) {
	// Two consecutive over-threshold samples, then recovery.
	heap := &scriptedHeap{values: []float64{150, 140, 60}}
	g, flusher, pauser := newTestGovernor(heap)

	g.Start(context.Background())
	defer g.Stop(context.Background())

	waitFor(t, func() bool {
		_, pauses, _ := pauser.state()
		return pauses == 1
	}, "feed not paused after persistent pressure")

	if flusher.count() < 1 {
		t.Error("pause happened without a prior forced flush")
	}

	// The third sample is under threshold: the feed resumes.
	waitFor(t, func() bool {
		paused, _, resumes := pauser.state()
		return !paused && resumes == 1
	}, "feed not resumed after recovery")
}

func TestGovernor_StopResumesPausedFeed(t *testing.T) {
	heap := &scriptedHeap{values: []float64{150, 150, 150}}
	g, _, pauser := newTestGovernor(heap)

	g.Start(context.Background())

	waitFor(t, func() bool {
		paused, _, _ := pauser.state()
		return paused
	}, "feed not paused")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := g.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if paused, _, resumes := pauser.state(); paused || resumes != 1 {
		t.Errorf("feed left paused after Stop (resumes = %d)", resumes)
	}
}

func TestGovernor_SampleCarriesQueueDepth(t *testing.T) {
	heap := &scriptedHeap{values: []float64{10}}
	flusher := &fakeFlusher{}
	pauser := &fakePauser{}
	queues := queue.NewSet(queue.Config{Capacity: 10})

	g := New(Config{ThresholdMB: 100, CheckInterval: 5 * time.Millisecond},
		queues, flusher, pauser, nil)
	g.heapMB = heap.read

	g.Start(context.Background())
	defer g.Stop(context.Background())

	waitFor(t, func() bool { return g.Stats().SamplesTaken >= 1 }, "no sample")

	sample := g.Stats().LastSample
	if sample.Timestamp.IsZero() {
		t.Error("sample has no timestamp")
	}
	if sample.HeapMB != 10 {
		t.Errorf("HeapMB = %v, want 10", sample.HeapMB)
	}
}
