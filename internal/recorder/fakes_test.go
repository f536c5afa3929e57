package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tapmic/internal/clock"
	"tapmic/internal/domain"
)

type fakePanel struct {
	mu      sync.Mutex
	clock   clock.Clock
	shows   int
	hides   []time.Time
	updates []domain.ViewModel
}

func (f *fakePanel) ShowLightweight() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shows++
}

func (f *fakePanel) Hide() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hides = append(f.hides, f.clock.Now())
}

func (f *fakePanel) Update(vm domain.ViewModel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, vm)
}

func (f *fakePanel) showCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shows
}

func (f *fakePanel) hideTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Time, len(f.hides))
	copy(out, f.hides)
	return out
}

func (f *fakePanel) lastUpdate() domain.ViewModel {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.updates) == 0 {
		return domain.ViewModel{}
	}
	return f.updates[len(f.updates)-1]
}

type fakeSounds struct {
	mu     sync.Mutex
	played []domain.Sound
}

func (f *fakeSounds) Play(sound domain.Sound) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.played = append(f.played, sound)
}

func (f *fakeSounds) snapshot() []domain.Sound {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Sound, len(f.played))
	copy(out, f.played)
	return out
}

type fakeSession struct {
	mu        sync.Mutex
	startErr  error
	startGate chan struct{}
	active    bool
	calls     []string
	starts    []domain.RecordingMode
	stops     int
	aborts    int
	cancelled int
	waiters   []chan struct{}
}

func (f *fakeSession) Start(_ context.Context, mode domain.RecordingMode) error {
	if f.startGate != nil {
		<-f.startGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "start")
	f.starts = append(f.starts, mode)
	if f.startErr != nil {
		return f.startErr
	}
	f.active = true
	return nil
}

func (f *fakeSession) Stop(_ context.Context) (domain.StopResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "stop")
	f.stops++
	if !f.active {
		return domain.StopResult{}, errors.New("no active recording session")
	}
	return domain.StopResult{}, nil
}

func (f *fakeSession) Abort() error {
	f.mu.Lock()
	f.calls = append(f.calls, "abort")
	f.aborts++
	f.mu.Unlock()
	f.goIdle()
	return nil
}

func (f *fakeSession) MarkCancelled() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled++
}

func (f *fakeSession) WhenIdle() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	if !f.active {
		close(ch)
		return ch
	}
	f.waiters = append(f.waiters, ch)
	return ch
}

// goIdle simulates the capture session finishing its teardown.
func (f *fakeSession) goIdle() {
	f.mu.Lock()
	waiters := f.waiters
	f.waiters = nil
	f.active = false
	f.mu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}

func (f *fakeSession) counts() (starts []domain.RecordingMode, stops, aborts, cancelled int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	starts = make([]domain.RecordingMode, len(f.starts))
	copy(starts, f.starts)
	return starts, f.stops, f.aborts, f.cancelled
}

func (f *fakeSession) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingDispatcher) Dispatch(event domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingDispatcher) snapshot() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Event, len(r.events))
	copy(out, r.events)
	return out
}

// eventually polls cond until it holds or two seconds pass.
func eventually(t *testing.T, cond func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf(format, args...)
		}
		time.Sleep(time.Millisecond)
	}
}

// never fails if cond holds at any point during the next 50ms.
func never(t *testing.T, cond func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(50 * time.Millisecond)
	for time.Now().Before(deadline) {
		if cond() {
			t.Fatalf(format, args...)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
