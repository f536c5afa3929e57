package clock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Virtual is a manually advanced clock backed by a clockwork fake. Advance
// and Set step through pending deadlines one at a time, so sleepers are
// released in wake-time order and Now reads as each deadline while it is
// being released.
type Virtual struct {
	fake *clockwork.FakeClock

	// mu serializes Sleep registration with Advance and Set so every
	// deadline is known before the fake clock moves.
	mu       sync.Mutex
	seq      uint64
	sleepers []*sleeper
}

type sleeper struct {
	wake time.Time
	seq  uint64
}

// NewVirtual returns a virtual clock starting at start. A zero start uses a
// fixed reference instant so runs are reproducible.
func NewVirtual(start time.Time) *Virtual {
	if start.IsZero() {
		start = time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC)
	}
	return &Virtual{fake: clockwork.NewFakeClockAt(start)}
}

func (v *Virtual) Now() time.Time { return v.fake.Now() }

func (v *Virtual) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	v.mu.Lock()
	v.seq++
	s := &sleeper{wake: v.fake.Now().Add(d), seq: v.seq}
	timer := v.fake.NewTimer(d)
	v.sleepers = append(v.sleepers, s)
	sort.SliceStable(v.sleepers, func(i, j int) bool {
		if v.sleepers[i].wake.Equal(v.sleepers[j].wake) {
			return v.sleepers[i].seq < v.sleepers[j].seq
		}
		return v.sleepers[i].wake.Before(v.sleepers[j].wake)
	})
	v.mu.Unlock()

	select {
	case <-timer.Chan():
		return nil
	case <-ctx.Done():
		timer.Stop()
		v.remove(s)
		return ctx.Err()
	}
}

// Advance moves the clock forward by d, releasing every sleeper whose
// deadline is reached, earliest first.
func (v *Virtual) Advance(d time.Duration) {
	v.Set(v.fake.Now().Add(d))
}

// Set moves the clock forward to t. Times before Now are ignored.
func (v *Virtual) Set(t time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for len(v.sleepers) > 0 && !v.sleepers[0].wake.After(t) {
		wake := v.sleepers[0].wake
		for len(v.sleepers) > 0 && v.sleepers[0].wake.Equal(wake) {
			v.sleepers = v.sleepers[1:]
		}
		v.fake.Advance(wake.Sub(v.fake.Now()))
	}
	if step := t.Sub(v.fake.Now()); step > 0 {
		v.fake.Advance(step)
	}
}

// Pending reports how many sleepers are waiting.
func (v *Virtual) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.sleepers)
}

// NextWake returns the earliest pending deadline.
func (v *Virtual) NextWake() (time.Time, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.sleepers) == 0 {
		return time.Time{}, false
	}
	return v.sleepers[0].wake, true
}

// BlockUntil waits until exactly n sleepers are pending or ctx is done.
func (v *Virtual) BlockUntil(ctx context.Context, n int) error {
	return v.fake.BlockUntilContext(ctx, n)
}

func (v *Virtual) remove(target *sleeper) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, s := range v.sleepers {
		if s == target {
			v.sleepers = append(v.sleepers[:i], v.sleepers[i+1:]...)
			break
		}
	}
}
