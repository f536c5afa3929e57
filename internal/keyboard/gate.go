package keyboard

import (
	"sync"

	"tapmic/internal/domain"
)

// Dispatcher receives the recorder events produced from key input.
type Dispatcher interface {
	Dispatch(event domain.Event)
}

// Gate makes key input level-triggered: while the trigger key is held only
// the first KeyDown is forwarded, so auto-repeat never reaches the recorder.
// KeyUp always clears the held flag and is forwarded.
type Gate struct {
	next Dispatcher

	mu   sync.Mutex
	held bool
}

func NewGate(next Dispatcher) *Gate {
	return &Gate{next: next}
}

// KeyDown reports whether the press was forwarded.
func (g *Gate) KeyDown() bool {
	g.mu.Lock()
	if g.held {
		g.mu.Unlock()
		return false
	}
	g.held = true
	g.mu.Unlock()

	g.next.Dispatch(domain.EventKeyDown)
	return true
}

func (g *Gate) KeyUp() {
	g.mu.Lock()
	g.held = false
	g.mu.Unlock()

	g.next.Dispatch(domain.EventKeyUp)
}

func (g *Gate) Cancel() {
	g.next.Dispatch(domain.EventUserCancelled)
}

func (g *Gate) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}
