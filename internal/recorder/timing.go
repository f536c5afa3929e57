package recorder

import "time"

// Timing holds the interaction windows used by the state machine.
type Timing struct {
	// PromotionWindow is how long the key must be held before push-to-talk starts.
	PromotionWindow time.Duration
	// DoubleTapWindow is the maximum gap between two key-downs that locks hands-free.
	DoubleTapWindow time.Duration
	// MinimumVisibleWindow is the shortest time the lightweight UI stays on screen.
	MinimumVisibleWindow time.Duration
	// KeyDownSoundDelay keeps the key-down cue from colliding with a fast key-up cue.
	KeyDownSoundDelay time.Duration

	Cooldown          time.Duration
	PromotionCooldown time.Duration
	HandsFreeDebounce time.Duration
}

// DefaultTiming returns the production windows.
func DefaultTiming() Timing {
	return Timing{
		PromotionWindow:      400 * time.Millisecond,
		DoubleTapWindow:      400 * time.Millisecond,
		MinimumVisibleWindow: 400 * time.Millisecond,
		KeyDownSoundDelay:    60 * time.Millisecond,
		Cooldown:             280 * time.Millisecond,
		PromotionCooldown:    150 * time.Millisecond,
		HandsFreeDebounce:    600 * time.Millisecond,
	}
}

// Immediate returns t with promotion and minimum visibility disabled, so a
// hold starts recording at once and a mis-touch hides at once.
func (t Timing) Immediate() Timing {
	t.PromotionWindow = 0
	t.MinimumVisibleWindow = 0
	return t
}
