package recorder

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"tapmic/internal/clock"
	"tapmic/internal/domain"
)

// StateMachine turns key events into recording modes. It owns no external
// resources: every side effect is returned as a Command for the Executor.
type StateMachine struct {
	clock     clock.Clock
	timing    Timing
	immediate atomic.Bool
	log       *slog.Logger

	mu          sync.Mutex
	state       domain.RecorderState
	lastKeyDown time.Time

	// Zero means unset; a window is active while now is before it.
	cooldownUntil          time.Time
	promotionCooldownUntil time.Time
	handsFreeDebounceUntil time.Time
}

func NewStateMachine(clk clock.Clock, timing Timing, logger *slog.Logger) *StateMachine {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &StateMachine{
		clock:  clk,
		timing: timing,
		log:    logger.With("component", "state_machine"),
		state:  domain.Idle(),
	}
}

// SetImmediateHold toggles immediate-hold mode. It is read on every
// transition, so it can change while the machine is running.
func (m *StateMachine) SetImmediateHold(enabled bool) {
	m.immediate.Store(enabled)
}

func (m *StateMachine) ImmediateHold() bool { return m.immediate.Load() }

// Send applies event and returns the commands to execute, in order.
func (m *StateMachine) Send(event domain.Event) []domain.Command {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.state
	commands := m.handle(event)
	for _, cmd := range commands {
		if cmd.Kind == domain.CommandClearCooldowns {
			m.clearCooldowns()
			break
		}
	}
	if from.Kind != m.state.Kind {
		m.log.Debug("transition", "event", event, "from", from.Kind, "to", m.state.Kind, "commands", len(commands))
	}
	return commands
}

// State returns the current state.
func (m *StateMachine) State() domain.RecorderState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ViewModel returns the projection of the current state.
func (m *StateMachine) ViewModel() domain.ViewModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Project(m.state)
}

func (m *StateMachine) windows() Timing {
	if m.immediate.Load() {
		return m.timing.Immediate()
	}
	return m.timing
}

func (m *StateMachine) handle(event domain.Event) []domain.Command {
	now := m.clock.Now()
	timing := m.windows()

	if event != domain.EventUserCancelled && event != domain.EventRecordingComplete {
		if reason, dropped := m.gated(event, now); dropped {
			m.log.Debug("event dropped", "event", event, "state", m.state.Kind, "reason", reason)
			return nil
		}
	}

	switch m.state.Kind {
	case domain.StateIdle:
		switch event {
		case domain.EventKeyDown:
			if m.isDoubleTap(now, timing) {
				return m.lockHandsFree(now, timing)
			}
			m.lastKeyDown = now
			m.state = domain.RecorderState{Kind: domain.StateLightweightShown, Since: now}
			return []domain.Command{
				domain.ShowLightweightUI(),
				domain.PlaySoundDelayed(domain.SoundKeyDown, timing.KeyDownSoundDelay),
				domain.SchedulePromotion(timing.PromotionWindow),
				m.updateUI(),
			}
		case domain.EventUserCancelled:
			return []domain.Command{
				domain.CancelTimers(),
				domain.ClearCooldowns(),
				domain.HideUI(),
				domain.PlaySound(domain.SoundCancel),
				m.updateUI(),
			}
		case domain.EventMisTouchTimeout:
			// Late hide after a mis-touch already returned to idle.
			return []domain.Command{domain.HideUI(), m.updateUI()}
		case domain.EventPromotionTimeout, domain.EventRecordingComplete:
			return nil
		}

	case domain.StateLightweightShown:
		switch event {
		case domain.EventKeyDown:
			if m.isDoubleTap(now, timing) {
				return m.lockHandsFree(now, timing)
			}
			m.lastKeyDown = now
			return nil
		case domain.EventKeyUp:
			remaining := timing.MinimumVisibleWindow - now.Sub(m.state.Since)
			if remaining < 0 {
				remaining = 0
			}
			m.state = domain.Idle()
			return []domain.Command{
				domain.CancelTimers(),
				domain.PlaySound(domain.SoundKeyUp),
				domain.ScheduleMisTouchHide(remaining),
				m.updateUI(),
			}
		case domain.EventPromotionTimeout:
			m.state = domain.RecorderState{Kind: domain.StatePTTActive, Since: now}
			return []domain.Command{
				domain.StartRecording(domain.ModePTT),
				m.updateUI(),
			}
		case domain.EventMisTouchTimeout:
			return nil
		case domain.EventUserCancelled:
			m.state = domain.Idle()
			return []domain.Command{
				domain.CancelTimers(),
				domain.ClearCooldowns(),
				domain.HideUI(),
				m.updateUI(),
			}
		}

	case domain.StatePTTActive:
		switch event {
		case domain.EventKeyDown, domain.EventMisTouchTimeout:
			return nil
		case domain.EventKeyUp:
			return m.beginStopping(now, timing)
		case domain.EventUserCancelled:
			return m.cancelRecording(now, timing)
		}

	case domain.StateHandsFreeLocked:
		switch event {
		case domain.EventKeyDown:
			return m.beginStopping(now, timing)
		case domain.EventKeyUp, domain.EventMisTouchTimeout:
			return nil
		case domain.EventUserCancelled:
			return m.cancelRecording(now, timing)
		}

	case domain.StateStopping:
		switch event {
		case domain.EventRecordingComplete:
			m.state = domain.Idle()
			return []domain.Command{domain.HideUI(), m.updateUI()}
		case domain.EventKeyDown, domain.EventKeyUp, domain.EventMisTouchTimeout, domain.EventPromotionTimeout:
			return nil
		case domain.EventUserCancelled:
			m.state = domain.Idle()
			return []domain.Command{
				domain.CancelTimers(),
				domain.PlaySound(domain.SoundCancel),
				domain.MarkCancelled(),
				domain.HideUI(),
				m.updateUI(),
			}
		}
	}

	m.log.Warn("unhandled event", "event", event, "state", m.state.Kind)
	return nil
}

func (m *StateMachine) gated(event domain.Event, now time.Time) (string, bool) {
	switch {
	case active(m.cooldownUntil, now):
		return "cooldown", true
	case (event == domain.EventKeyDown || event == domain.EventKeyUp) && active(m.promotionCooldownUntil, now):
		return "promotion_cooldown", true
	case event == domain.EventKeyDown && active(m.handsFreeDebounceUntil, now):
		return "hands_free_debounce", true
	}
	return "", false
}

func (m *StateMachine) isDoubleTap(now time.Time, timing Timing) bool {
	return !m.lastKeyDown.IsZero() && now.Sub(m.lastKeyDown) <= timing.DoubleTapWindow
}

func (m *StateMachine) lockHandsFree(now time.Time, timing Timing) []domain.Command {
	m.lastKeyDown = now
	m.state = domain.RecorderState{Kind: domain.StateHandsFreeLocked, Since: now}
	m.promotionCooldownUntil = now.Add(timing.PromotionCooldown)
	m.handsFreeDebounceUntil = now.Add(timing.HandsFreeDebounce)
	return []domain.Command{
		domain.CancelTimers(),
		domain.StartRecording(domain.ModeHandsFreeLocked),
		domain.PlaySound(domain.SoundLock),
		m.updateUI(),
	}
}

func (m *StateMachine) beginStopping(now time.Time, timing Timing) []domain.Command {
	m.state = domain.RecorderState{Kind: domain.StateStopping}
	m.cooldownUntil = now.Add(timing.Cooldown)
	return []domain.Command{
		domain.PlaySound(domain.SoundKeyUp),
		domain.StopRecording(),
		m.updateUI(),
	}
}

// cancelRecording tears down an active recording without waiting for the
// session to report completion.
func (m *StateMachine) cancelRecording(now time.Time, timing Timing) []domain.Command {
	m.state = domain.Idle()
	m.cooldownUntil = now.Add(timing.Cooldown)
	return []domain.Command{
		domain.CancelTimers(),
		domain.ClearCooldowns(),
		domain.PlaySound(domain.SoundCancel),
		domain.MarkCancelled(),
		domain.StopRecording(),
		domain.HideUI(),
		m.updateUI(),
	}
}

func (m *StateMachine) updateUI() domain.Command {
	return domain.UpdateUI(Project(m.state))
}

func (m *StateMachine) clearCooldowns() {
	m.cooldownUntil = time.Time{}
	m.promotionCooldownUntil = time.Time{}
	m.handsFreeDebounceUntil = time.Time{}
}

func active(until time.Time, now time.Time) bool {
	return !until.IsZero() && now.Before(until)
}
