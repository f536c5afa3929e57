package recorder

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"tapmic/internal/clock"
	"tapmic/internal/domain"
	"tapmic/internal/ports"
)

// Dispatcher accepts events synthesized by the executor (timer expiries and
// recording completion) and routes them back into the state machine.
type Dispatcher interface {
	Dispatch(event domain.Event)
}

// ExecutorDeps are the collaborators commands are applied to.
type ExecutorDeps struct {
	Panel   ports.Panel
	Sounds  ports.SoundPlayer
	Session ports.RecordingSession
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Executor applies command batches in order. It owns the promotion and
// mis-touch timers and the one-shot recording completion observation.
//
// Session start, stop and abort run on a serial queue off the caller's
// goroutine, so a slow capture startup never delays the next event.
type Executor struct {
	panel   ports.Panel
	sounds  ports.SoundPlayer
	session ports.RecordingSession
	clock   clock.Clock
	sink    Dispatcher
	log     *slog.Logger

	mu          sync.Mutex
	promotion   *task
	misTouch    *task
	observation *task
	stopping    *pendingStop
	cancelled   bool

	queueMu  sync.Mutex
	queue    []func()
	draining bool

	background sync.WaitGroup
}

// pendingStop is a queued stop that turns into an abort when the attempt
// is cancelled before it runs.
type pendingStop struct {
	cancelled bool
}

// task is one armed timer or observation. Identity is compared to detect
// whether it was replaced or cancelled while it was waiting.
type task struct {
	cancel context.CancelFunc
}

func NewExecutor(deps ExecutorDeps, sink Dispatcher) *Executor {
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Executor{
		panel:   deps.Panel,
		sounds:  deps.Sounds,
		session: deps.Session,
		clock:   deps.Clock,
		sink:    sink,
		log:     deps.Logger.With("component", "executor"),
	}
}

// Execute applies commands strictly in order. Concurrent callers are
// serialized.
func (e *Executor) Execute(ctx context.Context, commands []domain.Command) {
	if len(commands) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, cmd := range commands {
		e.apply(ctx, cmd)
	}
}

func (e *Executor) apply(ctx context.Context, cmd domain.Command) {
	switch cmd.Kind {
	case domain.CommandShowLightweightUI:
		e.cancelled = false
		e.panel.ShowLightweight()

	case domain.CommandStartRecording:
		e.cancelled = false
		mode := cmd.Mode
		e.enqueue(func() {
			if err := e.session.Start(ctx, mode); err != nil {
				e.log.Error("start recording failed", "mode", mode, "error", err)
			}
		})

	case domain.CommandStopRecording:
		if e.cancelled {
			e.stopObserving()
			e.enqueue(e.abort)
			e.panel.Hide()
			return
		}
		ready := e.observeCompletion(ctx)
		p := &pendingStop{}
		e.stopping = p
		e.enqueue(func() { e.stop(ctx, p, ready) })

	case domain.CommandHideUI:
		e.panel.Hide()

	case domain.CommandPlaySound:
		e.sounds.Play(cmd.Sound)

	case domain.CommandPlaySoundDelayed:
		sound, delay := cmd.Sound, cmd.Delay
		e.goBackground(func() {
			if err := e.clock.Sleep(context.Background(), delay); err == nil {
				e.sounds.Play(sound)
			}
		})

	case domain.CommandMarkCancelled:
		e.cancelled = true
		e.stopObserving()
		if e.stopping != nil {
			e.stopping.cancelled = true
		}
		e.session.MarkCancelled()

	case domain.CommandUpdateUI:
		e.panel.Update(cmd.ViewModel)

	case domain.CommandSchedulePromotion:
		e.arm(ctx, &e.promotion, cmd.Delay, domain.EventPromotionTimeout)

	case domain.CommandScheduleMisTouchHide:
		e.arm(ctx, &e.misTouch, cmd.Delay, domain.EventMisTouchTimeout)

	case domain.CommandCancelTimers:
		e.disarm(&e.promotion)
		e.disarm(&e.misTouch)

	case domain.CommandClearCooldowns:
		// Applied by the state machine itself.

	default:
		e.log.Warn("unknown command", "command", cmd.Kind)
	}
}

// arm replaces the timer in slot with one that dispatches event after delay.
// Callers hold e.mu.
func (e *Executor) arm(ctx context.Context, slot **task, delay time.Duration, event domain.Event) {
	e.disarm(slot)

	timerCtx, cancel := context.WithCancel(ctx)
	t := &task{cancel: cancel}
	*slot = t
	e.log.Debug("timer armed", "event", event, "delay", delay)

	e.goBackground(func() {
		defer cancel()
		if err := e.clock.Sleep(timerCtx, delay); err != nil {
			return
		}

		e.mu.Lock()
		current := *slot == t
		if current {
			*slot = nil
		}
		e.mu.Unlock()

		if current {
			e.log.Debug("timer fired", "event", event)
			e.sink.Dispatch(event)
		}
	})
}

func (e *Executor) disarm(slot **task) {
	if *slot != nil {
		(*slot).cancel()
		*slot = nil
	}
}

// stop runs a queued stop. The idle channel is taken just before Stop so
// the observation sees the teardown this stop causes.
func (e *Executor) stop(ctx context.Context, p *pendingStop, ready chan<- (<-chan struct{})) {
	e.mu.Lock()
	cancelled := p.cancelled
	if e.stopping == p {
		e.stopping = nil
	}
	e.mu.Unlock()

	if cancelled {
		e.abort()
		return
	}
	if ready != nil {
		ready <- e.session.WhenIdle()
	}
	if _, err := e.session.Stop(ctx); err != nil {
		e.log.Warn("stop recording failed", "error", err)
	}
}

func (e *Executor) abort() {
	if err := e.session.Abort(); err != nil {
		e.log.Debug("abort recording", "error", err)
	}
}

// enqueue appends a session operation to the serial queue.
func (e *Executor) enqueue(fn func()) {
	e.queueMu.Lock()
	e.queue = append(e.queue, fn)
	if e.draining {
		e.queueMu.Unlock()
		return
	}
	e.draining = true
	e.queueMu.Unlock()
	e.goBackground(e.drain)
}

func (e *Executor) drain() {
	for {
		e.queueMu.Lock()
		if len(e.queue) == 0 {
			e.draining = false
			e.queueMu.Unlock()
			return
		}
		fn := e.queue[0]
		e.queue = e.queue[1:]
		e.queueMu.Unlock()
		fn()
	}
}

// observeCompletion registers a one-shot observation that dispatches
// RecordingComplete once the session goes idle. The queued stop delivers
// the idle channel through the returned channel, which is nil when an
// observation is already registered. Callers hold e.mu.
func (e *Executor) observeCompletion(ctx context.Context) chan<- (<-chan struct{}) {
	if e.observation != nil {
		return nil
	}
	ready := make(chan (<-chan struct{}), 1)
	observeCtx, cancel := context.WithCancel(ctx)
	t := &task{cancel: cancel}
	e.observation = t

	e.goBackground(func() {
		defer cancel()
		var idle <-chan struct{}
		select {
		case idle = <-ready:
		case <-observeCtx.Done():
			return
		}
		select {
		case <-idle:
		case <-observeCtx.Done():
			return
		}

		e.mu.Lock()
		current := e.observation == t
		if current {
			e.observation = nil
		}
		e.mu.Unlock()

		if current {
			e.sink.Dispatch(domain.EventRecordingComplete)
		}
	})
	return ready
}

func (e *Executor) stopObserving() {
	e.disarm(&e.observation)
}

func (e *Executor) goBackground(fn func()) {
	e.background.Add(1)
	go func() {
		defer e.background.Done()
		fn()
	}()
}

// PendingTimers reports which named timers are armed.
func (e *Executor) PendingTimers() (promotion bool, misTouch bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.promotion != nil, e.misTouch != nil
}

// Observing reports whether a completion observation is registered.
func (e *Executor) Observing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.observation != nil
}

// Close cancels timers and the completion observation and waits for
// queued session operations and other background work to finish or ctx
// to end.
func (e *Executor) Close(ctx context.Context) error {
	e.mu.Lock()
	e.disarm(&e.promotion)
	e.disarm(&e.misTouch)
	e.stopObserving()
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
