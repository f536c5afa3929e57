package recorder

import (
	"context"
	"io"
	"log/slog"

	"tapmic/internal/domain"
	"tapmic/internal/ports"
)

const inboxSize = 64

// Coordinator is the single writer for the state machine. External inputs
// and executor-synthesized events share one inbox and are processed in
// delivery order.
type Coordinator struct {
	machine  *StateMachine
	executor *Executor
	inbox    chan domain.Event
	done     chan struct{}
	log      *slog.Logger
}

func NewCoordinator(machine *StateMachine, deps ExecutorDeps) *Coordinator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Coordinator{
		machine: machine,
		inbox:   make(chan domain.Event, inboxSize),
		done:    make(chan struct{}),
		log:     logger.With("component", "coordinator"),
	}
	c.executor = NewExecutor(deps, c)
	return c
}

// Dispatch queues event for processing. Events sent after Run has returned
// are dropped.
func (c *Coordinator) Dispatch(event domain.Event) {
	select {
	case c.inbox <- event:
	case <-c.done:
		c.log.Debug("event dropped after shutdown", "event", event)
	}
}

// Run processes queued events until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-c.inbox:
			c.process(ctx, event)
		}
	}
}

func (c *Coordinator) process(ctx context.Context, event domain.Event) []domain.Command {
	commands := c.machine.Send(event)
	c.executor.Execute(ctx, commands)
	return commands
}

// State returns the current machine state.
func (c *Coordinator) State() domain.RecorderState { return c.machine.State() }

// ViewModel returns the current view model.
func (c *Coordinator) ViewModel() domain.ViewModel { return c.machine.ViewModel() }

func (c *Coordinator) Machine() *StateMachine { return c.machine }

func (c *Coordinator) Executor() *Executor { return c.executor }

// PanelGroup fans panel calls out to several surfaces.
type PanelGroup []ports.Panel

func (g PanelGroup) ShowLightweight() {
	for _, p := range g {
		p.ShowLightweight()
	}
}

func (g PanelGroup) Hide() {
	for _, p := range g {
		p.Hide()
	}
}

func (g PanelGroup) Update(vm domain.ViewModel) {
	for _, p := range g {
		p.Update(vm)
	}
}
