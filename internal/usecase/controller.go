package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"tapmic/internal/clock"
	"tapmic/internal/domain"
	"tapmic/internal/ports"
)

var (
	ErrNoActiveSession = errors.New("no active recording session")
	ErrNoAudio         = errors.New("no audio captured")
)

// Config controls recording behavior.
type Config struct {
	Audio     ports.AudioConfig
	ChunkSize int
	Clock     clock.Clock
	Logger    *slog.Logger
}

// SessionController owns the single current recording attempt: one
// microphone capture written to one clip.
type SessionController struct {
	audio  ports.AudioCapture
	clips  ports.ClipStore
	events ports.EventSink
	clock  clock.Clock
	log    *slog.Logger
	cfg    Config

	mu      sync.Mutex
	current *activeSession
	waiters []chan struct{}
}

func NewSessionController(
	audio ports.AudioCapture,
	clips ports.ClipStore,
	events ports.EventSink,
	cfg Config,
) *SessionController {
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = 4096
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SessionController{
		audio:  audio,
		clips:  clips,
		events: events,
		clock:  cfg.Clock,
		log:    cfg.Logger.With("component", "session"),
		cfg:    cfg,
	}
}

// Start begins a new capture session. A session that is still running is
// discarded first.
func (c *SessionController) Start(ctx context.Context, mode domain.RecordingMode) error {
	var previous *activeSession

	c.mu.Lock()
	if c.current != nil {
		previous = c.current
		c.current = nil
	}
	c.mu.Unlock()

	// A previous session already claimed by Stop is left to finish on its own.
	if previous != nil && previous.claim() {
		c.stopSession(previous)
		c.discardClip(previous)
	}

	id := uuid.NewString()
	clip, err := c.clips.Create(fmt.Sprintf("%s-%s", mode, id), c.cfg.Audio)
	if err != nil {
		c.events.SessionError(domain.ErrorCodeClipWrite, fmt.Sprintf("failed to create clip: %v", err))
		c.notifyIdle()
		return fmt.Errorf("create clip: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	audioSession, err := c.audio.Start(sessionCtx, c.cfg.Audio)
	if err != nil {
		cancel()
		_ = clip.Discard()
		c.events.SessionError(domain.ErrorCodeAudioStart, err.Error())
		c.events.SessionStateChanged(domain.SessionStateError, domain.SessionReasonCaptureFailed)
		c.notifyIdle()
		return fmt.Errorf("start audio capture: %w", err)
	}

	active := &activeSession{
		id:        id,
		mode:      mode,
		startedAt: c.clock.Now(),
		cancel:    cancel,
		audio:     audioSession,
		clip:      clip,
		state:     domain.SessionStateRecording,
		audioDone: make(chan struct{}),
	}

	c.mu.Lock()
	c.current = active
	c.mu.Unlock()

	go pumpAudioChunks(active.audio, active.clip, c.cfg.ChunkSize, &active.bytes, c.events, active.audioDone)

	reason := domain.SessionReasonRecordingStarted
	switch {
	case previous != nil:
		reason = domain.SessionReasonRecordingRestarted
	case mode == domain.ModeHandsFreeLocked:
		reason = domain.SessionReasonHandsFreeStarted
	}
	c.log.Info("recording started", "session", id, "mode", mode, "clip", clip.Path())
	c.events.SessionStateChanged(domain.SessionStateRecording, reason)
	return nil
}

// Stop ends the active session and finalizes its clip. A session marked
// cancelled is discarded instead and yields an empty result.
func (c *SessionController) Stop(ctx context.Context) (domain.StopResult, error) {
	active, err := c.claimCurrent()
	if err != nil {
		return domain.StopResult{}, err
	}

	active.setState(domain.SessionStateStopping)
	c.events.SessionStateChanged(domain.SessionStateStopping, domain.SessionReasonFinalizing)

	if err := active.audio.Stop(); err != nil {
		c.events.SessionError(domain.ErrorCodeAudioStop, "failed to stop audio capture cleanly")
	}

	select {
	case <-active.audioDone:
	case <-ctx.Done():
		active.cancel()
		<-active.audioDone
	}

	if active.isCancelled() {
		c.discardClip(active)
		c.finishSession(active, domain.SessionStateIdle, domain.SessionReasonRecordingDiscarded)
		return domain.StopResult{}, nil
	}

	written := active.bytes.Load()
	if written == 0 {
		c.discardClip(active)
		c.finishSession(active, domain.SessionStateIdle, domain.SessionReasonNoAudio)
		return domain.StopResult{}, ErrNoAudio
	}

	if err := active.clip.Close(); err != nil {
		c.events.SessionError(domain.ErrorCodeClipWrite, err.Error())
		c.finishSession(active, domain.SessionStateError, domain.SessionReasonCaptureFailed)
		return domain.StopResult{}, fmt.Errorf("finalize clip: %w", err)
	}

	result := domain.StopResult{
		SessionID: active.id,
		Mode:      active.mode,
		ClipPath:  active.clip.Path(),
		Bytes:     written,
		Duration:  c.clock.Now().Sub(active.startedAt),
	}
	c.log.Info("clip saved", "session", active.id, "path", result.ClipPath, "bytes", written, "duration", result.Duration)
	c.events.ClipSaved(result)
	c.finishSession(active, domain.SessionStateIdle, domain.SessionReasonClipSaved)
	return result, nil
}

// Abort cancels and discards the active session. A session that is already
// stopping is not touched and ErrNoActiveSession is returned.
func (c *SessionController) Abort() error {
	active, err := c.claimCurrent()
	if err != nil {
		return err
	}

	c.stopSession(active)
	c.discardClip(active)
	c.finishSession(active, domain.SessionStateIdle, domain.SessionReasonRecordingDiscarded)
	return nil
}

// MarkCancelled flags the active session so a Stop in flight discards it.
func (c *SessionController) MarkCancelled() {
	c.mu.Lock()
	active := c.current
	c.mu.Unlock()
	if active != nil {
		active.markCancelled()
	}
}

// WhenIdle returns a channel that is closed once no session is active.
func (c *SessionController) WhenIdle() <-chan struct{} {
	ch := make(chan struct{})
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		close(ch)
		return ch
	}
	c.waiters = append(c.waiters, ch)
	return ch
}

// Status returns the current backend status.
func (c *SessionController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return domain.Status{State: domain.SessionStateIdle, Active: false}
	}
	state := c.current.getState()
	return domain.Status{
		State:  state,
		Active: state != domain.SessionStateIdle,
		Mode:   c.current.mode,
	}
}

func (c *SessionController) claimCurrent() (*activeSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || !c.current.claim() {
		return nil, ErrNoActiveSession
	}
	return c.current, nil
}

func (c *SessionController) stopSession(active *activeSession) {
	active.cancel()
	_ = active.audio.Stop()
	<-active.audioDone
}

func (c *SessionController) discardClip(active *activeSession) {
	if err := active.clip.Discard(); err != nil {
		c.log.Warn("discard clip", "session", active.id, "error", err)
	}
}

func (c *SessionController) finishSession(active *activeSession, state domain.SessionState, reason domain.SessionStateReason) {
	active.cancel()
	if !active.finish(state) {
		return
	}

	c.mu.Lock()
	if c.current == active {
		c.current = nil
	}
	c.mu.Unlock()

	c.events.SessionStateChanged(state, reason)
	c.notifyIdle()
}

// notifyIdle releases idle waiters when no session is active.
func (c *SessionController) notifyIdle() {
	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return
	}
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
}
