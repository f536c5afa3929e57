package ports

import (
	"context"
	"io"

	"tapmic/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// ClipWriter persists captured PCM for one recording attempt.
type ClipWriter interface {
	io.Writer
	Close() error
	Discard() error
	Path() string
}

// ClipStore opens a clip writer per recording attempt.
type ClipStore interface {
	Create(name string, cfg AudioConfig) (ClipWriter, error)
}

// Panel is the recorder's on-screen surface.
type Panel interface {
	ShowLightweight()
	Hide()
	Update(vm domain.ViewModel)
}

// SoundPlayer plays short audible cues without blocking.
type SoundPlayer interface {
	Play(sound domain.Sound)
}

// RecordingSession is the single current recording attempt.
type RecordingSession interface {
	Start(ctx context.Context, mode domain.RecordingMode) error
	Stop(ctx context.Context) (domain.StopResult, error)
	Abort() error
	// MarkCancelled flags the active attempt so its result is discarded.
	MarkCancelled()
	// WhenIdle returns a channel closed the next time the session is idle,
	// or already closed when nothing is active.
	WhenIdle() <-chan struct{}
}

// EventSink emits backend session state and errors to the UI.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	ClipSaved(result domain.StopResult)
	SessionError(code domain.ErrorCode, detail string)
}
