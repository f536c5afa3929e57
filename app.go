package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"tapmic/internal/bootstrap"
	"tapmic/internal/domain"
)

const (
	eventView    = "tapmic:view"
	eventPanel   = "tapmic:panel"
	eventSession = "tapmic:session"
	eventClip    = "tapmic:clip"
	eventError   = "tapmic:error"

	shutdownTimeout = 3 * time.Second
)

// App is the Wails application root. It is the recorder's panel and the
// session event sink.
type App struct {
	ctx context.Context

	services *bootstrap.Services
	bootErr  error
	stop     context.CancelFunc
	done     chan struct{}
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a, a)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}
	a.services = services

	runCtx, cancel := context.WithCancel(ctx)
	a.stop = cancel
	a.done = make(chan struct{})
	go func() {
		defer close(a.done)
		if err := services.Run(runCtx); err != nil {
			services.Logger.Error("runtime stopped", "error", err)
		}
	}()

	a.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonMicCold)
}

func (a *App) shutdown(_ context.Context) {
	if a.services == nil {
		return
	}
	a.stop()
	<-a.done

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.services.Close(ctx); err != nil {
		a.services.Logger.Warn("shutdown incomplete", "error", err)
	}
}

// KeyDown presses the trigger key from the window. It reports false when
// the press was dropped because the key is already held.
func (a *App) KeyDown() bool {
	if a.requireReady() != nil {
		return false
	}
	return a.services.Gate.KeyDown()
}

// KeyUp releases the trigger key.
func (a *App) KeyUp() {
	if a.requireReady() != nil {
		return
	}
	a.services.Gate.KeyUp()
}

// Cancel discards the current attempt.
func (a *App) Cancel() {
	if a.requireReady() != nil {
		return
	}
	a.services.Gate.Cancel()
}

// GetStatus reports the recording session status.
func (a *App) GetStatus() domain.Status {
	if err := a.requireReady(); err != nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.SessionStateError, Active: false, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.SessionStateIdle, Active: false}
	}
	return a.services.Controller.Status()
}

// GetViewModel returns what the panel should currently show.
func (a *App) GetViewModel() domain.ViewModel {
	if a.requireReady() != nil {
		return domain.IdleViewModel
	}
	return a.services.Coordinator.ViewModel()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	if a.services == nil {
		return map[string]string{}
	}

	cfg := a.services.Config
	return map[string]string{
		"audioInput":       cfg.Audio.InputDevice,
		"audioInputFormat": cfg.Audio.InputFormat,
		"clipDir":          cfg.Audio.ClipDir,
		"fastMode":         strconv.FormatBool(a.services.Coordinator.Machine().ImmediateHold()),
		"triggerKey":       strconv.Itoa(cfg.Keys.TriggerCode),
		"cancelKey":        strconv.Itoa(cfg.Keys.CancelCode),
		"diagnostics":      cfg.Diag.Addr,
		"configFile":       cfg.Path,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.services == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// ShowLightweight shows the window without recording indicators.
func (a *App) ShowLightweight() {
	if a.ctx == nil {
		return
	}
	runtime.WindowShow(a.ctx)
	runtime.EventsEmit(a.ctx, eventPanel, map[string]bool{"visible": true})
}

// Hide resets the presentation flags and hides the window.
func (a *App) Hide() {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventView, domain.IdleViewModel)
	runtime.EventsEmit(a.ctx, eventPanel, map[string]bool{"visible": false})
	runtime.WindowHide(a.ctx)
}

// Update pushes a new view model to the frontend.
func (a *App) Update(vm domain.ViewModel) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventView, vm)
}

// SessionStateChanged emits session lifecycle updates to the frontend.
func (a *App) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventSession, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": sessionReasonMessage(reason),
	})
}

// ClipSaved emits the location of a finished recording.
func (a *App) ClipSaved(result domain.StopResult) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventClip, result)
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonMicCold:
		return "Mic cold"
	case domain.SessionReasonRecordingStarted:
		return "Recording started"
	case domain.SessionReasonHandsFreeStarted:
		return "Hands-free recording started"
	case domain.SessionReasonRecordingRestarted:
		return "Recording restarted; previous capture discarded"
	case domain.SessionReasonFinalizing:
		return "Recording stopped. Saving..."
	case domain.SessionReasonClipSaved:
		return "Clip saved"
	case domain.SessionReasonRecordingDiscarded:
		return "Recording discarded"
	case domain.SessionReasonNoAudio:
		return "No audio captured"
	case domain.SessionReasonCaptureFailed:
		return "Capture failed"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeAudioStart:
		return "Microphone unavailable"
	case domain.ErrorCodeAudioStop:
		return "Audio stop issue"
	case domain.ErrorCodeAudioStream:
		return "Audio streaming issue"
	case domain.ErrorCodeClipWrite:
		return "Clip write failed"
	case domain.ErrorCodeKeySource:
		return "Global key unavailable"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
