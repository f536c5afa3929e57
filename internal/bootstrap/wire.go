package bootstrap

import (
	"context"
	"errors"
	"sync"

	"tapmic/internal/audio"
	"tapmic/internal/clock"
	"tapmic/internal/config"
	"tapmic/internal/diag"
	"tapmic/internal/domain"
	"tapmic/internal/keyboard"
	"tapmic/internal/logging"
	"tapmic/internal/ports"
	"tapmic/internal/recorder"
	"tapmic/internal/sound"
	"tapmic/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Config      config.Config
	Logger      *logging.Logger
	Coordinator *recorder.Coordinator
	Controller  *usecase.SessionController
	Gate        *keyboard.Gate
	Keys        *keyboard.Source
	Sounds      *sound.Player
	// Diag is nil when no diagnostics address is configured.
	Diag *diag.Server

	loader *config.Loader
	events ports.EventSink
}

// Build wires all backend dependencies for the current runtime. panel may be
// nil when there is no window, in which case only the diagnostics stream (if
// any) mirrors the recorder.
func Build(panel ports.Panel, eventSink ports.EventSink) (*Services, error) {
	loader, err := config.NewLoader()
	if err != nil {
		return nil, err
	}
	cfg := loader.Load()

	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	log := logger.Logger
	clk := clock.System{}

	machine := recorder.NewStateMachine(clk, recorder.DefaultTiming(), log)
	machine.SetImmediateHold(cfg.Recorder.FastMode)

	controller := usecase.NewSessionController(
		audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand, log),
		audio.NewWAVClipStore(cfg.Audio.ClipDir),
		eventSink,
		usecase.Config{
			Audio: ports.AudioConfig{
				SampleRate:  cfg.Audio.SampleRate,
				Channels:    cfg.Audio.Channels,
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
			},
			ChunkSize: cfg.Audio.ChunkSize,
			Clock:     clk,
			Logger:    log,
		},
	)

	sounds := sound.NewPlayer(sound.Config{
		Command: cfg.Sounds.Command,
		Dir:     cfg.Sounds.Dir,
		Enabled: cfg.Sounds.Enabled,
	}, log)

	var panels recorder.PanelGroup
	if panel != nil {
		panels = append(panels, panel)
	}
	var hub *diag.Hub
	if cfg.Diag.Addr != "" {
		hub = diag.NewHub(log)
		panels = append(panels, hub)
	}

	coordinator := recorder.NewCoordinator(machine, recorder.ExecutorDeps{
		Panel:   panels,
		Sounds:  sounds,
		Session: controller,
		Clock:   clk,
		Logger:  log,
	})

	gate := keyboard.NewGate(coordinator)
	keys := keyboard.NewSource(keyboard.Config{
		Device:      cfg.Keys.Device,
		TriggerCode: uint16(cfg.Keys.TriggerCode),
		CancelCode:  uint16(cfg.Keys.CancelCode),
	}, gate, log)

	s := &Services{
		Config:      cfg,
		Logger:      logger,
		Coordinator: coordinator,
		Controller:  controller,
		Gate:        gate,
		Keys:        keys,
		Sounds:      sounds,
		loader:      loader,
		events:      eventSink,
	}
	if hub != nil {
		s.Diag = diag.New(coordinator, controller, gate, hub, log)
	}
	return s, nil
}

// Run drives the coordinator, the key source and the diagnostics server until
// ctx is done. Config file changes toggle fast mode and the log level until
// ctx is done.
func (s *Services) Run(ctx context.Context) error {
	log := s.Logger.With("component", "bootstrap")

	if s.loader.Watch(ctx, s.apply) {
		log.Info("watching config", "path", s.Config.Path)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.Keys.Run(ctx); err != nil {
			if errors.Is(err, keyboard.ErrNotAvailable) {
				log.Warn("global key source disabled", "error", err)
				return
			}
			log.Error("key source stopped", "error", err)
			if s.events != nil {
				s.events.SessionError(domain.ErrorCodeKeySource, err.Error())
			}
		}
	}()

	if s.Diag != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Diag.ListenAndServe(ctx, s.Config.Diag.Addr); err != nil {
				log.Error("diagnostics server stopped", "error", err)
			}
		}()
	}

	err := s.Coordinator.Run(ctx)
	wg.Wait()
	s.Sounds.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases anything still running after Run returned. Pending session
// work, such as saving a clip after a key release, finishes before any
// remaining capture is aborted.
func (s *Services) Close(ctx context.Context) error {
	err := s.Coordinator.Executor().Close(ctx)
	if abortErr := s.Controller.Abort(); abortErr != nil && !errors.Is(abortErr, usecase.ErrNoActiveSession) {
		s.Logger.Warn("abort on shutdown failed", "error", abortErr)
	}
	return err
}

func (s *Services) apply(cfg config.Config) {
	s.Coordinator.Machine().SetImmediateHold(cfg.Recorder.FastMode)
	s.Logger.SetLevel(cfg.Log.Level)
	s.Logger.Info("config reloaded", "fast_mode", cfg.Recorder.FastMode, "log_level", cfg.Log.Level)
}
