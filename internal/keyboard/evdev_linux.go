//go:build linux

package keyboard

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

const (
	evKey = 1

	keyReleased = 0
	keyPressed  = 1
)

// inputEvent matches struct input_event from linux/input.h.
type inputEvent struct {
	Time  unix.Timeval
	Type  uint16
	Code  uint16
	Value int32
}

// Source reads key events from an evdev device and feeds them through a Gate.
type Source struct {
	cfg  Config
	gate *Gate
	log  *slog.Logger
}

func NewSource(cfg Config, gate *Gate, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Source{cfg: cfg.withDefaults(), gate: gate, log: logger.With("component", "keyboard")}
}

// Run reads until ctx is done or the device fails.
func (s *Source) Run(ctx context.Context) error {
	path := s.cfg.Device
	if path == "" {
		found, err := findKeyboardDevice()
		if err != nil {
			return err
		}
		path = found
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrNotAvailable, path, err)
	}
	defer f.Close()
	stop := context.AfterFunc(ctx, func() { _ = f.Close() })
	defer stop()

	s.log.Info("listening for keys", "device", path, "trigger", s.cfg.TriggerCode, "cancel", s.cfg.CancelCode)
	err = s.consume(f)
	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("read %s: %w", path, err)
}

func (s *Source) consume(r io.Reader) error {
	for {
		var ev inputEvent
		if err := binary.Read(r, binary.NativeEndian, &ev); err != nil {
			return err
		}
		s.handle(ev)
	}
}

func (s *Source) handle(ev inputEvent) {
	if ev.Type != evKey {
		return
	}
	switch ev.Code {
	case s.cfg.TriggerCode:
		switch ev.Value {
		case keyPressed:
			s.gate.KeyDown()
		case keyReleased:
			s.gate.KeyUp()
		}
	case s.cfg.CancelCode:
		if ev.Value == keyPressed {
			s.gate.Cancel()
		}
	}
}

func findKeyboardDevice() (string, error) {
	f, err := os.Open("/proc/bus/input/devices")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotAvailable, err)
	}
	defer f.Close()

	devices := parseKeyboardHandlers(f)
	for _, dev := range devices {
		if d, err := os.Open(dev); err == nil {
			_ = d.Close()
			return dev, nil
		}
	}
	if len(devices) > 0 {
		return "", fmt.Errorf("%w: cannot read %s (need the input group or root)", ErrNotAvailable, devices[0])
	}
	return "", fmt.Errorf("%w: no keyboard devices found", ErrNotAvailable)
}
