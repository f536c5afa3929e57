//go:build !linux

package keyboard

import (
	"context"
	"log/slog"
)

// Source is unavailable off Linux; keys arrive through the window instead.
type Source struct{}

func NewSource(_ Config, _ *Gate, _ *slog.Logger) *Source {
	return &Source{}
}

func (s *Source) Run(_ context.Context) error {
	return ErrNotAvailable
}
