package sound

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/gen2brain/beeep"

	"tapmic/internal/domain"
)

const playTimeout = 3 * time.Second

// tone is the beep used when a cue has no sound file.
type tone struct {
	freq     float64
	duration int // milliseconds
}

var tones = map[domain.Sound]tone{
	domain.SoundKeyDown: {freq: 880, duration: 40},
	domain.SoundKeyUp:   {freq: 660, duration: 40},
	domain.SoundLock:    {freq: 990, duration: 80},
	domain.SoundCancel:  {freq: 330, duration: 120},
}

var extensions = []string{".wav", ".oga", ".ogg"}

type Config struct {
	Command string
	Dir     string
	Enabled bool
}

// Player plays cue files through an external command such as paplay, falling
// back to a system beep. Play never blocks the caller.
type Player struct {
	command string
	enabled bool
	files   map[domain.Sound]string
	log     *slog.Logger

	run  func(ctx context.Context, name string, args ...string) error
	beep func(freq float64, duration int) error

	wg sync.WaitGroup
}

func NewPlayer(cfg Config, logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Command == "" {
		cfg.Command = "paplay"
	}
	return &Player{
		command: cfg.Command,
		enabled: cfg.Enabled,
		files:   resolveFiles(cfg.Dir),
		log:     logger.With("component", "sound"),
		run:     runCommand,
		beep:    beeep.Beep,
	}
}

func resolveFiles(dir string) map[domain.Sound]string {
	files := make(map[domain.Sound]string, len(domain.Sounds))
	if dir == "" {
		return files
	}
	for _, s := range domain.Sounds {
		for _, ext := range extensions {
			path := filepath.Join(dir, string(s)+ext)
			if _, err := os.Stat(path); err == nil {
				files[s] = path
				break
			}
		}
	}
	return files
}

func runCommand(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

func (p *Player) Play(sound domain.Sound) {
	if !p.enabled {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.play(sound)
	}()
}

func (p *Player) play(sound domain.Sound) {
	if path, ok := p.files[sound]; ok {
		ctx, cancel := context.WithTimeout(context.Background(), playTimeout)
		defer cancel()
		err := p.run(ctx, p.command, path)
		if err == nil {
			return
		}
		p.log.Warn("sound command failed", "sound", sound, "command", p.command, "error", err)
	}

	t, ok := tones[sound]
	if !ok {
		p.log.Warn("unknown sound", "sound", sound)
		return
	}
	if err := p.beep(t.freq, t.duration); err != nil {
		p.log.Debug("beep failed", "sound", sound, "error", err)
	}
}

// Wait blocks until cues already started have finished.
func (p *Player) Wait() {
	p.wg.Wait()
}
