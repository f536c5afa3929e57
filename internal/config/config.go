package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const maxKeyCode = 0x2ff

// Config stores runtime configuration.
type Config struct {
	Recorder RecorderConfig
	Audio    AudioConfig
	Sounds   SoundsConfig
	Keys     KeysConfig
	Diag     DiagConfig
	Log      LogConfig

	// Path is the config file that was read, empty when none was found.
	Path string
}

type RecorderConfig struct {
	// FastMode starts recording on key down and hides immediately on a
	// mis-touch.
	FastMode bool
}

type AudioConfig struct {
	RecorderCommand string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	Channels        int
	ChunkSize       int
	ClipDir         string
}

type SoundsConfig struct {
	Command string
	Dir     string
	Enabled bool
}

type KeysConfig struct {
	Device      string
	TriggerCode int
	CancelCode  int
}

type DiagConfig struct {
	// Addr is the diagnostics listen address; empty disables the server.
	Addr string
}

type LogConfig struct {
	Level  string
	Format string
}

// envBindings maps config keys to environment variables, in priority order.
var envBindings = map[string][]string{
	"recorder.fast_mode":     {"TAPMIC_FAST_MODE", "TAPMIC_IMMEDIATE_HOLD"},
	"audio.recorder_command": {"TAPMIC_FFMPEG_COMMAND"},
	"audio.input_format":     {"TAPMIC_AUDIO_INPUT_FORMAT"},
	"audio.input_device":     {"TAPMIC_AUDIO_INPUT_DEVICE", "PULSE_SOURCE"},
	"audio.sample_rate":      {"TAPMIC_SAMPLE_RATE"},
	"audio.channels":         {"TAPMIC_CHANNELS"},
	"audio.chunk_size":       {"TAPMIC_AUDIO_CHUNK_SIZE"},
	"audio.clip_dir":         {"TAPMIC_CLIP_DIR"},
	"sounds.command":         {"TAPMIC_SOUND_COMMAND"},
	"sounds.dir":             {"TAPMIC_SOUND_DIR"},
	"sounds.enabled":         {"TAPMIC_SOUNDS"},
	"keys.device":            {"TAPMIC_KEY_DEVICE"},
	"keys.trigger_code":      {"TAPMIC_TRIGGER_KEY"},
	"keys.cancel_code":       {"TAPMIC_CANCEL_KEY"},
	"diag.addr":              {"TAPMIC_DIAG_ADDR"},
	"log.level":              {"TAPMIC_LOG_LEVEL"},
	"log.format":             {"TAPMIC_LOG_FORMAT"},
}

// Loader reads configuration from .env, the environment and an optional
// TOML file, and can watch that file for changes.
type Loader struct {
	v    *viper.Viper
	home string
	read bool
}

func NewLoader() (*Loader, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New("could not determine home directory")
	}

	// A missing .env is normal.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("toml")
	if path := strings.TrimSpace(os.Getenv("TAPMIC_CONFIG")); path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(filepath.Join(home, ".config", "tapmic"))
		v.SetConfigName("config")
	}
	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	l := &Loader{v: v, home: home}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		l.read = true
	}
	return l, nil
}

// Load resolves configuration from the environment, config file and defaults.
func Load() (Config, error) {
	l, err := NewLoader()
	if err != nil {
		return Config{}, err
	}
	return l.Load(), nil
}

// Load decodes the current configuration. Invalid values fall back to
// defaults rather than failing.
func (l *Loader) Load() Config {
	v := l.v
	cfg := Config{
		Recorder: RecorderConfig{
			FastMode: boolOrDefault(v, "recorder.fast_mode", false),
		},
		Audio: AudioConfig{
			RecorderCommand: stringOrDefault(v, "audio.recorder_command", "ffmpeg"),
			InputFormat:     stringOrDefault(v, "audio.input_format", "pulse"),
			InputDevice:     stringOrDefault(v, "audio.input_device", "default"),
			SampleRate:      positiveIntOrDefault(v, "audio.sample_rate", 16000),
			Channels:        positiveIntOrDefault(v, "audio.channels", 1),
			ChunkSize:       positiveIntOrDefault(v, "audio.chunk_size", 4096),
			ClipDir:         stringOrDefault(v, "audio.clip_dir", filepath.Join(l.home, ".local", "share", "tapmic", "clips")),
		},
		Sounds: SoundsConfig{
			Command: stringOrDefault(v, "sounds.command", "paplay"),
			Dir:     stringOrDefault(v, "sounds.dir", filepath.Join(l.home, ".config", "tapmic", "sounds")),
			Enabled: boolOrDefault(v, "sounds.enabled", true),
		},
		Keys: KeysConfig{
			Device:      strings.TrimSpace(v.GetString("keys.device")),
			TriggerCode: keyCodeOrDefault(v, "keys.trigger_code", 63),
			CancelCode:  keyCodeOrDefault(v, "keys.cancel_code", 1),
		},
		Diag: DiagConfig{
			Addr: strings.TrimSpace(v.GetString("diag.addr")),
		},
		Log: LogConfig{
			Level:  strings.ToLower(stringOrDefault(v, "log.level", "info")),
			Format: strings.ToLower(stringOrDefault(v, "log.format", "text")),
		},
	}
	if l.read {
		cfg.Path = v.ConfigFileUsed()
	}

	if cfg.Audio.ChunkSize < 256 {
		cfg.Audio.ChunkSize = 4096
	}

	return cfg
}

// Watch calls onChange with the reloaded configuration whenever the config
// file is rewritten, until ctx is done. It reports false when no config file
// is in use.
func (l *Loader) Watch(ctx context.Context, onChange func(Config)) bool {
	if !l.read {
		return false
	}
	// viper has no way to stop its watcher, so changes after ctx ends are
	// dropped here.
	l.v.OnConfigChange(func(fsnotify.Event) {
		if ctx.Err() != nil {
			return
		}
		onChange(l.Load())
	})
	l.v.WatchConfig()
	return true
}

func stringOrDefault(v *viper.Viper, key string, fallback string) string {
	value := strings.TrimSpace(v.GetString(key))
	if value == "" {
		return fallback
	}
	return value
}

func positiveIntOrDefault(v *viper.Viper, key string, fallback int) int {
	value := strings.TrimSpace(v.GetString(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func keyCodeOrDefault(v *viper.Viper, key string, fallback int) int {
	code := positiveIntOrDefault(v, key, fallback)
	if code > maxKeyCode {
		return fallback
	}
	return code
}

func boolOrDefault(v *viper.Viper, key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(v.GetString(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
