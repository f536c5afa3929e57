package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"tapmic/internal/ports"
)

const (
	bitDepth      = 16
	wavFormatPCM  = 1
	bytesPerFrame = bitDepth / 8
)

var errClipClosed = errors.New("clip already closed")

// WAVClipStore writes each recording attempt to <dir>/<name>.wav.
type WAVClipStore struct {
	dir string
}

func NewWAVClipStore(dir string) *WAVClipStore {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "tapmic")
	}
	return &WAVClipStore{dir: dir}
}

func (s *WAVClipStore) Dir() string { return s.dir }

func (s *WAVClipStore) Create(name string, cfg ports.AudioConfig) (ports.ClipWriter, error) {
	cfg = withDefaults(cfg)
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create clip dir: %w", err)
	}

	path := filepath.Join(s.dir, name+".wav")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create clip: %w", err)
	}

	return &wavClip{
		path: path,
		file: f,
		enc:  wav.NewEncoder(f, cfg.SampleRate, bitDepth, cfg.Channels, wavFormatPCM),
		format: &goaudio.Format{
			NumChannels: cfg.Channels,
			SampleRate:  cfg.SampleRate,
		},
	}, nil
}

// wavClip encodes little-endian s16 PCM as it arrives. A trailing odd byte is
// held until the next write completes the sample.
type wavClip struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	enc    *wav.Encoder
	format *goaudio.Format

	pending []byte
	closed  bool
}

func (c *wavClip) Path() string { return c.path }

func (c *wavClip) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, errClipClosed
	}

	data := p
	if len(c.pending) > 0 {
		data = append(c.pending, p...)
		c.pending = nil
	}
	whole := len(data) - len(data)%bytesPerFrame
	if rest := data[whole:]; len(rest) > 0 {
		c.pending = append([]byte(nil), rest...)
	}
	if whole == 0 {
		return len(p), nil
	}

	samples := make([]int, whole/bytesPerFrame)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(data[i*bytesPerFrame:])))
	}
	buf := &goaudio.IntBuffer{Format: c.format, Data: samples, SourceBitDepth: bitDepth}
	if err := c.enc.Write(buf); err != nil {
		return 0, fmt.Errorf("encode samples: %w", err)
	}
	return len(p), nil
}

// Close finalizes the WAV header and closes the file.
func (c *wavClip) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	encErr := c.enc.Close()
	fileErr := c.file.Close()
	if encErr != nil {
		return fmt.Errorf("finalize wav: %w", encErr)
	}
	return fileErr
}

// Discard closes the clip if needed and removes it from disk.
func (c *wavClip) Discard() error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		_ = c.file.Close()
	}
	c.mu.Unlock()

	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
