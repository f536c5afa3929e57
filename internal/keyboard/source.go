package keyboard

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// Linux input key codes used as defaults.
const (
	KeyEsc uint16 = 1
	KeyF5  uint16 = 63
)

var ErrNotAvailable = errors.New("keyboard input not available")

// Config selects the input device and the keys the Source listens to.
type Config struct {
	// Device is an evdev path such as /dev/input/event3. Empty picks the
	// first keyboard listed by the kernel.
	Device      string
	TriggerCode uint16
	CancelCode  uint16
}

func (c Config) withDefaults() Config {
	if c.TriggerCode == 0 {
		c.TriggerCode = KeyF5
	}
	if c.CancelCode == 0 {
		c.CancelCode = KeyEsc
	}
	return c
}

// parseKeyboardHandlers lists /dev/input event nodes of devices that the
// kernel registered with the kbd handler.
func parseKeyboardHandlers(r io.Reader) []string {
	var devices []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "H: Handlers=") {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, "H: Handlers="))
		var event string
		keyboard := false
		for _, f := range fields {
			switch {
			case f == "kbd":
				keyboard = true
			case strings.HasPrefix(f, "event"):
				event = f
			}
		}
		if keyboard && event != "" {
			devices = append(devices, "/dev/input/"+event)
		}
	}
	return devices
}
