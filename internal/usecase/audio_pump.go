package usecase

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"tapmic/internal/domain"
	"tapmic/internal/ports"
)

func pumpAudioChunks(
	audio ports.AudioSession,
	clip io.Writer,
	chunkSize int,
	written *atomic.Int64,
	events ports.EventSink,
	done chan struct{},
) {
	defer close(done)

	if chunkSize < 256 {
		chunkSize = 4096
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := audio.Read(buf)
		if n > 0 {
			w, writeErr := clip.Write(buf[:n])
			written.Add(int64(w))
			if writeErr != nil {
				events.SessionError(domain.ErrorCodeClipWrite, fmt.Sprintf("failed to write clip: %v", writeErr))
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				events.SessionError(domain.ErrorCodeAudioStream, fmt.Sprintf("audio capture error: %v", err))
			}
			return
		}
	}
}
