package diag

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tapmic/internal/domain"
)

const (
	clientBuffer = 16
	writeTimeout = 2 * time.Second
)

// Message is one frame on the /ws stream.
type Message struct {
	Type      string            `json:"type"`
	ViewModel *domain.ViewModel `json:"viewModel,omitempty"`
}

const (
	MessageShow   = "show"
	MessageHide   = "hide"
	MessageUpdate = "update"
)

func updateMessage(vm domain.ViewModel) Message {
	return Message{Type: MessageUpdate, ViewModel: &vm}
}

// Hub mirrors the panel to websocket clients. It implements ports.Panel so it
// can sit next to the desktop window in a recorder.PanelGroup.
type Hub struct {
	log *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan Message
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hub{
		log:     logger.With("component", "diag_hub"),
		clients: make(map[*client]struct{}),
	}
}

func (h *Hub) ShowLightweight() { h.broadcast(Message{Type: MessageShow}) }

func (h *Hub) Hide() { h.broadcast(Message{Type: MessageHide}) }

func (h *Hub) Update(vm domain.ViewModel) { h.broadcast(updateMessage(vm)) }

// Clients returns the number of connected streams.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// broadcast never blocks; slow clients lose frames.
func (h *Hub) broadcast(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.log.Debug("dropping frame for slow client", "type", msg.Type)
		}
	}
}

// serve pumps frames to conn until the peer goes away. initial is sent first.
func (h *Hub) serve(conn *websocket.Conn, initial Message) {
	c := &client{conn: conn, send: make(chan Message, clientBuffer)}
	c.send <- initial

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		_ = conn.Close()
	}()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("websocket write failed", "error", err)
				return
			}
		case <-gone:
			return
		}
	}
}
