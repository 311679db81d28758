package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Event kinds carried on the stream.
const (
	KindLog    = "log"
	KindStatus = "status"
)

// Event is one SSE message: either a log line or a mount status snapshot.
type Event struct {
	Time   string      `json:"t"`
	Kind   string      `json:"kind"`
	Msg    string      `json:"msg,omitempty"`
	Status *StatusView `json:"status,omitempty"`
}

// Hub fans events out to SSE clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
}

// NewHub creates a hub with no subscribers.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel that receives encoded events and a cleanup function.
// The caller must call the returned cleanup when done (e.g. on client disconnect).
func (h *Hub) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()

	unsub := func() {
		h.mu.Lock()
		delete(h.clients, ch)
		h.mu.Unlock()
		close(ch)
	}
	return ch, unsub
}

// Clients returns the number of subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// PublishLog sends a log line to every client.
func (h *Hub) PublishLog(msg string) {
	h.publish(Event{Kind: KindLog, Msg: msg})
}

// PublishStatus sends a mount snapshot to every client.
func (h *Hub) PublishStatus(v StatusView) {
	h.publish(Event{Kind: KindStatus, Status: &v})
}

// publish never blocks: slow clients miss events.
func (h *Hub) publish(evt Event) {
	evt.Time = time.Now().Format(time.RFC3339)
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients {
		select {
		case ch <- payload:
		default:
		}
	}
}

// LogWriter returns an io.Writer publishing each write as a log event,
// for use with debug.SetOutput.
func LogWriter(h *Hub) *logWriter {
	return &logWriter{h: h}
}

type logWriter struct {
	h *Hub
}

func (w *logWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		w.h.PublishLog(msg)
	}
	return len(p), nil
}
