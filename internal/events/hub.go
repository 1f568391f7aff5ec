package events

import (
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ferry/internal/models"
)

// Event is a pipeline status change broadcast to admin subscribers
type Event struct {
	Type      string            `json:"type"`
	FileID    string            `json:"file_id"`
	UserID    int64             `json:"user_id"`
	Status    models.FileStatus `json:"status,omitempty"`
	Detail    string            `json:"detail,omitempty"`
	Progress  int               `json:"progress,omitempty"` // percent, -1 when unknown
	Timestamp time.Time         `json:"timestamp"`
}

const (
	TypeStatus   = "status"
	TypeProgress = "progress"
)

// Hub fans pipeline events out to any number of subscribers. Publishing
// never blocks: a subscriber that falls behind loses events rather than
// stalling the pipeline.
type Hub struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	closed bool
	logger arbor.ILogger
}

// NewHub creates an event hub
func NewHub(logger arbor.ILogger) *Hub {
	return &Hub{
		subs:   make(map[chan Event]struct{}),
		logger: logger,
	}
}

// Subscribe registers a new subscriber with the given channel buffer. The
// returned func removes the subscription and closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish broadcasts an event to all subscribers without blocking
func (h *Hub) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}
	for ch := range h.subs {
		select {
		case ch <- evt:
		default:
			// slow subscriber, drop
		}
	}
}

// Close shuts down the hub and closes all subscriber channels
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
