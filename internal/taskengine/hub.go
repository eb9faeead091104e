package taskengine

import (
	"sync"
	"time"
)

// ProgressEvent is one progress update pushed to subscribers. The task row
// remains the source of truth; the hub only mirrors writes for live streams.
type ProgressEvent struct {
	TaskID    string    `json:"task_id"`
	Status    Status    `json:"status"`
	Percent   int       `json:"progress_percent"`
	Step      string    `json:"current_step"`
	Error     string    `json:"error_message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub fans progress events out to per-task subscribers. Slow subscribers
// drop events rather than block the worker.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan ProgressEvent]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan ProgressEvent]struct{})}
}

// Subscribe registers a listener for one task's events. The returned channel
// is buffered; call the cancel func to unsubscribe.
func (h *Hub) Subscribe(taskID string) (<-chan ProgressEvent, func()) {
	ch := make(chan ProgressEvent, 16)

	h.mu.Lock()
	if h.subs[taskID] == nil {
		h.subs[taskID] = make(map[chan ProgressEvent]struct{})
	}
	h.subs[taskID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[taskID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, taskID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to the task's subscribers without blocking.
func (h *Hub) Publish(ev ProgressEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[ev.TaskID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers returns the listener count for one task.
func (h *Hub) Subscribers(taskID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[taskID])
}
