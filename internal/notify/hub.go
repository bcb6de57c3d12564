// Package notify provides the in-process progress notification hub.
//
// The hub fans progress events out to live subscribers keyed by file ID.
// It holds no history: a subscriber only sees events published after it
// subscribed, and publishing with no subscribers is a no-op. The hub is an
// injectable component with an explicit lifecycle so it can be replaced by
// a distributed pub/sub backend without touching the ingestion coordinator.
package notify

import "sync"

// Stage identifies which phase of the file lifecycle an event describes.
type Stage string

const (
	StageUploading  Stage = "uploading"
	StageProcessing Stage = "processing"
	StageReady      Stage = "ready"
	StageFailed     Stage = "failed"
)

// Event is a single progress notification. It is ephemeral and exists only
// on the notification path.
type Event struct {
	Stage    Stage  `json:"stage"`
	Progress *int   `json:"progress,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Percent is a convenience constructor for the optional progress field.
func Percent(p int) *int { return &p }

// terminal reports whether the event describes a terminal transition.
// Terminal events get best-effort delivery; intermediate progress is
// superseded by later events and may be dropped under backpressure.
func (e Event) terminal() bool {
	if e.Stage == StageReady || e.Stage == StageFailed {
		return true
	}
	return e.Progress != nil && *e.Progress == 100
}

// subscriberBuffer is the per-subscription channel capacity. Slow consumers
// lose intermediate progress once the buffer fills.
const subscriberBuffer = 16

// Subscription is a live registration for one file's events. Events arrive
// on C in publish order until Unsubscribe is called or the hub is closed.
type Subscription struct {
	fileID string
	C      chan Event
}

// Hub is a per-file publish/subscribe registry.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	closed bool
}

// NewHub creates an empty hub. Create one at process start and Close it at
// shutdown.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscribe registers a new delivery channel for the given file ID.
func (h *Hub) Subscribe(fileID string) *Subscription {
	sub := &Subscription{fileID: fileID, C: make(chan Event, subscriberBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.C)
		return sub
	}
	set, ok := h.subs[fileID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[fileID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Unsubscribe removes the registration. Safe to call multiple times and
// after the file's lifecycle has ended.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[sub.fileID]
	if !ok {
		return
	}
	if _, registered := set[sub]; !registered {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.fileID)
	}
	close(sub.C)
}

// Publish delivers the event to every current subscriber for the file ID.
// It never blocks: when a subscriber's buffer is full, intermediate events
// are dropped; terminal events evict the oldest buffered event and retry
// once so the final state still reaches slow consumers.
func (h *Hub) Publish(fileID string, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for sub := range h.subs[fileID] {
		select {
		case sub.C <- ev:
			continue
		default:
		}
		if !ev.terminal() {
			continue
		}
		select {
		case <-sub.C:
		default:
		}
		select {
		case sub.C <- ev:
		default:
		}
	}
}

// Close tears down the hub, closing every subscriber channel. Publish and
// Subscribe become no-ops afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for fileID, set := range h.subs {
		for sub := range set {
			close(sub.C)
		}
		delete(h.subs, fileID)
	}
}
