// Package progress streams payment reconciliation progress to the browser
// over a WebSocket while the customer waits on the payment step.
package progress

import (
	"net/http"
	"sync"

	"golang.org/x/net/websocket"

	"github.com/wolfman30/storefront-booking/pkg/logging"
)

// Event types sent to subscribers.
const (
	TypeSubscribed = "subscribed"
	TypeProgress   = "progress"
	TypeOutcome    = "outcome"
)

// Event is one frame on the progress stream.
type Event struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id,omitempty"`
	Tier        string `json:"tier,omitempty"`
	Attempt     int    `json:"attempt,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
	Outcome     string `json:"outcome,omitempty"`
	RedirectURL string `json:"redirect_url,omitempty"`
	Message     string `json:"message,omitempty"`
}

const subscriberBuffer = 16

// Hub fans events out to every connection watching a session.
type Hub struct {
	logger *logging.Logger

	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{} // session key -> subscribers
}

func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{logger: logger, subs: make(map[string]map[chan Event]struct{})}
}

// Key scopes a session id to its store.
func Key(storeID, sessionID string) string {
	return storeID + ":" + sessionID
}

// Subscribe registers a listener. The returned cancel func must be called.
func (h *Hub) Subscribe(key string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	set, ok := h.subs[key]
	if !ok {
		set = make(map[chan Event]struct{})
		h.subs[key] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[key], ch)
			if len(h.subs[key]) == 0 {
				delete(h.subs, key)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish never blocks; slow subscribers drop frames.
func (h *Hub) Publish(key string, ev Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[key] {
		select {
		case ch <- ev:
		default:
			h.logger.Warn("progress subscriber lagging, dropping event", "session_key", key, "type", ev.Type)
		}
	}
}

// Subscribers returns the number of listeners for key.
func (h *Hub) Subscribers(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[key])
}

// Serve upgrades the request and streams events for key until an outcome is
// sent or the client goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, key, sessionID string) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, key, sessionID)
	}).ServeHTTP(w, r)
}

func (h *Hub) serveWS(conn *websocket.Conn, key, sessionID string) {
	defer conn.Close()

	events, cancel := h.Subscribe(key)
	defer cancel()

	// The client never sends anything; a read returning means it hung up.
	gone := make(chan struct{})
	go func() {
		var discard []byte
		for {
			if err := websocket.Message.Receive(conn, &discard); err != nil {
				close(gone)
				return
			}
		}
	}()

	if err := websocket.JSON.Send(conn, Event{Type: TypeSubscribed, SessionID: sessionID}); err != nil {
		return
	}
	for {
		select {
		case <-gone:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := websocket.JSON.Send(conn, ev); err != nil {
				h.logger.Debug("progress stream closed", "session_id", sessionID, "error", err)
				return
			}
			if ev.Type == TypeOutcome {
				return
			}
		}
	}
}
