package server

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/gobwas/ws"
	"github.com/rs/zerolog"

	"github.com/Mizuir0/live-reaction-system/internal/metrics"
)

// Hub is the registry of live connections keyed by user id. Registration
// follows newest-wins: a second connection for the same user displaces the
// first. Fan-out copies the client list under the lock and dispatches without
// it, so one slow subscriber can never stall the rest.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*Client
	logger  zerolog.Logger

	dropLogCounter int64 // sampled drop logging, shared across clients
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger.With().Str("component", "hub").Logger(),
	}
}

// Register adds the client, displacing (and closing) any existing connection
// with the same user id.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	displaced := h.clients[c.userID]
	h.clients[c.userID] = c
	h.mu.Unlock()

	if displaced != nil {
		h.logger.Warn().
			Str("user_id", c.userID).
			Str("old_conn_id", displaced.connID).
			Str("new_conn_id", c.connID).
			Msg("Duplicate connection, closing the older one")
		displaced.noteDisconnectReason(metrics.DisconnectReasonDuplicateConnection, metrics.DisconnectInitiatedByServer)
		displaced.closeWithFrame(ws.StatusPolicyViolation, "superseded by a newer connection")
	}
}

// Unregister removes the client if it is still the registered connection for
// its user. Idempotent; a displaced client unregistering later must not evict
// its successor.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if h.clients[c.userID] == c {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()
}

// snapshot returns the current client list without holding the lock during
// dispatch.
func (h *Hub) snapshot() []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

// Broadcast enqueues data to every registered connection. Best-effort: a full
// send queue drops the frame for that subscriber only.
func (h *Hub) Broadcast(data []byte) {
	h.fanOut(h.snapshot(), data)
}

// BroadcastExcept enqueues data to every connection except the named user.
// Used by the sync relay to suppress the host's own echo.
func (h *Hub) BroadcastExcept(userID string, data []byte) {
	clients := h.snapshot()
	filtered := clients[:0]
	for _, c := range clients {
		if c.userID != userID {
			filtered = append(filtered, c)
		}
	}
	h.fanOut(filtered, data)
}

func (h *Hub) fanOut(clients []*Client, data []byte) {
	for _, c := range clients {
		if c.enqueue(data) {
			continue
		}
		// Sampled warning: every 100th drop across all clients, to keep a
		// flooded queue from flooding the log too.
		if n := atomic.AddInt64(&h.dropLogCounter, 1); n%100 == 1 {
			h.logger.Warn().
				Str("user_id", c.userID).
				Int64("client_drops", atomic.LoadInt64(&c.dropped)).
				Int64("total_drops", n).
				Msg("Broadcast frame dropped, send queue full (sampled)")
		}
	}
}

// SendTo enqueues data to one user. Returns false when the user has no live
// connection (the frame is dropped silently, per the sync relay contract).
func (h *Hub) SendTo(userID string, data []byte) bool {
	h.mu.Lock()
	c := h.clients[userID]
	h.mu.Unlock()
	if c == nil {
		return false
	}
	return c.enqueue(data)
}

// SendToHost enqueues data to the single connection flagged as host, if any.
func (h *Hub) SendToHost(data []byte) bool {
	h.mu.Lock()
	var host *Client
	for _, c := range h.clients {
		if c.isHost {
			host = c
			break
		}
	}
	h.mu.Unlock()
	if host == nil {
		return false
	}
	return host.enqueue(data)
}

// HostID returns the current host's user id, or "" when none is connected.
func (h *Hub) HostID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		if c.isHost {
			return c.userID
		}
	}
	return ""
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// UserIDs returns the connected user ids, sorted for stable endpoint output.
func (h *Hub) UserIDs() []string {
	h.mu.Lock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	sort.Strings(ids)
	return ids
}
