package server

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/Mizuir0/live-reaction-system/internal/logging"
	"github.com/Mizuir0/live-reaction-system/internal/metrics"
)

// handshakeFrame is the first client frame after the upgrade.
type handshakeFrame struct {
	UserID          string `json:"userId"`
	ExperimentGroup string `json:"experimentGroup"`
	IsHost          bool   `json:"isHost"`
}

// connectionEstablishedFrame acknowledges a completed handshake.
type connectionEstablishedFrame struct {
	Type            string `json:"type"`
	UserID          string `json:"userId"`
	ExperimentGroup string `json:"experimentGroup"`
	IsHost          bool   `json:"isHost"`
	Message         string `json:"message"`
	Timestamp       string `json:"timestamp"`
}

// handleWebSocket upgrades the connection, performs the handshake and starts
// the pump pair. Handshake failures close the socket with a protocol or
// policy close frame; nothing is registered until the handshake succeeds.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.isShuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("remote_addr", r.RemoteAddr).
			Msg("WebSocket upgrade failed")
		return
	}

	// The handshake frame must arrive promptly; an absent or malformed one
	// is a protocol error and the socket is closed before registration.
	conn.SetReadDeadline(time.Now().Add(handshakeWait))
	msg, op, err := wsutil.ReadClientData(conn)
	if err != nil || op != ws.OpText {
		frame := ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusProtocolError, "handshake frame required"))
		_ = ws.WriteFrame(conn, frame)
		_ = conn.Close()
		metrics.RecordDisconnect(metrics.DisconnectReasonHandshakeTimeout, metrics.DisconnectInitiatedByServer, 0, atomic.LoadInt64(&s.activeConns))
		return
	}

	var hs handshakeFrame
	if err := json.Unmarshal(msg, &hs); err != nil || hs.UserID == "" {
		frame := ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusProtocolError, "handshake requires a non-empty userId"))
		_ = ws.WriteFrame(conn, frame)
		_ = conn.Close()
		metrics.RecordDisconnect(metrics.DisconnectReasonHandshakeInvalid, metrics.DisconnectInitiatedByServer, 0, atomic.LoadInt64(&s.activeConns))
		return
	}

	group := hs.ExperimentGroup
	if !validGroups[group] {
		group = GroupControl2
	}

	client := &Client{
		connID:      uuid.NewString(),
		userID:      hs.UserID,
		group:       group,
		isHost:      hs.IsHost,
		conn:        conn,
		send:        make(chan []byte, s.cfg.SendQueueSize),
		done:        make(chan struct{}),
		connectedAt: time.Now(),
		limiter:     rate.NewLimiter(rate.Limit(s.cfg.MaxMessagesPerSec), s.cfg.MaxMessagesPerSec),
	}

	// User row first, so reaction log rows never orphan-race their user.
	nowMS := s.nowMS()
	s.windows.EnsureUser(client.userID, group)
	if err := s.db.EnsureUser(client.userID, group, nowMS); err != nil {
		metrics.RecordPersistenceError("ensure_user")
		logging.LogError(s.logger, err, "Failed to persist user row", map[string]any{
			"user_id": client.userID,
		})
	}

	s.hub.Register(client)
	current := atomic.AddInt64(&s.activeConns, 1)
	metrics.RecordConnect(current)

	ack := connectionEstablishedFrame{
		Type:            "connection_established",
		UserID:          client.userID,
		ExperimentGroup: client.group,
		IsHost:          client.isHost,
		Message:         "Connected to the live reaction server",
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	}
	if data, err := json.Marshal(ack); err == nil {
		client.enqueue(data)
	}

	s.logger.Info().
		Str("user_id", client.userID).
		Str("conn_id", client.connID).
		Str("experiment_group", client.group).
		Bool("is_host", client.isHost).
		Int64("current_connections", current).
		Msg("Client connected")

	go s.writePump(client)
	go s.readPump(client)
}
