package server

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"golang.org/x/time/rate"

	"github.com/Mizuir0/live-reaction-system/internal/metrics"
)

// Client is one viewer's WebSocket connection after a successful handshake.
// Outbound traffic goes through the bounded send channel (drained by
// writePump); inbound frames are consumed by readPump. The underlying socket
// is closed exactly once regardless of which pump loses it first.
type Client struct {
	connID string // server-assigned id for log correlation
	userID string
	group  string
	isHost bool

	conn        net.Conn
	send        chan []byte
	done        chan struct{} // closed with the socket; unblocks writePump
	closeOnce   sync.Once
	connectedAt time.Time

	// Inbound rate limiter: MaxMessagesPerSec sustained with an equal burst.
	limiter *rate.Limiter

	dropped int64 // outbound frames discarded because send was full

	// Disconnect classification. The writer and the hub record the cause
	// here when they are the ones tearing the connection down; the reader's
	// exit path reports it. First recorded cause wins.
	reasonMu    sync.Mutex
	closeReason string
	closeBy     string
}

// noteDisconnectReason records why the connection is going down. Later calls
// are ignored so the original cause is not overwritten by the unwinding.
func (c *Client) noteDisconnectReason(reason, initiatedBy string) {
	c.reasonMu.Lock()
	if c.closeReason == "" {
		c.closeReason = reason
		c.closeBy = initiatedBy
	}
	c.reasonMu.Unlock()
}

// disconnectCause returns the recorded cause, or the caller's own
// classification when nothing was recorded.
func (c *Client) disconnectCause(fallbackReason, fallbackBy string) (string, string) {
	c.reasonMu.Lock()
	defer c.reasonMu.Unlock()
	if c.closeReason != "" {
		return c.closeReason, c.closeBy
	}
	return fallbackReason, fallbackBy
}

// enqueue queues a frame for the writer without ever blocking. When the send
// queue is full the new frame is discarded and counted; the peer just misses
// one update. Returns false on a drop.
func (c *Client) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		atomic.AddInt64(&c.dropped, 1)
		metrics.IncrementBroadcastsDropped()
		return false
	}
}

// closeWithFrame writes a close frame with the given status and closes the
// socket. Safe to call from any goroutine, any number of times.
func (c *Client) closeWithFrame(status ws.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		frame := ws.NewCloseFrame(ws.NewCloseFrameBody(status, reason))
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = ws.WriteFrame(c.conn, frame)
		_ = c.conn.Close()
		close(c.done)
	})
}

// closeSocket closes the socket without a close frame (peer already gone).
func (c *Client) closeSocket() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
		close(c.done)
	})
}
