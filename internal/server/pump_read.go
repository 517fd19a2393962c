package server

import (
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/Mizuir0/live-reaction-system/internal/logging"
	"github.com/Mizuir0/live-reaction-system/internal/metrics"
)

// readPump consumes frames from the peer and dispatches them in arrival
// order. It enforces the frame-size ceiling, the inbound rate limit and the
// idle deadline; any exit unregisters the client and closes the socket. The
// user's window stays in the store so late samples still count.
func (s *Server) readPump(c *Client) {
	defer logging.RecoverPanic(s.logger, "readPump", map[string]any{
		"user_id": c.userID,
	})

	disconnectReason := metrics.DisconnectReasonReadError
	initiatedBy := metrics.DisconnectInitiatedByClient

	defer func() {
		s.hub.Unregister(c)
		c.closeSocket()
		// The writer or the hub may have recorded the real cause already
		// (write failure, displacement); their classification wins.
		reason, by := c.disconnectCause(disconnectReason, initiatedBy)
		current := atomic.AddInt64(&s.activeConns, -1)
		metrics.RecordDisconnect(reason, by, time.Since(c.connectedAt), current)
		s.logger.Info().
			Str("user_id", c.userID).
			Str("conn_id", c.connID).
			Str("reason", reason).
			Int64("current_connections", current).
			Msg("Client disconnected")
	}()

	for {
		c.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		msg, op, err := wsutil.ReadClientData(c.conn)
		if err != nil {
			switch {
			case s.isShuttingDown():
				disconnectReason = metrics.DisconnectReasonServerShutdown
				initiatedBy = metrics.DisconnectInitiatedByServer
			case isCloseFrame(err):
				// A peer close frame surfaces from the read as an error.
				disconnectReason = metrics.DisconnectReasonClientInitiated
			case isIdleTimeout(err):
				disconnectReason = metrics.DisconnectReasonIdleTimeout
				initiatedBy = metrics.DisconnectInitiatedByServer
			}
			return
		}

		metrics.UpdateMessageMetrics(0, 1)
		metrics.UpdateBytesMetrics(0, int64(len(msg)))

		switch op {
		case ws.OpText:
			if len(msg) > s.cfg.MaxFrameBytes {
				s.logger.Warn().
					Str("user_id", c.userID).
					Int("frame_bytes", len(msg)).
					Int("limit_bytes", s.cfg.MaxFrameBytes).
					Msg("Closing connection, frame over size ceiling")
				c.closeWithFrame(ws.StatusPolicyViolation, "frame too large")
				disconnectReason = metrics.DisconnectReasonFrameTooLarge
				initiatedBy = metrics.DisconnectInitiatedByServer
				return
			}

			// Sustained overrun of the inbound budget is a policy
			// violation, not a throttle: the connection is closed.
			if !c.limiter.Allow() {
				s.logger.Warn().
					Str("user_id", c.userID).
					Int("limit_per_sec", s.cfg.MaxMessagesPerSec).
					Msg("Closing connection, inbound rate limit exceeded")
				metrics.IncrementRateLimitedCloses()
				c.closeWithFrame(ws.StatusPolicyViolation, "message rate limit exceeded")
				disconnectReason = metrics.DisconnectReasonRateLimitExceeded
				initiatedBy = metrics.DisconnectInitiatedByServer
				return
			}

			s.dispatchFrame(c, msg)
		}
		// Pings and other control frames are handled inside the read; close
		// frames come back as an error above.
	}
}

// isCloseFrame reports whether a read failed because the peer sent a close
// frame.
func isCloseFrame(err error) bool {
	var closed wsutil.ClosedError
	return errors.As(err, &closed)
}

// isIdleTimeout reports whether a read failed on the idle deadline.
func isIdleTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// dispatchFrame isolates per-frame faults: a panic while handling one frame
// is logged and the connection moves on to the next frame.
func (s *Server) dispatchFrame(c *Client, msg []byte) {
	defer logging.RecoverPanic(s.logger, "dispatchFrame", map[string]any{
		"user_id": c.userID,
	})
	s.handleClientFrame(c, msg)
}
