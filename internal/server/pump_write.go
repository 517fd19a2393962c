package server

import (
	"bufio"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/Mizuir0/live-reaction-system/internal/logging"
	"github.com/Mizuir0/live-reaction-system/internal/metrics"
)

// writePump drains the client's send queue onto the socket, batching queued
// frames behind one flush to cut syscalls, and pings on a timer to keep
// intermediaries from dropping quiet connections. Any write error closes the
// socket, which in turn unwinds readPump.
func (s *Server) writePump(c *Client) {
	defer logging.RecoverPanic(s.logger, "writePump", map[string]any{
		"user_id": c.userID,
	})

	writer := bufio.NewWriter(c.conn)
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeSocket()
	}()

	for {
		select {
		case <-c.done:
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(writer, ws.OpText, message); err != nil {
				c.noteDisconnectReason(metrics.DisconnectReasonWriteError, metrics.DisconnectInitiatedByClient)
				s.logger.Debug().Err(err).Str("user_id", c.userID).Msg("Failed to write frame")
				return
			}
			metrics.UpdateMessageMetrics(1, 0)
			metrics.UpdateBytesMetrics(int64(len(message)), 0)

			// Batch whatever else is already queued behind one flush.
			n := len(c.send)
			for i := 0; i < n; i++ {
				message = <-c.send
				if err := wsutil.WriteServerMessage(writer, ws.OpText, message); err != nil {
					c.noteDisconnectReason(metrics.DisconnectReasonWriteError, metrics.DisconnectInitiatedByClient)
					s.logger.Debug().Err(err).Str("user_id", c.userID).Msg("Failed to write frame")
					return
				}
				metrics.UpdateMessageMetrics(1, 0)
				metrics.UpdateBytesMetrics(int64(len(message)), 0)
			}

			if err := writer.Flush(); err != nil {
				c.noteDisconnectReason(metrics.DisconnectReasonWriteError, metrics.DisconnectInitiatedByClient)
				s.logger.Debug().Err(err).Str("user_id", c.userID).Msg("Failed to flush writer")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				c.noteDisconnectReason(metrics.DisconnectReasonWriteError, metrics.DisconnectInitiatedByClient)
				s.logger.Debug().Err(err).Str("user_id", c.userID).Msg("Failed to send ping")
				return
			}
		}
	}
}
