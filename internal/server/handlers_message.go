package server

import (
	"encoding/json"

	"github.com/Mizuir0/live-reaction-system/internal/logging"
	"github.com/Mizuir0/live-reaction-system/internal/metrics"
	"github.com/Mizuir0/live-reaction-system/internal/reaction"
)

// inboundFrame is the superset of every client frame. Dispatch is keyed on
// Type; an empty Type with states/events present is the untagged reaction
// sample.
type inboundFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"` // client clock, recorded for debugging only

	// Reaction sample
	States    map[string]bool `json:"states"`
	Events    map[string]int  `json:"events"`
	VideoTime *float64        `json:"videoTime"`
	SessionID string          `json:"sessionId"`

	// Video transport / time sync
	CurrentTime *float64 `json:"currentTime"`
	RequesterID string   `json:"requesterId"`
	VideoID     string   `json:"videoId"`

	// Manual effect injection (debug group)
	EffectType string  `json:"effectType"`
	Intensity  float64 `json:"intensity"`
	DurationMS int     `json:"durationMs"`
}

// Outbound frame shapes. Pointer currentTime distinguishes "0.0" from absent.
type transportFrame struct {
	Type        string   `json:"type"`
	CurrentTime *float64 `json:"currentTime,omitempty"`
	Timestamp   int64    `json:"timestamp"`
}

type timeSyncRequestFrame struct {
	Type        string `json:"type"`
	RequesterID string `json:"requesterId"`
}

type timeSyncResponseFrame struct {
	Type        string   `json:"type"`
	CurrentTime *float64 `json:"currentTime"`
}

type videoSelectedFrame struct {
	Type    string `json:"type"`
	VideoID string `json:"videoId"`
}

// handleClientFrame demultiplexes one inbound text frame. Malformed JSON is a
// per-frame fault: logged and skipped, the connection lives on. Persistence
// failures are logged and never propagate.
func (s *Server) handleClientFrame(c *Client, msg []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		s.logger.Warn().
			Err(err).
			Str("user_id", c.userID).
			Int("frame_bytes", len(msg)).
			Msg("Dropping malformed frame")
		return
	}

	switch frame.Type {
	case "", "reaction":
		if frame.Type == "" && frame.States == nil && frame.Events == nil {
			s.logger.Warn().Str("user_id", c.userID).Msg("Untyped frame without states/events, ignoring")
			return
		}
		s.handleReactionSample(c, frame)

	case "video_play", "video_pause", "video_seek":
		s.handleTransport(c, frame)

	case "time_sync_request":
		s.handleTimeSyncRequest(c)

	case "time_sync_response":
		s.handleTimeSyncResponse(c, frame)

	case "video_url_selected":
		s.handleVideoSelected(c, frame)

	case "session_create":
		s.handleSessionCreate(c, frame)

	case "session_completed":
		s.handleSessionCompleted(c, frame)

	case "manual_effect":
		s.handleManualEffect(c, frame)

	default:
		s.logger.Warn().
			Str("user_id", c.userID).
			Str("frame_type", frame.Type).
			Msg("Unknown frame type, ignoring")
	}
}

// handleReactionSample stamps the sample with the server clock, stores it in
// the user's window and appends it to the reactions log.
func (s *Server) handleReactionSample(c *Client, frame inboundFrame) {
	sample := reaction.NewSample(c.userID, s.nowMS(), frame.States, frame.Events, frame.VideoTime, frame.SessionID)
	s.windows.Append(c.userID, sample)
	metrics.RecordReactionSample()

	if err := s.db.LogReaction(sample); err != nil {
		metrics.RecordPersistenceError("log_reaction")
		logging.LogError(s.logger, err, "Failed to log reaction", map[string]any{
			"user_id": c.userID,
		})
	}
}

// handleTransport relays a host's play/pause/seek to every participant. The
// host's own echo is suppressed; a non-host sending transport is a no-op.
func (s *Server) handleTransport(c *Client, frame inboundFrame) {
	if !c.isHost {
		s.logger.Debug().
			Str("user_id", c.userID).
			Str("frame_type", frame.Type).
			Msg("Transport frame from non-host ignored")
		return
	}

	out := transportFrame{
		Type:        frame.Type,
		CurrentTime: frame.CurrentTime,
		Timestamp:   s.nowMS(),
	}
	data, err := json.Marshal(out)
	if err != nil {
		logging.LogError(s.logger, err, "Failed to marshal transport frame", nil)
		return
	}
	s.hub.BroadcastExcept(c.userID, data)

	s.logger.Info().
		Str("frame_type", frame.Type).
		Str("host_id", c.userID).
		Msg("Transport event relayed")
}

// handleTimeSyncRequest forwards a participant's sync request to the host,
// tagging it with the requester id. No host connected means a silent drop.
func (s *Server) handleTimeSyncRequest(c *Client) {
	if c.isHost {
		return
	}
	data, err := json.Marshal(timeSyncRequestFrame{
		Type:        "time_sync_request",
		RequesterID: c.userID,
	})
	if err != nil {
		logging.LogError(s.logger, err, "Failed to marshal time sync request", nil)
		return
	}
	if !s.hub.SendToHost(data) {
		s.logger.Debug().
			Str("requester_id", c.userID).
			Msg("Time sync request dropped, no host connected")
	}
}

// handleTimeSyncResponse unicasts the host's current time back to the named
// requester. Only the host may answer.
func (s *Server) handleTimeSyncResponse(c *Client, frame inboundFrame) {
	if !c.isHost || frame.RequesterID == "" {
		return
	}
	data, err := json.Marshal(timeSyncResponseFrame{
		Type:        "time_sync_response",
		CurrentTime: frame.CurrentTime,
	})
	if err != nil {
		logging.LogError(s.logger, err, "Failed to marshal time sync response", nil)
		return
	}
	s.hub.SendTo(frame.RequesterID, data)
}

// handleVideoSelected broadcasts the host's video choice so waiting
// participants can transition into viewing.
func (s *Server) handleVideoSelected(c *Client, frame inboundFrame) {
	if !c.isHost {
		return
	}
	data, err := json.Marshal(videoSelectedFrame{
		Type:    "video_url_selected",
		VideoID: frame.VideoID,
	})
	if err != nil {
		logging.LogError(s.logger, err, "Failed to marshal video selection", nil)
		return
	}
	s.hub.Broadcast(data)

	s.logger.Info().
		Str("host_id", c.userID).
		Str("video_id", frame.VideoID).
		Msg("Video selection broadcast")
}

func (s *Server) handleSessionCreate(c *Client, frame inboundFrame) {
	if frame.SessionID == "" || frame.VideoID == "" {
		s.logger.Warn().Str("user_id", c.userID).Msg("session_create missing sessionId or videoId")
		return
	}
	if err := s.db.CreateSession(frame.SessionID, c.userID, frame.VideoID, s.nowMS()); err != nil {
		metrics.RecordPersistenceError("session_create")
		logging.LogError(s.logger, err, "Failed to create session", map[string]any{
			"session_id": frame.SessionID,
		})
	}
}

func (s *Server) handleSessionCompleted(c *Client, frame inboundFrame) {
	if frame.SessionID == "" {
		s.logger.Warn().Str("user_id", c.userID).Msg("session_completed missing sessionId")
		return
	}
	if err := s.db.CompleteSession(frame.SessionID, s.nowMS()); err != nil {
		metrics.RecordPersistenceError("session_complete")
		logging.LogError(s.logger, err, "Failed to complete session", map[string]any{
			"session_id": frame.SessionID,
		})
	}
}

// handleManualEffect injects an effect directly, bypassing the ladder. Only
// viewers in the debug experiment group may do this; anyone else is dropped
// with a warning (no application-level error frames exist).
func (s *Server) handleManualEffect(c *Client, frame inboundFrame) {
	if c.group != GroupDebug {
		s.logger.Warn().
			Str("user_id", c.userID).
			Str("experiment_group", c.group).
			Msg("manual_effect rejected for non-debug sender")
		return
	}
	if frame.EffectType == "" {
		s.logger.Warn().Str("user_id", c.userID).Msg("manual_effect missing effectType")
		return
	}

	durationMS := frame.DurationMS
	if durationMS <= 0 {
		durationMS = reaction.EffectDurationMS
	}
	effect := reaction.Effect{
		Type:       frame.EffectType,
		Intensity:  clamp01(frame.Intensity),
		DurationMS: durationMS,
		ServerMS:   s.nowMS(),
		SessionID:  frame.SessionID,
		VideoTime:  frame.VideoTime,
	}

	if err := s.db.LogEffect(effect); err != nil {
		metrics.RecordPersistenceError("log_effect")
		logging.LogError(s.logger, err, "Failed to log manual effect", map[string]any{
			"effect_type": effect.Type,
		})
	}

	data, err := json.Marshal(effect.Frame())
	if err != nil {
		logging.LogError(s.logger, err, "Failed to marshal manual effect", nil)
		return
	}
	s.hub.Broadcast(data)
	metrics.RecordEffect(effect.Type)

	s.logger.Info().
		Str("effect_type", effect.Type).
		Float64("intensity", effect.Intensity).
		Str("user_id", c.userID).
		Msg("Manual effect broadcast")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
