package server

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Mizuir0/live-reaction-system/internal/logging"
)

// writeCORS applies the permissive CORS policy for the configured frontend
// origin. Returns false when the request was a handled preflight.
func (s *Server) writeCORS(w http.ResponseWriter, r *http.Request) bool {
	w.Header().Set("Access-Control-Allow-Origin", s.cfg.FrontendURL)
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Content-Type", "application/json")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

// handleRoot serves the operator health summary.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if !s.writeCORS(w, r) {
		return
	}

	dbLabel := "none"
	if s.debugDB != nil {
		dbLabel = s.debugDB.Label()
	}

	s.sysMu.RLock()
	cpuPercent := s.cpuPercent
	memoryMB := s.memoryMB
	s.sysMu.RUnlock()

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "running",
		"connections":    s.hub.Count(),
		"database":       dbLabel,
		"time":           time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": time.Since(s.startTime).Seconds(),
		"cpu_percent":    cpuPercent,
		"memory_mb":      memoryMB,
	})
}

// handleStatus lists the connected users and the current host.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.writeCORS(w, r) {
		return
	}

	var host any
	if id := s.hub.HostID(); id != "" {
		host = id
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"connections": s.hub.Count(),
		"users":       s.hub.UserIDs(),
		"host":        host,
	})
}

// handleDebugAggregation exposes the current active-user snapshot the next
// tick would see.
func (s *Server) handleDebugAggregation(w http.ResponseWriter, r *http.Request) {
	if !s.writeCORS(w, r) {
		return
	}

	now := s.nowMS()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"now":         now,
		"activeUsers": s.windows.ActiveSummaries(now),
	})
}

// handleDebugDatabase reports per-table row counts, the newest log rows and
// per-effect-type statistics.
func (s *Server) handleDebugDatabase(w http.ResponseWriter, r *http.Request) {
	if !s.writeCORS(w, r) {
		return
	}
	if s.debugDB == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": "database not available",
		})
		return
	}

	counts, err := s.debugDB.TableCounts()
	if err != nil {
		logging.LogError(s.logger, err, "Failed to read table counts", nil)
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "query failed"})
		return
	}
	recentReactions, err := s.debugDB.RecentReactions(5)
	if err != nil {
		logging.LogError(s.logger, err, "Failed to read recent reactions", nil)
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "query failed"})
		return
	}
	recentEffects, err := s.debugDB.RecentEffects(10)
	if err != nil {
		logging.LogError(s.logger, err, "Failed to read recent effects", nil)
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "query failed"})
		return
	}
	effectStats, err := s.debugDB.EffectTypeStats()
	if err != nil {
		logging.LogError(s.logger, err, "Failed to read effect stats", nil)
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "query failed"})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"counts":          counts,
		"recentReactions": recentReactions,
		"recentEffects":   recentEffects,
		"effectStats":     effectStats,
		"connections":     atomic.LoadInt64(&s.activeConns),
	})
}
