// Package server wires the WebSocket boundary: connection lifecycle, the hub
// registry, the message demultiplexer, the sync relay and the operator HTTP
// endpoints.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/rs/zerolog"

	"github.com/Mizuir0/live-reaction-system/internal/config"
	"github.com/Mizuir0/live-reaction-system/internal/metrics"
	"github.com/Mizuir0/live-reaction-system/internal/reaction"
	"github.com/Mizuir0/live-reaction-system/internal/storage"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 5 * time.Second

	// Server pings keep intermediaries from killing quiet connections.
	// Liveness itself is enforced by the inbound idle deadline.
	pingPeriod = 27 * time.Second

	// Time allowed for the handshake frame after the upgrade.
	handshakeWait = 10 * time.Second
)

// Experiment groups a client may declare at handshake.
const (
	GroupExperiment = "experiment"
	GroupControl1   = "control1"
	GroupControl2   = "control2" // default
	GroupDebug      = "debug"    // may inject manual effects
)

var validGroups = map[string]bool{
	GroupExperiment: true,
	GroupControl1:   true,
	GroupControl2:   true,
	GroupDebug:      true,
}

// Persistence is the slice of the storage layer the connection path writes
// to. Every call is best-effort at the call site.
type Persistence interface {
	EnsureUser(userID, group string, createdAtMS int64) error
	LogReaction(sample reaction.Sample) error
	LogEffect(effect reaction.Effect) error
	CreateSession(sessionID, userID, videoID string, startedAtMS int64) error
	CompleteSession(sessionID string, completedAtMS int64) error
}

// Server owns the HTTP listener, the hub, the aggregator and the monitor
// goroutines. Shared state (hub registry, window store) is documented on the
// owning types; the Server itself only coordinates lifecycle.
type Server struct {
	cfg     *config.Config
	logger  zerolog.Logger
	windows *reaction.WindowStore
	hub     *Hub
	db      Persistence
	debugDB *storage.Store // read-side queries for /debug/database; may be nil in tests

	aggregator *reaction.Aggregator

	listener net.Listener
	httpSrv  *http.Server

	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shuttingDown int32

	startTime   time.Time
	activeConns int64

	// System monitor snapshot (guarded by sysMu).
	sysMu      sync.RWMutex
	cpuPercent float64
	memoryMB   float64

	nowMS func() int64 // injectable clock for tests
}

// New assembles a server. db drives both the write path and, when it is a
// *storage.Store, the /debug/database read endpoint.
func New(cfg *config.Config, windows *reaction.WindowStore, db Persistence, logger zerolog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		logger:    logger.With().Str("component", "server").Logger(),
		windows:   windows,
		hub:       NewHub(logger),
		db:        db,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
		nowMS:     func() int64 { return time.Now().UnixMilli() },
	}
	if store, ok := db.(*storage.Store); ok {
		s.debugDB = store
	}
	s.aggregator = reaction.NewAggregator(windows, s.hub, db, logger)
	return s
}

// Hub exposes the connection registry (status endpoints, tests).
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listener and launches the accept loop, the aggregator and
// the system monitor. Returns an error only on boot failure (bad port).
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr(), err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/debug/aggregation", s.handleDebugAggregation)
	mux.HandleFunc("/debug/database", s.handleDebugDatabase)
	mux.HandleFunc("/metrics", metrics.HandleMetrics)

	s.httpSrv = &http.Server{
		Handler:        mux,
		ReadTimeout:    30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("HTTP serve loop error")
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.aggregator.Run(s.ctx)
	}()

	s.wg.Add(1)
	go s.monitorSystem()

	s.logger.Info().
		Str("addr", listener.Addr().String()).
		Msg("Server listening")
	return nil
}

// Addr returns the bound listen address (useful when PORT=0 in tests).
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting upgrades, cancels the aggregator, drains live
// connections within the configured grace and force-closes the rest.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("Initiating graceful shutdown")
	atomic.StoreInt32(&s.shuttingDown, 1)

	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.cancel()

	remaining := atomic.LoadInt64(&s.activeConns)
	if remaining > 0 {
		s.logger.Info().
			Int64("active_connections", remaining).
			Dur("grace", s.cfg.ShutdownGrace).
			Msg("Draining active connections")

		drainTimer := time.NewTimer(s.cfg.ShutdownGrace)
		checkTicker := time.NewTicker(250 * time.Millisecond)
	drain:
		for {
			select {
			case <-drainTimer.C:
				s.logger.Warn().
					Int64("remaining_connections", atomic.LoadInt64(&s.activeConns)).
					Msg("Grace period expired, force closing remaining connections")
				break drain
			case <-checkTicker.C:
				if atomic.LoadInt64(&s.activeConns) == 0 {
					s.logger.Info().Msg("All connections drained gracefully")
					break drain
				}
			}
		}
		drainTimer.Stop()
		checkTicker.Stop()
	}

	s.closeAllConnections()
	s.wg.Wait()

	s.logger.Info().Msg("Graceful shutdown completed")
	return nil
}

func (s *Server) closeAllConnections() {
	for _, c := range s.hub.snapshot() {
		c.closeWithFrame(ws.StatusNormalClosure, "server shutting down")
	}
}

func (s *Server) isShuttingDown() bool {
	return atomic.LoadInt32(&s.shuttingDown) == 1
}
