package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics for the live reaction server
// These metrics can be scraped by Prometheus and visualized in Grafana
var (
	// Connection metrics
	connectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lr_connections_total",
		Help: "Total number of WebSocket connections established",
	})

	connectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lr_connections_active",
		Help: "Current number of active WebSocket connections",
	})

	// Disconnect tracking with categorization
	disconnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lr_disconnects_total",
		Help: "Total disconnections by reason and who initiated",
	}, []string{"reason", "initiated_by"})

	connectionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lr_connection_duration_seconds",
		Help:    "Connection duration before disconnect",
		Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600}, // 1s to 1hr
	}, []string{"reason"})

	// Message metrics
	messagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lr_messages_sent_total",
		Help: "Total number of messages sent to clients",
	})

	messagesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lr_messages_received_total",
		Help: "Total number of messages received from clients",
	})

	bytesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lr_bytes_sent_total",
		Help: "Total number of bytes sent to clients",
	})

	bytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lr_bytes_received_total",
		Help: "Total number of bytes received from clients",
	})

	// Reliability metrics
	broadcastsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lr_broadcasts_dropped_total",
		Help: "Total number of outbound frames dropped because a send queue was full",
	})

	rateLimitedCloses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lr_rate_limited_closes_total",
		Help: "Total number of connections closed for exceeding the inbound rate limit",
	})

	// Reaction pipeline metrics
	reactionSamples = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lr_reaction_samples_total",
		Help: "Total number of reaction samples accepted into user windows",
	})

	effectsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lr_effects_emitted_total",
		Help: "Total number of effects broadcast, by effect type",
	}, []string{"effect_type"})

	activeUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lr_active_users",
		Help: "Number of users counted active in the last aggregation tick",
	})

	tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "lr_aggregator_tick_duration_seconds",
		Help:    "Duration of aggregation ticks",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	// Persistence metrics
	persistenceErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lr_persistence_errors_total",
		Help: "Total persistence failures by operation (best-effort writes)",
	}, []string{"op"})

	// System metrics
	memoryUsageBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lr_memory_bytes",
		Help: "Current memory usage in bytes",
	})

	cpuUsagePercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lr_cpu_usage_percent",
		Help: "Current process CPU usage percentage",
	})

	goroutinesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lr_goroutines_active",
		Help: "Current number of active goroutines",
	})
)

func init() {
	// Register all metrics with Prometheus
	prometheus.MustRegister(connectionsTotal)
	prometheus.MustRegister(connectionsActive)
	prometheus.MustRegister(disconnectsTotal)
	prometheus.MustRegister(connectionDuration)

	prometheus.MustRegister(messagesSent)
	prometheus.MustRegister(messagesReceived)
	prometheus.MustRegister(bytesSent)
	prometheus.MustRegister(bytesReceived)

	prometheus.MustRegister(broadcastsDropped)
	prometheus.MustRegister(rateLimitedCloses)

	prometheus.MustRegister(reactionSamples)
	prometheus.MustRegister(effectsEmitted)
	prometheus.MustRegister(activeUsers)
	prometheus.MustRegister(tickDuration)

	prometheus.MustRegister(persistenceErrors)

	prometheus.MustRegister(memoryUsageBytes)
	prometheus.MustRegister(cpuUsagePercent)
	prometheus.MustRegister(goroutinesActive)
}

// Disconnect reasons - standardized constants for categorization
const (
	DisconnectReasonReadError           = "read_error"           // Client stopped reading (network issue, crash)
	DisconnectReasonWriteError          = "write_error"          // Write to client failed
	DisconnectReasonIdleTimeout         = "idle_timeout"         // No inbound frame within the idle window
	DisconnectReasonRateLimitExceeded   = "rate_limit_exceeded"  // Client sent too many messages
	DisconnectReasonFrameTooLarge       = "frame_too_large"      // Inbound frame over the size ceiling
	DisconnectReasonHandshakeTimeout    = "handshake_timeout"    // No handshake frame in time
	DisconnectReasonHandshakeInvalid    = "handshake_invalid"    // First frame was not a valid handshake
	DisconnectReasonDuplicateConnection = "duplicate_connection" // Newer connection claimed the same user id
	DisconnectReasonServerShutdown      = "server_shutdown"      // Graceful shutdown
	DisconnectReasonClientInitiated     = "client_initiated"     // Normal close from client
)

// Who initiated the disconnect
const (
	DisconnectInitiatedByClient = "client"
	DisconnectInitiatedByServer = "server"
)

// RecordConnect tracks an accepted WebSocket connection
func RecordConnect(currentConnections int64) {
	connectionsTotal.Inc()
	connectionsActive.Set(float64(currentConnections))
}

// RecordDisconnect tracks a disconnect with reason, initiator, and duration
func RecordDisconnect(reason, initiatedBy string, duration time.Duration, currentConnections int64) {
	disconnectsTotal.WithLabelValues(reason, initiatedBy).Inc()
	connectionDuration.WithLabelValues(reason).Observe(duration.Seconds())
	connectionsActive.Set(float64(currentConnections))
}

// UpdateMessageMetrics updates message-related metrics
func UpdateMessageMetrics(sent, received int64) {
	if sent > 0 {
		messagesSent.Add(float64(sent))
	}
	if received > 0 {
		messagesReceived.Add(float64(received))
	}
}

// UpdateBytesMetrics updates bytes sent/received metrics
func UpdateBytesMetrics(sent, received int64) {
	if sent > 0 {
		bytesSent.Add(float64(sent))
	}
	if received > 0 {
		bytesReceived.Add(float64(received))
	}
}

// IncrementBroadcastsDropped increments the dropped-frame counter (send queue full)
func IncrementBroadcastsDropped() {
	broadcastsDropped.Inc()
}

// IncrementRateLimitedCloses increments the rate-limit close counter
func IncrementRateLimitedCloses() {
	rateLimitedCloses.Inc()
}

// RecordReactionSample counts a sample accepted into a user window
func RecordReactionSample() {
	reactionSamples.Inc()
}

// RecordEffect counts an emitted effect by type
func RecordEffect(effectType string) {
	effectsEmitted.WithLabelValues(effectType).Inc()
}

// RecordTick observes a tick duration and the active user count it saw
func RecordTick(duration time.Duration, active int) {
	tickDuration.Observe(duration.Seconds())
	activeUsers.Set(float64(active))
}

// RecordPersistenceError counts a best-effort persistence failure by operation
func RecordPersistenceError(op string) {
	persistenceErrors.WithLabelValues(op).Inc()
}

// UpdateSystemMetrics updates process-level gauges from the system monitor
func UpdateSystemMetrics(cpuPercent float64, memoryBytes uint64, goroutines int) {
	cpuUsagePercent.Set(cpuPercent)
	memoryUsageBytes.Set(float64(memoryBytes))
	goroutinesActive.Set(float64(goroutines))
}

// HandleMetrics serves Prometheus metrics at /metrics endpoint
func HandleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}
