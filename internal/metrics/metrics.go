package metrics

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/wallboard/internal/types"
)

// Drop reasons for EventsDropped.
const (
	DropQueueFull     = "queue_full"
	DropNormalization = "normalization"
	DropShutdown      = "shutdown"
)

// Metrics holds all application metrics
type Metrics struct {
	mu sync.RWMutex

	// Webhook metrics
	WebhooksReceivedTotal int64
	WebhooksAcceptedTotal int64
	webhooksRejected      map[string]int64 // reason -> count

	// Engine metrics
	EventsProcessedTotal int64
	eventsDropped        map[string]int64            // reason -> count
	transitions          map[types.Action]int64      // action -> count
	outcomes             map[string]map[string]int64 // direction -> outcome -> count
	lastApplyDuration    time.Duration

	// Reaper metrics
	ReaperSweepsTotal int64
	CallsReapedTotal  int64
	RolloversTotal    int64

	// State gauges, refreshed after every transition
	liveCalls    int
	agentsTotal  int
	agentsOnCall int
	queueDepth   int

	// Install store metrics
	InstallsSavedTotal int64
	InstallErrorsTotal int64

	// WebSocket metrics
	WebSocketConnectionsTotal    int64
	WebSocketDisconnectionsTotal int64
	WebSocketMessagesTotal       int64
	WebSocketErrorsTotal         int64
	activeConnections            int64

	// Broadcast metrics
	BroadcastsTotal    int64
	MQTTPublishesTotal int64
	MQTTErrorsTotal    int64

	// HTTP metrics
	httpRequestsTotal map[string]map[int]int64 // endpoint -> status -> count

	// Timing
	startTime time.Time
}

// Global metrics instance
var instance *Metrics
var once sync.Once

// Get returns the singleton metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	return &Metrics{
		webhooksRejected:  make(map[string]int64),
		eventsDropped:     make(map[string]int64),
		transitions:       make(map[types.Action]int64),
		outcomes:          make(map[string]map[string]int64),
		httpRequestsTotal: make(map[string]map[int]int64),
		startTime:         time.Now(),
	}
}

// RecordWebhookReceived increments the webhook counter
func (m *Metrics) RecordWebhookReceived() {
	m.mu.Lock()
	m.WebhooksReceivedTotal++
	m.mu.Unlock()
}

// RecordWebhookAccepted counts a webhook handed to the dispatcher
func (m *Metrics) RecordWebhookAccepted() {
	m.mu.Lock()
	m.WebhooksAcceptedTotal++
	m.mu.Unlock()
}

// RecordWebhookRejected counts a webhook refused at the transport
func (m *Metrics) RecordWebhookRejected(reason string) {
	m.mu.Lock()
	m.webhooksRejected[reason]++
	m.mu.Unlock()
}

// RecordEventDropped counts an event that never reached the reconciler
func (m *Metrics) RecordEventDropped(reason string) {
	m.mu.Lock()
	m.eventsDropped[reason]++
	m.mu.Unlock()
}

// RecordTransition records one applied event
func (m *Metrics) RecordTransition(t types.Transition, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.EventsProcessedTotal++
	m.transitions[t.Action]++
	m.lastApplyDuration = duration

	if t.Action == types.ActionEnded {
		dir := string(t.Direction)
		if m.outcomes[dir] == nil {
			m.outcomes[dir] = make(map[string]int64)
		}
		m.outcomes[dir][string(t.Outcome)]++
	}
}

// RecordSweep records a reaper pass
func (m *Metrics) RecordSweep(reaped int) {
	m.mu.Lock()
	m.ReaperSweepsTotal++
	m.CallsReapedTotal += int64(reaped)
	m.mu.Unlock()
}

// RecordRollover records a daily counter reset
func (m *Metrics) RecordRollover() {
	m.mu.Lock()
	m.RolloversTotal++
	m.mu.Unlock()
}

// UpdateStateStats refreshes the live state gauges
func (m *Metrics) UpdateStateStats(snap types.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.liveCalls = len(snap.LiveCalls)
	m.agentsTotal = len(snap.Agents)
	m.agentsOnCall = 0
	for _, a := range snap.Agents {
		if a.OnCallNow {
			m.agentsOnCall++
		}
	}
}

// SetQueueDepth records the dispatcher backlog
func (m *Metrics) SetQueueDepth(n int) {
	m.mu.Lock()
	m.queueDepth = n
	m.mu.Unlock()
}

// RecordInstall records an install store write
func (m *Metrics) RecordInstall(err error) {
	m.mu.Lock()
	if err != nil {
		m.InstallErrorsTotal++
	} else {
		m.InstallsSavedTotal++
	}
	m.mu.Unlock()
}

// RecordWebSocketConnect increments connection counters
func (m *Metrics) RecordWebSocketConnect() {
	m.mu.Lock()
	m.WebSocketConnectionsTotal++
	m.activeConnections++
	m.mu.Unlock()
}

// RecordWebSocketDisconnect increments disconnection counter
func (m *Metrics) RecordWebSocketDisconnect() {
	m.mu.Lock()
	m.WebSocketDisconnectionsTotal++
	m.activeConnections--
	m.mu.Unlock()
}

// RecordWebSocketMessage increments message counter
func (m *Metrics) RecordWebSocketMessage() {
	m.mu.Lock()
	m.WebSocketMessagesTotal++
	m.mu.Unlock()
}

// RecordWebSocketError increments WebSocket error counter
func (m *Metrics) RecordWebSocketError() {
	m.mu.Lock()
	m.WebSocketErrorsTotal++
	m.mu.Unlock()
}

// RecordBroadcast counts a snapshot fan-out
func (m *Metrics) RecordBroadcast() {
	m.mu.Lock()
	m.BroadcastsTotal++
	m.mu.Unlock()
}

// RecordMQTTPublish counts an MQTT publish attempt
func (m *Metrics) RecordMQTTPublish(err error) {
	m.mu.Lock()
	if err != nil {
		m.MQTTErrorsTotal++
	} else {
		m.MQTTPublishesTotal++
	}
	m.mu.Unlock()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(endpoint string, statusCode int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.httpRequestsTotal[endpoint] == nil {
		m.httpRequestsTotal[endpoint] = make(map[int]int64)
	}
	m.httpRequestsTotal[endpoint][statusCode]++
}

// DroppedEvents returns the drop count for a reason
func (m *Metrics) DroppedEvents(reason string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.eventsDropped[reason]
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.RLock()
		defer m.mu.RUnlock()

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var b strings.Builder
		write := func(name string, value interface{}, labels ...string) {
			b.WriteString(name)
			if len(labels) > 0 {
				b.WriteByte('{')
				for i := 0; i < len(labels); i += 2 {
					if i > 0 {
						b.WriteByte(',')
					}
					b.WriteString(labels[i] + "=\"" + labels[i+1] + "\"")
				}
				b.WriteByte('}')
			}
			b.WriteByte(' ')

			switch v := value.(type) {
			case int:
				b.WriteString(strconv.Itoa(v))
			case int64:
				b.WriteString(strconv.FormatInt(v, 10))
			case float64:
				b.WriteString(strconv.FormatFloat(v, 'f', 6, 64))
			}
			b.WriteByte('\n')
		}

		write("wallboard_uptime_seconds", time.Since(m.startTime).Seconds())

		write("wallboard_webhooks_received_total", m.WebhooksReceivedTotal)
		write("wallboard_webhooks_accepted_total", m.WebhooksAcceptedTotal)
		for _, reason := range sortedKeys(m.webhooksRejected) {
			write("wallboard_webhooks_rejected_total", m.webhooksRejected[reason], "reason", reason)
		}

		write("wallboard_events_processed_total", m.EventsProcessedTotal)
		for _, reason := range sortedKeys(m.eventsDropped) {
			write("wallboard_events_dropped_total", m.eventsDropped[reason], "reason", reason)
		}
		for action, count := range m.transitions {
			write("wallboard_transitions_total", count, "action", string(action))
		}
		for dir, byOutcome := range m.outcomes {
			for outcome, count := range byOutcome {
				write("wallboard_call_outcomes_total", count, "direction", dir, "outcome", outcome)
			}
		}
		write("wallboard_apply_duration_seconds", m.lastApplyDuration.Seconds())

		write("wallboard_live_calls", m.liveCalls)
		write("wallboard_agents_total", m.agentsTotal)
		write("wallboard_agents_on_call", m.agentsOnCall)
		write("wallboard_dispatch_queue_depth", m.queueDepth)

		write("wallboard_reaper_sweeps_total", m.ReaperSweepsTotal)
		write("wallboard_calls_reaped_total", m.CallsReapedTotal)
		write("wallboard_rollovers_total", m.RolloversTotal)

		write("wallboard_installs_saved_total", m.InstallsSavedTotal)
		write("wallboard_install_errors_total", m.InstallErrorsTotal)

		write("wallboard_websocket_connections_total", m.WebSocketConnectionsTotal)
		write("wallboard_websocket_disconnections_total", m.WebSocketDisconnectionsTotal)
		write("wallboard_websocket_active_connections", m.activeConnections)
		write("wallboard_websocket_messages_total", m.WebSocketMessagesTotal)
		write("wallboard_websocket_errors_total", m.WebSocketErrorsTotal)

		write("wallboard_broadcasts_total", m.BroadcastsTotal)
		write("wallboard_mqtt_publishes_total", m.MQTTPublishesTotal)
		write("wallboard_mqtt_errors_total", m.MQTTErrorsTotal)

		for endpoint, statusCodes := range m.httpRequestsTotal {
			for status, count := range statusCodes {
				write("wallboard_http_requests_total", count, "endpoint", endpoint, "status", strconv.Itoa(status))
			}
		}

		w.Write([]byte(b.String()))
	}
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
