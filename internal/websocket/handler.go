package websocket

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/dennisdiepolder/monti/wallboard/internal/auth"
	"github.com/dennisdiepolder/monti/wallboard/internal/config"
	"github.com/dennisdiepolder/monti/wallboard/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Handler handles WebSocket upgrade requests
type Handler struct {
	hub      *Hub
	config   *config.Config
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, cfg *config.Config, logger zerolog.Logger) *Handler {
	h := &Handler{
		hub:    hub,
		config: cfg,
		logger: logger.With().Str("component", "websocket").Logger(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// ServeHTTP handles WebSocket upgrade requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		metrics.Get().RecordWebSocketError()
		h.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	var subject string
	if claims, ok := auth.GetUserFromContext(r.Context()); ok {
		subject = claims.Subject
	}

	client := NewClient(h.hub, conn, h.config, subject, h.logger)

	// Register client with hub; the hub replays the latest snapshot
	if !h.hub.join(client) {
		h.logger.Warn().Msg("hub stopped, refusing connection")
		conn.Close()
		return
	}

	client.Start()
}

// checkOrigin accepts same-host requests, requests without an Origin header
// and the configured allowed origins.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	h.logger.Warn().Str("origin", origin).Msg("rejected websocket origin")
	return false
}
