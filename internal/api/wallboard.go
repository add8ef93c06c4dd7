package api

import (
	"encoding/json"
	"net/http"

	"github.com/dennisdiepolder/monti/wallboard/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// StateReader is the read side of the call engine
type StateReader interface {
	Snapshot() types.Snapshot
	Calls() []types.CallRecord
	Call(callID string) (types.CallRecord, bool)
	Agent(agentID string) (types.AgentRecord, bool)
}

// WallboardHandler serves the polling view of the wallboard state
type WallboardHandler struct {
	state  StateReader
	logger zerolog.Logger
}

// NewWallboardHandler creates a new WallboardHandler
func NewWallboardHandler(state StateReader, logger zerolog.Logger) *WallboardHandler {
	return &WallboardHandler{
		state:  state,
		logger: logger.With().Str("component", "wallboard_api").Logger(),
	}
}

// GetSnapshot returns counters, live calls and agents
// GET /api/snapshot
func (h *WallboardHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.state.Snapshot())
}

// ListCalls returns every live call record
// GET /api/calls
func (h *WallboardHandler) ListCalls(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.state.Calls())
}

// GetCall returns one live call
// GET /api/calls/{callId}
func (h *WallboardHandler) GetCall(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callId")
	rec, ok := h.state.Call(callID)
	if !ok {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListAgents returns every known agent
// GET /api/agents
func (h *WallboardHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents := h.state.Snapshot().Agents
	if agents == nil {
		agents = []types.AgentRecord{}
	}
	writeJSON(w, http.StatusOK, agents)
}

// GetAgent returns one agent
// GET /api/agents/{agentId}
func (h *WallboardHandler) GetAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	rec, ok := h.state.Agent(agentID)
	if !ok {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
