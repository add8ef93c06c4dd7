package callsim

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Status is the control API view of the simulator
type Status struct {
	Running     bool       `json:"running"`
	CallsPerMin float64    `json:"callsPerMin"`
	Faults      Faults     `json:"faults"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	Stats       Stats      `json:"stats"`
}

// API provides the HTTP control interface for the simulator
type API struct {
	gen    *Generator
	logger zerolog.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt *time.Time
}

// NewAPI creates a new control API
func NewAPI(gen *Generator, logger zerolog.Logger) *API {
	return &API{
		gen:    gen,
		logger: logger.With().Str("component", "callsim_api").Logger(),
	}
}

// SetupRoutes configures HTTP routes
func (api *API) SetupRoutes(router *mux.Router) {
	router.HandleFunc("/health", api.healthHandler).Methods("GET")
	router.HandleFunc("/status", api.statusHandler).Methods("GET")
	router.HandleFunc("/rate", api.rateHandler).Methods("GET", "PUT")
	router.HandleFunc("/start", api.startHandler).Methods("POST")
	router.HandleFunc("/stop", api.stopHandler).Methods("POST")
}

// StartGenerating launches the generator in the background
func (api *API) StartGenerating() bool {
	api.mu.Lock()
	defer api.mu.Unlock()
	if api.cancel != nil {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	now := time.Now()
	api.cancel, api.done, api.startedAt = cancel, done, &now

	go func() {
		defer close(done)
		api.gen.Run(ctx)
	}()
	api.logger.Info().Float64("calls_per_min", api.gen.Config().CallsPerMin).Msg("call generation started")
	return true
}

// StopGenerating cancels the generator and waits for in-flight calls
func (api *API) StopGenerating() bool {
	api.mu.Lock()
	cancel, done := api.cancel, api.done
	api.cancel, api.done, api.startedAt = nil, nil, nil
	api.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	<-done
	api.logger.Info().Msg("call generation stopped")
	return true
}

func (api *API) status() Status {
	api.mu.Lock()
	running, started := api.cancel != nil, api.startedAt
	api.mu.Unlock()

	cfg := api.gen.Config()
	return Status{
		Running:     running,
		CallsPerMin: cfg.CallsPerMin,
		Faults:      cfg.Faults,
		StartedAt:   started,
		Stats:       api.gen.Stats(),
	}
}

func (api *API) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (api *API) statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.status())
}

func (api *API) rateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPut {
		var req struct {
			CallsPerMin float64 `json:"callsPerMin"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.CallsPerMin < 0 || req.CallsPerMin > 6000 {
			http.Error(w, "callsPerMin must be between 0 and 6000", http.StatusBadRequest)
			return
		}
		api.gen.SetRate(req.CallsPerMin)
		api.logger.Info().Float64("calls_per_min", req.CallsPerMin).Msg("call rate updated")
	}
	writeJSON(w, http.StatusOK, map[string]float64{"callsPerMin": api.gen.Config().CallsPerMin})
}

func (api *API) startHandler(w http.ResponseWriter, r *http.Request) {
	if !api.StartGenerating() {
		http.Error(w, "simulation already running", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "simulation started"})
}

func (api *API) stopHandler(w http.ResponseWriter, r *http.Request) {
	if !api.StopGenerating() {
		http.Error(w, "simulation not running", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "simulation stopped"})
}

// Start serves the control API until ctx is cancelled
func (api *API) Start(ctx context.Context, addr string) error {
	router := mux.NewRouter()
	api.SetupRoutes(router)

	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		api.logger.Info().Msg("shutting down control API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	api.logger.Info().Str("addr", addr).Msg("control API started")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
