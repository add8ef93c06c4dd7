package api

import (
	"net/http"

	"github.com/dennisdiepolder/monti/wallboard/internal/auth"
	"github.com/dennisdiepolder/monti/wallboard/internal/storage"
	"github.com/dennisdiepolder/monti/wallboard/internal/types"
	"github.com/rs/zerolog"
)

// Roller resets the daily counter window
type Roller interface {
	Rollover()
}

// AdminHandler handles operator actions
type AdminHandler struct {
	roller Roller
	store  storage.Store
	logger zerolog.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(roller Roller, store storage.Store, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		roller: roller,
		store:  store,
		logger: logger.With().Str("component", "admin_api").Logger(),
	}
}

// RequireAdmin middleware, only the admin role is allowed
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.GetUserFromContext(r.Context())
		if !ok || !auth.HasRole(claims, "admin") {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Rollover resets the answered/missed/cancelled counters now
// POST /api/admin/rollover
func (h *AdminHandler) Rollover(w http.ResponseWriter, r *http.Request) {
	h.roller.Rollover()

	subject := ""
	if claims, ok := auth.GetUserFromContext(r.Context()); ok {
		subject = claims.Subject
	}
	h.logger.Info().Str("subject", subject).Msg("counter rollover via admin")

	writeJSON(w, http.StatusOK, map[string]string{"message": "counters rolled over"})
}

// ListInstalls returns stored installs without credentials
// GET /api/admin/installs
func (h *AdminHandler) ListInstalls(w http.ResponseWriter, r *http.Request) {
	installs, err := h.store.ListInstalls(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list installs")
		writeError(w, http.StatusInternalServerError, "failed to list installs")
		return
	}
	if installs == nil {
		installs = []types.Install{}
	}
	writeJSON(w, http.StatusOK, installs)
}
