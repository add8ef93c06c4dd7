package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dennisdiepolder/monti/wallboard/internal/event"
	"github.com/dennisdiepolder/monti/wallboard/internal/metrics"
	"github.com/dennisdiepolder/monti/wallboard/internal/storage"
	"github.com/dennisdiepolder/monti/wallboard/internal/types"
	"github.com/rs/zerolog"
)

// InstallHandler stores the credentials posted when the app is installed
// into a portal. With a token set, posts must carry it like webhooks do.
type InstallHandler struct {
	store  storage.Store
	token  string
	logger zerolog.Logger
	now    func() time.Time
}

// NewInstallHandler creates a new InstallHandler
func NewInstallHandler(store storage.Store, token string, logger zerolog.Logger) *InstallHandler {
	return &InstallHandler{
		store:  store,
		token:  token,
		logger: logger.With().Str("component", "install").Logger(),
		now:    time.Now,
	}
}

// HandleInstall handles POST /install
func (h *InstallHandler) HandleInstall(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}

	if h.token != "" && !event.TokenMatches(h.token,
		r.Header.Get("X-Webhook-Token"),
		r.URL.Query().Get("token"),
		r.PostForm.Get("token"),
	) {
		h.logger.Warn().Str("remote", r.RemoteAddr).Msg("install rejected: bad token")
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	// Portals post the install form with the domain in the query string.
	domain := r.PostForm.Get("DOMAIN")
	if domain == "" {
		domain = r.URL.Query().Get("DOMAIN")
	}
	expires, _ := strconv.Atoi(r.PostForm.Get("AUTH_EXPIRES"))

	install := types.Install{
		MemberID:         r.PostForm.Get("member_id"),
		Domain:           domain,
		AccessToken:      r.PostForm.Get("AUTH_ID"),
		RefreshToken:     r.PostForm.Get("REFRESH_ID"),
		ApplicationToken: r.PostForm.Get("APP_SID"),
		ExpiresIn:        expires,
		InstalledAt:      h.now().UTC().Format(time.RFC3339),
	}
	if install.MemberID == "" || install.AccessToken == "" {
		writeError(w, http.StatusBadRequest, "member_id and AUTH_ID are required")
		return
	}

	err := h.store.SaveInstall(r.Context(), install)
	metrics.Get().RecordInstall(err)
	if err != nil {
		h.logger.Error().Err(err).Str("member_id", install.MemberID).Msg("failed to save install")
		writeError(w, http.StatusInternalServerError, "failed to save install")
		return
	}

	h.logger.Info().Str("member_id", install.MemberID).Str("domain", domain).Msg("app installed")
	writeJSON(w, http.StatusOK, map[string]string{"status": "installed", "memberId": install.MemberID})
}
