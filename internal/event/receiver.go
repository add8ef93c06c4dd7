package event

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dennisdiepolder/monti/wallboard/internal/metrics"
	"github.com/dennisdiepolder/monti/wallboard/internal/normalizer"
	"github.com/dennisdiepolder/monti/wallboard/internal/types"
	"github.com/rs/zerolog"
)

// Enqueuer accepts decoded records for asynchronous reconciliation
type Enqueuer interface {
	Enqueue(raw map[string]any) bool
}

// InstallSaver persists portal install credentials
type InstallSaver interface {
	SaveInstall(ctx context.Context, install types.Install) error
}

const installTimeout = 10 * time.Second

// Receiver handles incoming telephony webhooks. It acknowledges as soon as
// the body is decoded and authorized; reconciliation happens on the queue.
type Receiver struct {
	queue  Enqueuer
	store  InstallSaver
	token  string
	logger zerolog.Logger
	now    func() time.Time

	received int64
	accepted int64
	rejected int64
	installs int64

	mu           sync.RWMutex
	lastReceived time.Time

	pending sync.WaitGroup
}

// NewReceiver creates a new webhook receiver. An empty token disables the
// gate; a nil store ignores install events.
func NewReceiver(queue Enqueuer, store InstallSaver, token string, logger zerolog.Logger) *Receiver {
	return &Receiver{
		queue:  queue,
		store:  store,
		token:  token,
		logger: logger.With().Str("component", "webhook").Logger(),
		now:    time.Now,
	}
}

// HandleEvent receives one webhook delivery
func (r *Receiver) HandleEvent(w http.ResponseWriter, req *http.Request) {
	m := metrics.Get()

	if req.Method != http.MethodPost {
		m.RecordWebhookRejected("method")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	m.RecordWebhookReceived()
	count := atomic.AddInt64(&r.received, 1)
	r.mu.Lock()
	r.lastReceived = r.now()
	r.mu.Unlock()

	raw, err := DecodeBody(w, req)
	if err != nil {
		r.logger.Warn().Err(err).Str("content_type", req.Header.Get("Content-Type")).Msg("failed to decode webhook")
		m.RecordWebhookRejected("decode")
		atomic.AddInt64(&r.rejected, 1)
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	if !r.authorized(req, raw) {
		r.logger.Warn().Str("remote", req.RemoteAddr).Msg("webhook token mismatch")
		m.RecordWebhookRejected("token")
		atomic.AddInt64(&r.rejected, 1)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	m.RecordWebhookAccepted()
	atomic.AddInt64(&r.accepted, 1)
	writeAccepted(w)

	if isInstallEvent(raw) {
		r.saveInstall(raw)
		return
	}

	r.queue.Enqueue(raw)

	if count%1000 == 0 {
		r.logger.Info().Int64("total_received", count).Msg("webhooks received")
	}
}

func (r *Receiver) authorized(req *http.Request, raw map[string]any) bool {
	if r.token == "" {
		return true
	}
	return TokenMatches(r.token,
		normalizer.LookupString(raw, "auth.application_token"),
		req.Header.Get("X-Webhook-Token"),
		req.URL.Query().Get("token"),
	)
}

// TokenMatches reports whether any non-empty candidate equals want, in
// constant time.
func TokenMatches(want string, candidates ...string) bool {
	for _, c := range candidates {
		if c != "" && subtle.ConstantTimeCompare([]byte(c), []byte(want)) == 1 {
			return true
		}
	}
	return false
}

func isInstallEvent(raw map[string]any) bool {
	kind := strings.ToUpper(normalizer.LookupString(raw, "event"))
	return strings.Contains(kind, "APPINSTALL")
}

// saveInstall writes the install record without holding up the response.
func (r *Receiver) saveInstall(raw map[string]any) {
	install := InstallFromRecord(raw, r.now())
	if r.store == nil || install.MemberID == "" {
		r.logger.Warn().Str("member_id", install.MemberID).Msg("install event ignored")
		return
	}
	atomic.AddInt64(&r.installs, 1)

	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), installTimeout)
		defer cancel()

		err := r.store.SaveInstall(ctx, install)
		metrics.Get().RecordInstall(err)
		if err != nil {
			r.logger.Error().Err(err).Str("member_id", install.MemberID).Msg("failed to save install")
			return
		}
		r.logger.Info().Str("member_id", install.MemberID).Str("domain", install.Domain).Msg("install saved")
	}()
}

// Wait blocks until pending install writes have finished.
func (r *Receiver) Wait() {
	r.pending.Wait()
}

// InstallFromRecord extracts install credentials from an install webhook.
func InstallFromRecord(raw map[string]any, at time.Time) types.Install {
	expires, _ := strconv.Atoi(normalizer.LookupString(raw, "auth.expires_in"))
	return types.Install{
		MemberID:         normalizer.LookupString(raw, "auth.member_id"),
		Domain:           normalizer.LookupString(raw, "auth.domain"),
		AccessToken:      normalizer.LookupString(raw, "auth.access_token"),
		RefreshToken:     normalizer.LookupString(raw, "auth.refresh_token"),
		ApplicationToken: normalizer.LookupString(raw, "auth.application_token"),
		ExpiresIn:        expires,
		InstalledAt:      at.UTC().Format(time.RFC3339),
	}
}

func writeAccepted(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

// Stats is a point-in-time view of receiver counters
type Stats struct {
	Received     int64     `json:"received"`
	Accepted     int64     `json:"accepted"`
	Rejected     int64     `json:"rejected"`
	Installs     int64     `json:"installs"`
	LastReceived time.Time `json:"lastReceived"`
}

// Stats returns receiver statistics
func (r *Receiver) Stats() Stats {
	r.mu.RLock()
	last := r.lastReceived
	r.mu.RUnlock()
	return Stats{
		Received:     atomic.LoadInt64(&r.received),
		Accepted:     atomic.LoadInt64(&r.accepted),
		Rejected:     atomic.LoadInt64(&r.rejected),
		Installs:     atomic.LoadInt64(&r.installs),
		LastReceived: last,
	}
}

// GetStats serves receiver statistics as JSON
func (r *Receiver) GetStats(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(r.Stats())
}
