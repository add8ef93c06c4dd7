package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/wallboard/internal/api"
	"github.com/dennisdiepolder/monti/wallboard/internal/auth"
	"github.com/dennisdiepolder/monti/wallboard/internal/broadcast"
	"github.com/dennisdiepolder/monti/wallboard/internal/config"
	"github.com/dennisdiepolder/monti/wallboard/internal/event"
	"github.com/dennisdiepolder/monti/wallboard/internal/ingestion"
	"github.com/dennisdiepolder/monti/wallboard/internal/normalizer"
	"github.com/dennisdiepolder/monti/wallboard/internal/reconciler"
	"github.com/dennisdiepolder/monti/wallboard/internal/storage"
	"github.com/dennisdiepolder/monti/wallboard/internal/types"
	"github.com/dennisdiepolder/monti/wallboard/internal/websocket"
	"github.com/rs/zerolog"
)

func TestHealthHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	healthHandler(rec, req)

	// Check status code
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	// Check content type
	contentType := rec.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", contentType)
	}

	// Parse response body
	var response map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	// Check response fields
	if response["status"] != "ok" {
		t.Errorf("expected status ok, got %s", response["status"])
	}
	if response["service"] != "wallboard" {
		t.Errorf("expected service wallboard, got %s", response["service"])
	}
}

func TestHealthHandlerMethods(t *testing.T) {
	tests := []struct {
		method         string
		expectedStatus int
	}{
		{http.MethodGet, http.StatusOK},
		{http.MethodPost, http.StatusOK},    // Handler doesn't check method
		{http.MethodPut, http.StatusOK},     // Handler doesn't check method
		{http.MethodDelete, http.StatusOK},  // Handler doesn't check method
		{http.MethodOptions, http.StatusOK}, // Handler doesn't check method
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			rec := httptest.NewRecorder()

			healthHandler(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}
		})
	}
}

func newTestServer(t *testing.T, authCfg auth.Config) (*httptest.Server, *ingestion.Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := zerolog.New(&bytes.Buffer{})
	cfg := &config.Config{
		AllowedOrigins: []string{"http://localhost:5173"},
		PingPeriod:     54 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 512,
		Location:       time.UTC,
	}

	store := storage.NewMemoryStore()
	hub := websocket.NewHub(logger)
	go hub.Run(ctx)
	fanout := broadcast.NewFanout([]broadcast.Sink{hub}, logger)

	engine := ingestion.NewEngine(normalizer.New(normalizer.DefaultRules()), reconciler.New(logger), fanout, logger)
	dispatcher := ingestion.NewDispatcher(engine, 16, logger)
	go dispatcher.Run(ctx)

	srv := httptest.NewServer(newRouter(routes{
		cfg:        cfg,
		gate:       auth.NewGate(authCfg, nil, logger),
		receiver:   event.NewReceiver(dispatcher, store, "", logger),
		dispatcher: dispatcher,
		ws:         websocket.NewHandler(hub, cfg, logger),
		wallboard:  api.NewWallboardHandler(engine, logger),
		admin:      api.NewAdminHandler(engine, store, logger),
		install:    api.NewInstallHandler(store, "", logger),
		logger:     logger,
	}))
	t.Cleanup(srv.Close)
	return srv, dispatcher
}

func waitProcessed(t *testing.T, d *ingestion.Dispatcher, n int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for d.Stats().Processed < n {
		if time.Now().After(deadline) {
			t.Fatalf("processed %d events, want %d", d.Stats().Processed, n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebhookToSnapshot(t *testing.T) {
	srv, dispatcher := newTestServer(t, auth.Config{SkipAuth: true})

	post := func(event, callID string, extra url.Values) {
		form := url.Values{"event": {event}, "data[CALL_ID]": {callID}, "data[CALL_TYPE]": {"2"}}
		for k, v := range extra {
			form[k] = v
		}
		resp, err := http.PostForm(srv.URL+"/webhook", form)
		if err != nil {
			t.Fatalf("post %s: %v", event, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("post %s: status %d", event, resp.StatusCode)
		}
	}

	post("ONVOXIMPLANTCALLINIT", "c1", nil)
	post("ONVOXIMPLANTCALLSTART", "c1", url.Values{"data[PORTAL_USER_ID]": {"a1"}})
	post("ONVOXIMPLANTCALLINIT", "c2", nil)
	post("ONVOXIMPLANTCALLEND", "c1", nil)
	waitProcessed(t, dispatcher, 4)

	resp, err := http.Get(srv.URL + "/api/snapshot")
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	defer resp.Body.Close()

	var snap types.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Counters.Incoming.Answered != 1 || snap.Counters.Incoming.InProgress != 1 {
		t.Errorf("counters = %+v, want answered 1 in progress 1", snap.Counters.Incoming)
	}
	if len(snap.LiveCalls) != 1 || snap.LiveCalls[0].CallID != "c2" {
		t.Errorf("live calls = %+v, want only c2", snap.LiveCalls)
	}
}

func TestDashboardRoutesRequireToken(t *testing.T) {
	srv, _ := newTestServer(t, auth.Config{})

	for _, path := range []string{"/api/snapshot", "/api/calls", "/api/agents"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s status = %d, want 401", path, resp.StatusCode)
		}
	}

	// Public routes stay open.
	for _, path := range []string{"/health", "/metrics", "/internal/event/stats", "/internal/queue/stats"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestWebhookWrongMethod(t *testing.T) {
	srv, _ := newTestServer(t, auth.Config{SkipAuth: true})

	resp, err := http.Get(srv.URL + "/webhook")
	if err != nil {
		t.Fatalf("get webhook: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/webhook", strings.NewReader("{broken"))
	req.Header.Set("Content-Type", "application/json")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post webhook: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
