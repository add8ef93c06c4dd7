package callsim

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

func events(steps []Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.Event()
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestStepsWithoutFaults(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	tests := []struct {
		name string
		call Call
		want []string
		code string
	}{
		{"answered inbound", Call{ID: "c1", Answered: true, AgentID: "7", Ring: time.Second, Talk: time.Minute},
			[]string{EventInit, EventStart, EventEnd}, "200"},
		{"missed inbound", Call{ID: "c2", Ring: time.Second},
			[]string{EventInit, EventEnd}, "304"},
		{"cancelled outbound", Call{ID: "c3", Outbound: true},
			[]string{EventInit, EventEnd}, "304"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps := Steps(tt.call, Faults{}, "tok", rng)
			if got := events(steps); !equal(got, tt.want) {
				t.Fatalf("events = %v, want %v", got, tt.want)
			}
			last := steps[len(steps)-1].Form
			if last.Get("data[CALL_FAILED_CODE]") != tt.code {
				t.Errorf("CALL_FAILED_CODE = %q, want %q", last.Get("data[CALL_FAILED_CODE]"), tt.code)
			}
			wantType := "2"
			if tt.call.Outbound {
				wantType = "1"
			}
			for _, s := range steps {
				if s.Form.Get("data[CALL_ID]") != tt.call.ID {
					t.Errorf("step %s has call id %q", s.Event(), s.Form.Get("data[CALL_ID]"))
				}
				if s.Form.Get("data[CALL_TYPE]") != wantType {
					t.Errorf("step %s has call type %q, want %q", s.Event(), s.Form.Get("data[CALL_TYPE]"), wantType)
				}
				if s.Form.Get("auth[application_token]") != "tok" {
					t.Errorf("step %s missing application token", s.Event())
				}
			}
			for i := 1; i < len(steps); i++ {
				if steps[i].At < steps[i-1].At {
					t.Errorf("steps not ordered by time: %v then %v", steps[i-1].At, steps[i].At)
				}
			}
		})
	}
}

func TestStepsFaults(t *testing.T) {
	call := Call{ID: "c1", Answered: true, AgentID: "3", Ring: time.Second, Talk: 10 * time.Second}

	t.Run("missing end", func(t *testing.T) {
		steps := Steps(call, Faults{MissingEnd: 1}, "", rand.New(rand.NewSource(1)))
		if got := events(steps); !equal(got, []string{EventInit, EventStart}) {
			t.Errorf("events = %v", got)
		}
	})

	t.Run("duplicate", func(t *testing.T) {
		steps := Steps(call, Faults{Duplicate: 1}, "", rand.New(rand.NewSource(1)))
		if len(steps) != 4 {
			t.Fatalf("got %d steps, want 4", len(steps))
		}
		seen := map[string]int{}
		for _, s := range steps {
			seen[s.Event()]++
		}
		dups := 0
		for _, n := range seen {
			if n == 2 {
				dups++
			}
		}
		if dups != 1 {
			t.Errorf("expected exactly one duplicated event, got %v", seen)
		}
	})

	t.Run("out of order", func(t *testing.T) {
		steps := Steps(call, Faults{OutOfOrder: 1}, "", rand.New(rand.NewSource(1)))
		if got := events(steps); equal(got, []string{EventInit, EventStart, EventEnd}) {
			t.Errorf("events still in order: %v", got)
		}
		if len(steps) != 3 {
			t.Errorf("got %d steps, want 3", len(steps))
		}
	})
}

type recordingSender struct {
	mu    sync.Mutex
	forms []url.Values
}

func (s *recordingSender) Send(_ context.Context, form url.Values) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forms = append(s.forms, form)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.forms)
}

func TestPlayDeliversAllSteps(t *testing.T) {
	sender := &recordingSender{}
	gen := NewGenerator(DefaultConfig(), sender, 1, zerolog.New(&bytes.Buffer{}))

	call := Call{ID: "c1", Answered: true, AgentID: "1", Ring: 5 * time.Millisecond, Talk: 5 * time.Millisecond}
	gen.Play(context.Background(), call, Steps(call, Faults{}, "", rand.New(rand.NewSource(1))))

	if sender.count() != 3 {
		t.Errorf("sent %d webhooks, want 3", sender.count())
	}
	if gen.Stats().EventsSent != 3 {
		t.Errorf("EventsSent = %d, want 3", gen.Stats().EventsSent)
	}
}

func TestNextCallUsesConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AnswerRate = 1
	cfg.OutboundRate = 0
	cfg.Agents = 5
	gen := NewGenerator(cfg, &recordingSender{}, 42, zerolog.Nop())

	for i := 0; i < 20; i++ {
		c, steps := gen.NextCall()
		if !c.Answered || c.Outbound {
			t.Fatalf("call %+v does not follow config", c)
		}
		if n, err := strconv.Atoi(c.AgentID); err != nil || n < 1 || n > 5 {
			t.Errorf("agent id %q out of range", c.AgentID)
		}
		if len(steps) != 3 {
			t.Errorf("answered call produced %d steps", len(steps))
		}
	}
}

func TestWebhookSender(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		got = r.PostForm
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	form := url.Values{"event": {EventInit}, "data[CALL_ID]": {"c1"}}
	if err := NewWebhookSender(srv.URL).Send(context.Background(), form); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Get("data[CALL_ID]") != "c1" {
		t.Errorf("server received %v", got)
	}

	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer rejecting.Close()
	if err := NewWebhookSender(rejecting.URL).Send(context.Background(), form); err == nil {
		t.Error("expected error for 401 response")
	}
}

func setupTestAPI() (*API, *mux.Router) {
	cfg := DefaultConfig()
	cfg.CallsPerMin = 0
	api := NewAPI(NewGenerator(cfg, &recordingSender{}, 1, zerolog.Nop()), zerolog.Nop())
	router := mux.NewRouter()
	api.SetupRoutes(router)
	return api, router
}

func TestControlAPI(t *testing.T) {
	api, router := setupTestAPI()
	defer api.StopGenerating()

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	if w := do(http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Fatalf("health = %d", w.Code)
	}

	if w := do(http.MethodPut, "/rate", `{"callsPerMin": 120}`); w.Code != http.StatusOK {
		t.Fatalf("put rate = %d", w.Code)
	}
	if w := do(http.MethodPut, "/rate", `{"callsPerMin": -1}`); w.Code != http.StatusBadRequest {
		t.Errorf("negative rate = %d, want 400", w.Code)
	}
	if w := do(http.MethodPost, "/stop", ""); w.Code != http.StatusConflict {
		t.Errorf("stop while idle = %d, want 409", w.Code)
	}
	if w := do(http.MethodPost, "/start", ""); w.Code != http.StatusOK {
		t.Fatalf("start = %d", w.Code)
	}
	if w := do(http.MethodPost, "/start", ""); w.Code != http.StatusConflict {
		t.Errorf("second start = %d, want 409", w.Code)
	}

	w := do(http.MethodGet, "/status", "")
	var status Status
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Running || status.CallsPerMin != 120 || status.StartedAt == nil {
		t.Errorf("status = %+v", status)
	}

	if w := do(http.MethodPost, "/stop", ""); w.Code != http.StatusOK {
		t.Errorf("stop = %d", w.Code)
	}
	if w := do(http.MethodGet, "/start", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /start = %d, want 405", w.Code)
	}
}
