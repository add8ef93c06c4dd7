package callsim

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Sender delivers one webhook form
type Sender interface {
	Send(ctx context.Context, form url.Values) error
}

// WebhookSender posts forms to the wallboard webhook endpoint
type WebhookSender struct {
	url    string
	client *http.Client
}

// NewWebhookSender creates a sender for the given webhook URL
func NewWebhookSender(webhookURL string) *WebhookSender {
	return &WebhookSender{
		url:    webhookURL,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Send posts the form url-encoded, as the portal does
func (s *WebhookSender) Send(ctx context.Context, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

// Config controls call generation
type Config struct {
	CallsPerMin  float64
	Agents       int
	AnswerRate   float64
	OutboundRate float64
	MaxRing      time.Duration
	MaxTalk      time.Duration
	Token        string
	Faults       Faults
}

// DefaultConfig returns a moderate call mix without delivery faults
func DefaultConfig() Config {
	return Config{
		CallsPerMin:  30,
		Agents:       20,
		AnswerRate:   0.7,
		OutboundRate: 0.3,
		MaxRing:      20 * time.Second,
		MaxTalk:      3 * time.Minute,
	}
}

// Stats are cumulative generator counters
type Stats struct {
	CallsStarted int64 `json:"callsStarted"`
	EventsSent   int64 `json:"eventsSent"`
	SendErrors   int64 `json:"sendErrors"`
}

// Generator produces calls at a configurable rate and replays their webhook
// sequences against a Sender.
type Generator struct {
	mu     sync.Mutex
	cfg    Config
	rng    *rand.Rand
	sender Sender
	logger zerolog.Logger

	callsStarted atomic.Int64
	eventsSent   atomic.Int64
	sendErrors   atomic.Int64
}

// NewGenerator creates a Generator
func NewGenerator(cfg Config, sender Sender, seed int64, logger zerolog.Logger) *Generator {
	return &Generator{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(seed)),
		sender: sender,
		logger: logger.With().Str("component", "callsim").Logger(),
	}
}

// SetRate changes the call rate; it takes effect for the next call
func (g *Generator) SetRate(callsPerMin float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cfg.CallsPerMin = callsPerMin
}

// Config returns a copy of the current config
func (g *Generator) Config() Config {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg
}

// Stats returns generator counters
func (g *Generator) Stats() Stats {
	return Stats{
		CallsStarted: g.callsStarted.Load(),
		EventsSent:   g.eventsSent.Load(),
		SendErrors:   g.sendErrors.Load(),
	}
}

// NextCall draws a random call and its webhook sequence
func (g *Generator) NextCall() (Call, []Step) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c := Call{
		ID:       uuid.NewString(),
		Outbound: g.rng.Float64() < g.cfg.OutboundRate,
		Answered: g.rng.Float64() < g.cfg.AnswerRate,
		Ring:     randDuration(g.rng, g.cfg.MaxRing),
		Talk:     randDuration(g.rng, g.cfg.MaxTalk),
	}
	if c.Answered && g.cfg.Agents > 0 {
		c.AgentID = strconv.Itoa(g.rng.Intn(g.cfg.Agents) + 1)
	}
	if !c.Answered {
		c.Talk = 0
	}
	return c, Steps(c, g.cfg.Faults, g.cfg.Token, g.rng)
}

// Run starts calls until ctx is cancelled and waits for in-flight calls
func (g *Generator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		rate := g.Config().CallsPerMin
		wait := time.Second
		if rate > 0 {
			wait = time.Duration(float64(time.Minute) / rate)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		if rate <= 0 {
			continue
		}

		c, steps := g.NextCall()
		g.callsStarted.Add(1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Play(ctx, c, steps)
		}()
	}
}

// Play delivers the steps of one call at their offsets
func (g *Generator) Play(ctx context.Context, c Call, steps []Step) {
	start := time.Now()
	for _, s := range steps {
		if d := s.At - time.Since(start); d > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(d):
			}
		}
		if err := g.sender.Send(ctx, s.Form); err != nil {
			g.sendErrors.Add(1)
			g.logger.Warn().Err(err).Str("call_id", c.ID).Str("event", s.Event()).Msg("failed to send webhook")
			continue
		}
		g.eventsSent.Add(1)
		g.logger.Debug().Str("call_id", c.ID).Str("event", s.Event()).Msg("webhook sent")
	}
}

func randDuration(rng *rand.Rand, max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rng.Int63n(int64(max)))
}
