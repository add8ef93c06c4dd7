package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dennisdiepolder/monti/wallboard/internal/callsim"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// CLI flags
	var (
		controlPort = flag.String("control-port", "8082", "Control API port")
		webhookURL  = flag.String("webhook-url", "http://localhost:8080/webhook", "Wallboard webhook URL")
		token       = flag.String("token", "", "Application token sent with every webhook")
		rate        = flag.Float64("rate", 30, "Calls per minute")
		agents      = flag.Int("agents", 20, "Number of agent ids to draw from")
		answerRate  = flag.Float64("answer-rate", 0.7, "Share of calls that connect")
		outbound    = flag.Float64("outbound-rate", 0.3, "Share of outbound calls")
		duplicate   = flag.Float64("duplicate", 0, "Probability a call has one redelivered webhook")
		missingEnd  = flag.Float64("missing-end", 0, "Probability a call never sends its end webhook")
		outOfOrder  = flag.Float64("out-of-order", 0, "Probability two webhooks of a call swap order")
		autoStart   = flag.Bool("auto-start", false, "Start generating calls immediately")
		logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	)
	flag.Parse()

	// Setup logger
	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	logger := log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Str("service", "callsim").
		Logger()

	cfg := callsim.DefaultConfig()
	cfg.CallsPerMin = *rate
	cfg.Agents = *agents
	cfg.AnswerRate = *answerRate
	cfg.OutboundRate = *outbound
	cfg.Token = *token
	cfg.Faults = callsim.Faults{
		Duplicate:  *duplicate,
		MissingEnd: *missingEnd,
		OutOfOrder: *outOfOrder,
	}

	gen := callsim.NewGenerator(cfg, callsim.NewWebhookSender(*webhookURL), time.Now().UnixNano(), logger)
	api := callsim.NewAPI(gen, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		addr := fmt.Sprintf(":%s", *controlPort)
		if err := api.Start(ctx, addr); err != nil {
			logger.Error().Err(err).Msg("control API stopped")
		}
	}()

	if *autoStart {
		api.StartGenerating()
	}

	logger.Info().
		Str("control_api", fmt.Sprintf("http://localhost:%s", *controlPort)).
		Str("webhook_url", *webhookURL).
		Float64("calls_per_min", *rate).
		Msg("callsim ready")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutting down callsim")
	api.StopGenerating()
	cancel()
}
