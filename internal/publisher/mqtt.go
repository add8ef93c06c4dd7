package publisher

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MQTTPublisher wraps a Paho MQTT client.
type MQTTPublisher struct {
	client mqtt.Client
	qos    byte
}

// MQTTOptions configures the MQTT publisher.
type MQTTOptions struct {
	Broker   string
	ClientID string
	QoS      byte
	// ConnectTimeout bounds the wait for the first connection. Defaults to
	// DefaultConnectTimeout.
	ConnectTimeout time.Duration
}

// DefaultConnectTimeout is used when MQTTOptions.ConnectTimeout is zero.
const DefaultConnectTimeout = 10 * time.Second

// NewMQTTPublisher creates an MQTT publisher and waits up to ConnectTimeout
// for the first connection. An unreachable broker is not an error: the client
// keeps retrying in the background and publishes fail until it connects.
func NewMQTTPublisher(opts MQTTOptions, logger zerolog.Logger) (*MQTTPublisher, error) {
	logger = logger.With().Str("component", "mqtt").Str("broker", opts.Broker).Logger()

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(60 * time.Second).
		SetOnConnectHandler(func(mqtt.Client) {
			logger.Info().Msg("connected to MQTT broker")
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn().Err(err).Msg("lost MQTT connection")
		})

	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	client := mqtt.NewClient(clientOpts)
	// With ConnectRetry the token only completes once connected.
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		logger.Warn().Dur("timeout", timeout).Msg("MQTT broker not reachable yet, retrying in background")
	} else if err := token.Error(); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("connecting to MQTT broker %s: %w", opts.Broker, err)
	}

	return &MQTTPublisher{
		client: client,
		qos:    opts.QoS,
	}, nil
}

// Connected reports whether the client currently holds a broker connection.
func (p *MQTTPublisher) Connected() bool {
	return p.client.IsConnectionOpen()
}

func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	return p.publish(ctx, topic, payload, false)
}

// PublishRetained publishes with the retain flag, so a subscriber joining
// late still gets the last message on topic.
func (p *MQTTPublisher) PublishRetained(ctx context.Context, topic string, payload []byte) error {
	return p.publish(ctx, topic, payload, true)
}

func (p *MQTTPublisher) publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	token := p.client.Publish(topic, p.qos, retain, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("publishing to %s: %w", topic, ctx.Err())
	}
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}
