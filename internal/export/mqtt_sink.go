package export

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/live-translator/internal/observability"
	"github.com/lexiqai/live-translator/internal/resilience"
)

const defaultAckTimeout = 5 * time.Second

// MQTTConfig configures the message-bus sink
type MQTTConfig struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	AckTimeout  time.Duration // per publish, 0 means 5s
}

// MQTTSink publishes each file as a retained message on a topic named after its path
type MQTTSink struct {
	client     paho.Client
	prefix     string
	ackTimeout time.Duration
}

// NewMQTTSink connects to the broker
func NewMQTTSink(cfg MQTTConfig, logger zerolog.Logger) (*MQTTSink, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "live-translator-" + uuid.New().String()[:8]
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	logger = observability.Component(logger, "export")
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Error().Err(err).Msg("MQTT connection lost")
	})

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}

	ackTimeout := cfg.AckTimeout
	if ackTimeout <= 0 {
		ackTimeout = defaultAckTimeout
	}
	return &MQTTSink{client: client, prefix: strings.Trim(cfg.TopicPrefix, "/"), ackTimeout: ackTimeout}, nil
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) topic(p string) string {
	if s.prefix == "" {
		return p
	}
	return path.Join(s.prefix, p)
}

// Write publishes with QoS 1 and waits for the broker acknowledgement. A
// missing acknowledgement is retryable; an expired ctx is not.
func (s *MQTTSink) Write(ctx context.Context, p string, content []byte) error {
	topic := s.topic(p)
	wait := ackWait(ctx, s.ackTimeout)
	token := s.client.Publish(topic, 1, true, content)
	if !token.WaitTimeout(wait) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return resilience.NewRetryableError(fmt.Errorf("mqtt publish to %s not acknowledged within %s", topic, wait))
	}
	return token.Error()
}

// ackWait bounds the acknowledgement wait by the ctx deadline
func ackWait(ctx context.Context, limit time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < limit {
			if left < 0 {
				return 0
			}
			return left
		}
	}
	return limit
}

// Healthy reports whether the broker connection is up
func (s *MQTTSink) Healthy(ctx context.Context) error {
	if !s.client.IsConnectionOpen() {
		return errors.New("mqtt broker connection is down")
	}
	return nil
}

// Close disconnects from the broker
func (s *MQTTSink) Close() {
	s.client.Disconnect(250)
}
