package upload

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/banshee-data/motion.report/internal/security"
)

// Publisher is the subset of mqtt.Client used by MQTTSink.
type Publisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTQoS is the delivery level batches are published with.
const MQTTQoS byte = 1

// MQTTSink publishes batch payloads to a broker topic.
type MQTTSink struct {
	client  Publisher
	topic   string
	timeout time.Duration
}

// NewMQTTSink returns a sink publishing to topic. A non-positive timeout
// selects DefaultTimeout.
func NewMQTTSink(client Publisher, topic string, timeout time.Duration) *MQTTSink {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &MQTTSink{client: client, topic: topic, timeout: timeout}
}

// DefaultTopic is the batch topic for a device. The device id is sanitized
// into a single topic level.
func DefaultTopic(deviceID string) string {
	return "motion/" + security.SanitizeTopicLevel(deviceID) + "/batch"
}

// Send publishes payload and waits for the broker acknowledgement.
func (s *MQTTSink) Send(ctx context.Context, payload []byte) (int, error) {
	if !s.client.IsConnected() {
		return 0, ErrOffline
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	token := s.client.Publish(s.topic, MQTTQoS, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return 0, fmt.Errorf("publish to %s: %w", s.topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return 0, fmt.Errorf("publish to %s: %w", s.topic, err)
	}
	return 0, nil
}

// DialMQTT creates a client for broker that connects, and reconnects, in the
// background. Until the first connection succeeds the sink reports
// ErrOffline.
func DialMQTT(broker, deviceID string) mqtt.Client {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(fmt.Sprintf("%s-%s", deviceID, uuid.NewString()[:8])).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)
	client := mqtt.NewClient(opts)
	client.Connect()
	return client
}
