package upload

import (
	"context"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePublisher struct {
	connected bool
	token     mqtt.Token
	messages  []published
}

func (p *fakePublisher) IsConnected() bool { return p.connected }

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.messages = append(p.messages, published{topic, qos, retained, payload.([]byte)})
	return p.token
}

func TestMQTTSink_Publishes(t *testing.T) {
	pub := &fakePublisher{connected: true, token: completedToken(nil)}
	sink := NewMQTTSink(pub, DefaultTopic("Device_Watchc01"), time.Second)

	_, err := sink.Send(context.Background(), []byte(payload))
	require.NoError(t, err)
	require.Len(t, pub.messages, 1)

	msg := pub.messages[0]
	assert.Equal(t, "motion/Device_Watchc01/batch", msg.topic)
	assert.Equal(t, MQTTQoS, msg.qos)
	assert.False(t, msg.retained)
	assert.Equal(t, payload, string(msg.payload))
}

func TestMQTTSink_Offline(t *testing.T) {
	pub := &fakePublisher{token: completedToken(nil)}
	_, err := NewMQTTSink(pub, "t", 0).Send(context.Background(), []byte(payload))
	assert.ErrorIs(t, err, ErrOffline)
	assert.Empty(t, pub.messages)
}

func TestMQTTSink_PublishError(t *testing.T) {
	boom := errors.New("not authorized")
	pub := &fakePublisher{connected: true, token: completedToken(boom)}
	_, err := NewMQTTSink(pub, "t", time.Second).Send(context.Background(), []byte(payload))
	assert.ErrorIs(t, err, boom)
}

func TestMQTTSink_Timeout(t *testing.T) {
	pub := &fakePublisher{connected: true, token: &fakeToken{done: make(chan struct{})}}
	_, err := NewMQTTSink(pub, "t", 10*time.Millisecond).Send(context.Background(), []byte(payload))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDefaultTopic(t *testing.T) {
	assert.Equal(t, "motion/Device_Watchc01/batch", DefaultTopic("Device_Watchc01"))
	assert.Equal(t, "motion/lab_wrist_1/batch", DefaultTopic("lab/wrist#1"))
}
