package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/raulk/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/dockpulse/pkg/telemetry"
)

// doneToken is an already completed mqtt.Token.
type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type fakeMessage struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

// fakeClient stands in for the paho client. Unused methods panic through the
// nil embedded interface.
type fakeClient struct {
	mqtt.Client
	opts *mqtt.ClientOptions

	mu         sync.Mutex
	connected  bool
	connects   int
	connectErr error
	callback   mqtt.MessageHandler
	topics     []string
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	c.connects++
	err := c.connectErr
	if err == nil {
		c.connected = true
	}
	c.mu.Unlock()

	if err == nil && c.opts.OnConnect != nil {
		c.opts.OnConnect(c)
	}
	return doneToken{err: err}
}

func (c *fakeClient) Subscribe(topic string, qos byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
	c.topics = append(c.topics, topic)
	return doneToken{}
}

func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token { return doneToken{} }

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) deliver(topic string, payload []byte) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	cb(c, fakeMessage{topic: topic, payload: payload})
}

func (c *fakeClient) drop(err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.opts.OnConnectionLost(c, err)
}

func (c *fakeClient) connectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

type readingSink struct {
	mu       sync.Mutex
	readings []telemetry.Reading
	err      error
}

func (s *readingSink) handle(r telemetry.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = append(s.readings, r)
	return s.err
}

func (s *readingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.readings)
}

func newTestSubscriber(t *testing.T, sink *readingSink) (*Subscriber, *fakeClient, *clock.Mock) {
	t.Helper()
	fc := &fakeClient{}
	mock := clock.NewMock()
	s := NewSubscriber(Config{Broker: "tcp://localhost:1883"}, sink.handle, nil,
		WithClock(mock),
		WithClientFactory(func(o *mqtt.ClientOptions) mqtt.Client {
			fc.opts = o
			return fc
		}),
	)
	return s, fc, mock
}

func TestSubscriberDefaults(t *testing.T) {
	s, fc, _ := newTestSubscriber(t, &readingSink{})

	assert.Equal(t, DefaultTopic, s.cfg.Topic)
	assert.Equal(t, DefaultReconnectDelay, s.cfg.ReconnectDelay)
	assert.True(t, fc.opts.Order)
	assert.False(t, fc.opts.AutoReconnect)
	assert.True(t, fc.opts.CleanSession)
}

func TestSubscriberDeliversReadings(t *testing.T) {
	sink := &readingSink{}
	s, fc, _ := newTestSubscriber(t, sink)

	require.NoError(t, s.Connect(context.Background()))
	assert.True(t, s.IsConnected())
	assert.Equal(t, []string{DefaultTopic}, fc.topics)

	fc.deliver("/OVfiets/asd001", gzipBytes(t, []byte(stationDoc)))
	fc.deliver("/OVfiets/asd001", []byte("garbage"))

	require.Equal(t, 1, sink.count())
	assert.Equal(t, "asd001", sink.readings[0].StationID)

	stats := s.Stats()
	assert.Equal(t, uint64(2), stats.Received)
	assert.Equal(t, uint64(1), stats.Rejected)
}

func TestSubscriberCountsHandlerRejections(t *testing.T) {
	sink := &readingSink{err: errors.New("engine refused")}
	s, fc, _ := newTestSubscriber(t, sink)
	require.NoError(t, s.Connect(context.Background()))

	fc.deliver("/OVfiets/asd001", []byte(stationDoc))
	assert.Equal(t, uint64(1), s.Stats().Rejected)
}

func TestSubscriberReconnectsAfterFixedDelay(t *testing.T) {
	sink := &readingSink{}
	s, fc, mock := newTestSubscriber(t, sink)

	lost := make(chan error, 1)
	s.OnConnectionLost = func(err error) { lost <- err }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return fc.connectCount() == 1 && s.IsConnected() }, time.Second, 5*time.Millisecond)

	fc.drop(errors.New("connection reset"))
	select {
	case err := <-lost:
		assert.EqualError(t, err, "connection reset")
	case <-time.After(time.Second):
		t.Fatal("connection loss not reported")
	}

	// Not before the delay has elapsed.
	mock.Add(DefaultReconnectDelay - time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, fc.connectCount())

	mock.Add(time.Second)
	require.Eventually(t, func() bool { return fc.connectCount() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, s.IsConnected, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run did not return")
	}
	assert.False(t, s.IsConnected())
}

func TestSubscriberRetriesFailedConnect(t *testing.T) {
	s, fc, mock := newTestSubscriber(t, &readingSink{})
	fc.connectErr = errors.New("broker down")

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	require.Eventually(t, func() bool { return fc.connectCount() == 1 }, time.Second, 5*time.Millisecond)

	fc.mu.Lock()
	fc.connectErr = nil
	fc.mu.Unlock()

	require.Eventually(t, func() bool {
		mock.Add(DefaultReconnectDelay)
		return fc.connectCount() == 2
	}, time.Second, 10*time.Millisecond)

	s.Disconnect()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run did not return")
	}

	assert.ErrorIs(t, s.Connect(context.Background()), ErrStopped)
}
