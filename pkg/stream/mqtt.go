package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/raulk/clock"

	"github.com/nicktill/dockpulse/pkg/telemetry"
)

// Defaults for the station feed.
const (
	DefaultTopic          = "/OVfiets/#"
	DefaultReconnectDelay = 5 * time.Minute
)

// ErrStopped is returned by Run and Connect after Disconnect.
var ErrStopped = errors.New("subscriber stopped")

// Handler receives every decoded reading, in arrival order.
type Handler func(r telemetry.Reading) error

// Config configures the MQTT subscriber.
type Config struct {
	Broker         string
	Topic          string
	ClientID       string
	QoS            byte
	ReconnectDelay time.Duration
}

// Subscriber consumes station documents from an MQTT topic tree.
//
// Messages are handled one at a time in delivery order. After a connection
// loss the subscriber waits a fixed ReconnectDelay before dialing again.
type Subscriber struct {
	client    mqtt.Client
	cfg       Config
	handler   Handler
	clock     clock.Clock
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	lost     chan error
	stopCh   chan struct{}
	stopOnce sync.Once

	received atomic.Uint64
	rejected atomic.Uint64

	// OnConnectionLost, when set, is called after the connection drops.
	OnConnectionLost func(err error)
}

// SubscriberOption configures a Subscriber.
type SubscriberOption func(*subscriberOptions)

type subscriberOptions struct {
	clock     clock.Clock
	newClient func(*mqtt.ClientOptions) mqtt.Client
}

// WithClock replaces the clock used for receive times and reconnect waits.
func WithClock(c clock.Clock) SubscriberOption {
	return func(o *subscriberOptions) { o.clock = c }
}

// WithClientFactory replaces the paho client constructor.
func WithClientFactory(fn func(*mqtt.ClientOptions) mqtt.Client) SubscriberOption {
	return func(o *subscriberOptions) { o.newClient = fn }
}

// NewSubscriber creates a subscriber that passes decoded readings to handler.
func NewSubscriber(cfg Config, handler Handler, logger *slog.Logger, opts ...SubscriberOption) *Subscriber {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "dockpulse"
	}
	if logger == nil {
		logger = slog.Default()
	}

	o := subscriberOptions{
		clock:     clock.New(),
		newClient: mqtt.NewClient,
	}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Subscriber{
		cfg:     cfg,
		handler: handler,
		clock:   o.clock,
		logger:  logger.With("component", "mqtt"),
		lost:    make(chan error, 1),
		stopCh:  make(chan struct{}),
	}

	copts := mqtt.NewClientOptions()
	copts.AddBroker(cfg.Broker)
	copts.SetClientID(cfg.ClientID)

	// Session settings
	copts.SetCleanSession(true)
	copts.SetOrderMatters(true)

	// Reconnects are driven by Run with a fixed delay.
	copts.SetAutoReconnect(false)
	copts.SetConnectRetry(false)
	copts.SetConnectTimeout(30 * time.Second)

	// Keepalive / timeouts
	copts.SetKeepAlive(30 * time.Second)
	copts.SetPingTimeout(10 * time.Second)

	copts.SetOnConnectHandler(func(_ mqtt.Client) {
		s.setConnected(true)
		s.logger.Info("mqtt connected", "broker", cfg.Broker)
	})

	copts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.setConnected(false)
		s.logger.Warn("mqtt connection lost", "error", err)
		select {
		case s.lost <- err:
		default:
		}
	})

	s.client = o.newClient(copts)
	return s
}

// Run connects, subscribes and keeps the subscription alive until ctx is
// cancelled or Disconnect is called.
func (s *Subscriber) Run(ctx context.Context) error {
	for {
		var lostErr error
		err := s.Connect(ctx)
		switch {
		case errors.Is(err, ErrStopped):
			return nil
		case ctx.Err() != nil:
			s.Disconnect()
			return nil
		case err != nil:
			s.logger.Warn("mqtt connect failed", "error", err, "retry_in", s.cfg.ReconnectDelay)
		default:
			select {
			case lostErr = <-s.lost:
				s.logger.Info("reconnecting after delay", "delay", s.cfg.ReconnectDelay)
			case <-ctx.Done():
				s.Disconnect()
				return nil
			case <-s.stopCh:
				return nil
			}
		}

		wait := s.clock.After(s.cfg.ReconnectDelay)
		if lostErr != nil && s.OnConnectionLost != nil {
			s.OnConnectionLost(lostErr)
		}

		select {
		case <-wait:
		case <-ctx.Done():
			s.Disconnect()
			return nil
		case <-s.stopCh:
			return nil
		}
	}
}

// Connect establishes the broker connection and subscribes to the topic.
func (s *Subscriber) Connect(ctx context.Context) error {
	// Fail fast if already stopped.
	select {
	case <-s.stopCh:
		return ErrStopped
	default:
	}

	// Drop a loss notification left over from a previous session.
	select {
	case <-s.lost:
	default:
	}

	token := s.client.Connect()

	// Wait in a ctx/stop-aware loop.
	const poll = 200 * time.Millisecond
	for !token.WaitTimeout(poll) {
		select {
		case <-ctx.Done():
			s.client.Disconnect(0)
			return ctx.Err()
		case <-s.stopCh:
			s.client.Disconnect(0)
			return ErrStopped
		default:
		}
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	if err := s.subscribe(); err != nil {
		s.client.Disconnect(0)
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

func (s *Subscriber) subscribe() error {
	topic := s.cfg.Topic
	token := s.client.Subscribe(topic, s.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		s.handleMessage(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("subscribe timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	s.logger.Info("subscribed to mqtt topic", "topic", topic, "qos", s.cfg.QoS)
	return nil
}

func (s *Subscriber) handleMessage(topic string, payload []byte) {
	s.received.Add(1)

	reading, err := Decode(topic, payload, s.clock.Now())
	if err != nil {
		s.rejected.Add(1)
		s.logger.Warn("dropping station message", "topic", topic, "size", len(payload), "error", err)
		return
	}
	s.logger.Debug("received station update", "station", reading.StationID, "value", reading.Value)

	if s.handler == nil {
		return
	}
	if err := s.handler(reading); err != nil {
		s.rejected.Add(1)
		s.logger.Warn("station update rejected", "station", reading.StationID, "error", err)
	}
}

// IsConnected returns whether the client is connected.
func (s *Subscriber) IsConnected() bool {
	s.mu.RLock()
	connected := s.connected
	s.mu.RUnlock()
	return connected && s.client.IsConnected()
}

// Stats reports message counters.
type Stats struct {
	Connected bool   `json:"connected"`
	Received  uint64 `json:"received"`
	Rejected  uint64 `json:"rejected"`
}

// Stats returns the subscriber's counters.
func (s *Subscriber) Stats() Stats {
	return Stats{
		Connected: s.IsConnected(),
		Received:  s.received.Load(),
		Rejected:  s.rejected.Load(),
	}
}

// Disconnect stops the subscriber and closes the MQTT connection.
// Idempotent and safe to call multiple times.
func (s *Subscriber) Disconnect() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	if s.client != nil && s.IsConnected() {
		token := s.client.Unsubscribe(s.cfg.Topic)
		token.WaitTimeout(2 * time.Second)
	}
	if s.client != nil {
		s.client.Disconnect(250)
	}

	s.setConnected(false)
	s.logger.Info("mqtt subscriber disconnected")
}

func (s *Subscriber) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}
