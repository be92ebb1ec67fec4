package push

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Broker is the slice of an MQTT client that push needs.
type Broker interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, topic string, qos byte, payload []byte) error
	Subscribe(ctx context.Context, topic string, qos byte, handler func(topic string, payload []byte)) error
	Unsubscribe(ctx context.Context, topic string) error
	IsConnected() bool
	Disconnect()
}

// BrokerConfig configures the paho client.
type BrokerConfig struct {
	URL            string // tcp://host:1883
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
}

// PahoBroker adapts github.com/eclipse/paho.mqtt.golang to Broker. Sessions are clean,
// so the broker replays its own subscriptions every time paho (re)connects.
type PahoBroker struct {
	client    mqtt.Client
	logger    *zap.Logger
	timeout   time.Duration
	mu        sync.RWMutex
	connected bool
	subs      map[string]subscription

	stopCh   chan struct{}
	stopOnce sync.Once
}

type subscription struct {
	qos     byte
	handler func(topic string, payload []byte)
}

func NewPahoBroker(cfg BrokerConfig, logger *zap.Logger) *PahoBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	b := newBroker(timeout, logger)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.URL)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	// Subscriptions are replayed in onConnect.
	opts.SetResumeSubs(false)

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		logger.Info("mqtt connected", zap.String("broker", cfg.URL))
		b.onConnect(c)
	})
	opts.SetConnectionLostHandler(b.onConnectionLost)

	b.client = mqtt.NewClient(opts)
	return b
}

func newBroker(timeout time.Duration, logger *zap.Logger) *PahoBroker {
	return &PahoBroker{
		logger:  logger,
		timeout: timeout,
		subs:    make(map[string]subscription),
		stopCh:  make(chan struct{}),
	}
}

// onConnect runs on paho's goroutine after every successful (re)connect. A clean
// session starts with no subscriptions, so every recorded topic is subscribed again.
func (b *PahoBroker) onConnect(c mqtt.Client) {
	b.setConnected(true)

	b.mu.RLock()
	subs := make(map[string]subscription, len(b.subs))
	for topic, sub := range b.subs {
		subs[topic] = sub
	}
	b.mu.RUnlock()

	for topic, sub := range subs {
		token := c.Subscribe(topic, sub.qos, messageHandler(sub.handler))
		if err := b.wait(context.Background(), token); err != nil {
			b.logger.Error("mqtt resubscribe failed", zap.String("topic", topic), zap.Error(err))
			continue
		}
		b.logger.Info("mqtt resubscribed", zap.String("topic", topic))
	}
}

func (b *PahoBroker) onConnectionLost(_ mqtt.Client, err error) {
	b.setConnected(false)
	b.logger.Warn("mqtt connection lost", zap.Error(err))
}

func messageHandler(handler func(topic string, payload []byte)) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	}
}

// Connect waits for the initial connection, honouring ctx and Disconnect.
func (b *PahoBroker) Connect(ctx context.Context) error {
	select {
	case <-b.stopCh:
		return fmt.Errorf("broker stopped")
	default:
	}
	if b.IsConnected() {
		return nil
	}
	if err := b.wait(ctx, b.client.Connect()); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	// The OnConnect handler runs on its own goroutine and may not have fired yet.
	b.setConnected(true)
	return nil
}

func (b *PahoBroker) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	if !b.IsConnected() {
		return ErrNotConnected
	}
	if err := b.wait(ctx, b.client.Publish(topic, qos, false, payload)); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (b *PahoBroker) Subscribe(ctx context.Context, topic string, qos byte, handler func(topic string, payload []byte)) error {
	if !b.IsConnected() {
		return ErrNotConnected
	}
	if err := b.wait(ctx, b.client.Subscribe(topic, qos, messageHandler(handler))); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	b.mu.Lock()
	b.subs[topic] = subscription{qos: qos, handler: handler}
	b.mu.Unlock()
	b.logger.Info("subscribed to mqtt topic", zap.String("topic", topic), zap.Uint8("qos", qos))
	return nil
}

func (b *PahoBroker) Unsubscribe(ctx context.Context, topic string) error {
	b.mu.Lock()
	delete(b.subs, topic)
	b.mu.Unlock()
	if !b.IsConnected() {
		return ErrNotConnected
	}
	if err := b.wait(ctx, b.client.Unsubscribe(topic)); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", topic, err)
	}
	return nil
}

func (b *PahoBroker) IsConnected() bool {
	b.mu.RLock()
	connected := b.connected
	b.mu.RUnlock()
	return connected && b.client.IsConnectionOpen()
}

// Disconnect is idempotent. Connect fails afterwards.
func (b *PahoBroker) Disconnect() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.client.Disconnect(250)
	b.setConnected(false)
	b.logger.Info("mqtt disconnected")
}

func (b *PahoBroker) setConnected(v bool) {
	b.mu.Lock()
	b.connected = v
	b.mu.Unlock()
}

// wait polls the token so ctx cancellation and Disconnect are observed.
func (b *PahoBroker) wait(ctx context.Context, token mqtt.Token) error {
	deadline := time.Now().Add(b.timeout)
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			return token.Error()
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out after %s", b.timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.stopCh:
			return fmt.Errorf("broker stopped")
		default:
		}
	}
}
