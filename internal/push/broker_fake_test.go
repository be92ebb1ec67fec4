package push

import (
	"context"
	"errors"
	"sync"
)

// memBroker routes publishes to subscribers in-process.
type memBroker struct {
	mu         sync.Mutex
	connected  bool
	connectErr error
	publishErr error
	subs       map[string]func(string, []byte)
	subQoS     map[string]byte
	published  []string
}

func newMemBroker() *memBroker {
	return &memBroker{subs: make(map[string]func(string, []byte)), subQoS: make(map[string]byte)}
}

func (b *memBroker) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connectErr != nil {
		return b.connectErr
	}
	b.connected = true
	return nil
}

func (b *memBroker) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return ErrNotConnected
	}
	if b.publishErr != nil {
		b.mu.Unlock()
		return b.publishErr
	}
	b.published = append(b.published, topic)
	h := b.subs[topic]
	b.mu.Unlock()
	if h != nil {
		h(topic, payload)
	}
	return nil
}

func (b *memBroker) Subscribe(ctx context.Context, topic string, qos byte, handler func(string, []byte)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return ErrNotConnected
	}
	b.subs[topic] = handler
	b.subQoS[topic] = qos
	return nil
}

func (b *memBroker) Unsubscribe(ctx context.Context, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[topic]; !ok {
		return errors.New("not subscribed")
	}
	delete(b.subs, topic)
	return nil
}

func (b *memBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *memBroker) Disconnect() {
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
}
