package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/humidity-monitor/internal/observability"
)

// Publisher sends notifications to device topics.
type Publisher struct {
	broker Broker
	prefix string
	qos    byte
	logger *zap.Logger
	now    func() time.Time
}

func NewPublisher(broker Broker, topicPrefix string, qos byte, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{broker: broker, prefix: topicPrefix, qos: qos, logger: logger, now: time.Now}
}

// Publish sends n to one device. ID and SentAt are filled in when empty.
func (p *Publisher) Publish(ctx context.Context, token string, n Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.SentAt.IsZero() {
		n.SentAt = p.now().UTC()
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	topic := DeviceTopic(p.prefix, token)
	if err := p.broker.Publish(ctx, topic, p.qos, data); err != nil {
		observability.PushPublishTotal.WithLabelValues("error").Inc()
		p.logger.Error("failed to publish notification", zap.String("topic", topic), zap.Error(err))
		return err
	}
	observability.PushPublishTotal.WithLabelValues("success").Inc()
	p.logger.Debug("published notification", zap.String("topic", topic), zap.String("id", n.ID))
	return nil
}

// Broadcast sends n to every token and returns how many succeeded along with the
// joined failures.
func (p *Publisher) Broadcast(ctx context.Context, tokens []string, n Notification) (int, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	var errs []error
	sent := 0
	for _, token := range tokens {
		if err := p.Publish(ctx, token, n); err != nil {
			errs = append(errs, fmt.Errorf("device %s: %w", token, err))
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}
