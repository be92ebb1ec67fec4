// Package alerting raises push notifications when humidity stays outside configured
// bounds for long enough.
package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/humidity-monitor/internal/models"
	"github.com/kjstillabower/humidity-monitor/internal/observability"
	"github.com/kjstillabower/humidity-monitor/internal/push"
)

const (
	OperatorBelow = "below"
	OperatorAbove = "above"
)

// Rule breaches when the reading is strictly past Threshold in the Operator direction.
// An alarm fires once the breach has lasted Duration.
type Rule struct {
	Name      string
	Operator  string
	Threshold float64
	Duration  time.Duration
}

func (r Rule) breached(value float64) bool {
	switch r.Operator {
	case OperatorBelow:
		return value < r.Threshold
	case OperatorAbove:
		return value > r.Threshold
	default:
		return false
	}
}

func (r Rule) validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if r.Operator != OperatorBelow && r.Operator != OperatorAbove {
		return fmt.Errorf("rule %s: operator must be %q or %q", r.Name, OperatorBelow, OperatorAbove)
	}
	if r.Duration < 0 {
		return fmt.Errorf("rule %s: duration must be >= 0", r.Name)
	}
	return nil
}

// Notifier sends a notification to a set of device tokens. push.Publisher implements it.
type Notifier interface {
	Broadcast(ctx context.Context, tokens []string, n push.Notification) (int, error)
}

// TokenSource lists the devices to notify. devices.Registry implements it.
type TokenSource interface {
	Tokens() []string
}

// Evaluator tracks each rule through CLEAR, PENDING_ALARM and ALARMING and notifies
// every registered device when a rule enters or leaves ALARMING.
type Evaluator struct {
	rules    []Rule
	states   *stateStore
	notifier Notifier
	devices  TokenSource
	logger   *zap.Logger
	now      func() time.Time
	mu       sync.Mutex // serialises evaluations so transitions are not interleaved
}

func NewEvaluator(rules []Rule, notifier Notifier, devices TokenSource, logger *zap.Logger) (*Evaluator, error) {
	for _, r := range rules {
		if err := r.validate(); err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		rules:    rules,
		states:   newStateStore(),
		notifier: notifier,
		devices:  devices,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// ObserveReading evaluates every rule against a fresh reading. Stale readings are
// ignored since they say nothing about the present.
func (e *Evaluator) ObserveReading(ctx context.Context, reading models.HumidityReading) {
	if reading.Stale {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	for _, rule := range e.rules {
		if err := e.evaluate(ctx, rule, reading.Humidity, now); err != nil {
			e.logger.Warn("alert evaluation failed", zap.String("rule", rule.Name), zap.Error(err))
		}
	}
}

// States returns the non-clear rule states.
func (e *Evaluator) States() map[string]State {
	return e.states.snapshot()
}

func (e *Evaluator) evaluate(ctx context.Context, rule Rule, value float64, now time.Time) error {
	state := e.states.get(rule.Name)
	if rule.breached(value) {
		return e.handleBreach(ctx, rule, value, state, now)
	}
	return e.handleNoBreach(ctx, rule, value, state)
}

func (e *Evaluator) handleBreach(ctx context.Context, rule Rule, value float64, state State, now time.Time) error {
	switch state.Status {
	case StatusClear:
		state = State{Status: StatusPending, BreachStartTime: now, LastChecked: now, BreachValue: value}
		e.transition(rule, state)
		if rule.Duration == 0 {
			return e.trigger(ctx, rule, value, state, now)
		}
		return nil
	case StatusPending:
		if now.Sub(state.BreachStartTime) >= rule.Duration {
			return e.trigger(ctx, rule, value, state, now)
		}
		state.LastChecked = now
		state.BreachValue = value
		e.states.set(rule.Name, state)
	case StatusActive:
		state.LastChecked = now
		state.BreachValue = value
		e.states.set(rule.Name, state)
	}
	return nil
}

func (e *Evaluator) handleNoBreach(ctx context.Context, rule Rule, value float64, state State) error {
	switch state.Status {
	case StatusPending:
		// Breach ended before the alarm fired.
		e.states.delete(rule.Name)
		observability.AlertTransitionsTotal.WithLabelValues(rule.Name, string(StatusClear)).Inc()
	case StatusActive:
		e.states.delete(rule.Name)
		observability.AlertTransitionsTotal.WithLabelValues(rule.Name, string(StatusClear)).Inc()
		e.logger.Info("humidity alarm cleared", zap.String("rule", rule.Name), zap.Float64("humidity", value))
		return e.notify(ctx, push.Notification{
			Title: "Humidity back to normal",
			Body:  fmt.Sprintf("Humidity is %.1f%%.", value),
			Data:  map[string]string{"rule": rule.Name, "status": string(StatusClear)},
		})
	}
	return nil
}

func (e *Evaluator) trigger(ctx context.Context, rule Rule, value float64, state State, now time.Time) error {
	state.Status = StatusActive
	state.LastChecked = now
	state.BreachValue = value
	e.transition(rule, state)
	e.logger.Info("humidity alarm triggered",
		zap.String("rule", rule.Name),
		zap.Float64("humidity", value),
		zap.Float64("threshold", rule.Threshold),
		zap.Time("breachStart", state.BreachStartTime))
	return e.notify(ctx, push.Notification{
		Title: alarmTitle(rule),
		Body:  fmt.Sprintf("Humidity is %.1f%%, %s the %.1f%% threshold.", value, rule.Operator, rule.Threshold),
		Data:  map[string]string{"rule": rule.Name, "status": string(StatusActive)},
	})
}

func (e *Evaluator) transition(rule Rule, state State) {
	e.states.set(rule.Name, state)
	observability.AlertTransitionsTotal.WithLabelValues(rule.Name, string(state.Status)).Inc()
}

func (e *Evaluator) notify(ctx context.Context, n push.Notification) error {
	if e.notifier == nil || e.devices == nil {
		return nil
	}
	tokens := e.devices.Tokens()
	if len(tokens) == 0 {
		e.logger.Debug("no devices registered, notification dropped", zap.String("title", n.Title))
		return nil
	}
	sent, err := e.notifier.Broadcast(ctx, tokens, n)
	e.logger.Debug("alert notification sent", zap.Int("devices", len(tokens)), zap.Int("delivered", sent))
	return err
}

func alarmTitle(rule Rule) string {
	if rule.Operator == OperatorBelow {
		return "Humidity low"
	}
	return "Humidity high"
}
