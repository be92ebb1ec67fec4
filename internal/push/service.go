package push

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PlatformAndroid requires a notification channel before a token is issued.
const PlatformAndroid = "android"

// PromptFunc asks the user for notification permission and reports whether it was
// granted.
type PromptFunc func(ctx context.Context) (bool, error)

// Options configures an MQTTService.
type Options struct {
	TopicPrefix string
	Platform    string
	// Permission is the status before any request. Undetermined makes
	// RequestPermissions call Prompt.
	Permission PermissionStatus
	Prompt     PromptFunc
}

// MQTTService is a push Service backed by an MQTT topic per device token.
type MQTTService struct {
	broker Broker
	opts   Options
	logger *zap.Logger

	mu         sync.Mutex
	permission PermissionStatus
	channel    *Channel
	token      string
	topic      string

	received  *listenerSet[Notification]
	responses *listenerSet[Response]
}

func NewMQTTService(broker Broker, opts Options, logger *zap.Logger) *MQTTService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Permission == "" {
		opts.Permission = PermissionUndetermined
	}
	return &MQTTService{
		broker:     broker,
		opts:       opts,
		logger:     logger,
		permission: opts.Permission,
		received:   newListenerSet[Notification](),
		responses:  newListenerSet[Response](),
	}
}

func (s *MQTTService) RequiresChannel() bool {
	return s.opts.Platform == PlatformAndroid
}

func (s *MQTTService) SetNotificationChannel(ctx context.Context, ch Channel) error {
	if ch.Name == "" {
		return fmt.Errorf("set notification channel: empty name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channel = &ch
	s.logger.Debug("notification channel set",
		zap.String("channel", ch.Name),
		zap.Stringer("importance", ch.Importance))
	return nil
}

func (s *MQTTService) GetPermissions(ctx context.Context) (PermissionStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permission, nil
}

// RequestPermissions prompts only while the status is undetermined. Without a prompt
// the request is denied.
func (s *MQTTService) RequestPermissions(ctx context.Context) (PermissionStatus, error) {
	s.mu.Lock()
	current := s.permission
	s.mu.Unlock()
	if current != PermissionUndetermined {
		return current, nil
	}

	status := PermissionDenied
	if s.opts.Prompt != nil {
		granted, err := s.opts.Prompt(ctx)
		if err != nil {
			return PermissionUndetermined, fmt.Errorf("request permissions: %w", err)
		}
		if granted {
			status = PermissionGranted
		}
	}

	s.mu.Lock()
	s.permission = status
	s.mu.Unlock()
	s.logger.Info("notification permission resolved", zap.String("status", string(status)))
	return status, nil
}

// GetPushToken issues a token and subscribes to its topic. Later calls return the
// same token.
func (s *MQTTService) GetPushToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" {
		return s.token, nil
	}
	if s.permission != PermissionGranted {
		return "", ErrPermissionNotGranted
	}
	qos := ImportanceDefault.qos()
	if s.RequiresChannel() {
		if s.channel == nil {
			return "", ErrChannelRequired
		}
		qos = s.channel.Importance.qos()
	}

	if err := s.broker.Connect(ctx); err != nil {
		return "", fmt.Errorf("get push token: %w", err)
	}
	token := uuid.NewString()
	topic := DeviceTopic(s.opts.TopicPrefix, token)
	if err := s.broker.Subscribe(ctx, topic, qos, s.handleMessage); err != nil {
		return "", fmt.Errorf("get push token: %w", err)
	}
	s.token = token
	s.topic = topic
	s.logger.Info("push token issued", zap.String("topic", topic))
	return token, nil
}

func (s *MQTTService) AddReceivedListener(fn func(Notification)) *Subscription {
	return s.received.add(fn)
}

func (s *MQTTService) AddResponseListener(fn func(Response)) *Subscription {
	return s.responses.add(fn)
}

// Respond reports a user interaction with n to response listeners.
func (s *MQTTService) Respond(n Notification, action string) {
	if action == "" {
		action = DefaultAction
	}
	s.responses.emit(Response{Notification: n, Action: action})
}

// ListenerCount reports attached received and response listeners.
func (s *MQTTService) ListenerCount() (received, responses int) {
	return s.received.len(), s.responses.len()
}

// Close drops the token subscription and disconnects.
func (s *MQTTService) Close(ctx context.Context) {
	s.mu.Lock()
	topic := s.topic
	s.token, s.topic = "", ""
	s.mu.Unlock()
	if topic != "" && s.broker.IsConnected() {
		if err := s.broker.Unsubscribe(ctx, topic); err != nil {
			s.logger.Warn("unsubscribe failed", zap.String("topic", topic), zap.Error(err))
		}
	}
	s.broker.Disconnect()
}

func (s *MQTTService) handleMessage(topic string, payload []byte) {
	var n Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		s.logger.Warn("failed to parse notification",
			zap.String("topic", topic),
			zap.Error(err),
			zap.ByteString("payload", payload))
		return
	}
	s.logger.Debug("notification received", zap.String("topic", topic), zap.String("id", n.ID))
	s.received.emit(n)
}
