// Package push delivers humidity notifications to devices over MQTT.
//
// The client side (MQTTService) plays the role of a platform push service: it owns
// notification permission, issues a push token and dispatches inbound notifications to
// listeners. The server side (Publisher) sends notifications to a device token.
package push

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrPermissionNotGranted = errors.New("notification permission not granted")
	ErrChannelRequired      = errors.New("notification channel not configured")
	ErrNotConnected         = errors.New("push broker not connected")
)

// PermissionStatus is the user's notification permission.
type PermissionStatus string

const (
	PermissionUndetermined PermissionStatus = "undetermined"
	PermissionGranted      PermissionStatus = "granted"
	PermissionDenied       PermissionStatus = "denied"
)

// ParsePermission maps a config value to a status. Unknown values are undetermined.
func ParsePermission(s string) PermissionStatus {
	switch PermissionStatus(s) {
	case PermissionGranted, PermissionDenied:
		return PermissionStatus(s)
	default:
		return PermissionUndetermined
	}
}

// Importance of a notification channel.
type Importance int

const (
	ImportanceMin Importance = iota + 1
	ImportanceLow
	ImportanceDefault
	ImportanceHigh
	ImportanceMax
)

func (i Importance) String() string {
	switch i {
	case ImportanceMin:
		return "min"
	case ImportanceLow:
		return "low"
	case ImportanceDefault:
		return "default"
	case ImportanceHigh:
		return "high"
	case ImportanceMax:
		return "max"
	default:
		return fmt.Sprintf("importance(%d)", int(i))
	}
}

// qos maps channel importance onto MQTT delivery guarantees.
func (i Importance) qos() byte {
	switch {
	case i >= ImportanceMax:
		return 2
	case i >= ImportanceDefault:
		return 1
	default:
		return 0
	}
}

// Channel is a notification channel as required by some platforms before any
// notification can be shown.
type Channel struct {
	Name       string
	Importance Importance
	Vibration  []time.Duration
	LightColor string
}

// Notification is the payload published to a device topic.
type Notification struct {
	ID     string            `json:"id"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
	SentAt time.Time         `json:"sentAt"`
}

// Response is a user interaction with a delivered notification.
type Response struct {
	Notification Notification
	Action       string
}

// DefaultAction is the action reported when the notification itself is opened.
const DefaultAction = "default"

// Service is what a client needs from a push provider.
type Service interface {
	GetPermissions(ctx context.Context) (PermissionStatus, error)
	RequestPermissions(ctx context.Context) (PermissionStatus, error)
	GetPushToken(ctx context.Context) (string, error)
	AddReceivedListener(fn func(Notification)) *Subscription
	AddResponseListener(fn func(Response)) *Subscription
}

// ChannelConfigurer is implemented by services on platforms that need a notification
// channel before a token can be issued.
type ChannelConfigurer interface {
	RequiresChannel() bool
	SetNotificationChannel(ctx context.Context, ch Channel) error
}

// Subscription is the handle returned when attaching a listener. Remove detaches the
// listener; calls after the first are no-ops.
type Subscription struct {
	once   sync.Once
	remove func()
}

// NewSubscription wraps a detach function. Useful for alternative Service
// implementations.
func NewSubscription(remove func()) *Subscription {
	return &Subscription{remove: remove}
}

func (s *Subscription) Remove() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.remove != nil {
			s.remove()
		}
	})
}

// listenerSet holds callbacks keyed by registration order.
type listenerSet[T any] struct {
	mu     sync.RWMutex
	nextID int
	fns    map[int]func(T)
}

func newListenerSet[T any]() *listenerSet[T] {
	return &listenerSet[T]{fns: make(map[int]func(T))}
}

func (l *listenerSet[T]) add(fn func(T)) *Subscription {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.fns[id] = fn
	l.mu.Unlock()
	return NewSubscription(func() {
		l.mu.Lock()
		delete(l.fns, id)
		l.mu.Unlock()
	})
}

func (l *listenerSet[T]) len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.fns)
}

// emit calls every listener outside the lock so listeners may remove themselves.
func (l *listenerSet[T]) emit(v T) {
	l.mu.RLock()
	ids := make([]int, 0, len(l.fns))
	for id := range l.fns {
		ids = append(ids, id)
	}
	l.mu.RUnlock()
	sort.Ints(ids)
	for _, id := range ids {
		l.mu.RLock()
		fn, ok := l.fns[id]
		l.mu.RUnlock()
		if ok {
			fn(v)
		}
	}
}

// DeviceTopic is the topic a device token receives notifications on.
func DeviceTopic(prefix, token string) string {
	return fmt.Sprintf("%s/devices/%s/notifications", prefix, token)
}
