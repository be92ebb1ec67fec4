// Package notifications registers the client for push notifications and manages the
// lifetime of its notification listeners.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/humidity-monitor/internal/push"
)

// ErrPermissionDenied is returned when the user refuses notification permission.
var ErrPermissionDenied = errors.New("notification permission denied")

// Status is the registration state.
type Status int

const (
	StatusUnregistered Status = iota
	StatusPermissionRequested
	StatusRegistered
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusUnregistered:
		return "unregistered"
	case StatusPermissionRequested:
		return "permission_requested"
	case StatusRegistered:
		return "registered"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Registration is the outcome of Register. TokenErr is set when permission was granted
// but no token could be obtained; Status then stays PermissionRequested.
type Registration struct {
	Token    string
	Status   Status
	TokenErr error
}

// DefaultChannel is created on platforms that require a channel.
var DefaultChannel = push.Channel{
	Name:       "default",
	Importance: push.ImportanceMax,
	Vibration:  []time.Duration{0, 250 * time.Millisecond, 250 * time.Millisecond, 250 * time.Millisecond},
	LightColor: "#FF231F7C",
}

// Registrar drives one push registration. The registration lives in memory only.
type Registrar struct {
	svc    push.Service
	logger *zap.Logger

	mu  sync.Mutex
	reg Registration
}

func NewRegistrar(svc push.Service, logger *zap.Logger) *Registrar {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registrar{svc: svc, logger: logger}
}

// Registration returns the current registration.
func (r *Registrar) Registration() Registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reg
}

// Register runs the registration once. A second call returns the existing outcome
// without contacting the push service again.
func (r *Registrar) Register(ctx context.Context) (Registration, error) {
	r.mu.Lock()
	if r.reg.Status != StatusUnregistered {
		reg := r.reg
		r.mu.Unlock()
		if reg.Status == StatusFailed {
			return reg, ErrPermissionDenied
		}
		return reg, nil
	}
	r.reg.Status = StatusPermissionRequested
	r.mu.Unlock()

	r.ensureChannel(ctx)

	status, err := r.svc.GetPermissions(ctx)
	if err != nil {
		return r.fail(fmt.Errorf("get permissions: %w", err))
	}
	if status != push.PermissionGranted {
		status, err = r.svc.RequestPermissions(ctx)
		if err != nil {
			return r.fail(fmt.Errorf("request permissions: %w", err))
		}
	}
	if status != push.PermissionGranted {
		r.logger.Info("notification permission not granted", zap.String("status", string(status)))
		return r.fail(ErrPermissionDenied)
	}

	token, err := r.svc.GetPushToken(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		// Permission is granted, so the registration is not failed; only the token is missing.
		r.reg.TokenErr = err
		r.logger.Warn("push token unavailable", zap.Error(err))
		return r.reg, nil
	}
	r.reg.Token = token
	r.reg.Status = StatusRegistered
	r.logger.Info("registered for push notifications", zap.String("token", token))
	return r.reg, nil
}

func (r *Registrar) ensureChannel(ctx context.Context) {
	cc, ok := r.svc.(push.ChannelConfigurer)
	if !ok || !cc.RequiresChannel() {
		return
	}
	if err := cc.SetNotificationChannel(ctx, DefaultChannel); err != nil {
		r.logger.Warn("notification channel setup failed", zap.Error(err))
	}
}

func (r *Registrar) fail(err error) (Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reg.Status = StatusFailed
	return r.reg, err
}

// Listen attaches both listeners. They stay attached until the returned scope is
// closed, whether or not registration succeeds.
func (r *Registrar) Listen(onReceived func(push.Notification), onResponse func(push.Response)) *Scope {
	return &Scope{subs: []*push.Subscription{
		r.svc.AddReceivedListener(onReceived),
		r.svc.AddResponseListener(onResponse),
	}}
}

// Scope owns a set of listener subscriptions.
type Scope struct {
	once sync.Once
	subs []*push.Subscription
}

// Close removes every subscription. Only the first call has an effect.
func (s *Scope) Close() {
	s.once.Do(func() {
		for _, sub := range s.subs {
			sub.Remove()
		}
	})
}
