// Package screen is the monitor's presentation controller. All state changes happen on
// one event loop; network calls and permission prompts run elsewhere and post their
// results back to it.
package screen

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/humidity-monitor/internal/animate"
	"github.com/kjstillabower/humidity-monitor/internal/client"
	"github.com/kjstillabower/humidity-monitor/internal/models"
	"github.com/kjstillabower/humidity-monitor/internal/notifications"
	"github.com/kjstillabower/humidity-monitor/internal/push"
)

// Alert texts shown to the user.
const (
	FetchErrorTitle        = "Error"
	FetchErrorMessage      = "Unable to fetch humidity."
	PermissionErrorTitle   = "Notifications"
	PermissionErrorMessage = "Failed to get push token for push notification!"
	defaultFetchTimeout    = 10 * time.Second
	taskQueueSize          = 64
)

// Alerter shows a modal message to the user.
type Alerter interface {
	Alert(title, message string)
}

// Registrar is the part of notifications.Registrar the controller uses.
type Registrar interface {
	Register(ctx context.Context) (notifications.Registration, error)
	Listen(onReceived func(push.Notification), onResponse func(push.Response)) *notifications.Scope
}

// State is what the screen shows. Reading is nil until the first successful fetch.
type State struct {
	Reading      *models.HumidityReading
	Fraction     float64
	Token        string
	Registration notifications.Status
}

// Option configures a Controller.
type Option func(*Controller)

// WithRegistrar enables push registration on Mount.
func WithRegistrar(r Registrar) Option {
	return func(c *Controller) { c.registrar = r }
}

// WithDiscardStale drops fetch results issued before the one currently displayed. By
// default the last response to arrive wins, regardless of issue order.
func WithDiscardStale(discard bool) Option {
	return func(c *Controller) { c.discardStale = discard }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithFetchTimeout bounds each fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// Controller owns the screen State.
type Controller struct {
	fetcher      client.HumidityFetcher
	animator     *animate.Animator
	alerter      Alerter
	registrar    Registrar
	logger       *zap.Logger
	discardStale bool
	fetchTimeout time.Duration

	tasks   chan func()
	started chan struct{} // closed when Run starts
	done    chan struct{} // closed by Unmount or when Run's ctx ends
	stopped chan struct{} // closed when Run returns
	stop    sync.Once

	scopeMu  sync.Mutex
	scope    *notifications.Scope
	released bool

	seq atomic.Uint64

	// Owned by the loop.
	state State
	shown uint64
}

func New(fetcher client.HumidityFetcher, animator *animate.Animator, alerter Alerter, opts ...Option) *Controller {
	c := &Controller{
		fetcher:      fetcher,
		animator:     animator,
		alerter:      alerter,
		logger:       zap.NewNop(),
		fetchTimeout: defaultFetchTimeout,
		tasks:        make(chan func(), taskQueueSize),
		started:      make(chan struct{}),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes posted tasks one at a time until ctx ends or Unmount is called.
// Run must be called once.
func (c *Controller) Run(ctx context.Context) error {
	close(c.started)
	defer close(c.stopped)
	for {
		select {
		case <-ctx.Done():
			c.releaseScope()
			c.shutdown()
			return ctx.Err()
		case <-c.done:
			return nil
		case task := <-c.tasks:
			task()
		}
	}
}

// post queues fn on the loop. It reports false once the controller has stopped.
func (c *Controller) post(fn func()) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.tasks <- fn:
		return true
	case <-c.done:
		return false
	}
}

// Mount attaches the notification listeners, starts registration and starts the
// first fetch. The returned channel closes when that fetch has been applied.
func (c *Controller) Mount() <-chan struct{} {
	if c.registrar != nil {
		scope := c.registrar.Listen(c.onNotification, c.onResponse)
		c.scopeMu.Lock()
		released := c.released
		if !released {
			c.scope = scope
		}
		c.scopeMu.Unlock()
		if released {
			scope.Close()
			return c.Refresh()
		}
		go c.register()
	}
	return c.Refresh()
}

// Refresh starts one fetch. Concurrent fetches are allowed. The returned channel
// closes once the result has been applied or dropped.
func (c *Controller) Refresh() <-chan struct{} {
	applied := make(chan struct{})
	seq := c.seq.Add(1)
	go c.fetch(seq, applied)
	return applied
}

// Unmount releases the listeners and stops the loop. Fetches in flight keep running
// but their results are dropped.
func (c *Controller) Unmount() {
	c.releaseScope()
	c.shutdown()
}

// releaseScope closes the listener scope once. A scope attached afterwards by a late
// Mount is closed straight away.
func (c *Controller) releaseScope() {
	c.scopeMu.Lock()
	scope := c.scope
	c.scope = nil
	c.released = true
	c.scopeMu.Unlock()
	if scope != nil {
		scope.Close()
	}
}

func (c *Controller) shutdown() {
	c.stop.Do(func() { close(c.done) })
}

// Snapshot returns a copy of the state with the fraction sampled now. Before Run has
// started it returns the initial state instead of waiting for the loop.
func (c *Controller) Snapshot() State {
	select {
	case <-c.started:
	default:
		// No loop yet, so no task has touched the state.
		return State{Fraction: c.animator.Value()}
	}
	reply := make(chan State, 1)
	if c.post(func() { reply <- c.copyState() }) {
		select {
		case s := <-reply:
			return s
		case <-c.stopped:
		}
	}
	// The loop may still be finishing its last task.
	<-c.stopped
	return c.copyState()
}

// Done is closed when the loop has exited.
func (c *Controller) Done() <-chan struct{} {
	return c.stopped
}

func (c *Controller) copyState() State {
	s := c.state
	if s.Reading != nil {
		r := *s.Reading
		s.Reading = &r
	}
	s.Fraction = c.animator.Value()
	return s
}

func (c *Controller) fetch(seq uint64, applied chan struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), c.fetchTimeout)
	defer cancel()
	reading, err := c.fetcher.FetchHumidity(ctx)
	if !c.post(func() {
		defer close(applied)
		c.applyFetch(seq, reading, err)
	}) {
		close(applied)
		c.logger.Debug("fetch result dropped after unmount", zap.Uint64("seq", seq))
	}
}

func (c *Controller) applyFetch(seq uint64, reading models.HumidityReading, err error) {
	if c.discardStale && seq < c.shown {
		c.logger.Debug("discarding stale fetch result", zap.Uint64("seq", seq), zap.Uint64("shown", c.shown))
		return
	}
	if err != nil {
		c.logger.Warn("humidity fetch failed",
			zap.Error(err),
			zap.String("category", string(client.CategorizeError(err))))
		c.alerter.Alert(FetchErrorTitle, FetchErrorMessage)
		return
	}
	c.shown = seq
	c.state.Reading = &reading
	c.animator.Animate(reading.Humidity)
	c.logger.Debug("humidity displayed", zap.Float64("humidity", reading.Humidity), zap.Uint64("seq", seq))
}

func (c *Controller) register() {
	c.post(func() { c.state.Registration = notifications.StatusPermissionRequested })
	reg, err := c.registrar.Register(context.Background())
	c.post(func() {
		c.state.Registration = reg.Status
		c.state.Token = reg.Token
		switch {
		case errors.Is(err, notifications.ErrPermissionDenied):
			c.alerter.Alert(PermissionErrorTitle, PermissionErrorMessage)
		case err != nil:
			c.logger.Warn("push registration failed", zap.Error(err))
		case reg.TokenErr != nil:
			c.logger.Warn("push token unavailable", zap.Error(reg.TokenErr))
		}
	})
}

func (c *Controller) onNotification(n push.Notification) {
	c.post(func() { c.alerter.Alert(n.Title, n.Body) })
}

func (c *Controller) onResponse(r push.Response) {
	c.logger.Debug("notification response", zap.String("id", r.Notification.ID), zap.String("action", r.Action))
}
