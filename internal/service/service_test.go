package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/humidity-monitor/internal/client"
	"github.com/kjstillabower/humidity-monitor/internal/models"
)

type mockFetcher struct {
	mu      sync.Mutex
	reading models.HumidityReading
	err     error
	calls   int
}

func (m *mockFetcher) FetchHumidity(ctx context.Context) (models.HumidityReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.reading, m.err
}

func (m *mockFetcher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockCache struct {
	data      map[string]models.HumidityReading
	staleData map[string]models.HumidityReading
	err       error
	setErr    error
}

func (m *mockCache) Get(ctx context.Context, key string) (models.HumidityReading, bool, error) {
	if m.err != nil {
		return models.HumidityReading{}, false, m.err
	}
	val, ok := m.data[key]
	return val, ok, nil
}

func (m *mockCache) GetStale(ctx context.Context, key string, maxStaleAge time.Duration) (models.HumidityReading, bool, error) {
	if m.err != nil {
		return models.HumidityReading{}, false, m.err
	}
	if stale, ok := m.staleData[key]; ok && time.Since(stale.Timestamp) <= maxStaleAge {
		return stale, true, nil
	}
	return m.Get(ctx, key)
}

func (m *mockCache) Set(ctx context.Context, key string, value models.HumidityReading, ttl time.Duration) error {
	if m.setErr != nil {
		return m.setErr
	}
	if m.data == nil {
		m.data = make(map[string]models.HumidityReading)
	}
	m.data[key] = value
	return nil
}

type recordingObserver struct {
	mu       sync.Mutex
	readings []models.HumidityReading
}

func (o *recordingObserver) ObserveReading(ctx context.Context, r models.HumidityReading) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.readings = append(o.readings, r)
}

func (o *recordingObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.readings)
}

// waitCount waits for the observer to have seen n readings.
func (o *recordingObserver) waitCount(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for o.count() < n {
		if time.Now().After(deadline) {
			t.Fatalf("observer saw %d readings, want %d", o.count(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

// startObservers runs the observer loop for the duration of the test.
func startObservers(t *testing.T, svc *HumidityService) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.RunObservers(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// TestHumidityService_GetHumidity_CacheHit verifies that a fresh cached reading is
// served without calling the sensor.
func TestHumidityService_GetHumidity_CacheHit(t *testing.T) {
	fetcher := &mockFetcher{reading: models.HumidityReading{Humidity: 10}}
	c := &mockCache{data: map[string]models.HumidityReading{CacheKey: {Humidity: 72, Timestamp: time.Now()}}}
	svc := NewHumidityService(fetcher, c, time.Minute, 0, false, 0, nil)

	got, err := svc.GetHumidity(context.Background())
	if err != nil {
		t.Fatalf("GetHumidity() error = %v", err)
	}
	if got.Humidity != 72 {
		t.Errorf("Humidity = %v, want 72", got.Humidity)
	}
	if fetcher.callCount() != 0 {
		t.Errorf("sensor called %d times, want 0", fetcher.callCount())
	}
}

// TestHumidityService_GetHumidity_CacheMiss verifies that a miss fetches from the
// sensor, stores the result and notifies observers once.
func TestHumidityService_GetHumidity_CacheMiss(t *testing.T) {
	fetcher := &mockFetcher{reading: models.HumidityReading{Humidity: 42, Timestamp: time.Now()}}
	c := &mockCache{}
	obs := &recordingObserver{}
	svc := NewHumidityService(fetcher, c, time.Minute, 0, false, 0, nil)
	svc.AddObserver(obs)
	startObservers(t, svc)

	got, err := svc.GetHumidity(context.Background())
	if err != nil {
		t.Fatalf("GetHumidity() error = %v", err)
	}
	if got.Humidity != 42 {
		t.Errorf("Humidity = %v, want 42", got.Humidity)
	}
	if c.data[CacheKey].Humidity != 42 {
		t.Error("reading should be cached")
	}
	obs.waitCount(t, 1)
}

func TestHumidityService_GetHumidity_UpstreamError(t *testing.T) {
	fetcher := &mockFetcher{err: &client.StatusError{StatusCode: 500}}
	obs := &recordingObserver{}
	svc := NewHumidityService(fetcher, &mockCache{}, time.Minute, 0, false, 0, nil)
	svc.AddObserver(obs)

	_, err := svc.GetHumidity(context.Background())
	if !errors.Is(err, client.ErrUpstreamStatus) {
		t.Fatalf("GetHumidity() error = %v, want ErrUpstreamStatus", err)
	}
	if obs.count() != 0 {
		t.Error("observers must not see failed fetches")
	}
}

// TestHumidityService_GetHumidity_StaleFallback verifies that a sensor failure
// serves the stale reading flagged as stale.
func TestHumidityService_GetHumidity_StaleFallback(t *testing.T) {
	fetcher := &mockFetcher{err: client.ErrTransport}
	c := &mockCache{staleData: map[string]models.HumidityReading{
		CacheKey: {Humidity: 38, Timestamp: time.Now().Add(-3 * time.Minute)},
	}}
	svc := NewHumidityService(fetcher, c, time.Minute, 10*time.Minute, false, 0, nil)

	got, err := svc.GetHumidity(context.Background())
	if err != nil {
		t.Fatalf("GetHumidity() error = %v", err)
	}
	if !got.Stale || got.Humidity != 38 {
		t.Errorf("GetHumidity() = %+v, want stale 38", got)
	}
}

func TestHumidityService_GetHumidity_StaleTooOld(t *testing.T) {
	fetcher := &mockFetcher{err: client.ErrTransport}
	c := &mockCache{staleData: map[string]models.HumidityReading{
		CacheKey: {Humidity: 38, Timestamp: time.Now().Add(-time.Hour)},
	}}
	svc := NewHumidityService(fetcher, c, time.Minute, 10*time.Minute, false, 0, nil)

	if _, err := svc.GetHumidity(context.Background()); !errors.Is(err, client.ErrTransport) {
		t.Fatalf("GetHumidity() error = %v, want ErrTransport", err)
	}
}

// TestHumidityService_GetHumidity_CacheErrorsNotFatal verifies that a broken cache
// degrades to direct sensor reads.
func TestHumidityService_GetHumidity_CacheErrorsNotFatal(t *testing.T) {
	fetcher := &mockFetcher{reading: models.HumidityReading{Humidity: 64}}
	c := &mockCache{err: errors.New("memcache: connection refused"), setErr: errors.New("i/o timeout")}
	svc := NewHumidityService(fetcher, c, time.Minute, 0, false, 0, nil)

	got, err := svc.GetHumidity(context.Background())
	if err != nil {
		t.Fatalf("GetHumidity() error = %v", err)
	}
	if got.Humidity != 64 {
		t.Errorf("Humidity = %v, want 64", got.Humidity)
	}
}

// TestHumidityService_Refresh_BypassesCache verifies that Refresh always calls the
// sensor even with a fresh cached reading.
func TestHumidityService_Refresh_BypassesCache(t *testing.T) {
	fetcher := &mockFetcher{reading: models.HumidityReading{Humidity: 20}}
	c := &mockCache{data: map[string]models.HumidityReading{CacheKey: {Humidity: 80}}}
	svc := NewHumidityService(fetcher, c, time.Minute, 0, false, 0, nil)

	got, err := svc.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got.Humidity != 20 || fetcher.callCount() != 1 {
		t.Errorf("Refresh() = %v after %d calls, want 20 after 1", got.Humidity, fetcher.callCount())
	}
	if c.data[CacheKey].Humidity != 20 {
		t.Error("Refresh should overwrite the cached reading")
	}
}

func TestCategorizeCacheError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "unknown"},
		{errors.New("read: i/o timeout"), "timeout"},
		{errors.New("dial tcp: connection refused"), "connection"},
		{errors.New("boom"), "unknown"},
	}
	for _, tt := range tests {
		if got := categorizeCacheError(tt.err); got != tt.want {
			t.Errorf("categorizeCacheError(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

type blockingObserver struct {
	entered chan struct{}
	release chan struct{}
}

func (o *blockingObserver) ObserveReading(ctx context.Context, r models.HumidityReading) {
	o.entered <- struct{}{}
	select {
	case <-o.release:
	case <-ctx.Done():
	}
}

// TestHumidityService_SlowObserverDoesNotBlockRequests verifies that a fetch returns
// while an observer is still busy with the previous reading.
func TestHumidityService_SlowObserverDoesNotBlockRequests(t *testing.T) {
	fetcher := &mockFetcher{reading: models.HumidityReading{Humidity: 90}}
	obs := &blockingObserver{entered: make(chan struct{}, 4), release: make(chan struct{})}
	defer close(obs.release)
	svc := NewHumidityService(fetcher, &mockCache{}, time.Minute, 0, false, 0, nil)
	svc.AddObserver(obs)
	startObservers(t, svc)

	if _, err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	select {
	case <-obs.entered:
	case <-time.After(time.Second):
		t.Fatal("observer never called")
	}

	done := make(chan error, 1)
	go func() {
		_, err := svc.Refresh(context.Background())
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Refresh() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Refresh() blocked on a busy observer")
	}
}

// TestHumidityService_FullObserverQueueDrops verifies that fetches keep succeeding
// when nothing drains the observer queue.
func TestHumidityService_FullObserverQueueDrops(t *testing.T) {
	fetcher := &mockFetcher{reading: models.HumidityReading{Humidity: 50}}
	obs := &recordingObserver{}
	svc := NewHumidityService(fetcher, &mockCache{}, time.Minute, 0, false, 0, nil)
	svc.AddObserver(obs)

	for i := 0; i < observerQueueSize+3; i++ {
		if _, err := svc.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
	}
	startObservers(t, svc)
	obs.waitCount(t, observerQueueSize)
	time.Sleep(10 * time.Millisecond)
	if got := obs.count(); got != observerQueueSize {
		t.Errorf("observer saw %d readings, want %d", got, observerQueueSize)
	}
}
