package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/mirkobrombin/warp-aqi/v1/cache"
	warperrors "github.com/mirkobrombin/warp-aqi/v1/errors"
	"github.com/mirkobrombin/warp-aqi/v1/metrics"
	"github.com/mirkobrombin/warp-aqi/v1/upstream"
	"github.com/mirkobrombin/warp-aqi/v1/watchbus"
)

type countingProvider struct {
	calls atomic.Int32
	mu    sync.Mutex
	seen  []string
	err   error
}

func (p *countingProvider) Fetch(ctx context.Context, city string) (*upstream.Report, error) {
	p.calls.Add(1)
	p.mu.Lock()
	p.seen = append(p.seen, city)
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return &upstream.Report{City: city, AQI: 42, AQIInfo: upstream.Classify(42)}, nil
}

func newStore(t *testing.T, opts ...cache.Option[*upstream.Report]) *cache.FIFO[*upstream.Report] {
	t.Helper()
	c, err := cache.New[*upstream.Report](30*time.Minute, 100, opts...)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	return c
}

func TestSearchMissThenHit(t *testing.T) {
	p := &countingProvider{}
	svc := New(newStore(t), p)
	ctx := context.Background()

	res, err := svc.Search(ctx, "  London ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Hit || res.Report.City != "London" {
		t.Fatalf("expected fetched report for trimmed city, got %+v", res)
	}

	res, err = svc.Search(ctx, "LONDON")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Hit {
		t.Fatalf("expected case-insensitive cache hit")
	}
	if got := p.calls.Load(); got != 1 {
		t.Fatalf("expected one upstream call, got %d", got)
	}
	if svc.Size() != 1 {
		t.Fatalf("expected one cached entry, got %d", svc.Size())
	}
}

func TestSearchBlankCity(t *testing.T) {
	p := &countingProvider{}
	svc := New(newStore(t), p)

	_, err := svc.Search(context.Background(), "   ")
	if !errors.Is(err, warperrors.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if p.calls.Load() != 0 {
		t.Fatalf("blank city must not reach the provider")
	}
}

func TestSearchFailureIsNotCached(t *testing.T) {
	for _, perr := range []error{
		&upstream.NotFoundError{City: "atlantis", Message: "Unknown station"},
		fmt.Errorf("%w: boom", warperrors.ErrUpstream),
	} {
		p := &countingProvider{err: perr}
		store := newStore(t)
		svc := New(store, p)

		for i := 0; i < 2; i++ {
			if _, err := svc.Search(context.Background(), "atlantis"); !errors.Is(err, perr) {
				t.Fatalf("expected %v, got %v", perr, err)
			}
		}
		if store.Size() != 0 {
			t.Fatalf("failed fetch must not be cached, size=%d", store.Size())
		}
		if got := p.calls.Load(); got != 2 {
			t.Fatalf("expected every search to reach the provider, got %d", got)
		}
	}
}

func TestSearchMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New()
	m.Register(reg)
	p := &countingProvider{}
	svc := New(newStore(t), p, WithMetrics(m))
	ctx := context.Background()

	_, _ = svc.Search(ctx, "rome")
	_, _ = svc.Search(ctx, "rome")
	_, _ = svc.Search(ctx, "")
	p.err = &upstream.NotFoundError{City: "x", Message: "Unknown station"}
	_, _ = svc.Search(ctx, "x")
	p.err = fmt.Errorf("%w: boom", warperrors.ErrUpstream)
	_, _ = svc.Search(ctx, "y")

	want := map[string]float64{
		metrics.ResultMiss:     1,
		metrics.ResultHit:      1,
		metrics.ResultInvalid:  1,
		metrics.ResultNotFound: 1,
		metrics.ResultError:    1,
	}
	for label, n := range want {
		if got := testutil.ToFloat64(m.SearchCounter.WithLabelValues(label)); got != n {
			t.Fatalf("result %s: expected %v, got %v", label, n, got)
		}
	}
	if got := testutil.CollectAndCount(m.UpstreamLatency); got != 1 {
		t.Fatalf("expected latency histogram to be collected, got %d", got)
	}
}

func TestInfoAndClear(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New()
	m.Register(reg)
	store, err := cache.New[*upstream.Report](45*time.Minute, 7)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	svc := New(store, &countingProvider{}, WithMetrics(m))
	_, _ = svc.Search(context.Background(), "a")
	_, _ = svc.Search(context.Background(), "b")

	info := svc.Info()
	if info.Size != 2 || info.MaxEntries != 7 || info.ExpiryMinutes != 45 {
		t.Fatalf("unexpected info: %+v", info)
	}
	svc.Clear()
	if svc.Info().Size != 0 {
		t.Fatalf("expected empty cache after clear")
	}
	if got := testutil.ToFloat64(m.ClearCounter); got != 1 {
		t.Fatalf("expected one clear, got %v", got)
	}
}

func TestConcurrentMissesEachFetch(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	p := upstream.ProviderFunc(func(ctx context.Context, city string) (*upstream.Report, error) {
		calls.Add(1)
		<-release
		return &upstream.Report{City: city}, nil
	})
	svc := New(newStore(t), p)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Search(context.Background(), "tokyo"); err != nil {
				t.Errorf("search: %v", err)
			}
		}()
	}
	for calls.Load() < 3 {
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	if svc.Size() != 1 {
		t.Fatalf("expected a single entry for the key, got %d", svc.Size())
	}
}

func readEvent(t *testing.T, ch chan []byte) Event {
	t.Helper()
	select {
	case msg := <-ch:
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return Event{}
}

func TestEvents(t *testing.T) {
	bus := watchbus.NewInMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := bus.Watch(ctx, Topic)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	events := NewEvents(bus, zerolog.Nop())
	store, err := cache.New[*upstream.Report](time.Hour, 1, cache.WithOnEvict(events.OnEvict))
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	svc := New(store, &countingProvider{}, WithEvents(events))

	_, _ = svc.Search(ctx, "Paris")
	ev := readEvent(t, ch)
	if ev.Type != EventStored || ev.Key != "paris" || ev.AQI == nil || *ev.AQI != 42 {
		t.Fatalf("unexpected event %+v", ev)
	}

	_, _ = svc.Search(ctx, "Berlin")
	if ev := readEvent(t, ch); ev.Type != EventEvicted || ev.Key != "paris" {
		t.Fatalf("expected paris eviction, got %+v", ev)
	}
	if ev := readEvent(t, ch); ev.Type != EventStored || ev.Key != "berlin" {
		t.Fatalf("expected berlin stored, got %+v", ev)
	}

	svc.Clear()
	if ev := readEvent(t, ch); ev.Type != EventCleared || ev.Key != "berlin" {
		t.Fatalf("expected berlin cleared, got %+v", ev)
	}
}
