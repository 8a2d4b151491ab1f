package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-data-collector/internal/observability"
)

type stubAdapter struct {
	name  string
	fetch func(ctx context.Context, loc Location) (Reading, error)
	calls atomic.Int32
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Fetch(ctx context.Context, loc Location) (Reading, error) {
	s.calls.Add(1)
	return s.fetch(ctx, loc)
}

func okAdapter(name string, temp float64) *stubAdapter {
	return &stubAdapter{name: name, fetch: func(context.Context, Location) (Reading, error) {
		return Reading{Temperature: temp}, nil
	}}
}

// blockingAdapter signals on started and waits for release before returning.
func blockingAdapter(name string, started chan<- struct{}, release <-chan struct{}) *stubAdapter {
	return &stubAdapter{name: name, fetch: func(context.Context, Location) (Reading, error) {
		started <- struct{}{}
		<-release
		return Reading{Temperature: 1}, nil
	}}
}

type persisterFunc func(ctx context.Context, run CollectionRun) error

func (f persisterFunc) Persist(ctx context.Context, run CollectionRun) error { return f(ctx, run) }

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) kinds() []EventKind {
	var out []EventKind
	for _, e := range r.all() {
		if e.Kind != EventLogLine {
			out = append(out, e.Kind)
		}
	}
	return out
}

func (r *recorder) logs() []string {
	var out []string
	for _, e := range r.all() {
		if e.Kind == EventLogLine {
			out = append(out, string(e.Level)+": "+e.Text)
		}
	}
	return out
}

var testStart = time.Date(2025, time.January, 10, 9, 0, 0, 0, time.UTC)

func newTestCollector(t *testing.T, adapters []Adapter, opts ...Option) (*Collector, *recorder, *observability.Metrics) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testStart)
	rec := &recorder{}
	metrics := observability.NewMetricsForTesting()

	base := []Option{
		WithClock(clock),
		WithSink(rec),
		WithMetrics(metrics),
		WithPacing(0),
	}
	c := NewCollector(adapters, NewFallbackGenerator(NewSeededRand(42), nil, clock), append(base, opts...)...)
	return c, rec, metrics
}

func TestCollector_MixedOutcomes(t *testing.T) {
	a := &stubAdapter{name: "A", fetch: func(context.Context, Location) (Reading, error) {
		return Reading{Temperature: -3.2, Humidity: Float(80)}, nil
	}}
	b := &stubAdapter{name: "B", fetch: func(context.Context, Location) (Reading, error) {
		return Reading{}, fmt.Errorf("no page for city: %w", ErrUnavailable)
	}}
	cAdapter := &stubAdapter{name: "C", fetch: func(context.Context, Location) (Reading, error) {
		return Reading{}, errors.New("timeout")
	}}

	c, rec, metrics := newTestCollector(t, []Adapter{a, b, cAdapter})
	loc := Location{City: "X"}

	run, err := c.Run(context.Background(), loc)
	require.NoError(t, err)
	require.Len(t, run.Readings, 3)

	assert.Equal(t, "A", run.Readings[0].Source)
	assert.Equal(t, Authentic, run.Readings[0].Provenance)
	assert.Equal(t, -3.2, run.Readings[0].Temperature)
	require.NotNil(t, run.Readings[0].Humidity)
	assert.Equal(t, 80.0, *run.Readings[0].Humidity)
	assert.Equal(t, testStart, run.Readings[0].ObservedAt)

	assert.Equal(t, "B (generated)", run.Readings[1].Source)
	assert.Equal(t, Synthetic, run.Readings[1].Provenance)

	assert.Equal(t, "C (fault)", run.Readings[2].Source)
	assert.Equal(t, Faulted, run.Readings[2].Provenance)
	assert.Equal(t, "timeout", run.Readings[2].Cause)

	wantTemp := math.Round((run.Readings[0].Temperature+run.Readings[1].Temperature+run.Readings[2].Temperature)/3*10) / 10
	temp, ok := run.Aggregate.Get(FieldTemperature)
	require.True(t, ok)
	assert.InDelta(t, wantTemp, temp, 1e-9)

	assert.Equal(t, []EventKind{
		EventSourceStarted, EventSourceCompleted,
		EventSourceStarted, EventSourceCompleted,
		EventSourceStarted, EventSourceCompleted,
		EventAggregateReady, EventRunCompleted,
	}, rec.kinds())

	logs := rec.logs()
	assert.Contains(t, logs, "INFO: requesting data from A...")
	assert.Contains(t, logs, "SUCCESS: data from A received")
	assert.Contains(t, logs, "WARNING: B: using generated data")
	assert.Contains(t, logs, "ERROR: error C: timeout")
	assert.Equal(t, "SUCCESS: collection complete: 3 sources", logs[len(logs)-1])

	for _, e := range rec.all() {
		assert.Equal(t, run.ID, e.RunID)
		assert.Equal(t, loc, e.Location)
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ReadingsTotal.WithLabelValues("authentic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ReadingsTotal.WithLabelValues("synthetic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ReadingsTotal.WithLabelValues("faulted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RunsTotal.WithLabelValues("completed")))
	assert.Equal(t, StateIdle, c.State(loc))
}

func TestCollector_RunCompletedCountMatchesAdapters(t *testing.T) {
	c, rec, _ := newTestCollector(t, []Adapter{okAdapter("a", 1), okAdapter("b", 2), okAdapter("c", 3), okAdapter("d", 4)})

	run, err := c.Run(context.Background(), Location{City: "Kazan"})
	require.NoError(t, err)
	assert.Len(t, run.Readings, 4)

	var completed []Event
	for _, e := range rec.all() {
		if e.Kind == EventRunCompleted {
			completed = append(completed, e)
		}
	}
	require.Len(t, completed, 1)
	assert.Equal(t, 4, completed[0].Count)
}

func TestCollector_NoAdapters(t *testing.T) {
	c, rec, _ := newTestCollector(t, nil)

	err := c.Collect(Location{City: "Moscow"})
	require.ErrorIs(t, err, ErrConfiguration)

	_, err = c.Run(context.Background(), Location{City: "Moscow"})
	require.ErrorIs(t, err, ErrConfiguration)

	assert.Empty(t, rec.all())
}

func TestCollector_DuplicateAdapterNames(t *testing.T) {
	c, _, _ := newTestCollector(t, []Adapter{okAdapter("a", 1), okAdapter("a", 2)})

	_, err := c.Run(context.Background(), Location{City: "Moscow"})
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestCollector_RequiresCity(t *testing.T) {
	c, _, _ := newTestCollector(t, []Adapter{okAdapter("a", 1)})
	assert.Error(t, c.Collect(Location{City: "  "}))
}

func TestCollector_RejectsConcurrentCollectForSameLocation(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	slow := blockingAdapter("slow", started, release)

	c, rec, metrics := newTestCollector(t, []Adapter{slow})
	loc := Location{City: "Moscow", Country: "RU"}

	require.NoError(t, c.Collect(loc))
	<-started
	assert.Equal(t, StateRunning, c.State(loc))

	err := c.Collect(Location{City: "moscow", Country: "ru"})
	require.ErrorIs(t, err, ErrRunInProgress)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RunsRejected))

	close(release)
	c.Wait()

	assert.Equal(t, StateIdle, c.State(loc))
	assert.Equal(t, int32(1), slow.calls.Load())
	assert.Equal(t, []EventKind{EventSourceStarted, EventSourceCompleted, EventAggregateReady, EventRunCompleted}, rec.kinds())
}

func TestCollector_RunsForDifferentLocationsDoNotInterleave(t *testing.T) {
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	slow := blockingAdapter("slow", started, release)

	c, rec, _ := newTestCollector(t, []Adapter{slow})
	x := Location{City: "X"}
	y := Location{City: "Y"}

	require.NoError(t, c.Collect(x))
	<-started
	require.NoError(t, c.Collect(y))
	assert.Equal(t, StateQueued, c.State(y))

	close(release)
	c.Wait()

	events := rec.all()
	require.NotEmpty(t, events)
	first := events[0].RunID
	switched := false
	for _, e := range events {
		if e.RunID != first {
			switched = true
			continue
		}
		assert.False(t, switched, "events of the first run appeared after the second run started")
	}
	assert.True(t, switched)
}

func TestCollector_TimeoutBecomesFault(t *testing.T) {
	hang := make(chan struct{})
	t.Cleanup(func() { close(hang) })

	hung := &stubAdapter{name: "hung", fetch: func(context.Context, Location) (Reading, error) {
		<-hang
		return Reading{Temperature: 5}, nil
	}}
	next := okAdapter("next", 2)

	c, _, _ := newTestCollector(t, []Adapter{hung, next}, WithTimeout(20*time.Millisecond))

	run, err := c.Run(context.Background(), Location{City: "Moscow"})
	require.NoError(t, err)
	require.Len(t, run.Readings, 2)

	assert.Equal(t, Faulted, run.Readings[0].Provenance)
	assert.Equal(t, "timeout after 20ms", run.Readings[0].Cause)
	assert.Equal(t, Authentic, run.Readings[1].Provenance)
}

func TestCollector_PanicIsIsolated(t *testing.T) {
	bad := &stubAdapter{name: "bad", fetch: func(context.Context, Location) (Reading, error) {
		panic("boom")
	}}
	good := okAdapter("good", -1.5)

	c, _, _ := newTestCollector(t, []Adapter{bad, good})

	run, err := c.Run(context.Background(), Location{City: "Moscow"})
	require.NoError(t, err)
	require.Len(t, run.Readings, 2)

	assert.Equal(t, Faulted, run.Readings[0].Provenance)
	assert.Equal(t, "panic: boom", run.Readings[0].Cause)
	assert.Equal(t, "good", run.Readings[1].Source)
	assert.Equal(t, -1.5, run.Readings[1].Temperature)
}

func TestCollector_LongFaultCauseIsTruncated(t *testing.T) {
	long := &stubAdapter{name: "long", fetch: func(context.Context, Location) (Reading, error) {
		return Reading{}, errors.New("dial tcp 203.0.113.7:443: connect: connection refused by remote host")
	}}
	c, _, _ := newTestCollector(t, []Adapter{long})

	run, err := c.Run(context.Background(), Location{City: "Moscow"})
	require.NoError(t, err)
	assert.Len(t, []rune(run.Readings[0].Cause), 50)
}

func TestCollector_NaNTemperatureIsUnavailable(t *testing.T) {
	nan := okAdapter("nan", math.NaN())
	c, _, _ := newTestCollector(t, []Adapter{nan})

	run, err := c.Run(context.Background(), Location{City: "Moscow"})
	require.NoError(t, err)
	assert.Equal(t, Synthetic, run.Readings[0].Provenance)
	assert.False(t, math.IsNaN(run.Readings[0].Temperature))
}

func TestCollector_NonFiniteOptionalFieldsAreDropped(t *testing.T) {
	odd := &stubAdapter{name: "odd", fetch: func(context.Context, Location) (Reading, error) {
		return Reading{Temperature: 1, Humidity: Float(math.NaN()), Pressure: Float(math.Inf(1)), WindSpeed: Float(3)}, nil
	}}
	plain := &stubAdapter{name: "plain", fetch: func(context.Context, Location) (Reading, error) {
		return Reading{Temperature: 2, Humidity: Float(70)}, nil
	}}

	var saved CollectionRun
	persister := persisterFunc(func(_ context.Context, run CollectionRun) error {
		saved = run
		return nil
	})
	c, _, _ := newTestCollector(t, []Adapter{odd, plain}, WithPersister(persister))

	run, err := c.Run(context.Background(), Location{City: "Moscow"})
	require.NoError(t, err)

	first := run.Readings[0]
	assert.Equal(t, Authentic, first.Provenance)
	assert.Nil(t, first.Humidity)
	assert.Nil(t, first.Pressure)
	require.NotNil(t, first.WindSpeed)
	assert.Equal(t, 3.0, *first.WindSpeed)

	assert.Equal(t, Aggregate{FieldTemperature: 1.5, FieldHumidity: 70, FieldWindSpeed: 3}, run.Aggregate)
	assert.Equal(t, run.ID, saved.ID)

	_, err = json.Marshal(saved)
	require.NoError(t, err)
}

func TestCollector_FallbackReadingsNeverFeelWarmer(t *testing.T) {
	adapters := make([]Adapter, 0, 20)
	for i := 0; i < 20; i++ {
		adapters = append(adapters, &stubAdapter{name: fmt.Sprintf("s%d", i), fetch: func(context.Context, Location) (Reading, error) {
			return Reading{}, ErrUnavailable
		}})
	}
	c, _, _ := newTestCollector(t, adapters)

	run, err := c.Run(context.Background(), Location{City: "Novosibirsk"})
	require.NoError(t, err)
	for _, r := range run.Readings {
		require.NotNil(t, r.FeelsLike)
		assert.LessOrEqual(t, *r.FeelsLike, r.Temperature)
	}
}

func TestCollector_CancelStopsDispatch(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	first := blockingAdapter("first", started, release)
	second := okAdapter("second", 3)

	var persisted atomic.Bool
	persister := persisterFunc(func(context.Context, CollectionRun) error {
		persisted.Store(true)
		return nil
	})

	c, rec, metrics := newTestCollector(t, []Adapter{first, second}, WithPersister(persister))
	loc := Location{City: "Moscow"}

	done := make(chan error, 1)
	go func() {
		_, err := c.Run(context.Background(), loc)
		done <- err
	}()

	<-started
	assert.True(t, c.Cancel(loc))
	close(release)

	require.ErrorIs(t, <-done, ErrRunCancelled)
	assert.Equal(t, int32(0), second.calls.Load())
	assert.False(t, persisted.Load())
	assert.NotContains(t, rec.kinds(), EventRunCompleted)
	assert.NotContains(t, rec.kinds(), EventAggregateReady)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RunsTotal.WithLabelValues("cancelled")))

	assert.Equal(t, StateIdle, c.State(loc))
	assert.False(t, c.Cancel(loc))
}

func TestCollector_PersistenceErrorStillReportsRun(t *testing.T) {
	persister := persisterFunc(func(context.Context, CollectionRun) error {
		return errors.New("disk full")
	})
	c, rec, metrics := newTestCollector(t, []Adapter{okAdapter("a", 1)}, WithPersister(persister))

	run, err := c.Run(context.Background(), Location{City: "Moscow"})
	require.NoError(t, err)
	assert.Len(t, run.Readings, 1)

	assert.Contains(t, rec.kinds(), EventRunCompleted)
	assert.Contains(t, rec.logs(), "ERROR: failed to save run: disk full")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PersistenceErrors))

	var perr *PersistenceError
	require.ErrorAs(t, errorLine(t, rec).Err, &perr)
	assert.Equal(t, run.ID, perr.RunID)
}

func TestCollector_FaultLogCarriesFaultError(t *testing.T) {
	broken := &stubAdapter{name: "broken", fetch: func(context.Context, Location) (Reading, error) {
		return Reading{}, errors.New("unexpected EOF")
	}}
	c, rec, _ := newTestCollector(t, []Adapter{broken})

	_, err := c.Run(context.Background(), Location{City: "Moscow"})
	require.NoError(t, err)

	var fault *FaultError
	require.ErrorAs(t, errorLine(t, rec).Err, &fault)
	assert.Equal(t, "broken", fault.Source)
	assert.EqualError(t, fault.Err, "unexpected EOF")
}

func errorLine(t *testing.T, rec *recorder) Event {
	t.Helper()
	for _, e := range rec.all() {
		if e.Kind == EventLogLine && e.Level == LevelError {
			return e
		}
	}
	t.Fatal("no ERROR log line")
	return Event{}
}

func TestCollector_CancelAll(t *testing.T) {
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	slow := blockingAdapter("slow", started, release)

	c, rec, metrics := newTestCollector(t, []Adapter{slow})
	x := Location{City: "X"}
	y := Location{City: "Y"}

	require.NoError(t, c.Collect(x))
	<-started
	require.NoError(t, c.Collect(y))

	assert.Equal(t, 2, c.CancelAll())
	close(release)
	c.Wait()

	assert.Equal(t, int32(1), slow.calls.Load())
	assert.Equal(t, StateIdle, c.State(x))
	assert.Equal(t, StateIdle, c.State(y))
	assert.NotContains(t, rec.kinds(), EventRunCompleted)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.RunsTotal.WithLabelValues("cancelled")))
	assert.Zero(t, c.CancelAll())
}

func TestCollector_PersistsCompletedRun(t *testing.T) {
	var got CollectionRun
	persister := persisterFunc(func(_ context.Context, run CollectionRun) error {
		got = run
		return nil
	})
	c, _, _ := newTestCollector(t, []Adapter{okAdapter("a", 1), okAdapter("b", 2)}, WithPersister(persister))

	run, err := c.Run(context.Background(), Location{City: "Moscow"})
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Len(t, got.Readings, 2)
	assert.Equal(t, 1.5, got.Aggregate[FieldTemperature])
}

func TestCollector_PacingBetweenDispatches(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testStart)
	a := okAdapter("a", 1)
	b := okAdapter("b", 2)

	c := NewCollector([]Adapter{a, b}, NewFallbackGenerator(NewSeededRand(1), nil, clock),
		WithClock(clock),
		WithPacing(300*time.Millisecond),
	)

	done := make(chan CollectionRun, 1)
	go func() {
		run, _ := c.Run(context.Background(), Location{City: "Moscow"})
		done <- run
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, int32(1), a.calls.Load())
	assert.Equal(t, int32(0), b.calls.Load())

	clock.Advance(300 * time.Millisecond)
	run := <-done
	assert.Len(t, run.Readings, 2)
	assert.Equal(t, int32(1), b.calls.Load())
}

func TestCollector_EventReadingsAreCopies(t *testing.T) {
	a := &stubAdapter{name: "a", fetch: func(context.Context, Location) (Reading, error) {
		return Reading{Temperature: 1, Humidity: Float(50)}, nil
	}}
	c, rec, _ := newTestCollector(t, []Adapter{a})

	run, err := c.Run(context.Background(), Location{City: "Moscow"})
	require.NoError(t, err)
	*run.Readings[0].Humidity = 99

	for _, e := range rec.all() {
		if e.Kind == EventSourceCompleted {
			require.NotNil(t, e.Reading)
			assert.Equal(t, 50.0, *e.Reading.Humidity)
		}
	}
}
