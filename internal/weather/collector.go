package weather

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/i474232898/weather-data-collector/internal/observability"
)

const (
	DefaultSourceTimeout = 10 * time.Second
	DefaultPacing        = 300 * time.Millisecond
)

// RunState is the lifecycle state of collection for one location.
type RunState string

const (
	StateIdle      RunState = "idle"
	StateQueued    RunState = "queued"
	StateRunning   RunState = "running"
	StateCompleted RunState = "completed"
)

// Collector runs adapters for a location, substitutes fallback readings for
// sources that fail, streams progress to a Sink and hands completed runs to a
// Persister.
//
// At most one run per location is active at a time. Runs for different
// locations share a single run slot, so the events of two runs never interleave.
type Collector struct {
	adapters  []Adapter
	fallback  *FallbackGenerator
	sink      Sink
	persister Persister
	clock     clockwork.Clock
	metrics   *observability.Metrics
	logger    zerolog.Logger
	timeout   time.Duration
	pacing    time.Duration
	configErr error

	mu     sync.Mutex
	runs   map[string]*runHandle
	slot   chan struct{}
	emitMu sync.Mutex
	wg     sync.WaitGroup
}

type runHandle struct {
	id        string
	loc       Location
	state     RunState
	cancelled chan struct{}
	once      sync.Once
}

func (h *runHandle) cancel() {
	h.once.Do(func() { close(h.cancelled) })
}

func (h *runHandle) isCancelled() bool {
	select {
	case <-h.cancelled:
		return true
	default:
		return false
	}
}

// Option configures a Collector.
type Option func(*Collector)

func WithSink(s Sink) Option { return func(c *Collector) { c.sink = s } }

func WithPersister(p Persister) Option { return func(c *Collector) { c.persister = p } }

func WithClock(clock clockwork.Clock) Option { return func(c *Collector) { c.clock = clock } }

func WithMetrics(m *observability.Metrics) Option { return func(c *Collector) { c.metrics = m } }

func WithLogger(l zerolog.Logger) Option { return func(c *Collector) { c.logger = l } }

// WithTimeout sets the per-adapter deadline.
func WithTimeout(d time.Duration) Option { return func(c *Collector) { c.timeout = d } }

// WithPacing sets the pause between two adapter dispatches.
func WithPacing(d time.Duration) Option { return func(c *Collector) { c.pacing = d } }

// NewCollector creates a Collector over adapters, dispatched in the given order.
// A nil fallback uses a time-seeded generator with the default bias table.
// An empty or ambiguous adapter set is reported by Collect and Run.
func NewCollector(adapters []Adapter, fallback *FallbackGenerator, opts ...Option) *Collector {
	c := &Collector{
		adapters: append([]Adapter(nil), adapters...),
		fallback: fallback,
		clock:    clockwork.NewRealClock(),
		logger:   zerolog.Nop(),
		timeout:  DefaultSourceTimeout,
		pacing:   DefaultPacing,
		runs:     make(map[string]*runHandle),
		slot:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = observability.NewMetricsForTesting()
	}
	if c.fallback == nil {
		c.fallback = NewFallbackGenerator(NewSeededRand(0), nil, c.clock)
	}
	if c.timeout <= 0 {
		c.timeout = DefaultSourceTimeout
	}
	c.configErr = validateAdapters(c.adapters)
	return c
}

func validateAdapters(adapters []Adapter) error {
	if len(adapters) == 0 {
		return configErrorf("no sources enabled")
	}
	seen := make(map[string]struct{}, len(adapters))
	for _, a := range adapters {
		if a == nil {
			return configErrorf("nil source adapter")
		}
		name := a.Name()
		if _, dup := seen[name]; dup {
			return configErrorf("duplicate source name %q", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// Sources returns adapter names in dispatch order.
func (c *Collector) Sources() []string {
	names := make([]string, len(c.adapters))
	for i, a := range c.adapters {
		names[i] = a.Name()
	}
	return names
}

// Collect starts a run for loc in the background and returns immediately.
// It returns ErrRunInProgress, without side effects, if a run for loc is
// already queued or running.
func (c *Collector) Collect(loc Location) error {
	h, err := c.admit(loc)
	if err != nil {
		return err
	}

	go func() {
		defer c.wg.Done()
		if _, err := c.execute(context.Background(), h); err != nil && !errors.Is(err, ErrRunCancelled) {
			c.logger.Error().Err(err).Str("location", loc.String()).Msg("collection run failed")
		}
	}()
	return nil
}

// Run performs a collection for loc and waits for it to finish.
func (c *Collector) Run(ctx context.Context, loc Location) (CollectionRun, error) {
	h, err := c.admit(loc)
	if err != nil {
		return CollectionRun{}, err
	}
	defer c.wg.Done()
	return c.execute(ctx, h)
}

// Cancel marks the active run for loc as cancelled. In-flight adapter calls
// finish, but no further adapters are dispatched and nothing is aggregated or
// persisted. It reports whether there was a run to cancel.
func (c *Collector) Cancel(loc Location) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.runs[loc.Key()]
	if !ok {
		return false
	}
	h.cancel()
	return true
}

// CancelAll cancels every queued or running run and returns how many there were.
func (c *Collector) CancelAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, h := range c.runs {
		h.cancel()
	}
	return len(c.runs)
}

// State returns the current run state for loc.
func (c *Collector) State(loc Location) RunState {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h, ok := c.runs[loc.Key()]; ok {
		return h.state
	}
	return StateIdle
}

// Wait blocks until every started run has finished.
func (c *Collector) Wait() {
	c.wg.Wait()
}

func (c *Collector) admit(loc Location) (*runHandle, error) {
	if c.configErr != nil {
		return nil, c.configErr
	}
	if strings.TrimSpace(loc.City) == "" {
		return nil, fmt.Errorf("location city is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := loc.Key()
	if _, busy := c.runs[key]; busy {
		c.metrics.RunsRejected.Inc()
		c.logger.Debug().Str("location", loc.String()).Msg("collect rejected: run already active")
		return nil, ErrRunInProgress
	}

	h := &runHandle{
		id:        uuid.NewString(),
		loc:       loc,
		state:     StateQueued,
		cancelled: make(chan struct{}),
	}
	c.runs[key] = h
	c.wg.Add(1)
	return h, nil
}

func (c *Collector) release(h *runHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.runs[h.loc.Key()] == h {
		delete(c.runs, h.loc.Key())
	}
}

func (c *Collector) setState(h *runHandle, s RunState) {
	c.mu.Lock()
	h.state = s
	c.mu.Unlock()
}

func (c *Collector) execute(ctx context.Context, h *runHandle) (CollectionRun, error) {
	defer c.release(h)

	select {
	case c.slot <- struct{}{}:
	case <-h.cancelled:
		c.metrics.RunsTotal.WithLabelValues("cancelled").Inc()
		return CollectionRun{}, ErrRunCancelled
	case <-ctx.Done():
		return CollectionRun{}, ctx.Err()
	}
	defer func() { <-c.slot }()

	c.setState(h, StateRunning)
	c.metrics.RunInProgress.Set(1)
	defer c.metrics.RunInProgress.Set(0)

	run := CollectionRun{
		ID:        h.id,
		Location:  h.loc,
		StartedAt: c.clock.Now(),
	}
	c.logf(h, LevelInfo, "starting weather collection for %s", h.loc)

	readings := make([]Reading, 0, len(c.adapters))
	for i, a := range c.adapters {
		if i > 0 && !c.pace(ctx, h) {
			break
		}
		if h.isCancelled() || ctx.Err() != nil {
			break
		}
		readings = append(readings, c.collectOne(ctx, h, a))
	}

	if h.isCancelled() || ctx.Err() != nil {
		c.metrics.RunsTotal.WithLabelValues("cancelled").Inc()
		c.logf(h, LevelWarning, "collection for %s cancelled after %d of %d sources", h.loc, len(readings), len(c.adapters))
		if err := ctx.Err(); err != nil {
			return CollectionRun{}, fmt.Errorf("%w: %v", ErrRunCancelled, err)
		}
		return CollectionRun{}, ErrRunCancelled
	}

	c.setState(h, StateCompleted)
	run.Readings = readings
	run.CompletedAt = c.clock.Now()
	run.Aggregate = AggregateReadings(CloneReadings(readings))

	if !run.Aggregate.Empty() {
		c.emit(h, Event{Kind: EventAggregateReady, Aggregate: run.Aggregate.Clone()})
	}
	c.emit(h, Event{Kind: EventRunCompleted, Count: len(readings)})
	c.logf(h, LevelSuccess, "collection complete: %d sources", len(readings))

	if c.persister != nil {
		if err := c.persister.Persist(ctx, run.Clone()); err != nil {
			c.metrics.PersistenceErrors.Inc()
			c.logErr(h, &PersistenceError{RunID: run.ID, Err: err}, "failed to save run: %v", err)
		}
	}

	c.metrics.RunsTotal.WithLabelValues("completed").Inc()
	c.metrics.RunDuration.Observe(run.CompletedAt.Sub(run.StartedAt).Seconds())
	return run, nil
}

// pace waits between dispatches. It returns false if the run was cancelled meanwhile.
func (c *Collector) pace(ctx context.Context, h *runHandle) bool {
	if c.pacing <= 0 {
		return true
	}
	select {
	case <-c.clock.After(c.pacing):
		return true
	case <-h.cancelled:
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *Collector) collectOne(ctx context.Context, h *runHandle, a Adapter) Reading {
	name := a.Name()
	c.emit(h, Event{Kind: EventSourceStarted, Source: name})
	c.logf(h, LevelInfo, "requesting data from %s...", name)

	began := c.clock.Now()
	r, err := c.fetch(ctx, a, h.loc)
	c.metrics.SourceDuration.WithLabelValues(name).Observe(c.clock.Since(began).Seconds())

	switch {
	case err == nil && usable(r):
		r = r.Clone()
		r.dropNonFinite()
		r.Source = name
		r.Provenance = Authentic
		r.Cause = ""
		if r.ObservedAt.IsZero() {
			r.ObservedAt = c.clock.Now()
		}
		c.completed(h, r)
		c.logf(h, LevelSuccess, "data from %s received", name)

	case err == nil || errors.Is(err, ErrUnavailable):
		r = c.fallback.Generate(h.loc, name, Synthetic)
		c.logf(h, LevelWarning, "%s: using generated data", name)
		c.completed(h, r)

	default:
		fault := &FaultError{Source: name, Err: err}
		r = c.fallback.Generate(h.loc, name, Faulted)
		r.Cause = fault.Cause()
		c.logErr(h, fault, "error %s: %s", name, r.Cause)
		c.completed(h, r)
	}

	c.metrics.ReadingsTotal.WithLabelValues(string(r.Provenance)).Inc()
	return r
}

func usable(r Reading) bool {
	return finite(r.Temperature)
}

// fetch calls the adapter under the per-source deadline. A panicking or hung
// adapter yields an error instead of stalling the run.
func (c *Collector) fetch(ctx context.Context, a Adapter, loc Location) (Reading, error) {
	fctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type result struct {
		r   Reading
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		r, err := a.Fetch(fctx, loc)
		done <- result{r: r, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-fctx.Done():
		res.err = fctx.Err()
	}

	if res.err != nil && ctx.Err() == nil && errors.Is(fctx.Err(), context.DeadlineExceeded) {
		return Reading{}, fmt.Errorf("timeout after %s", c.timeout)
	}
	return res.r, res.err
}

func (c *Collector) completed(h *runHandle, r Reading) {
	rc := r.Clone()
	c.emit(h, Event{Kind: EventSourceCompleted, Source: rc.Source, Reading: &rc, Provenance: rc.Provenance})
}

func (c *Collector) logf(h *runHandle, level Level, format string, args ...any) {
	c.emit(h, Event{Kind: EventLogLine, Level: level, Text: fmt.Sprintf(format, args...)})
}

// logErr emits an ERROR line carrying err for structured sinks.
func (c *Collector) logErr(h *runHandle, err error, format string, args ...any) {
	c.emit(h, Event{Kind: EventLogLine, Level: LevelError, Text: fmt.Sprintf(format, args...), Err: err})
}

func (c *Collector) emit(h *runHandle, e Event) {
	if c.sink == nil {
		return
	}
	e.RunID = h.id
	e.Location = h.loc
	e.At = c.clock.Now()

	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.sink.Publish(e)
}
