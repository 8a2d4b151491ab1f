package weather

import (
	"context"
	"errors"
	"time"
)

// ErrNoExporter is returned by Export when the service has no exporter configured.
var ErrNoExporter = errors.New("snapshot export is not configured")

// Service is the facade used by the HTTP layer, the scheduler and the CLI.
// It ties the collector to the run store, the exporter and the event queue.
type Service struct {
	collector *Collector
	runs      RunStore
	exporter  Exporter
	events    *EventQueue
}

// NewService creates a new Service. exporter and events may be nil.
func NewService(collector *Collector, runs RunStore, exporter Exporter, events *EventQueue) *Service {
	return &Service{
		collector: collector,
		runs:      runs,
		exporter:  exporter,
		events:    events,
	}
}

// Collect starts a background run for loc.
func (s *Service) Collect(loc Location) error {
	return s.collector.Collect(loc)
}

// CollectNow runs a collection for loc and waits for its result.
func (s *Service) CollectNow(ctx context.Context, loc Location) (CollectionRun, error) {
	return s.collector.Run(ctx, loc)
}

// Cancel cancels the active run for loc, if any.
func (s *Service) Cancel(loc Location) bool {
	return s.collector.Cancel(loc)
}

// CancelAll cancels every active run.
func (s *Service) CancelAll() int {
	return s.collector.CancelAll()
}

// State reports the run state of loc.
func (s *Service) State(loc Location) RunState {
	return s.collector.State(loc)
}

// Sources lists enabled source names in dispatch order.
func (s *Service) Sources() []string {
	return s.collector.Sources()
}

// Events drains pending collection events.
func (s *Service) Events() []Event {
	if s.events == nil {
		return nil
	}
	return s.events.Drain()
}

// GetLatest delegates to the underlying store.
func (s *Service) GetLatest(loc Location) (CollectionRun, error) {
	return s.runs.GetLatest(loc)
}

// GetRange delegates to the underlying store.
func (s *Service) GetRange(loc Location, from, to time.Time) ([]CollectionRun, error) {
	return s.runs.GetRange(loc, from, to)
}

// Export writes the latest completed run for loc as a snapshot file.
func (s *Service) Export(loc Location) (string, error) {
	if s.exporter == nil {
		return "", ErrNoExporter
	}
	run, err := s.runs.GetLatest(loc)
	if err != nil {
		return "", err
	}
	return s.exporter.ExportSnapshot(run.Location, run.CompletedAt, run.Readings, run.Aggregate)
}

// Wait blocks until background runs have finished.
func (s *Service) Wait() {
	s.collector.Wait()
}
