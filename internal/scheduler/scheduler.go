package scheduler

import (
	"errors"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"

	"github.com/i474232898/weather-data-collector/internal/weather"
)

// Collector starts a background collection for a location.
type Collector interface {
	Collect(loc weather.Location) error
}

// Scheduler periodically triggers collection for configured locations.
// The first trigger fires as soon as the scheduler starts.
type Scheduler struct {
	scheduler *gocron.Scheduler
	collector Collector
	locations []weather.Location
	interval  time.Duration
	logger    zerolog.Logger
}

// New creates a new Scheduler.
func New(locations []weather.Location, interval time.Duration, collector Collector, logger zerolog.Logger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler: s,
		collector: collector,
		locations: locations,
		interval:  interval,
		logger:    logger,
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if len(s.locations) == 0 {
		s.logger.Warn().Msg("scheduler: no locations configured; nothing to schedule")
		return nil
	}

	interval := s.interval
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	_, err := s.scheduler.Every(interval).Do(s.trigger)
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

func (s *Scheduler) trigger() {
	for _, loc := range s.locations {
		err := s.collector.Collect(loc)
		switch {
		case err == nil:
			s.logger.Debug().Str("location", loc.String()).Msg("scheduler: collection started")
		case errors.Is(err, weather.ErrRunInProgress):
			s.logger.Info().Str("location", loc.String()).Msg("scheduler: previous collection still running, skipping")
		default:
			s.logger.Error().Err(err).Str("location", loc.String()).Msg("scheduler: collection not started")
		}
	}
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
