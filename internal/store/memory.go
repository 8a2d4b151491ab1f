package store

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/i474232898/weather-data-collector/internal/weather"
)

var (
	// ErrNotFound is returned when no run is available for a given location.
	ErrNotFound = errors.New("no collection runs for location")
)

// runHistory holds a time-ordered list of completed runs for a location.
type runHistory struct {
	runs []weather.CollectionRun
}

// MemoryStore is a concurrency-safe in-memory implementation of weather.RunStore.
type MemoryStore struct {
	mu sync.RWMutex

	// key: location key, value: history
	data map[string]*runHistory

	// retention configuration
	maxHistory int           // max number of runs per location
	maxAge     time.Duration // optional max age for runs

	clock clockwork.Clock
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration, clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		data:       make(map[string]*runHistory),
		maxHistory: maxHistory,
		maxAge:     maxAge,
		clock:      clock,
	}
}

// SaveRun appends a completed run for its location and enforces retention.
func (s *MemoryStore) SaveRun(run weather.CollectionRun) {
	key := run.Location.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	history, ok := s.data[key]
	if !ok {
		history = &runHistory{}
		s.data[key] = history
	}

	history.runs = append(history.runs, run.Clone())

	// Enforce retention by count.
	if s.maxHistory > 0 && len(history.runs) > s.maxHistory {
		over := len(history.runs) - s.maxHistory
		history.runs = history.runs[over:]
	}

	// Enforce retention by age.
	if s.maxAge > 0 {
		cutoff := s.clock.Now().Add(-s.maxAge)
		i := 0
		for ; i < len(history.runs); i++ {
			if !history.runs[i].CompletedAt.Before(cutoff) {
				break
			}
		}
		history.runs = history.runs[i:]
	}
}

// GetLatest returns the most recent run for a location.
func (s *MemoryStore) GetLatest(loc weather.Location) (weather.CollectionRun, error) {
	key := loc.Key()

	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[key]
	if !ok || len(history.runs) == 0 {
		return weather.CollectionRun{}, ErrNotFound
	}
	return history.runs[len(history.runs)-1].Clone(), nil
}

// GetRange returns all runs for a location completed between from and to (inclusive).
func (s *MemoryStore) GetRange(loc weather.Location, from, to time.Time) ([]weather.CollectionRun, error) {
	key := loc.Key()

	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[key]
	if !ok || len(history.runs) == 0 {
		return nil, ErrNotFound
	}

	var result []weather.CollectionRun
	for _, run := range history.runs {
		ts := run.CompletedAt
		if !ts.Before(from) && !ts.After(to) {
			result = append(result, run.Clone())
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}

	return result, nil
}
