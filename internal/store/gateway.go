package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/i474232898/weather-data-collector/internal/weather"
)

// Gateway is the persistence boundary of the collector. Every completed run
// is kept in memory, appended to the history file and, when configured,
// published to Kafka.
type Gateway struct {
	memory    *MemoryStore
	files     *FileStore
	publisher *KafkaPublisher
}

// NewGateway creates a Gateway. files and publisher may be nil.
func NewGateway(memory *MemoryStore, files *FileStore, publisher *KafkaPublisher) *Gateway {
	return &Gateway{memory: memory, files: files, publisher: publisher}
}

// Persist implements weather.Persister. The run is saved to every backend
// even if one of them fails; failures are joined.
func (g *Gateway) Persist(ctx context.Context, run weather.CollectionRun) error {
	if g.memory != nil {
		g.memory.SaveRun(run)
	}

	var errs []error
	if g.files != nil {
		if err := g.files.AppendHistory(weather.NewHistoryEntry(run)); err != nil {
			errs = append(errs, fmt.Errorf("history file: %w", err))
		}
	}
	if g.publisher != nil {
		if err := g.publisher.Publish(ctx, run); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases the Kafka producer, if any.
func (g *Gateway) Close() error {
	if g.publisher == nil {
		return nil
	}
	return g.publisher.Close()
}
