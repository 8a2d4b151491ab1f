package weather

import (
	"context"
	"time"
)

// Adapter abstracts a weather data source (a scraped site or a JSON API).
//
// Fetch returns ErrUnavailable (bare or wrapped) when the source has no data
// for the location; any other error is treated as a fault.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, loc Location) (Reading, error)
}

// Persister receives every completed collection run.
type Persister interface {
	Persist(ctx context.Context, run CollectionRun) error
}

// Exporter writes an on-demand snapshot of a run and returns its identifier.
type Exporter interface {
	ExportSnapshot(loc Location, ts time.Time, readings []Reading, agg Aggregate) (string, error)
}

// RunStore is the contract the in-memory store (and any future persistent store) must satisfy.
type RunStore interface {
	SaveRun(run CollectionRun)
	GetLatest(loc Location) (CollectionRun, error)
	GetRange(loc Location, from, to time.Time) ([]CollectionRun, error)
}
