package service

import (
	"context"
	"time"

	"github.com/septivank/meter-telemetry-service/internal/db"
)

// Store is the persistence surface the services need. Implemented by
// repository.Repository; tests substitute an in-memory fake.
type Store interface {
	// AppendSample upserts the meter and stores all reading rows as one unit.
	AppendSample(ctx context.Context, meter db.MeterUpsert, readings []db.MeterReading) (*db.Meter, error)
	// ListMeterSummaries returns all meters with reading statistics, most
	// recently seen first.
	ListMeterSummaries(ctx context.Context) ([]db.MeterSummary, error)
	// RecentReadings returns up to rowLimit rows for a meter ordered by
	// (timestamp DESC, insertion order DESC).
	RecentReadings(ctx context.Context, meterID string, rowLimit int) ([]db.MeterReading, error)
	// DailyAggregates returns per-date counts and active-power averages for
	// rows at or after since.
	DailyAggregates(ctx context.Context, since time.Time, activePowerCode string) ([]db.DailyAggregate, error)
	// Ping checks store connectivity.
	Ping(ctx context.Context) error
}

// EventPublisher emits an event after a sample has been committed
type EventPublisher interface {
	PublishSampleAccepted(ctx context.Context, event SampleAccepted) error
}

// SampleAccepted is published after a sample is stored
type SampleAccepted struct {
	MeterID        string    `json:"meter_id"`
	Timestamp      time.Time `json:"timestamp"`
	SequenceNumber int       `json:"sequence_number"`
	ReadingCount   int       `json:"reading_count"`
}
