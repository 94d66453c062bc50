package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/septivank/meter-telemetry-service/internal/db"
)

// Tx is an alias for pgx.Tx
type Tx = pgx.Tx

// Repository handles database operations
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// UpsertMeterTx inserts or updates a meter within a transaction. The upsert is
// a single atomic statement so concurrent samples for the same meter_id cannot
// lose updates. first_seen is preserved on conflict; a nil location or
// device_info keeps the stored value.
func (r *Repository) UpsertMeterTx(ctx context.Context, tx Tx, meter db.MeterUpsert, now time.Time) (*db.Meter, error) {
	query := `
		INSERT INTO meters (meter_id, location, device_info, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (meter_id) DO UPDATE
		SET location    = COALESCE(EXCLUDED.location, meters.location),
		    device_info = COALESCE(EXCLUDED.device_info, meters.device_info),
		    last_seen   = EXCLUDED.last_seen
		RETURNING meter_id, location, device_info, first_seen, last_seen
	`

	var m db.Meter
	err := tx.QueryRow(ctx, query, meter.MeterID, meter.Location, meter.DeviceInfo, now).Scan(
		&m.MeterID,
		&m.Location,
		&m.DeviceInfo,
		&m.FirstSeen,
		&m.LastSeen,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert meter: %w", err)
	}

	return &m, nil
}

// InsertReadingTx inserts a single reading row within a transaction
func (r *Repository) InsertReadingTx(ctx context.Context, tx Tx, reading *db.MeterReading) error {
	query := `
		INSERT INTO meter_readings (
			meter_id, reading_timestamp, sequence_number, obis_code,
			description, value, unit, scaler, received_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := tx.Exec(ctx, query,
		reading.MeterID,
		reading.Timestamp,
		reading.SequenceNumber,
		reading.OBISCode,
		reading.Description,
		reading.Value,
		reading.Unit,
		reading.Scaler,
		reading.ReceivedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert meter reading: %w", err)
	}

	return nil
}

// AppendSample stores one logical sample: the meter upsert and all reading
// rows run in a single transaction, so a failure part-way leaves nothing
// behind and is reported as an ingestion failure.
func (r *Repository) AppendSample(ctx context.Context, meter db.MeterUpsert, readings []db.MeterReading) (*db.Meter, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	m, err := r.UpsertMeterTx(ctx, tx, meter, now)
	if err != nil {
		return nil, err
	}

	for i := range readings {
		if err := r.InsertReadingTx(ctx, tx, &readings[i]); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return m, nil
}

// ListMeterSummaries returns every meter with its reading count and most
// recent reading timestamp, most recently seen first
func (r *Repository) ListMeterSummaries(ctx context.Context) ([]db.MeterSummary, error) {
	query := `
		SELECT m.meter_id, m.location, m.device_info, m.first_seen, m.last_seen,
		       COUNT(r.id) AS total_readings,
		       MAX(r.reading_timestamp) AS latest_reading_time
		FROM meters m
		LEFT JOIN meter_readings r ON r.meter_id = m.meter_id
		GROUP BY m.meter_id, m.location, m.device_info, m.first_seen, m.last_seen
		ORDER BY m.last_seen DESC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query meters: %w", err)
	}
	defer rows.Close()

	var summaries []db.MeterSummary
	for rows.Next() {
		var s db.MeterSummary
		if err := rows.Scan(
			&s.MeterID,
			&s.Location,
			&s.DeviceInfo,
			&s.FirstSeen,
			&s.LastSeen,
			&s.TotalReadings,
			&s.LatestReadingTime,
		); err != nil {
			return nil, fmt.Errorf("failed to scan meter summary: %w", err)
		}
		summaries = append(summaries, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return summaries, nil
}

// RecentReadings returns the most recent rowLimit reading rows for a meter,
// ordered by sample timestamp then insertion order, both descending. The
// limit counts rows, not logical samples; callers wanting whole samples must
// over-fetch and regroup.
func (r *Repository) RecentReadings(ctx context.Context, meterID string, rowLimit int) ([]db.MeterReading, error) {
	query := `
		SELECT id, meter_id, reading_timestamp, sequence_number, obis_code,
		       description, value, unit, scaler, received_at
		FROM meter_readings
		WHERE meter_id = $1
		ORDER BY reading_timestamp DESC, id DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, meterID, rowLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent readings: %w", err)
	}
	defer rows.Close()

	var readings []db.MeterReading
	for rows.Next() {
		var reading db.MeterReading
		if err := rows.Scan(
			&reading.ID,
			&reading.MeterID,
			&reading.Timestamp,
			&reading.SequenceNumber,
			&reading.OBISCode,
			&reading.Description,
			&reading.Value,
			&reading.Unit,
			&reading.Scaler,
			&reading.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, reading)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return readings, nil
}

// DailyAggregates returns per-calendar-date reading counts since the given
// time, along with the average value of rows matching the active-power OBIS
// code. Dates with no active-power rows carry a NULL average.
func (r *Repository) DailyAggregates(ctx context.Context, since time.Time, activePowerCode string) ([]db.DailyAggregate, error) {
	query := `
		SELECT date_trunc('day', reading_timestamp)::date AS day,
		       COUNT(*) AS reading_count,
		       AVG(value) FILTER (WHERE obis_code = $2) AS avg_power
		FROM meter_readings
		WHERE reading_timestamp >= $1
		GROUP BY day
		ORDER BY day DESC
	`

	rows, err := r.pool.Query(ctx, query, since, activePowerCode)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily aggregates: %w", err)
	}
	defer rows.Close()

	var aggregates []db.DailyAggregate
	for rows.Next() {
		var agg db.DailyAggregate
		if err := rows.Scan(&agg.Date, &agg.ReadingCount, &agg.AvgPower); err != nil {
			return nil, fmt.Errorf("failed to scan daily aggregate: %w", err)
		}
		aggregates = append(aggregates, agg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return aggregates, nil
}

// Ping checks database connectivity
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}
