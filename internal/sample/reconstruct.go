package sample

import (
	"time"

	"github.com/septivank/meter-telemetry-service/internal/db"
)

// DefaultOverfetchFactor is the assumed maximum number of rows per logical
// sample. It is a heuristic, not a guarantee: a sample with more distinct
// OBIS codes than this may be split across the fetch boundary.
const DefaultOverfetchFactor = 10

// Reading is one measurement inside a reconstructed sample
type Reading struct {
	OBISCode    string `json:"obis_code"`
	Description string `json:"description"`
	Value       any    `json:"value"`
	Unit        string `json:"unit"`
	Scaler      int    `json:"scaler"`
}

// LogicalSample is one batch of simultaneous readings from a meter. It has no
// stored identity; it is rebuilt from flat rows on every read.
type LogicalSample struct {
	Timestamp      time.Time `json:"timestamp"`
	SequenceNumber int       `json:"sequence_number"`
	Readings       []Reading `json:"readings"`
}

// Reconstructor regroups flat reading rows into logical samples
type Reconstructor struct {
	overfetchFactor int
}

// NewReconstructor creates a reconstructor with the given rows-per-sample
// over-fetch factor
func NewReconstructor(overfetchFactor int) *Reconstructor {
	if overfetchFactor <= 0 {
		overfetchFactor = DefaultOverfetchFactor
	}
	return &Reconstructor{
		overfetchFactor: overfetchFactor,
	}
}

// RowBudget returns how many rows to fetch from the store to reconstruct up
// to sampleLimit logical samples
func (r *Reconstructor) RowBudget(sampleLimit int) int {
	if sampleLimit < 1 {
		sampleLimit = 1
	}
	return sampleLimit * r.overfetchFactor
}

// Regroup groups rows sharing a timestamp into logical samples, keeping the
// store's descending-timestamp order and each group's first-seen sequence
// number. At most limit samples are returned; zero rows yield an empty
// result, which is valid for unknown or quiet meters.
func (r *Reconstructor) Regroup(rows []db.MeterReading, limit int) []LogicalSample {
	if limit < 1 {
		limit = 1
	}

	samples := make([]LogicalSample, 0, limit)
	index := make(map[int64]int)

	for _, row := range rows {
		key := row.Timestamp.UnixNano()
		if i, ok := index[key]; ok {
			samples[i].Readings = append(samples[i].Readings, toReading(row))
			continue
		}
		if len(samples) == limit {
			// Rows arrive ordered by timestamp, so a new group past the
			// limit means every remaining row belongs to older samples.
			break
		}
		index[key] = len(samples)
		samples = append(samples, LogicalSample{
			Timestamp:      row.Timestamp,
			SequenceNumber: row.SequenceNumber,
			Readings:       []Reading{toReading(row)},
		})
	}

	return samples
}

func toReading(row db.MeterReading) Reading {
	return Reading{
		OBISCode:    row.OBISCode,
		Description: row.Description,
		Value:       row.Value,
		Unit:        row.Unit,
		Scaler:      row.Scaler,
	}
}
