package db

import (
	"time"
)

// Meter represents a registered energy meter
type Meter struct {
	MeterID    string
	Location   *string
	DeviceInfo []byte
	FirstSeen  time.Time
	LastSeen   time.Time
}

// MeterUpsert carries the identity fields of an inbound sample.
// Location and DeviceInfo are optional; nil leaves the stored value untouched.
type MeterUpsert struct {
	MeterID    string
	Location   *string
	DeviceInfo []byte
}

// MeterReading represents one stored OBIS-coded measurement.
// All rows of one logical sample share (MeterID, Timestamp, SequenceNumber).
// Value is deliberately untyped: the ingest path does not validate individual
// reading values, so a non-numeric value surfaces as a storage error.
type MeterReading struct {
	ID             int64
	MeterID        string
	Timestamp      time.Time
	SequenceNumber int
	OBISCode       string
	Description    string
	Value          any
	Unit           string
	Scaler         int
	ReceivedAt     time.Time
}

// MeterSummary is a meter joined with its reading statistics
type MeterSummary struct {
	Meter
	TotalReadings     int64
	LatestReadingTime *time.Time
}

// DailyAggregate holds per-calendar-date reading statistics.
// AvgPower is nil for dates without any active-power rows.
type DailyAggregate struct {
	Date         time.Time
	ReadingCount int64
	AvgPower     *float64
}
