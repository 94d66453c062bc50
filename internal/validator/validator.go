package validator

import (
	"encoding/json"
	"errors"
)

var (
	// ErrInvalidPayload is returned when meter_id or readings is missing
	ErrInvalidPayload = errors.New("meter_id and readings are required")
	// ErrTooManyReadings is returned when a sample carries more readings than allowed
	ErrTooManyReadings = errors.New("too many readings in sample")
)

// SamplePayload is one inbound telemetry sample from a meter
type SamplePayload struct {
	MeterID    string           `json:"meter_id"`
	Location   *string          `json:"location,omitempty"`
	Timestamp  string           `json:"timestamp"`
	Sequence   int              `json:"sequence"`
	DeviceInfo json.RawMessage  `json:"device_info,omitempty"`
	Readings   []ReadingPayload `json:"readings"`
}

// ReadingPayload is a single OBIS-coded measurement within a sample.
// Value is untyped on purpose: individual reading fields are not validated
// here, so a malformed value propagates to a storage failure rather than
// being coerced (known gap, kept as-is).
type ReadingPayload struct {
	OBISCode    string `json:"obis_code"`
	Description string `json:"description"`
	Value       any    `json:"value"`
	Unit        string `json:"unit"`
	Scaler      int    `json:"scaler"`
}

// Validator checks inbound samples against structural constraints
type Validator struct {
	maxReadings int
}

// NewValidator creates a new validator with the specified readings cap
func NewValidator(maxReadings int) *Validator {
	return &Validator{
		maxReadings: maxReadings,
	}
}

// ValidateSample checks the structural constraints of a sample: a non-empty
// meter_id, a present readings array, and the readings cap. Nothing else is
// checked and no state is touched.
func (v *Validator) ValidateSample(p *SamplePayload) error {
	if p == nil || p.MeterID == "" || p.Readings == nil {
		return ErrInvalidPayload
	}
	if len(p.Readings) > v.maxReadings {
		return ErrTooManyReadings
	}
	return nil
}
