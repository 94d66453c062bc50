package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/septivank/meter-telemetry-service/internal/db"
	"github.com/septivank/meter-telemetry-service/internal/logging"
	"github.com/septivank/meter-telemetry-service/internal/validator"
	"github.com/septivank/meter-telemetry-service/tools/timeparser"
	"go.uber.org/zap"
)

// IngestService accepts telemetry samples, registers the sending meter, and
// appends the sample's reading rows
type IngestService struct {
	store     Store
	validator *validator.Validator
	publisher EventPublisher
	logger    *zap.Logger
}

// NewIngestService creates a new ingest service. publisher may be nil when
// the event path is disabled.
func NewIngestService(
	store Store,
	v *validator.Validator,
	publisher EventPublisher,
	logger *zap.Logger,
) *IngestService {
	return &IngestService{
		store:     store,
		validator: v,
		publisher: publisher,
		logger:    logger,
	}
}

// IngestSample validates, registers, and stores one sample. It returns the
// number of readings stored. Validation errors come back as the validator's
// sentinel errors; anything else is a storage failure.
func (s *IngestService) IngestSample(ctx context.Context, payload *validator.SamplePayload, receivedAt time.Time) (int, error) {
	if err := s.validator.ValidateSample(payload); err != nil {
		return 0, err
	}

	timestamp, err := timeparser.ParseSampleTimestamp(payload.Timestamp)
	if err != nil {
		// Unparseable sample clocks fall back to the server arrival time.
		s.logger.Warn("unparseable sample timestamp, using received time",
			zap.String("meter_id", payload.MeterID),
			zap.String("timestamp", payload.Timestamp),
		)
		timestamp = receivedAt
	}

	meter := db.MeterUpsert{
		MeterID:  payload.MeterID,
		Location: payload.Location,
	}
	if len(payload.DeviceInfo) > 0 {
		meter.DeviceInfo = payload.DeviceInfo
	}

	readings := make([]db.MeterReading, 0, len(payload.Readings))
	for _, r := range payload.Readings {
		readings = append(readings, db.MeterReading{
			MeterID:        payload.MeterID,
			Timestamp:      timestamp,
			SequenceNumber: payload.Sequence,
			OBISCode:       r.OBISCode,
			Description:    r.Description,
			Value:          r.Value,
			Unit:           r.Unit,
			Scaler:         r.Scaler,
			ReceivedAt:     receivedAt,
		})
	}

	if _, err := s.store.AppendSample(ctx, meter, readings); err != nil {
		s.logger.Error("failed to store sample",
			zap.Error(err),
			zap.String("meter_id", payload.MeterID),
			zap.Int("reading_count", len(readings)),
		)
		return 0, fmt.Errorf("failed to store sample: %w", err)
	}

	if s.publisher != nil {
		event := SampleAccepted{
			MeterID:        payload.MeterID,
			Timestamp:      timestamp,
			SequenceNumber: payload.Sequence,
			ReadingCount:   len(readings),
		}
		if err := s.publisher.PublishSampleAccepted(ctx, event); err != nil {
			// The sample is committed; a publish failure is logged, not
			// surfaced to the sender.
			s.logger.Error("failed to publish sample accepted event",
				zap.Error(err),
				zap.String("meter_id", payload.MeterID),
			)
		}
	}

	s.logger.Info("sample ingested",
		zap.String("meter_id", payload.MeterID),
		zap.Time("timestamp", timestamp),
		zap.Int("readings_received", len(readings)),
	)

	return len(readings), nil
}

// QueueSampleMessage is the envelope consumed from the ingest queue
type QueueSampleMessage struct {
	RequestID  string                  `json:"request_id"`
	ReceivedAt time.Time               `json:"received_at"`
	Payload    validator.SamplePayload `json:"payload"`
}

// HandleQueueMessage decodes a queued sample envelope and runs it through the
// same ingest path as the HTTP endpoint. A returned error sends the message
// to the DLQ.
func (s *IngestService) HandleQueueMessage(ctx context.Context, body []byte) error {
	var msg QueueSampleMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal queue message: %w", err)
	}

	reqLogger := logging.WithRequestID(s.logger, msg.RequestID)

	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	count, err := s.IngestSample(ctx, &msg.Payload, receivedAt)
	if err != nil {
		return fmt.Errorf("failed to ingest queued sample: %w", err)
	}

	reqLogger.Info("queued sample processed",
		zap.String("meter_id", msg.Payload.MeterID),
		zap.Int("readings_received", count),
	)

	return nil
}
