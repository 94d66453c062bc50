package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/septivank/meter-telemetry-service/internal/db"
	"github.com/septivank/meter-telemetry-service/internal/liveness"
	"github.com/septivank/meter-telemetry-service/internal/sample"
	"go.uber.org/zap"
)

// ActivePowerOBISCode identifies active power, positive direction. The daily
// average is computed over rows with this code only.
const ActivePowerOBISCode = "1.0.1.7.0.255"

// MeterStatus is one meter in the dashboard listing
type MeterStatus struct {
	MeterID           string          `json:"meter_id"`
	Location          *string         `json:"location"`
	DeviceInfo        json.RawMessage `json:"device_info"`
	TotalReadings     int64           `json:"total_readings"`
	FirstSeen         time.Time       `json:"first_seen"`
	LastSeen          time.Time       `json:"last_seen"`
	LatestReadingTime *time.Time      `json:"latest_reading_time"`
	Status            string          `json:"status"`
}

// ReadingRow is one raw stored row in dashboard responses
type ReadingRow struct {
	Timestamp      time.Time `json:"timestamp"`
	SequenceNumber int       `json:"sequence_number"`
	OBISCode       string    `json:"obis_code"`
	Description    string    `json:"description"`
	Value          any       `json:"value"`
	Unit           string    `json:"unit"`
	Scaler         int       `json:"scaler"`
	ReceivedAt     time.Time `json:"received_at"`
}

// DailyStat is one calendar date in the trailing aggregate window. AvgPower
// is null for dates without active-power rows.
type DailyStat struct {
	Date         string   `json:"date"`
	ReadingCount int64    `json:"reading_count"`
	AvgPower     *float64 `json:"avg_power"`
}

// DashboardView combines the most-recently-seen meter, its latest raw rows,
// and the trailing daily aggregates
type DashboardView struct {
	MeterInfo *MeterStatus `json:"meterInfo"`
	Latest    []ReadingRow `json:"latest"`
	Daily     []DailyStat  `json:"daily"`
}

// QueryService serves the read side: meter listings, reconstructed samples,
// and the dashboard aggregate view
type QueryService struct {
	store          Store
	reconstructor  *sample.Reconstructor
	liveness       *liveness.Evaluator
	windowDays     int
	dashboardRows  int
	maxSampleLimit int
	logger         *zap.Logger
}

// NewQueryService creates a new query service
func NewQueryService(
	store Store,
	reconstructor *sample.Reconstructor,
	livenessEval *liveness.Evaluator,
	windowDays int,
	dashboardRows int,
	maxSampleLimit int,
	logger *zap.Logger,
) *QueryService {
	return &QueryService{
		store:          store,
		reconstructor:  reconstructor,
		liveness:       livenessEval,
		windowDays:     windowDays,
		dashboardRows:  dashboardRows,
		maxSampleLimit: maxSampleLimit,
		logger:         logger,
	}
}

// ListMeters returns every meter with reading statistics and derived
// online/offline status, most recently seen first
func (s *QueryService) ListMeters(ctx context.Context) ([]MeterStatus, error) {
	summaries, err := s.store.ListMeterSummaries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list meters: %w", err)
	}

	now := time.Now()
	meters := make([]MeterStatus, 0, len(summaries))
	for _, summary := range summaries {
		meters = append(meters, s.toMeterStatus(summary, now))
	}

	return meters, nil
}

// LatestSamples reconstructs up to limit logical samples for a meter, most
// recent first. An unknown or quiet meter yields an empty result.
func (s *QueryService) LatestSamples(ctx context.Context, meterID string, limit int) ([]sample.LogicalSample, error) {
	if limit < 1 {
		limit = 1
	}
	// The limit is caller-supplied; capping it bounds the over-fetched row
	// count.
	if s.maxSampleLimit > 0 && limit > s.maxSampleLimit {
		limit = s.maxSampleLimit
	}

	rows, err := s.store.RecentReadings(ctx, meterID, s.reconstructor.RowBudget(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}

	return s.reconstructor.Regroup(rows, limit), nil
}

// Dashboard builds the combined dashboard view: the most-recently-seen
// meter's identity and status, its latest raw rows, and the trailing daily
// aggregates across all meters
func (s *QueryService) Dashboard(ctx context.Context) (*DashboardView, error) {
	view := &DashboardView{
		Latest: []ReadingRow{},
		Daily:  []DailyStat{},
	}

	summaries, err := s.store.ListMeterSummaries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list meters: %w", err)
	}

	now := time.Now()
	if len(summaries) > 0 {
		status := s.toMeterStatus(summaries[0], now)
		view.MeterInfo = &status

		rows, err := s.store.RecentReadings(ctx, status.MeterID, s.dashboardRows)
		if err != nil {
			return nil, fmt.Errorf("failed to query latest readings: %w", err)
		}
		for _, row := range rows {
			view.Latest = append(view.Latest, ReadingRow{
				Timestamp:      row.Timestamp,
				SequenceNumber: row.SequenceNumber,
				OBISCode:       row.OBISCode,
				Description:    row.Description,
				Value:          row.Value,
				Unit:           row.Unit,
				Scaler:         row.Scaler,
				ReceivedAt:     row.ReceivedAt,
			})
		}
	}

	since := now.AddDate(0, 0, -s.windowDays)
	aggregates, err := s.store.DailyAggregates(ctx, since, ActivePowerOBISCode)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily aggregates: %w", err)
	}
	for _, agg := range aggregates {
		view.Daily = append(view.Daily, DailyStat{
			Date:         agg.Date.Format("2006-01-02"),
			ReadingCount: agg.ReadingCount,
			AvgPower:     agg.AvgPower,
		})
	}

	return view, nil
}

// Health checks store connectivity
func (s *QueryService) Health(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *QueryService) toMeterStatus(summary db.MeterSummary, now time.Time) MeterStatus {
	var deviceInfo json.RawMessage
	if len(summary.DeviceInfo) > 0 {
		deviceInfo = json.RawMessage(summary.DeviceInfo)
	}
	return MeterStatus{
		MeterID:           summary.MeterID,
		Location:          summary.Location,
		DeviceInfo:        deviceInfo,
		TotalReadings:     summary.TotalReadings,
		FirstSeen:         summary.FirstSeen,
		LastSeen:          summary.LastSeen,
		LatestReadingTime: summary.LatestReadingTime,
		Status:            s.liveness.Status(summary.LastSeen, now),
	}
}
