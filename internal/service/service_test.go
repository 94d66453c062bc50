package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/septivank/meter-telemetry-service/internal/db"
	"github.com/septivank/meter-telemetry-service/internal/liveness"
	"github.com/septivank/meter-telemetry-service/internal/sample"
	"github.com/septivank/meter-telemetry-service/internal/service"
	"github.com/septivank/meter-telemetry-service/internal/validator"
	"go.uber.org/zap"
)

// fakeStore implements service.Store in memory with the same contract the
// repository provides: atomic sample append, first_seen preservation, and
// (timestamp DESC, insertion order DESC) recent-readings ordering.
const testMaxSampleLimit = 100

type fakeStore struct {
	meters       map[string]*db.Meter
	readings     []db.MeterReading
	nextID       int64
	failNext     error
	lastRowLimit int
}

func newFakeStore() *fakeStore {
	return &fakeStore{meters: map[string]*db.Meter{}}
}

func (f *fakeStore) AppendSample(_ context.Context, meter db.MeterUpsert, readings []db.MeterReading) (*db.Meter, error) {
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return nil, err
	}

	now := time.Now()
	m, ok := f.meters[meter.MeterID]
	if !ok {
		m = &db.Meter{MeterID: meter.MeterID, FirstSeen: now}
		f.meters[meter.MeterID] = m
	}
	if meter.Location != nil {
		m.Location = meter.Location
	}
	if meter.DeviceInfo != nil {
		m.DeviceInfo = meter.DeviceInfo
	}
	m.LastSeen = now

	for _, r := range readings {
		f.nextID++
		r.ID = f.nextID
		f.readings = append(f.readings, r)
	}
	return m, nil
}

func (f *fakeStore) ListMeterSummaries(context.Context) ([]db.MeterSummary, error) {
	var summaries []db.MeterSummary
	for _, m := range f.meters {
		s := db.MeterSummary{Meter: *m}
		for _, r := range f.readings {
			if r.MeterID == m.MeterID {
				s.TotalReadings++
				ts := r.Timestamp
				if s.LatestReadingTime == nil || ts.After(*s.LatestReadingTime) {
					s.LatestReadingTime = &ts
				}
			}
		}
		summaries = append(summaries, s)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].LastSeen.After(summaries[j].LastSeen)
	})
	return summaries, nil
}

func (f *fakeStore) RecentReadings(_ context.Context, meterID string, rowLimit int) ([]db.MeterReading, error) {
	f.lastRowLimit = rowLimit
	var rows []db.MeterReading
	for _, r := range f.readings {
		if r.MeterID == meterID {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].Timestamp.Equal(rows[j].Timestamp) {
			return rows[i].Timestamp.After(rows[j].Timestamp)
		}
		return rows[i].ID > rows[j].ID
	})
	if len(rows) > rowLimit {
		rows = rows[:rowLimit]
	}
	return rows, nil
}

func (f *fakeStore) DailyAggregates(_ context.Context, since time.Time, activePowerCode string) ([]db.DailyAggregate, error) {
	type bucket struct {
		count    int64
		powerSum float64
		powerN   int64
	}
	buckets := map[string]*bucket{}
	for _, r := range f.readings {
		if r.Timestamp.Before(since) {
			continue
		}
		day := r.Timestamp.UTC().Format("2006-01-02")
		b, ok := buckets[day]
		if !ok {
			b = &bucket{}
			buckets[day] = b
		}
		b.count++
		if r.OBISCode == activePowerCode {
			if v, ok := r.Value.(float64); ok {
				b.powerSum += v
				b.powerN++
			}
		}
	}
	var days []string
	for day := range buckets {
		days = append(days, day)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(days)))

	var aggs []db.DailyAggregate
	for _, day := range days {
		b := buckets[day]
		date, _ := time.Parse("2006-01-02", day)
		agg := db.DailyAggregate{Date: date, ReadingCount: b.count}
		if b.powerN > 0 {
			avg := b.powerSum / float64(b.powerN)
			agg.AvgPower = &avg
		}
		aggs = append(aggs, agg)
	}
	return aggs, nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }

type capturedEvent struct {
	events []service.SampleAccepted
}

func (c *capturedEvent) PublishSampleAccepted(_ context.Context, event service.SampleAccepted) error {
	c.events = append(c.events, event)
	return nil
}

func newServices(store service.Store) (*service.IngestService, *service.QueryService, *capturedEvent) {
	logger := zap.NewNop()
	events := &capturedEvent{}
	ingest := service.NewIngestService(store, validator.NewValidator(100), events, logger)
	query := service.NewQueryService(
		store,
		sample.NewReconstructor(sample.DefaultOverfetchFactor),
		liveness.NewEvaluator(liveness.DefaultThreshold),
		7,
		10,
		testMaxSampleLimit,
		logger,
	)
	return ingest, query, events
}

func samplePayload(meterID string, timestamp string, seq int, n int) *validator.SamplePayload {
	var rs []validator.ReadingPayload
	for i := 0; i < n; i++ {
		code := service.ActivePowerOBISCode
		if i > 0 {
			code = "1.0.32.7.0.255"
		}
		rs = append(rs, validator.ReadingPayload{
			OBISCode: code,
			Value:    float64(100 + i),
			Unit:     "W",
		})
	}
	return &validator.SamplePayload{
		MeterID:   meterID,
		Timestamp: timestamp,
		Sequence:  seq,
		Readings:  rs,
	}
}

func TestIngestSample_Success(t *testing.T) {
	store := newFakeStore()
	ingest, _, events := newServices(store)

	count, err := ingest.IngestSample(context.Background(),
		samplePayload("M1", "2024-01-01T00:00:00Z", 1, 3), time.Now())
	if err != nil {
		t.Fatalf("Expected ingestion to succeed, got %v", err)
	}
	if count != 3 {
		t.Errorf("Expected readings_received 3, got %d", count)
	}
	if len(store.readings) != 3 {
		t.Errorf("Expected 3 stored rows, got %d", len(store.readings))
	}
	if len(events.events) != 1 || events.events[0].ReadingCount != 3 {
		t.Errorf("Expected one accepted event with 3 readings, got %+v", events.events)
	}
}

func TestIngestSample_TooManyReadings_NothingPersisted(t *testing.T) {
	store := newFakeStore()
	ingest, _, events := newServices(store)

	_, err := ingest.IngestSample(context.Background(),
		samplePayload("M1", "2024-01-01T00:00:00Z", 1, 101), time.Now())
	if !errors.Is(err, validator.ErrTooManyReadings) {
		t.Fatalf("Expected ErrTooManyReadings, got %v", err)
	}
	if len(store.readings) != 0 {
		t.Errorf("Expected no rows persisted, got %d", len(store.readings))
	}
	if len(store.meters) != 0 {
		t.Errorf("Expected no meter registered, got %d", len(store.meters))
	}
	if len(events.events) != 0 {
		t.Errorf("Expected no events, got %d", len(events.events))
	}
}

func TestIngestSample_InvalidPayload(t *testing.T) {
	store := newFakeStore()
	ingest, _, _ := newServices(store)

	_, err := ingest.IngestSample(context.Background(),
		&validator.SamplePayload{Timestamp: "2024-01-01T00:00:00Z"}, time.Now())
	if !errors.Is(err, validator.ErrInvalidPayload) {
		t.Errorf("Expected ErrInvalidPayload, got %v", err)
	}
}

func TestIngestSample_StoreFailureSurfaces(t *testing.T) {
	store := newFakeStore()
	store.failNext = errors.New("connection reset")
	ingest, _, events := newServices(store)

	_, err := ingest.IngestSample(context.Background(),
		samplePayload("M1", "2024-01-01T00:00:00Z", 1, 1), time.Now())
	if err == nil {
		t.Fatal("Expected storage failure to surface")
	}
	if errors.Is(err, validator.ErrInvalidPayload) || errors.Is(err, validator.ErrTooManyReadings) {
		t.Errorf("Storage failure must not look like a client error: %v", err)
	}
	if len(events.events) != 0 {
		t.Errorf("Expected no event after failed ingest, got %d", len(events.events))
	}
}

func TestIngestThenLatestSamples_RoundTrip(t *testing.T) {
	store := newFakeStore()
	ingest, query, _ := newServices(store)

	if _, err := ingest.IngestSample(context.Background(),
		samplePayload("M1", "2024-01-01T00:00:00Z", 1, 4), time.Now()); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	samples, err := query.LatestSamples(context.Background(), "M1", 1)
	if err != nil {
		t.Fatalf("LatestSamples failed: %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("Expected 1 logical sample, got %d", len(samples))
	}
	expected := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if !samples[0].Timestamp.Equal(expected) {
		t.Errorf("Expected timestamp %v, got %v", expected, samples[0].Timestamp)
	}
	if samples[0].SequenceNumber != 1 {
		t.Errorf("Expected sequence 1, got %d", samples[0].SequenceNumber)
	}
	if len(samples[0].Readings) != 4 {
		t.Errorf("Expected all 4 readings in the sample, got %d", len(samples[0].Readings))
	}
}

func TestLatestSamples_UnknownMeter(t *testing.T) {
	store := newFakeStore()
	_, query, _ := newServices(store)

	samples, err := query.LatestSamples(context.Background(), "never-seen", 5)
	if err != nil {
		t.Fatalf("Expected no error for unknown meter, got %v", err)
	}
	if len(samples) != 0 {
		t.Errorf("Expected empty result for unknown meter, got %d samples", len(samples))
	}
}

func TestListMeters_StatusAndStats(t *testing.T) {
	store := newFakeStore()
	ingest, query, _ := newServices(store)

	if _, err := ingest.IngestSample(context.Background(),
		samplePayload("M1", "2024-01-01T00:00:00Z", 1, 2), time.Now()); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	meters, err := query.ListMeters(context.Background())
	if err != nil {
		t.Fatalf("ListMeters failed: %v", err)
	}
	if len(meters) != 1 {
		t.Fatalf("Expected 1 meter, got %d", len(meters))
	}
	m := meters[0]
	if m.MeterID != "M1" {
		t.Errorf("Expected meter_id M1, got %s", m.MeterID)
	}
	if m.TotalReadings != 2 {
		t.Errorf("Expected total_readings 2, got %d", m.TotalReadings)
	}
	if m.Status != liveness.StatusOnline {
		t.Errorf("Expected just-ingested meter to be online, got %s", m.Status)
	}
	if m.LatestReadingTime == nil {
		t.Error("Expected latest_reading_time to be set")
	}
}

func TestDashboard_EmptyStore(t *testing.T) {
	store := newFakeStore()
	_, query, _ := newServices(store)

	view, err := query.Dashboard(context.Background())
	if err != nil {
		t.Fatalf("Dashboard failed: %v", err)
	}
	if view.MeterInfo != nil {
		t.Errorf("Expected no meterInfo for empty store, got %+v", view.MeterInfo)
	}
	if len(view.Latest) != 0 || len(view.Daily) != 0 {
		t.Errorf("Expected empty latest and daily, got %d / %d", len(view.Latest), len(view.Daily))
	}
}

func TestDashboard_AggregatesActivePowerOnly(t *testing.T) {
	store := newFakeStore()
	ingest, query, _ := newServices(store)

	now := time.Now().UTC()
	// One sample with an active-power reading plus a voltage reading.
	if _, err := ingest.IngestSample(context.Background(),
		samplePayload("M1", now.Format(time.RFC3339), 1, 2), now); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	view, err := query.Dashboard(context.Background())
	if err != nil {
		t.Fatalf("Dashboard failed: %v", err)
	}
	if view.MeterInfo == nil || view.MeterInfo.MeterID != "M1" {
		t.Fatalf("Expected dashboard meter M1, got %+v", view.MeterInfo)
	}
	if len(view.Latest) != 2 {
		t.Errorf("Expected 2 raw rows, got %d", len(view.Latest))
	}
	if len(view.Daily) != 1 {
		t.Fatalf("Expected 1 aggregate day, got %d", len(view.Daily))
	}
	day := view.Daily[0]
	if day.ReadingCount != 2 {
		t.Errorf("Expected reading_count 2, got %d", day.ReadingCount)
	}
	if day.AvgPower == nil || *day.AvgPower != 100 {
		t.Errorf("Expected avg_power 100 over the single active-power row, got %v", day.AvgPower)
	}
}

func TestDashboard_NoActivePowerRows_NullAverage(t *testing.T) {
	store := newFakeStore()
	ingest, query, _ := newServices(store)

	now := time.Now().UTC()
	// Voltage and energy readings only, no active-power rows.
	payload := &validator.SamplePayload{
		MeterID:   "M1",
		Timestamp: now.Format(time.RFC3339),
		Sequence:  1,
		Readings: []validator.ReadingPayload{
			{OBISCode: "1.0.32.7.0.255", Value: float64(230.1), Unit: "V"},
			{OBISCode: "1.0.1.8.0.255", Value: float64(12345), Unit: "Wh"},
		},
	}
	if _, err := ingest.IngestSample(context.Background(), payload, now); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	view, err := query.Dashboard(context.Background())
	if err != nil {
		t.Fatalf("Dashboard failed: %v", err)
	}
	if len(view.Daily) != 1 {
		t.Fatalf("Expected 1 aggregate day, got %d", len(view.Daily))
	}
	day := view.Daily[0]
	if day.ReadingCount != 2 {
		t.Errorf("Expected reading_count 2, got %d", day.ReadingCount)
	}
	if day.AvgPower != nil {
		t.Errorf("Expected no average for a day without active-power rows, got %v", *day.AvgPower)
	}

	encoded, err := json.Marshal(day)
	if err != nil {
		t.Fatalf("Failed to marshal daily stat: %v", err)
	}
	if !strings.Contains(string(encoded), `"avg_power":null`) {
		t.Errorf("Expected avg_power to serialize as null, got %s", encoded)
	}
}

func TestDashboard_WindowExcludesOldRows(t *testing.T) {
	store := newFakeStore()
	ingest, query, _ := newServices(store)

	now := time.Now().UTC()
	if _, err := ingest.IngestSample(context.Background(),
		samplePayload("M1", now.Format(time.RFC3339), 2, 1), now); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	// A sample from well outside the trailing window must not appear.
	old := now.AddDate(0, 0, -10)
	if _, err := ingest.IngestSample(context.Background(),
		samplePayload("M1", old.Format(time.RFC3339), 1, 1), now); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	view, err := query.Dashboard(context.Background())
	if err != nil {
		t.Fatalf("Dashboard failed: %v", err)
	}
	if len(view.Daily) != 1 {
		t.Fatalf("Expected only the in-window day, got %d days", len(view.Daily))
	}
	if got, want := view.Daily[0].Date, now.Format("2006-01-02"); got != want {
		t.Errorf("Expected aggregate date %s, got %s", want, got)
	}
}

func TestLatestSamples_LimitCapped(t *testing.T) {
	store := newFakeStore()
	_, query, _ := newServices(store)

	if _, err := query.LatestSamples(context.Background(), "M1", 100000); err != nil {
		t.Fatalf("LatestSamples failed: %v", err)
	}
	want := testMaxSampleLimit * sample.DefaultOverfetchFactor
	if store.lastRowLimit != want {
		t.Errorf("Expected row fetch capped at %d, got %d", want, store.lastRowLimit)
	}
}

func TestHandleQueueMessage(t *testing.T) {
	store := newFakeStore()
	ingest, _, _ := newServices(store)

	body := []byte(`{
		"request_id": "req-1",
		"received_at": "2024-01-01T00:00:05Z",
		"payload": {
			"meter_id": "M1",
			"timestamp": "2024-01-01T00:00:00Z",
			"sequence": 1,
			"readings": [{"obis_code": "1.0.1.7.0.255", "value": 100, "unit": "W", "scaler": 0}]
		}
	}`)

	if err := ingest.HandleQueueMessage(context.Background(), body); err != nil {
		t.Fatalf("Expected queued sample to be processed, got %v", err)
	}
	if len(store.readings) != 1 {
		t.Errorf("Expected 1 stored row, got %d", len(store.readings))
	}
}

func TestHandleQueueMessage_BadJSON(t *testing.T) {
	store := newFakeStore()
	ingest, _, _ := newServices(store)

	if err := ingest.HandleQueueMessage(context.Background(), []byte("{not json")); err == nil {
		t.Error("Expected error for malformed queue message")
	}
}
