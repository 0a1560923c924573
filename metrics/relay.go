package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	SUBMISSION_TTL = time.Minute * 30
)

// RelayMetrics tracks the event pipeline per route.
type RelayMetrics struct {
	detectedCounter  metric.Int64Counter
	signedCounter    metric.Int64Counter
	submittedCounter metric.Int64Counter
	finalizedCounter metric.Int64Counter
	failedCounter    metric.Int64Counter
	attemptCounter   metric.Int64Counter

	watermarkGauge metric.Int64ObservableGauge
	watermarkMu    sync.Mutex
	watermarks     map[string]int64

	submissionTimeHistogram  metric.Float64Histogram
	submissionStartTimeCache *ttlcache.Cache[string, time.Time]
}

func NewRelayMetrics(meter metric.Meter) (*RelayMetrics, error) {
	m := &RelayMetrics{
		watermarks: make(map[string]int64),
		submissionStartTimeCache: ttlcache.New(
			ttlcache.WithTTL[string, time.Time](SUBMISSION_TTL),
		),
	}

	var err error
	m.detectedCounter, err = meter.Int64Counter(
		"relay.EventsDetected",
		metric.WithDescription("Number of bridge events inserted into the ledger"))
	if err != nil {
		return nil, err
	}
	m.signedCounter, err = meter.Int64Counter(
		"relay.EventsSigned",
		metric.WithDescription("Number of bridge events attested by this node"))
	if err != nil {
		return nil, err
	}
	m.submittedCounter, err = meter.Int64Counter(
		"relay.EventsSubmitted",
		metric.WithDescription("Number of attestations accepted by the destination chain"))
	if err != nil {
		return nil, err
	}
	m.finalizedCounter, err = meter.Int64Counter(
		"relay.EventsFinalized",
		metric.WithDescription("Number of bridge events that reached destination finality"))
	if err != nil {
		return nil, err
	}
	m.failedCounter, err = meter.Int64Counter(
		"relay.EventsFailed",
		metric.WithDescription("Number of bridge events that terminally failed"))
	if err != nil {
		return nil, err
	}
	m.attemptCounter, err = meter.Int64Counter(
		"relay.SubmissionAttempts",
		metric.WithDescription("Number of destination submission attempts, including retries"))
	if err != nil {
		return nil, err
	}

	m.watermarkGauge, err = meter.Int64ObservableGauge(
		"relay.Watermark",
		metric.WithInt64Callback(func(ctx context.Context, result metric.Int64Observer) error {
			m.watermarkMu.Lock()
			defer m.watermarkMu.Unlock()
			for route, pos := range m.watermarks {
				result.Observe(pos, metric.WithAttributes(attribute.String("route", route)))
			}
			return nil
		}),
		metric.WithDescription("Persisted source-chain watermark per route"))
	if err != nil {
		return nil, err
	}

	m.submissionTimeHistogram, err = meter.Float64Histogram("relay.SubmissionTime")
	if err != nil {
		return nil, err
	}

	go m.submissionStartTimeCache.Start()
	return m, nil
}

func (m *RelayMetrics) routeOpts(route string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("route", route))
}

func (m *RelayMetrics) TrackDetected(route string, count int64) {
	m.detectedCounter.Add(context.Background(), count, m.routeOpts(route))
}

func (m *RelayMetrics) TrackSigned(route string) {
	m.signedCounter.Add(context.Background(), 1, m.routeOpts(route))
}

func (m *RelayMetrics) TrackSubmitted(route string) {
	m.submittedCounter.Add(context.Background(), 1, m.routeOpts(route))
}

func (m *RelayMetrics) TrackFinalized(route string) {
	m.finalizedCounter.Add(context.Background(), 1, m.routeOpts(route))
}

func (m *RelayMetrics) TrackFailed(route string) {
	m.failedCounter.Add(context.Background(), 1, m.routeOpts(route))
}

func (m *RelayMetrics) TrackAttempt(route string) {
	m.attemptCounter.Add(context.Background(), 1, m.routeOpts(route))
}

func (m *RelayMetrics) TrackWatermark(route string, pos uint64) {
	m.watermarkMu.Lock()
	defer m.watermarkMu.Unlock()
	// nolint:gosec
	m.watermarks[route] = int64(pos)
}

func (m *RelayMetrics) StartSubmission(eventID string) {
	m.submissionStartTimeCache.Set(eventID, time.Now(), ttlcache.DefaultTTL)
}

func (m *RelayMetrics) EndSubmission(eventID string) {
	startTime := m.submissionStartTimeCache.Get(eventID)
	if startTime == nil {
		log.Warn().Msgf("Submission start time for event %s not found", eventID)
		return
	}

	m.submissionTimeHistogram.Record(context.Background(), time.Since(startTime.Value()).Seconds())
}
