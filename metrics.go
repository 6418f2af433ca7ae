package authchain

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one pipeline counter. The Metrics counters are plain
// atomics; the exporters under metrics/export render them for Prometheus
// and OpenTelemetry.
type MetricID uint16

const (
	// MetricAttemptStarted counts created authentication states.
	MetricAttemptStarted MetricID = iota
	// MetricStepSuccess counts step invocations that verified.
	MetricStepSuccess
	// MetricStepFailure counts step invocations that rejected the input.
	MetricStepFailure
	// MetricValidationRejected counts submissions rejected before the step
	// ran (missing declared fields).
	MetricValidationRejected
	// MetricChainCompleted counts attempts whose chain was exhausted.
	MetricChainCompleted
	// MetricElevationGranted counts completed elevation attempts.
	MetricElevationGranted
	// MetricEmailCodeIssued counts issued email sign-in codes.
	MetricEmailCodeIssued
	// MetricMailDeliveryError counts outbound mail failures.
	MetricMailDeliveryError
	// MetricEnrollmentStarted counts provisioned pending authenticator
	// secrets.
	MetricEnrollmentStarted
	// MetricEnrollmentConfirmed counts pending secrets promoted by a first
	// successful verification.
	MetricEnrollmentConfirmed
	// MetricSecretRaceLost counts enrollment confirmations that lost the
	// check-and-set race against a concurrent session.
	MetricSecretRaceLost
	// MetricBackupCodeUsed counts successful backup code authentications.
	MetricBackupCodeUsed
	// MetricBackupCodeFailed counts rejected backup code attempts.
	MetricBackupCodeFailed
	// MetricBackupCodeRegenerated counts backup code set regenerations.
	MetricBackupCodeRegenerated
	// MetricIPDenied counts requests rejected by the IP filter.
	MetricIPDenied
	// MetricGrantIssued counts signed completion grants issued.
	MetricGrantIssued
	// MetricSubmitLatency is the submission latency histogram.
	MetricSubmitLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds the pipeline's counters. All methods are safe for
// concurrent use; a nil or disabled Metrics is a no-op.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters and histogram
// buckets, keyed by [MetricID].
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func newMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistogram,
	}
}

// Enabled reports whether counters are being recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc increments the counter for id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records a submission latency sample.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || id != MetricSubmitLatency {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

// Value returns the current value of the counter for id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot returns a consistent-enough copy of every counter. Counters are
// read individually; a snapshot taken under concurrent load may straddle
// increments.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricSubmitLatency].buckets[i])
		}
		s.Histograms[MetricSubmitLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
