package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful inference calls.
	OutcomeSuccess = "success"
	// OutcomeError labels failed inference calls (missing inputs or runtime errors).
	OutcomeError = "error"
)

const (
	// CaptureWritten labels records persisted to the dump directory.
	CaptureWritten = "written"
	// CaptureSkipped labels calls the policy chose not to capture.
	CaptureSkipped = "skipped"
	// CaptureFailed labels captures that could not be persisted.
	CaptureFailed = "failed"
)

var (
	inferenceRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_replay",
			Name:      "inference_requests_total",
			Help:      "Total number of inference calls handled, partitioned by model and outcome.",
		},
		[]string{"model", "outcome"},
	)

	inferenceDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_replay",
			Name:      "inference_seconds",
			Help:      "Inference latency in seconds, capture included.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	captureRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_replay",
			Name:      "capture_records_total",
			Help:      "Capture decisions, partitioned by result.",
		},
		[]string{"result"},
	)

	captureBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_replay",
			Name:      "capture_bytes_total",
			Help:      "Bytes written to the dump directory.",
		},
	)
)

// Register attaches mirador-replay collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		inferenceRequestsTotal,
		inferenceDurationSeconds,
		captureRecordsTotal,
		captureBytesTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveInference records an inference duration and outcome label.
func ObserveInference(model string, duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	inferenceRequestsTotal.WithLabelValues(model, label).Inc()
	if duration < 0 {
		duration = 0
	}
	inferenceDurationSeconds.Observe(duration.Seconds())
}

// ObserveCapture records a capture decision and the bytes it wrote.
func ObserveCapture(result string, bytes int) {
	captureRecordsTotal.WithLabelValues(result).Inc()
	if bytes > 0 {
		captureBytesTotal.Add(float64(bytes))
	}
}
