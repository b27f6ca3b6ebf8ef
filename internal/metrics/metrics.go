package metrics

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	streamsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lockstep_streams",
		Help: "Number of streams in the session",
	})

	playing = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lockstep_playing",
		Help: "1 while the primary is playing, 0 otherwise",
	})

	thresholdMs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lockstep_threshold_milliseconds",
		Help: "Current drift tolerance in milliseconds",
	})

	ticksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lockstep_ticks_total",
		Help: "Total correction ticks processed",
	})

	// Per-stream correction metrics
	driftMs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lockstep_drift_milliseconds",
		Help: "Last measured signed drift of a secondary against its target",
	}, []string{"stream_id"})

	driftAbsMs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lockstep_drift_abs_milliseconds",
		Help:    "Distribution of absolute drift across all secondaries",
		Buckets: []float64{1, 5, 10, 20, 40, 80, 150, 250, 500, 1000, 5000},
	})

	correctionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lockstep_corrections_total",
		Help: "Correction decisions per stream and action",
	}, []string{"stream_id", "action"})

	// Backend command metrics
	broadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lockstep_broadcasts_total",
		Help: "Primary state broadcasts sent to secondaries",
	}, []string{"command"})

	backendErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lockstep_backend_errors_total",
		Help: "Backend commands that returned an error",
	}, []string{"command"})

	// Status mirror metrics
	registryPublishesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lockstep_registry_publishes_total",
		Help: "Status mirror publish attempts by result",
	}, []string{"result"})
)

func SetStreams(count int) {
	streamsTotal.Set(float64(count))
}

func SetPlaying(p bool) {
	if p {
		playing.Set(1)
		return
	}
	playing.Set(0)
}

func SetThreshold(ms float64) {
	thresholdMs.Set(ms)
}

func IncrementTicks() {
	ticksTotal.Inc()
}

// ObserveDrift records a drift readout for a secondary.
func ObserveDrift(streamID string, ms int64) {
	driftMs.WithLabelValues(streamID).Set(float64(ms))
	driftAbsMs.Observe(math.Abs(float64(ms)))
}

func RecordCorrection(streamID, action string) {
	correctionsTotal.WithLabelValues(streamID, action).Inc()
}

// ForgetStream drops the per-stream series of a removed stream.
func ForgetStream(streamID string) {
	driftMs.DeleteLabelValues(streamID)
	correctionsTotal.DeletePartialMatch(prometheus.Labels{"stream_id": streamID})
}

func RecordBroadcast(command string) {
	broadcastsTotal.WithLabelValues(command).Inc()
}

func RecordBackendError(command string) {
	backendErrorsTotal.WithLabelValues(command).Inc()
}

func RecordRegistryPublish(err error) {
	if err != nil {
		registryPublishesTotal.WithLabelValues("error").Inc()
		return
	}
	registryPublishesTotal.WithLabelValues("ok").Inc()
}
