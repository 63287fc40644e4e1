package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ActiveStreams tracks the number of in-flight range-streaming responses.
// This metric is a gauge, rising and falling as clients connect and disconnect.
var ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "mediabridge_active_streams",
	Help: "Number of active range-streaming responses",
})

// ActiveTranscodes tracks running transcoder subprocesses against the
// configured ceiling.
var ActiveTranscodes = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "mediabridge_active_transcodes",
	Help: "Number of running transcoder processes",
})

// BytesServed counts bytes delivered to clients per origin. The "origin"
// label distinguishes bytes read from the on-disk cache from bytes pulled
// live from the remote API and from local files.
var BytesServed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mediabridge_bytes_served_total",
	Help: "Total bytes served to clients",
}, []string{"origin"})

// StreamErrors counts streaming-layer errors by category so dashboards can
// separate range violations from source and subprocess failures.
var StreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mediabridge_stream_errors_total",
	Help: "Number of streaming errors",
}, []string{"error_type"})

// SegmentSessions tracks the number of live segmented sessions on disk.
var SegmentSessions = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "mediabridge_segment_sessions",
	Help: "Number of live segmented sessions",
})

// TranscodesRejected counts requests turned away at the concurrency ceiling.
var TranscodesRejected = promauto.NewCounter(prometheus.CounterOpts{
	Name: "mediabridge_transcodes_rejected_total",
	Help: "Transcode requests rejected at the concurrency ceiling",
})
