// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Request-group statistics of a connector. Every processor owns a
// RequestInfo registered with the group; completed requests feed the group
// totals and the Prometheus collectors.

package control

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/momentics/hioload-ajp/api"
)

// Stats is a point-in-time copy of the group totals.
type Stats struct {
	RequestCount   int64
	ErrorCount     int64
	BytesReceived  int64
	BytesSent      int64
	ProcessingTime time.Duration
	MaxTime        time.Duration
	Registered     int
	Suspended      int64
	Discarded      int64
}

// RequestGroup aggregates the RequestInfo of every registered processor.
type RequestGroup struct {
	infos *xsync.MapOf[*RequestInfo, struct{}]

	requestCount   atomic.Int64
	errorCount     atomic.Int64
	bytesReceived  atomic.Int64
	bytesSent      atomic.Int64
	processingTime atomic.Int64
	maxTime        atomic.Int64
	suspended      atomic.Int64
	discarded      atomic.Int64

	requests   *prometheus.CounterVec
	errors     prometheus.Counter
	received   prometheus.Counter
	sent       prometheus.Counter
	duration   prometheus.Histogram
	inFlight   prometheus.Gauge
	parked     prometheus.Gauge
	processors prometheus.Gauge
	discards   prometheus.Counter
}

// NewRequestGroup creates a group whose collectors are registered on reg
// with a constant "connector" label. A nil reg keeps the collectors private.
func NewRequestGroup(reg prometheus.Registerer, connector string) *RequestGroup {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	labels := prometheus.Labels{"connector": connector}
	return &RequestGroup{
		infos: xsync.NewMapOf[*RequestInfo, struct{}](),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "ajp_requests_total",
			Help:        "Total number of forwarded requests processed",
			ConstLabels: labels,
		}, []string{"method"}),
		errors: f.NewCounter(prometheus.CounterOpts{
			Name:        "ajp_request_errors_total",
			Help:        "Requests completed with a status of 400 or above",
			ConstLabels: labels,
		}),
		received: f.NewCounter(prometheus.CounterOpts{
			Name:        "ajp_received_bytes_total",
			Help:        "Request body bytes received",
			ConstLabels: labels,
		}),
		sent: f.NewCounter(prometheus.CounterOpts{
			Name:        "ajp_sent_bytes_total",
			Help:        "Response body bytes sent",
			ConstLabels: labels,
		}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:        "ajp_request_duration_seconds",
			Help:        "Request processing time in seconds",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Name:        "ajp_requests_in_flight",
			Help:        "Requests currently in the service stage",
			ConstLabels: labels,
		}),
		parked: f.NewGauge(prometheus.GaugeOpts{
			Name:        "ajp_connections_suspended",
			Help:        "Connections parked in long mode",
			ConstLabels: labels,
		}),
		processors: f.NewGauge(prometheus.GaugeOpts{
			Name:        "ajp_processors_registered",
			Help:        "Processors registered with the connector",
			ConstLabels: labels,
		}),
		discards: f.NewCounter(prometheus.CounterOpts{
			Name:        "ajp_processors_discarded_total",
			Help:        "Processors dropped instead of returned to the pool",
			ConstLabels: labels,
		}),
	}
}

// NewRequestInfo returns an unregistered RequestInfo bound to g.
func (g *RequestGroup) NewRequestInfo() *RequestInfo {
	return &RequestInfo{group: g}
}

// Register adds info to the group.
func (g *RequestGroup) Register(info *RequestInfo) {
	if _, loaded := g.infos.LoadOrStore(info, struct{}{}); !loaded {
		g.processors.Inc()
	}
}

// Unregister removes info from the group.
func (g *RequestGroup) Unregister(info *RequestInfo) {
	if _, ok := g.infos.LoadAndDelete(info); ok {
		g.processors.Dec()
	}
}

// Registered returns the number of registered processors.
func (g *RequestGroup) Registered() int { return g.infos.Size() }

// Busy reports whether any registered processor is in the service stage.
func (g *RequestGroup) Busy() bool {
	busy := false
	g.infos.Range(func(info *RequestInfo, _ struct{}) bool {
		if info.Stage() == api.StageService {
			busy = true
			return false
		}
		return true
	})
	return busy
}

// Suspended adjusts the parked-connection gauge by delta.
func (g *RequestGroup) Suspended(delta int) {
	g.suspended.Add(int64(delta))
	g.parked.Add(float64(delta))
}

// Discarded counts a processor dropped by the pool.
func (g *RequestGroup) Discarded() {
	g.discarded.Add(1)
	g.discards.Inc()
}

// Stats returns the current totals.
func (g *RequestGroup) Stats() Stats {
	return Stats{
		RequestCount:   g.requestCount.Load(),
		ErrorCount:     g.errorCount.Load(),
		BytesReceived:  g.bytesReceived.Load(),
		BytesSent:      g.bytesSent.Load(),
		ProcessingTime: time.Duration(g.processingTime.Load()),
		MaxTime:        time.Duration(g.maxTime.Load()),
		Registered:     g.infos.Size(),
		Suspended:      g.suspended.Load(),
		Discarded:      g.discarded.Load(),
	}
}

// RequestInfo tracks the stage and the per-processor statistics. Stage is
// read concurrently; the remaining fields are written by the owning worker.
type RequestInfo struct {
	group *RequestGroup
	stage atomic.Int32
	start time.Time

	requestCount atomic.Int64
	errorCount   atomic.Int64
	lastURI      atomic.Pointer[string]
}

// SetStage records the processing stage.
func (ri *RequestInfo) SetStage(s api.Stage) { ri.stage.Store(int32(s)) }

// Stage returns the processing stage.
func (ri *RequestInfo) Stage() api.Stage { return api.Stage(ri.stage.Load()) }

// RequestCount returns the number of requests this processor completed.
func (ri *RequestInfo) RequestCount() int64 { return ri.requestCount.Load() }

// LastURI returns the URI of the most recent request.
func (ri *RequestInfo) LastURI() string {
	if p := ri.lastURI.Load(); p != nil {
		return *p
	}
	return ""
}

// Begin marks the start of a request.
func (ri *RequestInfo) Begin(now time.Time) {
	ri.start = now
	ri.group.inFlight.Inc()
}

// End records a completed request started with Begin.
func (ri *RequestInfo) End(method, uri string, status int, received, sent int64) {
	g := ri.group
	ri.lastURI.Store(&uri)
	elapsed := time.Since(ri.start)
	g.inFlight.Dec()

	ri.requestCount.Add(1)
	g.requestCount.Add(1)
	g.requests.WithLabelValues(method).Inc()
	if status >= 400 {
		ri.errorCount.Add(1)
		g.errorCount.Add(1)
		g.errors.Inc()
	}
	g.bytesReceived.Add(received)
	g.received.Add(float64(received))
	g.bytesSent.Add(sent)
	g.sent.Add(float64(sent))
	g.processingTime.Add(int64(elapsed))
	g.duration.Observe(elapsed.Seconds())
	for {
		cur := g.maxTime.Load()
		if int64(elapsed) <= cur || g.maxTime.CompareAndSwap(cur, int64(elapsed)) {
			break
		}
	}
}
