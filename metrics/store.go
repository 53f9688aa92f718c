// metrics/store.go
package metrics

import (
	"time"

	"github.com/dalemusser/docstore/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.mongodb.org/mongo-driver/event"
)

// StoreObserver exports handle lifecycle and operation timings. It
// implements store.Observer.
type StoreObserver struct {
	state       *prometheus.GaugeVec
	refreshes   *prometheus.CounterVec
	probeFails  *prometheus.CounterVec
	opDuration  *prometheus.HistogramVec
	checkedOut  *prometheus.GaugeVec
	open        *prometheus.GaugeVec
	poolCleared *prometheus.CounterVec
}

var _ store.Observer = (*StoreObserver)(nil)

// NewStoreObserver creates the store collectors and registers them on reg.
// A nil reg leaves them unregistered, which tests use with testutil.
func NewStoreObserver(reg prometheus.Registerer) *StoreObserver {
	f := promauto.With(reg)
	return &StoreObserver{
		state: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "docstore_connection_state",
			Help: "Handle state: 0 disconnected, 1 connecting, 2 connected, 3 refreshing.",
		}, []string{"store"}),
		refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docstore_refresh_total",
			Help: "Connection refreshes by result.",
		}, []string{"store", "result"}),
		probeFails: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docstore_probe_failures_total",
			Help: "Liveness probes that failed.",
		}, []string{"store"}),
		opDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docstore_operation_duration_seconds",
			Help:    "Duration of collection operations.",
			Buckets: []float64{0.001, 0.005, 0.025, 0.1, 0.5, 2},
		}, []string{"collection", "op", "result"}),
		checkedOut: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "docstore_pool_checked_out_connections",
			Help: "Pooled connections currently checked out, per server.",
		}, []string{"address"}),
		open: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "docstore_pool_open_connections",
			Help: "Pooled connections currently open, per server.",
		}, []string{"address"}),
		poolCleared: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docstore_pool_cleared_total",
			Help: "Times a server's pool was cleared after an error.",
		}, []string{"address"}),
	}
}

func (o *StoreObserver) StateChanged(name string, s store.State) {
	o.state.WithLabelValues(name).Set(float64(s))
}

func (o *StoreObserver) Refreshed(name string, err error) {
	o.refreshes.WithLabelValues(name, result(err)).Inc()
}

func (o *StoreObserver) ProbeFailed(name string, _ error) {
	o.probeFails.WithLabelValues(name).Inc()
}

func (o *StoreObserver) OperationDone(collection, op string, took time.Duration, err error) {
	o.opDuration.WithLabelValues(collection, op, result(err)).Observe(took.Seconds())
}

// PoolMonitor returns a driver pool monitor feeding the pool gauges. Pass it
// to store.MongoDialer.
func (o *StoreObserver) PoolMonitor() *event.PoolMonitor {
	return &event.PoolMonitor{Event: o.poolEvent}
}

// poolEvent keeps the gauges in step with the driver's connection pool.
// Checked-out pairs GetSucceeded with ConnectionReturned; GetFailed never
// hands out a connection so it is not counted.
func (o *StoreObserver) poolEvent(e *event.PoolEvent) {
	switch e.Type {
	case event.GetSucceeded:
		o.checkedOut.WithLabelValues(e.Address).Inc()
	case event.ConnectionReturned:
		o.checkedOut.WithLabelValues(e.Address).Dec()
	case event.ConnectionCreated:
		o.open.WithLabelValues(e.Address).Inc()
	case event.ConnectionClosed:
		o.open.WithLabelValues(e.Address).Dec()
	case event.PoolCleared:
		o.poolCleared.WithLabelValues(e.Address).Inc()
	case event.PoolClosedEvent:
		// The server left the topology; drop its series instead of
		// leaving stale values behind.
		o.checkedOut.DeleteLabelValues(e.Address)
		o.open.DeleteLabelValues(e.Address)
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
