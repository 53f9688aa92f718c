package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dalemusser/docstore/store"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/event"
)

func TestTruncateUTF8(t *testing.T) {
	assert.Equal(t, "abc", truncateUTF8("abc", 5))
	assert.Equal(t, "ab", truncateUTF8("abc", 2))
	assert.Equal(t, "", truncateUTF8("abc", 0))
	// "é" is two bytes; cutting inside it backs off to the boundary.
	assert.Equal(t, "a", truncateUTF8("aé", 2))
}

func TestHTTPMetrics_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(HTTPMetrics)
	r.Get("/users/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/users/65a1", nil))

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(reqDuration))
	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)

	var found bool
	for _, m := range families[0].GetMetric() {
		labels := map[string]string{}
		for _, lp := range m.GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
		if labels["path"] == "/users/{id}" && labels["status"] == "418" {
			found = true
			assert.EqualValues(t, 1, m.GetHistogram().GetSampleCount())
		}
	}
	assert.True(t, found, "no sample for /users/{id} 418")
}

func TestStoreObserver(t *testing.T) {
	o := NewStoreObserver(nil)

	o.StateChanged("primary", store.Connected)
	assert.Equal(t, 2.0, testutil.ToFloat64(o.state.WithLabelValues("primary")))
	o.StateChanged("primary", store.Refreshing)
	assert.Equal(t, 3.0, testutil.ToFloat64(o.state.WithLabelValues("primary")))

	o.Refreshed("primary", nil)
	o.Refreshed("primary", nil)
	o.Refreshed("primary", errors.New("down"))
	assert.Equal(t, 2.0, testutil.ToFloat64(o.refreshes.WithLabelValues("primary", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.refreshes.WithLabelValues("primary", "error")))

	o.ProbeFailed("primary", errors.New("timeout"))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.probeFails.WithLabelValues("primary")))

	o.OperationDone("users", "find_one", 3*time.Millisecond, nil)
	o.OperationDone("users", "insert_one", time.Millisecond, errors.New("dup"))
	assert.Equal(t, 2, testutil.CollectAndCount(o.opDuration))
}

func TestStoreObserver_Registers(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	o := NewStoreObserver(reg)
	o.Refreshed("primary", nil)

	err := testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP docstore_refresh_total Connection refreshes by result.
# TYPE docstore_refresh_total counter
docstore_refresh_total{result="ok",store="primary"} 1
`), "docstore_refresh_total")
	assert.NoError(t, err)
}

func TestStoreObserver_PoolMonitor(t *testing.T) {
	o := NewStoreObserver(nil)
	pm := o.PoolMonitor()
	const addr = "localhost:27017"

	for _, typ := range []string{
		event.ConnectionCreated, event.ConnectionCreated,
		event.GetSucceeded, event.GetSucceeded, event.ConnectionReturned,
		event.PoolCleared,
	} {
		pm.Event(&event.PoolEvent{Type: typ, Address: addr})
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(o.checkedOut.WithLabelValues(addr)))
	assert.Equal(t, 2.0, testutil.ToFloat64(o.open.WithLabelValues(addr)))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.poolCleared.WithLabelValues(addr)))

	pm.Event(&event.PoolEvent{Type: event.PoolClosedEvent, Address: addr})
	assert.Equal(t, 0, testutil.CollectAndCount(o.checkedOut))
	assert.Equal(t, 0, testutil.CollectAndCount(o.open))
}
