package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSetLaneActiveRecordsGaugeValue(t *testing.T) {
	m := New()
	m.SetLaneActive("session.new", 3)
	require.Equal(t, float64(3), testutil.ToFloat64(m.LaneActiveTotal.WithLabelValues("session.new")))
}

func TestSetQueueDepthRecordsGaugeValue(t *testing.T) {
	m := New()
	m.SetQueueDepth("origin:abc", 2)
	require.Equal(t, float64(2), testutil.ToFloat64(m.LaneQueueDepth.WithLabelValues("origin:abc")))
}

func TestRecordRequestIncrementsCounter(t *testing.T) {
	m := New()
	m.RecordRequest("run", "ok")
	m.RecordRequest("run", "ok")
	m.RecordRequest("run", "E_DAEMON_RUN_FAILED")
	require.Equal(t, float64(2), testutil.ToFloat64(m.DaemonRequestsTotal.WithLabelValues("run", "ok")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.DaemonRequestsTotal.WithLabelValues("run", "E_DAEMON_RUN_FAILED")))
}

func TestObserveRequestDurationRecordsSample(t *testing.T) {
	m := New()
	m.ObserveRequestDuration("session.new", 0.05)
	require.Equal(t, 1, testutil.CollectAndCount(m.DaemonRequestDuration))
}

func TestIndependentInstancesDoNotShareCollectors(t *testing.T) {
	a := New()
	b := New()
	a.RecordRequest("ping", "ok")
	require.Equal(t, float64(1), testutil.ToFloat64(a.DaemonRequestsTotal.WithLabelValues("ping", "ok")))
	require.Equal(t, float64(0), testutil.ToFloat64(b.DaemonRequestsTotal.WithLabelValues("ping", "ok")))
}
