package observability

import (
	"testing"
	"time"

	"github.com/danmuck/framegate/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordFlowCounts(t *testing.T) {
	testlog.Start(t)
	before := testutil.ToFloat64(flows.WithLabelValues("decoded", "ok"))
	RecordFlow("decoded", "ok", 5, 10*time.Millisecond)
	RecordFlow("decoded", "ok", -1, time.Millisecond)
	if got := testutil.ToFloat64(flows.WithLabelValues("decoded", "ok")); got != before+2 {
		t.Fatalf("unexpected flow count: got=%v want=%v", got, before+2)
	}
}

func TestRecordConnectionAndChannel(t *testing.T) {
	testlog.Start(t)
	RecordConnection("quic", "accepted")
	RecordChannel("quic")
	if got := testutil.ToFloat64(connections.WithLabelValues("quic", "accepted")); got < 1 {
		t.Fatalf("connection not counted: %v", got)
	}
	if got := testutil.ToFloat64(channels.WithLabelValues("quic")); got < 1 {
		t.Fatalf("channel not counted: %v", got)
	}
}
