package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog/log"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("hub-a", "GET", "/health", 200, 12*time.Millisecond)
	RecordSessionMessage("out", "open")
	RecordProtocolViolation("unknown_method")
	RecordStateTransition("synchronized")
	RecordCommitRoundTrip(8 * time.Millisecond)
	RecordHubCommit("doc-15", false)
	SetHubClients("doc-15", 2)

	log.Debug().Msg("observability/metrics: registration idempotent and recording paths executed")
}

func TestRecordReconnectIncrements(t *testing.T) {
	before := testutil.ToFloat64(sessionReconnects)
	RecordReconnect()
	RecordReconnect()
	if got := testutil.ToFloat64(sessionReconnects) - before; got != 2 {
		t.Fatalf("unexpected reconnect delta: %v", got)
	}
}

func TestSetHubClientsOverwrites(t *testing.T) {
	SetHubClients("doc-gauge", 3)
	SetHubClients("doc-gauge", 1)
	if got := testutil.ToFloat64(hubClients.WithLabelValues("doc-gauge")); got != 1 {
		t.Fatalf("unexpected gauge value: %v", got)
	}
}
