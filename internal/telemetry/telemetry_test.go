package telemetry

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fieldops/fieldlink/internal/client"
)

type staticSource struct {
	state   client.State
	metrics client.Metrics
	queue   int
}

func (s staticSource) State() client.State     { return s.state }
func (s staticSource) Metrics() client.Metrics { return s.metrics }
func (s staticSource) QueueLen() int           { return s.queue }

func TestCollector_ReportsSnapshot(t *testing.T) {
	src := staticSource{
		state: client.StateConnected,
		metrics: client.Metrics{
			LatencyMs:         42,
			Quality:           client.QualityExcellent,
			ReconnectAttempts: 3,
			TotalMessagesSent: 17,
			ErrorCount:        2,
		},
		queue: 5,
	}
	reg := NewRegistry(src)
	families, err := reg.Gather()
	require.NoError(t, err)

	got := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetGauge() != nil:
				got[mf.GetName()] = m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				got[mf.GetName()] = m.GetCounter().GetValue()
			}
		}
	}

	assert.Equal(t, float64(client.StateConnected), got["fieldlink_connection_state"])
	assert.Equal(t, 42.0, got["fieldlink_latency_ms"])
	assert.Equal(t, float64(client.QualityExcellent), got["fieldlink_connection_quality"])
	assert.Equal(t, 3.0, got["fieldlink_reconnect_attempts_total"])
	assert.Equal(t, 17.0, got["fieldlink_messages_sent_total"])
	assert.Equal(t, 2.0, got["fieldlink_errors_total"])
	assert.Equal(t, 5.0, got["fieldlink_outbound_queue_length"])
}

func TestServer_MetricsAndHealth(t *testing.T) {
	srv := NewServer("127.0.0.1:0", NewRegistry(staticSource{state: client.StateReconnecting}), zap.NewNop())
	require.NoError(t, srv.Start())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	}()

	base := "http://" + srv.Addr()

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "fieldlink_connection_state 3")
	assert.Contains(t, string(body), "fieldlink_outbound_queue_length 0")
}
