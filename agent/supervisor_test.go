package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tspannhw/RPIThermalStreaming/hostid"
	"github.com/tspannhw/RPIThermalStreaming/ingest"
	"github.com/tspannhw/RPIThermalStreaming/reading"
	"github.com/tspannhw/RPIThermalStreaming/scheduler"
	"github.com/tspannhw/RPIThermalStreaming/sensor"
	"github.com/tspannhw/RPIThermalStreaming/sysmetrics"
	"github.com/tspannhw/RPIThermalStreaming/token"
)

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func newFakeStreamingServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	const base = "/v2/streaming/databases/db1/schemas/sch1/pipes/pipe1/channels/chan1"

	mux.HandleFunc(base+":open", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"next_continuation_token": "CT0"})
	})
	mux.HandleFunc(base+"/rows", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"next_continuation_token": fmt.Sprintf("CT-%d", time.Now().UnixNano())})
	})
	mux.HandleFunc(base+":close", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(mux)
	mux.HandleFunc("/v2/streaming/hostname", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"ingest_host": srv.Listener.Addr().String()})
	})
	return srv
}

func newTestSupervisor(t *testing.T, srv *httptest.Server) *Supervisor {
	t.Helper()

	host := hostid.New()
	probes := []sensor.Probe{sensor.NewEnvironmentalProbe(0)}
	sensorCache := sensor.NewCache(probes, 10*time.Millisecond, time.Minute)
	sysCache := sysmetrics.NewCache(time.Minute)
	assembler := reading.NewAssembler(sensorCache, sysCache, host)

	ingestCfg := ingest.Config{
		ControlBase:  srv.URL,
		Database:     "db1",
		Schema:       "sch1",
		Pipe:         "pipe1",
		ChannelName:  "chan1",
		Role:         "INGEST_ROLE",
		IngestScheme: "http",
	}
	ingestCli, err := ingest.NewClient(context.Background(), ingestCfg, token.NewStatic("test-bearer"))
	require.NoError(t, err)

	sched := scheduler.New(scheduler.Config{
		BatchSize:          2,
		IntraBatchDelay:    time.Millisecond,
		InterBatchInterval: 10 * time.Millisecond,
	}, assembler, ingestCli)

	return &Supervisor{
		host:      host,
		sensors:   sensorCache,
		sysMetrics: sysCache,
		assembler: assembler,
		tokens:    token.NewStatic("test-bearer"),
		ingestCli: ingestCli,
		sched:     sched,
	}
}

func TestRunCompletesGracefullyOnCancel(t *testing.T) {
	srv := newFakeStreamingServer(t)
	defer srv.Close()

	s := newTestSupervisor(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(60 * time.Millisecond)
		cancel()
	}()

	err := s.Run(ctx)
	require.NoError(t, err)

	stats := s.sched.Stats()
	assert.GreaterOrEqual(t, stats.BatchesSent, uint64(1))
}

func TestHealthzReportsOKWhenFresh(t *testing.T) {
	srv := newFakeStreamingServer(t)
	defer srv.Close()

	s := newTestSupervisor(t, srv)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.healthzHandler(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
