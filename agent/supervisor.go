// Package agent wires SensorCache, SystemMetrics, TokenSource, IngestClient
// and BatchScheduler together, installs signal handlers, and orchestrates
// startup and ordered shutdown
package agent

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/tspannhw/RPIThermalStreaming/config"
	"github.com/tspannhw/RPIThermalStreaming/hostid"
	"github.com/tspannhw/RPIThermalStreaming/ingest"
	"github.com/tspannhw/RPIThermalStreaming/reading"
	"github.com/tspannhw/RPIThermalStreaming/scheduler"
	"github.com/tspannhw/RPIThermalStreaming/sensor"
	"github.com/tspannhw/RPIThermalStreaming/sysmetrics"
	"github.com/tspannhw/RPIThermalStreaming/token"
)

// shutdownJoinTimeout bounds how long Run waits for the sensor worker and
// in-flight scheduler batch to finish during shutdown.
const shutdownJoinTimeout = 2 * time.Second

// Supervisor owns the whole component graph for one process lifetime.
type Supervisor struct {
	cfg *config.Document

	host       *hostid.Identity
	sensors    *sensor.Cache
	sysMetrics *sysmetrics.Cache
	assembler  *reading.Assembler
	tokens     token.Source
	ingestCli  *ingest.Client
	sched      *scheduler.Scheduler

	// MetricsAddr, when non-empty, is the listen address of a /metrics +
	// /healthz server; the address is used as given. Disabled by default.
	MetricsAddr string
}

// New wires every component and performs the blocking startup sequence
// (host discovery + channel open). It does not start any background
// worker yet; call Run for that.
func New(ctx context.Context, cfg *config.Document) (*Supervisor, error) {
	host := hostid.New()

	probes := []sensor.Probe{
		sensor.NewEnvironmentalProbe(200 * time.Millisecond),
		sensor.NewThermalProbe(3 * time.Second),
	}
	sensorCache := sensor.NewCache(probes, cfg.SensorRefresh(), sensor.DefaultStaleThreshold)
	sysCache := sysmetrics.NewCache(cfg.SystemRefresh())
	assembler := reading.NewAssembler(sensorCache, sysCache, host)

	tokens, err := buildTokenSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("agent: building token source: %w", err)
	}

	ingestCfg := ingest.Config{
		ControlBase: cfg.ControlBase,
		Database:    cfg.Database,
		Schema:      cfg.Schema,
		Pipe:        cfg.Pipe,
		ChannelName: cfg.ChannelName,
		Role:        cfg.Role,
	}
	ingestCli, err := ingest.NewClient(ctx, ingestCfg, tokens)
	if err != nil {
		return nil, fmt.Errorf("agent: building ingest client: %w", err)
	}

	sched := scheduler.New(scheduler.Config{
		BatchSize:          cfg.BatchSize,
		IntraBatchDelay:    cfg.IntraBatchDelay(),
		InterBatchInterval: cfg.InterBatchInterval(),
	}, assembler, ingestCli)

	return &Supervisor{
		cfg:        cfg,
		host:       host,
		sensors:    sensorCache,
		sysMetrics: sysCache,
		assembler:  assembler,
		tokens:     tokens,
		ingestCli:  ingestCli,
		sched:      sched,
	}, nil
}

func buildTokenSource(cfg *config.Document) (token.Source, error) {
	if !cfg.UsesSignedToken() {
		return token.NewStatic(cfg.PAT), nil
	}
	key, err := token.LoadPrivateKeyFile(cfg.PrivateKeyFile)
	if err != nil {
		return nil, err
	}
	return token.NewSigned(cfg.Account, cfg.User, cfg.Role, cfg.URL, key, nil)
}

// Run starts the sensor worker, performs a synchronous single-row startup
// self-test, starts the optional metrics server, then runs the scheduler
// until a termination signal or ctx is canceled. It returns once shutdown
// has completed.
func (s *Supervisor) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.sensors.Run(runCtx)
	}()

	if err := s.startupSelfTest(runCtx); err != nil {
		cancel()
		wg.Wait()
		return fmt.Errorf("agent: startup self-test failed: %w", err)
	}

	var httpServer *http.Server
	if s.MetricsAddr != "" {
		httpServer = s.startMetricsServer()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.sched.Run(runCtx)
	}()

	select {
	case <-runCtx.Done():
	case sig := <-sigCh:
		log.WithField("component", "agent.Supervisor").WithField("signal", sig.String()).Info("shutdown signal received")
		cancel()
	}

	s.shutdown(&wg, httpServer)
	return nil
}

func (s *Supervisor) startupSelfTest(ctx context.Context) error {
	row := s.assembler.Assemble()
	if err := s.ingestCli.Append(ctx, []reading.Reading{row}); err != nil {
		return err
	}
	log.WithField("component", "agent.Supervisor").Info("startup self-test append succeeded")
	return nil
}

func (s *Supervisor) startMetricsServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.healthzHandler)

	srv := &http.Server{Addr: s.MetricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithField("component", "agent.Supervisor").WithError(err).Warn("metrics server stopped")
		}
	}()
	return srv
}

func (s *Supervisor) healthzHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.sensors.Snapshot()
	if snap.Stale {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintln(w, "sensor cache stale")
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

// shutdown performs the ordered teardown: wait for the
// in-flight batch and the sensor worker to finish, close the channel
// best-effort, flush final statistics.
func (s *Supervisor) shutdown(wg *sync.WaitGroup, httpServer *http.Server) {
	joined := make(chan struct{})
	go func() {
		wg.Wait()
		close(joined)
	}()

	select {
	case <-joined:
	case <-time.After(shutdownJoinTimeout):
		log.WithField("component", "agent.Supervisor").Warn("workers did not join within shutdown timeout")
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownJoinTimeout)
	defer cancel()
	s.ingestCli.Close(closeCtx)

	if httpServer != nil {
		_ = httpServer.Shutdown(closeCtx)
	}

	stats := s.sched.Stats()
	log.WithFields(log.Fields{
		"component":    "agent.Supervisor",
		"rows_sent":    stats.RowsSent,
		"batches_sent": stats.BatchesSent,
		"bytes_sent":   stats.BytesSent,
		"errors":       stats.Errors,
		"last_offset":  stats.LastOffset,
	}).Info("final statistics")
}
