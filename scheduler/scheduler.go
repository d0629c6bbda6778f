// Package scheduler implements the periodic batch-formation driver:
// collect batchSize readings, hand them to an appender, track running
// statistics, and honor cooperative cancellation.
package scheduler

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/tspannhw/RPIThermalStreaming/reading"
)

var (
	batchesSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sensoragent_batches_sent_total",
		Help: "Total batches successfully appended.",
	})
	bytesSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sensoragent_bytes_sent_total",
		Help: "Total NDJSON bytes successfully appended.",
	})
)

// Appender is the subset of ingest.Client the scheduler depends on.
type Appender interface {
	Append(ctx context.Context, rows []reading.Reading) error
	NextOffset() uint64
}

// Assembler is the subset of reading.Assembler the scheduler depends on.
type Assembler interface {
	Assemble() reading.Reading
}

// Config controls batch shape and pacing
type Config struct {
	BatchSize          int
	IntraBatchDelay    time.Duration
	InterBatchInterval time.Duration
}

// DefaultConfig matches defaults for the non-"fast" profile.
func DefaultConfig() Config {
	return Config{
		BatchSize:          10,
		IntraBatchDelay:    500 * time.Millisecond,
		InterBatchInterval: 5 * time.Second,
	}
}

// Stats holds the running counters logged every ten batches.
type Stats struct {
	RowsSent    uint64
	BatchesSent uint64
	BytesSent   uint64
	Errors      uint64
	LastOffset  string
}

// Scheduler is the blocking batch-formation driver.
type Scheduler struct {
	cfg       Config
	assembler Assembler
	appender  Appender

	mu    sync.Mutex
	stats Stats
}

// New builds a Scheduler. cfg is defaulted via DefaultConfig's zero-value
// fallbacks where fields are unset.
func New(cfg Config, assembler Assembler, appender Appender) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.IntraBatchDelay <= 0 {
		cfg.IntraBatchDelay = DefaultConfig().IntraBatchDelay
	}
	if cfg.InterBatchInterval <= 0 {
		cfg.InterBatchInterval = DefaultConfig().InterBatchInterval
	}
	return &Scheduler{cfg: cfg, assembler: assembler, appender: appender}
}

// Run blocks, forming and sending batches until ctx is canceled.
// Cancellation is checked between readings and at every inter-batch sleep;
// an in-flight append is always allowed to complete before Run returns.
func (s *Scheduler) Run(ctx context.Context) {
	log.WithField("component", "scheduler.Scheduler").Info("starting batch loop")

	for {
		if ctx.Err() != nil {
			log.WithField("component", "scheduler.Scheduler").Info("batch loop stopped")
			return
		}

		rows, ok := s.collectBatch(ctx)
		if ok {
			s.sendBatch(ctx, rows)
		}

		select {
		case <-ctx.Done():
			log.WithField("component", "scheduler.Scheduler").Info("batch loop stopped")
			return
		case <-time.After(s.cfg.InterBatchInterval):
		}
	}
}

// collectBatch gathers BatchSize readings, pausing IntraBatchDelay between
// each. It returns ok=false if canceled before a full batch was formed.
func (s *Scheduler) collectBatch(ctx context.Context) ([]reading.Reading, bool) {
	rows := make([]reading.Reading, 0, s.cfg.BatchSize)
	for i := 0; i < s.cfg.BatchSize; i++ {
		if ctx.Err() != nil {
			return nil, false
		}
		rows = append(rows, s.assembler.Assemble())

		if i < s.cfg.BatchSize-1 {
			select {
			case <-ctx.Done():
				return nil, false
			case <-time.After(s.cfg.IntraBatchDelay):
			}
		}
	}
	return rows, true
}

func (s *Scheduler) sendBatch(ctx context.Context, rows []reading.Reading) {
	size, err := encodedSize(rows)
	if err != nil {
		log.WithField("component", "scheduler.Scheduler").WithError(err).Warn("failed to size batch")
	}

	if err := s.appender.Append(context.WithoutCancel(ctx), rows); err != nil {
		s.mu.Lock()
		s.stats.Errors++
		s.mu.Unlock()
		log.WithFields(log.Fields{
			"component": "scheduler.Scheduler",
			"rows":      len(rows),
		}).WithError(err).Warn("batch append failed")
		return
	}

	batchesSentTotal.Inc()
	bytesSentTotal.Add(float64(size))

	s.mu.Lock()
	s.stats.RowsSent += uint64(len(rows))
	s.stats.BatchesSent++
	s.stats.BytesSent += uint64(size)
	s.stats.LastOffset = offsetString(s.appender.NextOffset())
	batches := s.stats.BatchesSent
	snapshot := s.stats
	s.mu.Unlock()

	if batches%10 == 0 {
		log.WithFields(log.Fields{
			"component":    "scheduler.Scheduler",
			"rows_sent":    snapshot.RowsSent,
			"batches_sent": snapshot.BatchesSent,
			"bytes_sent":   snapshot.BytesSent,
			"errors":       snapshot.Errors,
			"last_offset":  snapshot.LastOffset,
		}).Info("batch statistics")
	}
}

// Stats returns a copy of the running counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func encodedSize(rows []reading.Reading) (int, error) {
	body, err := reading.EncodeNDJSON(rows)
	if err != nil {
		return 0, err
	}
	return len(body), nil
}

// offsetString reports the last-committed offset. NextOffset is the
// offset the next append will claim, so the committed one is one less.
func offsetString(nextOffset uint64) string {
	if nextOffset == 0 {
		return "0"
	}
	return strconv.FormatUint(nextOffset-1, 10)
}
