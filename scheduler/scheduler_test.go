package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tspannhw/RPIThermalStreaming/reading"
)

type fakeAssembler struct {
	delay time.Duration
	n     int32
}

func (f *fakeAssembler) Assemble() reading.Reading {
	atomic.AddInt32(&f.n, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return reading.Reading{}
}

type fakeAppender struct {
	mu         sync.Mutex
	batches    [][]reading.Reading
	nextOffset uint64
	failNext   bool
}

func (f *fakeAppender) Append(ctx context.Context, rows []reading.Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("simulated append failure")
	}
	cp := append([]reading.Reading(nil), rows...)
	f.batches = append(f.batches, cp)
	f.nextOffset++
	return nil
}

func (f *fakeAppender) NextOffset() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextOffset
}

func TestCollectBatchFormsExactlyBatchSizeRows(t *testing.T) {
	asm := &fakeAssembler{}
	app := &fakeAppender{}
	s := New(Config{BatchSize: 5, IntraBatchDelay: time.Millisecond, InterBatchInterval: time.Hour}, asm, app)

	rows, ok := s.collectBatch(context.Background())
	require.True(t, ok)
	assert.Len(t, rows, 5)
}

func TestCollectBatchStopsOnCancellation(t *testing.T) {
	asm := &fakeAssembler{delay: 50 * time.Millisecond}
	app := &fakeAppender{}
	s := New(Config{BatchSize: 100, IntraBatchDelay: 50 * time.Millisecond, InterBatchInterval: time.Hour}, asm, app)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	_, ok := s.collectBatch(ctx)
	assert.False(t, ok)
}

func TestSendBatchAdvancesStatsOnSuccess(t *testing.T) {
	asm := &fakeAssembler{}
	app := &fakeAppender{}
	s := New(Config{BatchSize: 3, IntraBatchDelay: time.Millisecond, InterBatchInterval: time.Hour}, asm, app)

	rows, ok := s.collectBatch(context.Background())
	require.True(t, ok)
	s.sendBatch(context.Background(), rows)

	stats := s.Stats()
	assert.EqualValues(t, 3, stats.RowsSent)
	assert.EqualValues(t, 1, stats.BatchesSent)
	assert.EqualValues(t, 0, stats.Errors)
	assert.Equal(t, "0", stats.LastOffset)
}

func TestSendBatchCountsErrorsWithoutAdvancingRows(t *testing.T) {
	asm := &fakeAssembler{}
	app := &fakeAppender{failNext: true}
	s := New(Config{BatchSize: 2, IntraBatchDelay: time.Millisecond, InterBatchInterval: time.Hour}, asm, app)

	rows, ok := s.collectBatch(context.Background())
	require.True(t, ok)
	s.sendBatch(context.Background(), rows)

	stats := s.Stats()
	assert.EqualValues(t, 0, stats.RowsSent)
	assert.EqualValues(t, 1, stats.Errors)
}

func TestRunCompletesInFlightBatchBeforeStoppingOnCancel(t *testing.T) {
	asm := &fakeAssembler{}
	app := &fakeAppender{}
	s := New(Config{BatchSize: 2, IntraBatchDelay: time.Millisecond, InterBatchInterval: 10 * time.Millisecond}, asm, app)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	stats := s.Stats()
	assert.GreaterOrEqual(t, stats.BatchesSent, uint64(1))
}

func TestOffsetStringReportsLastCommitted(t *testing.T) {
	assert.Equal(t, "0", offsetString(0))
	assert.Equal(t, "0", offsetString(1))
	assert.Equal(t, "4", offsetString(5))
}
