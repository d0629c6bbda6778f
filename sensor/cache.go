package sensor

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tspannhw/RPIThermalStreaming/reading"
)

// DefaultSamplePeriod is the default pause between probe rounds.
const DefaultSamplePeriod = 5 * time.Second

// DefaultStaleThreshold is how long all probes may fail before Snapshot
// reports Stale.
const DefaultStaleThreshold = 30 * time.Second

// Cache is the single-background-producer, many-non-blocking-readers
// pattern: one worker loops over the configured probes, and readers get
// an O(1), non-blocking, torn-write-free copy of the most recent values.
type Cache struct {
	probes         []Probe
	samplePeriod   time.Duration
	staleThreshold time.Duration

	mu            sync.Mutex
	snapshot      reading.SensorSnapshot
	lastSuccessAt time.Time

	failures uint64
}

// NewCache builds a Cache over the given probes. samplePeriod and
// staleThreshold fall back to their defaults when zero.
func NewCache(probes []Probe, samplePeriod, staleThreshold time.Duration) *Cache {
	if samplePeriod <= 0 {
		samplePeriod = DefaultSamplePeriod
	}
	if staleThreshold <= 0 {
		staleThreshold = DefaultStaleThreshold
	}
	return &Cache{
		probes:         probes,
		samplePeriod:   samplePeriod,
		staleThreshold: staleThreshold,
	}
}

// Run loops forever, sampling every configured probe once per round and
// sleeping samplePeriod (or until ctx is done) between rounds. It's meant
// to be run in its own goroutine and returns when ctx is canceled.
func (c *Cache) Run(ctx context.Context) {
	log.WithField("component", "sensor.Cache").Info("starting probe loop")
	for {
		c.sampleRound(ctx)

		select {
		case <-ctx.Done():
			log.WithField("component", "sensor.Cache").Info("probe loop stopped")
			return
		case <-time.After(c.samplePeriod):
		}
	}
}

func (c *Cache) sampleRound(ctx context.Context) {
	for _, p := range c.probes {
		fields, err := p.Sample(ctx)
		if err != nil {
			c.mu.Lock()
			c.failures++
			c.mu.Unlock()
			log.WithFields(log.Fields{
				"component": "sensor.Cache",
				"probe":     p.Name(),
				"err":       err,
			}).Debug("probe sample failed; keeping previous value")
			continue
		}
		c.merge(fields)
	}
}

// merge applies the non-nil fields of one probe's reading atomically,
// relative to concurrent Snapshot calls.
func (c *Cache) merge(fields Fields) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if fields.Temperature != nil {
		c.snapshot.Temperature = *fields.Temperature
	}
	if fields.Humidity != nil {
		c.snapshot.Humidity = *fields.Humidity
	}
	if fields.CO2 != nil {
		c.snapshot.CO2 = *fields.CO2
	}
	if fields.EquivalentCO2PPM != nil {
		c.snapshot.EquivalentCO2PPM = *fields.EquivalentCO2PPM
	}
	if fields.TotalVOCPPB != nil {
		c.snapshot.TotalVOCPPB = *fields.TotalVOCPPB
	}
	if fields.Pressure != nil {
		c.snapshot.Pressure = *fields.Pressure
	}
	if fields.TemperatureICP != nil {
		c.snapshot.TemperatureICP = *fields.TemperatureICP
	}

	c.snapshot.UpdateCount++
	c.snapshot.UpdatedAt = time.Now()
	c.lastSuccessAt = c.snapshot.UpdatedAt
}

// Snapshot returns a consistent copy of the current reading. It never
// blocks on probe I/O. Before any successful probe round it returns zero
// values with UpdateCount 0 — callers should not distinguish this case
// from a real, all-zero reading.
func (c *Cache) Snapshot() reading.SensorSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.snapshot
	if c.lastSuccessAt.IsZero() {
		snap.Stale = false
	} else {
		snap.Stale = time.Since(c.lastSuccessAt) > c.staleThreshold
	}
	return snap
}

// Failures returns the cumulative count of probe sample errors, for
// health/metrics reporting.
func (c *Cache) Failures() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}
