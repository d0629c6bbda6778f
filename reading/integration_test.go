package reading_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tspannhw/RPIThermalStreaming/hostid"
	"github.com/tspannhw/RPIThermalStreaming/reading"
	"github.com/tspannhw/RPIThermalStreaming/sensor"
	"github.com/tspannhw/RPIThermalStreaming/sysmetrics"
)

// TestAssembleDoesNotBlockOnSlowProbes verifies the "Sensor non-blocking"
// testable property: 1,000 sequential Assemble calls complete in under a
// second even though one configured probe takes seconds per read, because
// SensorCache decouples probe latency from the read path.
func TestAssembleDoesNotBlockOnSlowProbes(t *testing.T) {
	probes := []sensor.Probe{
		sensor.NewEnvironmentalProbe(0),
		sensor.NewThermalProbe(3 * time.Second),
	}
	cache := sensor.NewCache(probes, time.Hour, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cache.Run(ctx)
	sys := sysmetrics.NewCache(time.Hour)
	host := hostid.New()

	a := reading.NewAssembler(cache, sys, host)

	start := time.Now()
	for i := 0; i < 1000; i++ {
		r := a.Assemble()
		require.NotEmpty(t, r.UUID)
	}
	assert.Less(t, time.Since(start), time.Second)
}
