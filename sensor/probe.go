// Package sensor decouples slow I²C probe latency from row emission. A
// single background worker samples a set of probes and serves the most
// recent reading to callers in O(1); see Cache.
package sensor

import "context"

// Fields is the subset of measurements a single probe contributes. A nil
// pointer means this probe doesn't measure that quantity.
type Fields struct {
	Temperature      *float64
	Humidity         *float64
	CO2              *float64
	EquivalentCO2PPM *float64
	TotalVOCPPB      *float64
	Pressure         *float64
	TemperatureICP   *float64
}

// Probe is an abstract capability exposing a blocking sample. Real I²C
// drivers are out of scope; implementations here are reference/test
// probes standing in for them.
type Probe interface {
	// Name identifies the probe in logs and error counters.
	Name() string
	// Sample blocks for as long as the underlying hardware needs to and
	// returns one reading, or a recoverable ProbeError.
	Sample(ctx context.Context) (Fields, error)
}

// ProbeError indicates a recoverable transient fault. The caller treats a
// failed sample as "no update this cycle" and keeps the previous value.
type ProbeError struct {
	Probe string
	Err   error
}

func (e *ProbeError) Error() string {
	return "sensor: " + e.Probe + ": " + e.Err.Error()
}

func (e *ProbeError) Unwrap() error { return e.Err }

func f(v float64) *float64 { return &v }
