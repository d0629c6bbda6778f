package sensor

import (
	"context"
	"math/rand"
	"time"
)

// EnvironmentalProbe is a reference Probe standing in for a fast CO2/VOC/
// temperature/humidity/pressure sensor cluster. Real I²C wiring is out of
// scope; this exists so SensorCache has something concrete
// to decouple from in tests and examples.
type EnvironmentalProbe struct {
	// Latency simulates the bus read time for this probe. Zero means an
	// effectively instantaneous read.
	Latency time.Duration

	rnd *rand.Rand
}

// NewEnvironmentalProbe returns an EnvironmentalProbe with the given
// simulated read latency.
func NewEnvironmentalProbe(latency time.Duration) *EnvironmentalProbe {
	return &EnvironmentalProbe{
		Latency: latency,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (p *EnvironmentalProbe) Name() string { return "environmental" }

func (p *EnvironmentalProbe) Sample(ctx context.Context) (Fields, error) {
	if p.Latency > 0 {
		select {
		case <-time.After(p.Latency):
		case <-ctx.Done():
			return Fields{}, ctx.Err()
		}
	}

	return Fields{
		Temperature:      f(21 + p.rnd.Float64()*3),
		Humidity:         f(38 + p.rnd.Float64()*10),
		CO2:              f(420 + p.rnd.Float64()*80),
		EquivalentCO2PPM: f(430 + p.rnd.Float64()*80),
		TotalVOCPPB:      f(50 + p.rnd.Float64()*100),
		Pressure:         f(100800 + p.rnd.Float64()*300),
	}, nil
}

// ThermalProbe is a reference Probe standing in for a markedly slower
// thermal-imaging sensor — the one SensorCache exists to keep off the
// row-emission hot path.
type ThermalProbe struct {
	Latency time.Duration

	rnd *rand.Rand
}

// NewThermalProbe returns a ThermalProbe with the given simulated read
// latency (real thermal-imaging hardware can take up to several seconds
// per read).
func NewThermalProbe(latency time.Duration) *ThermalProbe {
	return &ThermalProbe{
		Latency: latency,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano() + 1)),
	}
}

func (p *ThermalProbe) Name() string { return "thermal" }

func (p *ThermalProbe) Sample(ctx context.Context) (Fields, error) {
	if p.Latency > 0 {
		select {
		case <-time.After(p.Latency):
		case <-ctx.Done():
			return Fields{}, ctx.Err()
		}
	}

	return Fields{
		TemperatureICP: f(22 + p.rnd.Float64()*4),
	}, nil
}
