package reading

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SensorSnapshot is the subset of a Reading that SensorCache owns.
type SensorSnapshot struct {
	Temperature      float64
	Humidity         float64
	CO2              float64
	EquivalentCO2PPM float64
	TotalVOCPPB      float64
	Pressure         float64
	TemperatureICP   float64
	UpdatedAt        time.Time
	UpdateCount      uint64
	Stale            bool
}

// SensorSource is implemented by sensor.Cache. Snapshot never blocks on
// probe I/O; see sensor.Cache for the decoupling contract.
type SensorSource interface {
	Snapshot() SensorSnapshot
}

// SystemSnapshot is the subset of a Reading that sysmetrics.Cache owns.
type SystemSnapshot struct {
	CPUPct     float64
	MemPct     float64
	CPUTempF   int
	DiskFreeMB float64
	DiskUsage  string
	UpdatedAt  time.Time
}

// SystemSource is implemented by sysmetrics.Cache.
type SystemSource interface {
	Current() SystemSnapshot
}

// Identity is implemented by hostid.Identity.
type Identity interface {
	Hostname() string
	IPv4() string
	MAC() string
}

// Assembler produces fully-populated Readings by merging a SensorSource,
// a SystemSource and an Identity
type Assembler struct {
	Sensors SensorSource
	System  SystemSource
	Host    Identity

	processStart time.Time
}

// NewAssembler returns an Assembler whose runtime clock starts now.
func NewAssembler(sensors SensorSource, system SystemSource, host Identity) *Assembler {
	return &Assembler{
		Sensors:      sensors,
		System:       system,
		Host:         host,
		processStart: time.Now(),
	}
}

// Assemble snapshots SensorCache and SystemMetrics, stamps identity and
// timestamps, and returns one fully-populated, finite-valued Reading.
func (a *Assembler) Assemble() Reading {
	startSample := time.Now()

	sensors := a.Sensors.Snapshot()
	sys := a.System.Current()

	endSample := time.Now()
	now := endSample

	id := newRowID(now)

	r := Reading{
		UUID:     id.uuid,
		RowID:    id.rowID,
		Hostname: a.Host.Hostname(),
		Host:     a.Host.Hostname(),

		IPAddress:  a.Host.IPv4(),
		MACAddress: a.Host.MAC(),

		Temperature:      sanitize(sensors.Temperature),
		Humidity:         sanitize(sensors.Humidity),
		CO2:              sanitize(sensors.CO2),
		EquivalentCO2PPM: sanitize(sensors.EquivalentCO2PPM),
		TotalVOCPPB:      sanitize(sensors.TotalVOCPPB),
		Pressure:         sanitize(sensors.Pressure),
		TemperatureICP:   sanitize(sensors.TemperatureICP),

		CPUTempF:  sys.CPUTempF,
		CPU:       sanitize(sys.CPUPct),
		Memory:    sanitize(sys.MemPct),
		DiskUsage: sys.DiskUsage,

		Runtime: int64(now.Sub(a.processStart).Seconds()),

		TS:            now.Unix(),
		SystemTime:    formatSystemTime(now),
		StartTime:     formatSystemTime(startSample),
		EndTime:       formatSystemTime(endSample),
		DateTimeStamp: now.Format(time.RFC3339),
		TE:            fmt.Sprintf("%.6f", endSample.Sub(startSample).Seconds()),
	}

	return r
}

type rowIdentity struct {
	uuid  string
	rowID string
}

func newRowID(now time.Time) rowIdentity {
	u := strings.ToLower(uuid.NewString())
	return rowIdentity{
		uuid:  u,
		rowID: now.Format("20060102150405") + "_" + u,
	}
}
