// Package sysmetrics samples coarse OS metrics (CPU%, memory%, CPU
// temperature, free disk) behind a time-bounded cache.
package sysmetrics

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/procfs"
	log "github.com/sirupsen/logrus"

	"github.com/tspannhw/RPIThermalStreaming/reading"
)

// DefaultRefreshInterval is how long a snapshot is considered fresh.
const DefaultRefreshInterval = 60 * time.Second

// thermalZonePath is the usual location of the SoC thermal zone on a
// Raspberry Pi and most single-board Linux systems.
const thermalZonePath = "/sys/class/thermal/thermal_zone0/temp"

// Cache holds a refresh-on-access snapshot of system metrics. Unlike
// sensor.Cache there is no background thread: a call to Current refreshes
// inline when the cached value has aged past RefreshInterval.
type Cache struct {
	RefreshInterval time.Duration

	fs procfs.FS

	mu        sync.Mutex
	snapshot  reading.SystemSnapshot
	prevIdle  float64
	prevTotal float64
	haveCPU   bool
}

// NewCache opens procfs and returns a Cache with the given refresh
// interval (DefaultRefreshInterval if zero).
func NewCache(refreshInterval time.Duration) *Cache {
	if refreshInterval <= 0 {
		refreshInterval = DefaultRefreshInterval
	}
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		log.WithError(err).Warn("sysmetrics: opening procfs failed; metrics will read as zero")
	}
	return &Cache{
		RefreshInterval: refreshInterval,
		fs:              fs,
	}
}

// Current returns the cached snapshot, refreshing it first if it has
// aged past RefreshInterval. The very first call always refreshes.
func (c *Cache) Current() reading.SystemSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snapshot.UpdatedAt.IsZero() || time.Since(c.snapshot.UpdatedAt) > c.RefreshInterval {
		c.refreshLocked()
	}
	return c.snapshot
}

func (c *Cache) refreshLocked() {
	c.snapshot = reading.SystemSnapshot{
		CPUPct:     c.cpuPercentLocked(),
		MemPct:     c.memPercent(),
		CPUTempF:   c.cpuTempF(),
		DiskFreeMB: c.diskFreeMB("/"),
		UpdatedAt:  time.Now(),
	}
	c.snapshot.DiskUsage = formatDiskUsage(c.snapshot.DiskFreeMB)
}

// cpuPercentLocked samples CPU utilization as the delta of idle/total
// jiffies since the previous call (non-blocking; no sleep-and-measure).
// The first call always returns 0.
func (c *Cache) cpuPercentLocked() float64 {
	stat, err := c.fs.Stat()
	if err != nil {
		log.WithError(err).Debug("sysmetrics: reading /proc/stat failed")
		return 0
	}

	cpu := stat.CPUTotal
	idle := cpu.Idle + cpu.Iowait
	total := cpu.User + cpu.Nice + cpu.System + cpu.Idle + cpu.Iowait + cpu.IRQ + cpu.SoftIRQ + cpu.Steal

	if !c.haveCPU {
		c.prevIdle, c.prevTotal = idle, total
		c.haveCPU = true
		return 0
	}

	deltaIdle := idle - c.prevIdle
	deltaTotal := total - c.prevTotal
	c.prevIdle, c.prevTotal = idle, total

	if deltaTotal <= 0 {
		return 0
	}
	pct := (1 - deltaIdle/deltaTotal) * 100
	if pct < 0 {
		pct = 0
	}
	return pct
}

func (c *Cache) memPercent() float64 {
	mem, err := c.fs.Meminfo()
	if err != nil {
		log.WithError(err).Debug("sysmetrics: reading /proc/meminfo failed")
		return 0
	}
	if mem.MemTotal == nil || *mem.MemTotal == 0 {
		return 0
	}
	total := float64(*mem.MemTotal)
	available := total
	if mem.MemAvailable != nil {
		available = float64(*mem.MemAvailable)
	} else if mem.MemFree != nil {
		available = float64(*mem.MemFree)
	}
	used := total - available
	if used < 0 {
		used = 0
	}
	return used / total * 100
}

func (c *Cache) cpuTempF() int {
	raw, err := os.ReadFile(thermalZonePath)
	if err != nil {
		return 0
	}
	milliC, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0
	}
	celsius := float64(milliC) / 1000.0
	return int(celsius*9/5 + 32)
}

func (c *Cache) diskFreeMB(path string) float64 {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		log.WithError(err).Debug("sysmetrics: statfs failed")
		return 0
	}
	freeBytes := stat.Bavail * uint64(stat.Bsize)
	return float64(freeBytes) / (1024 * 1024)
}

func formatDiskUsage(freeMB float64) string {
	if freeMB <= 0 {
		return "0.0 MB"
	}
	return humanize.Comma(int64(freeMB)) + " MB"
}
