package rate

import (
	"sync"
	"time"

	"github.com/jaredglaser/homelab-manager-sub001/internal/model"
)

// DockerCounters is one raw reading from a container stats stream.
// CPU usage totals are nanoseconds; the rest are cumulative bytes.
type DockerCounters struct {
	CPUTotal    uint64
	CPUSystem   uint64
	OnlineCPUs  uint32
	MemUsage    uint64
	MemLimit    uint64
	NetRxBytes  uint64
	NetTxBytes  uint64
	BlkReadByt  uint64
	BlkWriteByt uint64
}

type dockerPrev struct {
	counters DockerCounters
	at       time.Time
}

// Docker derives container rates. Safe for concurrent use: the merge
// combinator delivers samples from many per-container streams on one
// goroutine, but stream teardown calls Remove from another.
type Docker struct {
	mu   sync.Mutex
	prev map[string]dockerPrev
}

func NewDocker() *Docker {
	return &Docker{prev: make(map[string]dockerPrev)}
}

// Calculate turns one raw reading into a stat with rates. now is the
// reading's wall-clock time.
func (d *Docker) Calculate(id string, c DockerCounters, now time.Time) model.ContainerStat {
	d.mu.Lock()
	p, seen := d.prev[id]
	d.prev[id] = dockerPrev{counters: c, at: now}
	d.mu.Unlock()

	stat := model.ContainerStat{
		ID:         id,
		Timestamp:  now.UnixMilli(),
		MemUsage:   c.MemUsage,
		MemLimit:   c.MemLimit,
		MemPercent: percent(c.MemUsage, c.MemLimit),
	}
	if !seen {
		return stat
	}

	elapsed := now.Sub(p.at).Seconds()
	stat.NetRxSec = perSec(c.NetRxBytes, p.counters.NetRxBytes, elapsed)
	stat.NetTxSec = perSec(c.NetTxBytes, p.counters.NetTxBytes, elapsed)
	stat.BlkReadSec = perSec(c.BlkReadByt, p.counters.BlkReadByt, elapsed)
	stat.BlkWrtSec = perSec(c.BlkWriteByt, p.counters.BlkWriteByt, elapsed)

	// CPU percent from usage deltas over the same window, scaled by
	// the number of online CPUs (daemon convention: 100% = one core).
	if c.CPUTotal >= p.counters.CPUTotal && c.CPUSystem > p.counters.CPUSystem {
		cpuDelta := float64(c.CPUTotal - p.counters.CPUTotal)
		sysDelta := float64(c.CPUSystem - p.counters.CPUSystem)
		cpus := float64(c.OnlineCPUs)
		if cpus == 0 {
			cpus = 1
		}
		stat.CPUPercent = cpuDelta / sysDelta * cpus * 100
	}
	return stat
}

// Remove evicts one container's previous sample.
func (d *Docker) Remove(id string) {
	d.mu.Lock()
	delete(d.prev, id)
	d.mu.Unlock()
}

// Clear evicts all previous samples.
func (d *Docker) Clear() {
	d.mu.Lock()
	d.prev = make(map[string]dockerPrev)
	d.mu.Unlock()
}
