package rate

import (
	"sync"
	"time"

	"github.com/jaredglaser/homelab-manager-sub001/internal/model"
)

// VMCounters is one raw reading for a cluster guest. CPU is an
// instantaneous fraction (0..1) as reported by the cluster API;
// net/disk totals are cumulative bytes.
type VMCounters struct {
	CPUFraction float64
	MemUsage    uint64
	MemMax      uint64
	NetIn       uint64
	NetOut      uint64
	DiskRead    uint64
	DiskWrite   uint64
	Uptime      int64
}

type vmPrev struct {
	counters VMCounters
	at       time.Time
}

// VM derives guest rates keyed by entity path (node/type/vmid).
type VM struct {
	mu   sync.Mutex
	prev map[string]vmPrev
}

func NewVM() *VM {
	return &VM{prev: make(map[string]vmPrev)}
}

func (v *VM) Calculate(entityPath string, c VMCounters, now time.Time) model.VMStat {
	v.mu.Lock()
	old, seen := v.prev[entityPath]
	v.prev[entityPath] = vmPrev{counters: c, at: now}
	v.mu.Unlock()

	stat := model.VMStat{
		EntityPath: entityPath,
		Timestamp:  now.UnixMilli(),
		CPUPercent: c.CPUFraction * 100,
		MemUsage:   c.MemUsage,
		MemMax:     c.MemMax,
		MemPercent: percent(c.MemUsage, c.MemMax),
		UptimeSec:  c.Uptime,
	}
	if !seen {
		return stat
	}

	elapsed := now.Sub(old.at).Seconds()
	stat.NetInSec = perSec(c.NetIn, old.counters.NetIn, elapsed)
	stat.NetOutSec = perSec(c.NetOut, old.counters.NetOut, elapsed)
	stat.DiskReadSec = perSec(c.DiskRead, old.counters.DiskRead, elapsed)
	stat.DiskWriteSec = perSec(c.DiskWrite, old.counters.DiskWrite, elapsed)
	return stat
}

func (v *VM) Remove(entityPath string) {
	v.mu.Lock()
	delete(v.prev, entityPath)
	v.mu.Unlock()
}

func (v *VM) Clear() {
	v.mu.Lock()
	v.prev = make(map[string]vmPrev)
	v.mu.Unlock()
}
