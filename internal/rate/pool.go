package rate

import (
	"sync"
	"time"

	"github.com/jaredglaser/homelab-manager-sub001/internal/model"
)

// PoolCounters is one raw reading for a pool, vdev or leaf disk.
// Ops and bytes are cumulative totals since pool import.
type PoolCounters struct {
	Alloc      uint64
	Free       uint64
	ReadOps    uint64
	WriteOps   uint64
	ReadBytes  uint64
	WriteBytes uint64
}

type poolPrev struct {
	counters PoolCounters
	at       time.Time
}

// Pool derives storage-pool I/O rates keyed by entity path
// (pool/vdev/disk).
type Pool struct {
	mu   sync.Mutex
	prev map[string]poolPrev
}

func NewPool() *Pool {
	return &Pool{prev: make(map[string]poolPrev)}
}

func (p *Pool) Calculate(entityPath string, c PoolCounters, now time.Time) model.PoolStat {
	p.mu.Lock()
	old, seen := p.prev[entityPath]
	p.prev[entityPath] = poolPrev{counters: c, at: now}
	p.mu.Unlock()

	stat := model.PoolStat{
		EntityPath: entityPath,
		Timestamp:  now.UnixMilli(),
		AllocBytes: c.Alloc,
		FreeBytes:  c.Free,
		SizeBytes:  c.Alloc + c.Free,
		CapPercent: percent(c.Alloc, c.Alloc+c.Free),
	}
	if !seen {
		return stat
	}

	elapsed := now.Sub(old.at).Seconds()
	stat.ReadOpsSec = perSec(c.ReadOps, old.counters.ReadOps, elapsed)
	stat.WriteOpsSec = perSec(c.WriteOps, old.counters.WriteOps, elapsed)
	stat.ReadBytSec = perSec(c.ReadBytes, old.counters.ReadBytes, elapsed)
	stat.WriteBytSec = perSec(c.WriteBytes, old.counters.WriteBytes, elapsed)
	return stat
}

func (p *Pool) Remove(entityPath string) {
	p.mu.Lock()
	delete(p.prev, entityPath)
	p.mu.Unlock()
}

func (p *Pool) Clear() {
	p.mu.Lock()
	p.prev = make(map[string]poolPrev)
	p.mu.Unlock()
}
