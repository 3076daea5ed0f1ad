package collector

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
	"go.uber.org/zap"

	"github.com/jaredglaser/homelab-manager-sub001/internal/config"
	"github.com/jaredglaser/homelab-manager-sub001/internal/model"
	"github.com/jaredglaser/homelab-manager-sub001/internal/obs"
	"github.com/jaredglaser/homelab-manager-sub001/internal/statscache"
	"github.com/jaredglaser/homelab-manager-sub001/internal/store"
)

// HostSource samples the machine the daemon itself runs on. Needs no
// configuration, so the hub always has one live source out of the box.
type HostSource struct {
	cfg   config.SourceConfig
	store *store.Store
	cache *statscache.Cache[model.HostStat]
	met   *obs.Metrics
	log   *zap.Logger

	hostname string
	prevTime int64
	prevNet  net.IOCountersStat
	havePrev bool
}

func NewHostSource(cfg config.SourceConfig, st *store.Store, cache *statscache.Cache[model.HostStat], met *obs.Metrics, log *zap.Logger) *HostSource {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "localhost"
	}
	return &HostSource{
		cfg:      cfg,
		store:    st,
		cache:    cache,
		met:      met,
		log:      log.Named("host"),
		hostname: hostname,
	}
}

func (s *HostSource) Name() string     { return model.SourceHost }
func (s *HostSource) Configured() bool { return true }

func (s *HostSource) CollectOnce(ctx context.Context) error {
	batch := newBatcher(s.store, s.Name(), s.cfg.BatchSize)
	defer batch.Flush()

	tick := time.NewTicker(time.Duration(s.cfg.CollectionIntervalMs) * time.Millisecond)
	defer tick.Stop()

	if err := s.cycle(ctx, batch); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			if err := s.cycle(ctx, batch); err != nil {
				return err
			}
			// Local sampling is already at the persisted cadence, so
			// each cycle flushes directly.
			if err := batch.Flush(); err != nil {
				s.met.WriteFailures.WithLabelValues(s.Name()).Inc()
				return fmt.Errorf("flush: %w", err)
			}
		}
	}
}

func (s *HostSource) cycle(ctx context.Context, batch *batcher) error {
	now := time.Now().Unix()
	stat := model.HostStat{Hostname: s.hostname, Timestamp: now * 1000}

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		stat.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stat.MemUsage = vm.Used
		stat.MemTotal = vm.Total
		stat.MemPercent = vm.UsedPercent
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		stat.Load1 = avg.Load1
	}
	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		stat.DiskUsedPct = du.UsedPercent
	}

	// Aggregated counters across interfaces; rate from the previous cycle.
	if counters, err := net.IOCountersWithContext(ctx, false); err == nil && len(counters) > 0 {
		cur := counters[0]
		if s.havePrev {
			elapsed := float64(now - s.prevTime)
			if elapsed > 0 && cur.BytesRecv >= s.prevNet.BytesRecv {
				stat.NetRxSec = float64(cur.BytesRecv-s.prevNet.BytesRecv) / elapsed
			}
			if elapsed > 0 && cur.BytesSent >= s.prevNet.BytesSent {
				stat.NetTxSec = float64(cur.BytesSent-s.prevNet.BytesSent) / elapsed
			}
		}
		s.prevNet = cur
		s.prevTime = now
		s.havePrev = true
	}

	s.met.SamplesCollected.WithLabelValues(s.Name()).Inc()
	s.cache.Update(map[string]model.HostStat{s.hostname: stat})
	s.met.CachedEntities.WithLabelValues(s.Name()).Set(float64(s.cache.Len()))

	if err := batch.Add(hostSamples(s.hostname, stat)...); err != nil {
		s.met.WriteFailures.WithLabelValues(s.Name()).Inc()
		return fmt.Errorf("batch write: %w", err)
	}
	s.met.BatchesWritten.WithLabelValues(s.Name()).Inc()
	return nil
}

func hostSamples(path string, st model.HostStat) []model.Sample {
	mk := func(metric string, v float64) model.Sample {
		return model.Sample{Timestamp: st.Timestamp, EntityPath: path, Metric: metric, Value: v}
	}
	return []model.Sample{
		mk("cpu_percent", st.CPUPercent),
		mk("memory_usage", float64(st.MemUsage)),
		mk("memory_percent", st.MemPercent),
		mk("load1", st.Load1),
		mk("network_rx_bytes_per_sec", st.NetRxSec),
		mk("network_tx_bytes_per_sec", st.NetTxSec),
		mk("disk_used_percent", st.DiskUsedPct),
	}
}
