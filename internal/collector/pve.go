package collector

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jaredglaser/homelab-manager-sub001/internal/config"
	"github.com/jaredglaser/homelab-manager-sub001/internal/model"
	"github.com/jaredglaser/homelab-manager-sub001/internal/obs"
	"github.com/jaredglaser/homelab-manager-sub001/internal/rate"
	"github.com/jaredglaser/homelab-manager-sub001/internal/statscache"
	"github.com/jaredglaser/homelab-manager-sub001/internal/store"
)

// pveResource is one entry of the cluster resources endpoint. The API
// reports cpu as a 0..1 fraction and net/disk as cumulative bytes.
type pveResource struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"` // qemu, lxc, node, storage, ...
	VMID      int64   `json:"vmid"`
	Node      string  `json:"node"`
	Name      string  `json:"name"`
	Status    string  `json:"status"`
	CPU       float64 `json:"cpu"`
	Mem       uint64  `json:"mem"`
	MaxMem    uint64  `json:"maxmem"`
	NetIn     uint64  `json:"netin"`
	NetOut    uint64  `json:"netout"`
	DiskRead  uint64  `json:"diskread"`
	DiskWrite uint64  `json:"diskwrite"`
	Uptime    int64   `json:"uptime"`
	Tags      string  `json:"tags"`
}

// PVESource polls a virtualization cluster's resources API for guest
// stats. Entity paths are node/type/vmid, e.g. "pve1/qemu/100".
type PVESource struct {
	cfg    config.PVEConfig
	store  *store.Store
	calc   *rate.VM
	cache  *statscache.Cache[model.VMStat]
	met    *obs.Metrics
	log    *zap.Logger
	client *http.Client
}

func NewPVESource(cfg config.PVEConfig, st *store.Store, cache *statscache.Cache[model.VMStat], met *obs.Metrics, log *zap.Logger) *PVESource {
	transport := &http.Transport{}
	if cfg.InsecureTLS {
		// Clusters commonly run on self-signed certificates.
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &PVESource{
		cfg:    cfg,
		store:  st,
		calc:   rate.NewVM(),
		cache:  cache,
		met:    met,
		log:    log.Named("pve"),
		client: &http.Client{Transport: transport, Timeout: 15 * time.Second},
	}
}

func (s *PVESource) Name() string { return model.SourceVMs }

func (s *PVESource) Configured() bool {
	return s.cfg.BaseURL != "" && s.cfg.TokenID != "" && s.cfg.Secret != ""
}

// CollectOnce polls the cluster on a fixed cadence until a request
// fails or ctx fires. The stream here is the poll loop itself: one
// graceful HTTP error returns to the runner for backoff.
func (s *PVESource) CollectOnce(ctx context.Context) error {
	batch := newBatcher(s.store, s.Name(), s.cfg.BatchSize)
	defer batch.Flush()
	throttle := newWriteThrottle(time.Duration(s.cfg.CollectionIntervalMs) * time.Millisecond)
	meta := newMetaCache(s.store, s.Name(), s.log)

	tick := time.NewTicker(time.Duration(s.cfg.CollectionIntervalMs) * time.Millisecond)
	defer tick.Stop()
	flush := time.NewTicker(time.Duration(s.cfg.BatchTimeoutMs) * time.Millisecond)
	defer flush.Stop()

	if err := s.cycle(ctx, batch, throttle, meta); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-flush.C:
			if err := batch.Flush(); err != nil {
				s.met.WriteFailures.WithLabelValues(s.Name()).Inc()
				return fmt.Errorf("flush: %w", err)
			}
		case <-tick.C:
			if err := s.cycle(ctx, batch, throttle, meta); err != nil {
				return err
			}
		}
	}
}

func (s *PVESource) cycle(ctx context.Context, batch *batcher, throttle *writeThrottle, meta *metaCache) error {
	resources, err := s.fetchResources(ctx)
	if err != nil {
		return err
	}
	now := time.Now()

	fresh := make(map[string]model.VMStat)
	for _, r := range resources {
		if r.Type != "qemu" && r.Type != "lxc" {
			continue
		}
		s.met.SamplesCollected.WithLabelValues(s.Name()).Inc()

		path := fmt.Sprintf("%s/%s/%d", r.Node, r.Type, r.VMID)
		stat := s.calc.Calculate(path, rate.VMCounters{
			CPUFraction: r.CPU,
			MemUsage:    r.Mem,
			MemMax:      r.MaxMem,
			NetIn:       r.NetIn,
			NetOut:      r.NetOut,
			DiskRead:    r.DiskRead,
			DiskWrite:   r.DiskWrite,
			Uptime:      r.Uptime,
		}, now)
		stat.Name = r.Name
		stat.Node = r.Node
		stat.Type = r.Type
		stat.Status = r.Status
		fresh[path] = stat

		meta.Put(path, "name", r.Name)
		meta.Put(path, "type", r.Type)
		meta.Put(path, "node", r.Node)
		if r.Tags != "" {
			meta.Put(path, "tags", r.Tags)
		}

		if !throttle.ShouldWrite(path, now) {
			continue
		}
		if err := batch.Add(vmSamples(path, stat)...); err != nil {
			s.met.WriteFailures.WithLabelValues(s.Name()).Inc()
			return fmt.Errorf("batch write: %w", err)
		}
		s.met.BatchesWritten.WithLabelValues(s.Name()).Inc()
	}

	s.cache.Update(fresh)
	s.met.CachedEntities.WithLabelValues(s.Name()).Set(float64(s.cache.Len()))
	return nil
}

func (s *PVESource) fetchResources(ctx context.Context) ([]pveResource, error) {
	url := strings.TrimRight(s.cfg.BaseURL, "/") + "/api2/json/cluster/resources?type=vm"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "PVEAPIToken="+s.cfg.TokenID+"="+s.cfg.Secret)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cluster resources: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cluster resources: status %d", resp.StatusCode)
	}

	var payload struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("cluster resources decode: %w", err)
	}

	// Decode records individually: one malformed entry is skipped,
	// the rest of the snapshot survives.
	resources := make([]pveResource, 0, len(payload.Data))
	for _, raw := range payload.Data {
		var r pveResource
		if err := json.Unmarshal(raw, &r); err != nil {
			s.log.Warn("skipping malformed resource", zap.Error(err))
			continue
		}
		resources = append(resources, r)
	}
	return resources, nil
}

func vmSamples(path string, st model.VMStat) []model.Sample {
	mk := func(metric string, v float64) model.Sample {
		return model.Sample{Timestamp: st.Timestamp, EntityPath: path, Metric: metric, Value: v}
	}
	return []model.Sample{
		mk("cpu_percent", st.CPUPercent),
		mk("memory_usage", float64(st.MemUsage)),
		mk("memory_percent", st.MemPercent),
		mk("network_rx_bytes_per_sec", st.NetInSec),
		mk("network_tx_bytes_per_sec", st.NetOutSec),
		mk("disk_read_bytes_per_sec", st.DiskReadSec),
		mk("disk_write_bytes_per_sec", st.DiskWriteSec),
		mk("uptime_seconds", float64(st.UptimeSec)),
	}
}
