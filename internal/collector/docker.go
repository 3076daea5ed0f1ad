package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"go.uber.org/zap"

	"github.com/jaredglaser/homelab-manager-sub001/internal/config"
	"github.com/jaredglaser/homelab-manager-sub001/internal/merge"
	"github.com/jaredglaser/homelab-manager-sub001/internal/model"
	"github.com/jaredglaser/homelab-manager-sub001/internal/obs"
	"github.com/jaredglaser/homelab-manager-sub001/internal/rate"
	"github.com/jaredglaser/homelab-manager-sub001/internal/statscache"
	"github.com/jaredglaser/homelab-manager-sub001/internal/store"
)

// containerReading is one decoded frame from a per-container stats
// stream, tagged with the container's identity.
type containerReading struct {
	id    string
	name  string
	image string
	at    time.Time
	c     rate.DockerCounters
}

// DockerSource streams live stats from a container runtime. Each
// running container gets its own stats stream; the merge group
// multiplexes them so none starves.
type DockerSource struct {
	cfg   config.DockerConfig
	store *store.Store
	calc  *rate.Docker
	cache *statscache.Cache[model.ContainerStat]
	met   *obs.Metrics
	log   *zap.Logger
	host  string

	latest map[string]model.ContainerStat
}

func NewDockerSource(cfg config.DockerConfig, st *store.Store, cache *statscache.Cache[model.ContainerStat], met *obs.Metrics, log *zap.Logger) *DockerSource {
	return &DockerSource{
		cfg:    cfg,
		store:  st,
		calc:   rate.NewDocker(),
		cache:  cache,
		met:    met,
		log:    log.Named("docker"),
		host:   hostLabel(cfg.Endpoint),
		latest: make(map[string]model.ContainerStat),
	}
}

func (s *DockerSource) Name() string     { return model.SourceContainers }
func (s *DockerSource) Configured() bool { return s.cfg.Endpoint != "" }

// hostLabel derives the entity-path prefix from the endpoint, so
// paths read "pantry/3f2a…" for tcp endpoints and "local/3f2a…" for
// the unix socket.
func hostLabel(endpoint string) string {
	if u, err := url.Parse(endpoint); err == nil && u.Scheme == "tcp" && u.Hostname() != "" {
		return u.Hostname()
	}
	return "local"
}

// CollectOnce connects, opens one stats stream per running container,
// and pumps merged readings through the rate calculator into the
// batcher until cancellation or runtime disconnect.
func (s *DockerSource) CollectOnce(ctx context.Context) error {
	cli, err := client.NewClientWithOpts(client.WithHost(s.cfg.Endpoint), client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("docker client: %w", err)
	}
	defer cli.Close()
	if _, err := cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}

	// Sub-context so stream goroutines unwind before Finish waits on
	// them, whatever path exits this function.
	sctx, cancel := context.WithCancel(ctx)
	group := merge.NewGroup[containerReading](sctx)
	defer group.Finish()
	defer cancel()

	batch := newBatcher(s.store, s.Name(), s.cfg.BatchSize)
	defer batch.Flush() // drain buffered samples on any exit, shutdown included
	throttle := newWriteThrottle(time.Duration(s.cfg.CollectionIntervalMs) * time.Millisecond)
	meta := newMetaCache(s.store, s.Name(), s.log)

	known := make(map[string]bool)
	if err := s.refreshStreams(sctx, cli, group, known, throttle); err != nil {
		return err
	}

	relist := time.NewTicker(time.Duration(s.cfg.CollectionIntervalMs) * time.Millisecond)
	defer relist.Stop()
	flush := time.NewTicker(time.Duration(s.cfg.BatchTimeoutMs) * time.Millisecond)
	defer flush.Stop()

	merged := group.Out()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-relist.C:
			if err := s.refreshStreams(sctx, cli, group, known, throttle); err != nil {
				return err
			}
			s.snapshot(known)
		case <-flush.C:
			if err := batch.Flush(); err != nil {
				s.met.WriteFailures.WithLabelValues(s.Name()).Inc()
				return fmt.Errorf("flush: %w", err)
			}
		case rd := <-merged:
			if err := s.handleReading(rd, batch, throttle, meta); err != nil {
				return err
			}
		}
	}
}

// refreshStreams opens streams for newly-seen containers and evicts
// state for ones that disappeared. A single container's stream
// failing to open is logged and skipped, not fatal.
func (s *DockerSource) refreshStreams(ctx context.Context, cli *client.Client, group *merge.Group[containerReading], known map[string]bool, throttle *writeThrottle) error {
	containers, err := cli.ContainerList(ctx, types.ContainerListOptions{})
	if err != nil {
		return fmt.Errorf("container list: %w", err)
	}

	running := make(map[string]bool, len(containers))
	for _, ctr := range containers {
		running[ctr.ID] = true
		if known[ctr.ID] {
			continue
		}
		stream, err := s.openStream(ctx, cli, ctr)
		if err != nil {
			s.log.Warn("stats stream open failed", zap.String("container", shortID(ctr.ID)), zap.Error(err))
			continue
		}
		known[ctr.ID] = true
		group.Add(stream)
	}

	for id := range known {
		if !running[id] {
			delete(known, id)
			s.calc.Remove(id)
			throttle.Forget(s.entityPath(id))
			delete(s.latest, id)
		}
	}
	return nil
}

func (s *DockerSource) openStream(ctx context.Context, cli *client.Client, ctr types.Container) (merge.Stream[containerReading], error) {
	resp, err := cli.ContainerStats(ctx, ctr.ID, true)
	if err != nil {
		return merge.Stream[containerReading]{}, err
	}

	name := shortID(ctr.ID)
	if len(ctr.Names) > 0 {
		name = strings.TrimPrefix(ctr.Names[0], "/")
	}

	ch := make(chan containerReading)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		dec := json.NewDecoder(resp.Body)
		for {
			var sj types.StatsJSON
			if err := dec.Decode(&sj); err != nil {
				// EOF when the container stops or the body is closed.
				return
			}
			rd := containerReading{
				id:    ctr.ID,
				name:  name,
				image: ctr.Image,
				at:    time.Now(),
				c:     countersFromStats(&sj),
			}
			select {
			case ch <- rd:
			case <-ctx.Done():
				return
			}
		}
	}()

	return merge.Stream[containerReading]{
		C:     ch,
		Close: func() { resp.Body.Close() },
	}, nil
}

// countersFromStats flattens a runtime stats frame into the cumulative
// counters the rate calculator consumes.
func countersFromStats(sj *types.StatsJSON) rate.DockerCounters {
	c := rate.DockerCounters{
		CPUTotal:   sj.CPUStats.CPUUsage.TotalUsage,
		CPUSystem:  sj.CPUStats.SystemUsage,
		OnlineCPUs: sj.CPUStats.OnlineCPUs,
		MemUsage:   sj.MemoryStats.Usage,
		MemLimit:   sj.MemoryStats.Limit,
	}
	for _, n := range sj.Networks {
		c.NetRxBytes += n.RxBytes
		c.NetTxBytes += n.TxBytes
	}
	for _, e := range sj.BlkioStats.IoServiceBytesRecursive {
		switch strings.ToLower(e.Op) {
		case "read":
			c.BlkReadByt += e.Value
		case "write":
			c.BlkWriteByt += e.Value
		}
	}
	return c
}

func (s *DockerSource) handleReading(rd containerReading, batch *batcher, throttle *writeThrottle, meta *metaCache) error {
	s.met.SamplesCollected.WithLabelValues(s.Name()).Inc()

	stat := s.calc.Calculate(rd.id, rd.c, rd.at)
	stat.Name = rd.name
	stat.Image = rd.image
	s.latest[rd.id] = stat

	path := s.entityPath(rd.id)
	meta.Put(path, "name", rd.name)
	meta.Put(path, "image", rd.image)

	// Sampling stays at native stream speed for accurate rates; only
	// one write per entity per interval is persisted.
	if !throttle.ShouldWrite(path, rd.at) {
		return nil
	}
	if err := batch.Add(containerSamples(path, stat)...); err != nil {
		s.met.WriteFailures.WithLabelValues(s.Name()).Inc()
		return fmt.Errorf("batch write: %w", err)
	}
	s.met.BatchesWritten.WithLabelValues(s.Name()).Inc()
	return nil
}

// snapshot pushes the merged latest view into the stats cache, keyed
// by entity path so the read surface matches the persisted rows.
func (s *DockerSource) snapshot(known map[string]bool) {
	fresh := make(map[string]model.ContainerStat, len(s.latest))
	for id, stat := range s.latest {
		if known[id] {
			fresh[s.entityPath(id)] = stat
		}
	}
	s.cache.Update(fresh)
	s.met.CachedEntities.WithLabelValues(s.Name()).Set(float64(s.cache.Len()))
}

func (s *DockerSource) entityPath(id string) string {
	return s.host + "/" + shortID(id)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func containerSamples(path string, st model.ContainerStat) []model.Sample {
	mk := func(metric string, v float64) model.Sample {
		return model.Sample{Timestamp: st.Timestamp, EntityPath: path, Metric: metric, Value: v}
	}
	return []model.Sample{
		mk("cpu_percent", st.CPUPercent),
		mk("memory_usage", float64(st.MemUsage)),
		mk("memory_percent", st.MemPercent),
		mk("network_rx_bytes_per_sec", st.NetRxSec),
		mk("network_tx_bytes_per_sec", st.NetTxSec),
		mk("block_read_bytes_per_sec", st.BlkReadSec),
		mk("block_write_bytes_per_sec", st.BlkWrtSec),
	}
}
