package collector

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/jaredglaser/homelab-manager-sub001/internal/config"
	"github.com/jaredglaser/homelab-manager-sub001/internal/model"
	"github.com/jaredglaser/homelab-manager-sub001/internal/obs"
	"github.com/jaredglaser/homelab-manager-sub001/internal/rate"
	"github.com/jaredglaser/homelab-manager-sub001/internal/statscache"
	"github.com/jaredglaser/homelab-manager-sub001/internal/store"
)

const (
	zpoolListCmd   = "zpool list -Hpo name,size,alloc,free,health"
	zpoolIostatCmd = "zpool iostat -Hpv"
	sshDialTimeout = 10 * time.Second
)

// ZPoolSource samples ZFS pools on one remote storage host over a
// persistent SSH connection. Entity paths are host/pool,
// host/pool/vdev and host/pool/vdev/disk; the host prefix keeps
// several storage hosts from colliding in one source.
type ZPoolSource struct {
	cfg   config.StorageHostConfig
	store *store.Store
	calc  *rate.Pool
	cache *statscache.Cache[model.PoolStat]
	met   *obs.Metrics
	log   *zap.Logger
	label string
}

func NewZPoolSource(cfg config.StorageHostConfig, st *store.Store, cache *statscache.Cache[model.PoolStat], met *obs.Metrics, log *zap.Logger) *ZPoolSource {
	label := cfg.Host
	if i := strings.IndexByte(label, ':'); i > 0 {
		label = label[:i]
	}
	return &ZPoolSource{
		cfg:   cfg,
		store: st,
		calc:  rate.NewPool(),
		cache: cache,
		met:   met,
		log:   log.Named("zpool").With(zap.String("host", cfg.Host)),
		label: label,
	}
}

func (s *ZPoolSource) Name() string { return model.SourcePools }

func (s *ZPoolSource) Configured() bool {
	return s.cfg.Host != "" && s.cfg.User != "" && (s.cfg.Password != "" || s.cfg.KeyFile != "")
}

// CollectOnce dials the storage host and samples every pool on a
// fixed cadence until the connection drops or ctx fires.
func (s *ZPoolSource) CollectOnce(ctx context.Context) error {
	client, err := s.dial()
	if err != nil {
		return fmt.Errorf("ssh dial %s: %w", s.cfg.Host, err)
	}
	defer client.Close()

	batch := newBatcher(s.store, s.Name(), s.cfg.BatchSize)
	defer batch.Flush()
	throttle := newWriteThrottle(time.Duration(s.cfg.CollectionIntervalMs) * time.Millisecond)
	meta := newMetaCache(s.store, s.Name(), s.log)

	tick := time.NewTicker(time.Duration(s.cfg.CollectionIntervalMs) * time.Millisecond)
	defer tick.Stop()
	flush := time.NewTicker(time.Duration(s.cfg.BatchTimeoutMs) * time.Millisecond)
	defer flush.Stop()

	// First cycle immediately so a fresh connect reports right away.
	if err := s.cycle(ctx, client, batch, throttle, meta); err != nil {
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
			if err := s.cycle(ctx, client, batch, throttle, meta); err != nil {
				return err
			}
		}
	}
}

func (s *ZPoolSource) dial() (*ssh.Client, error) {
	auth := []ssh.AuthMethod{}
	if s.cfg.KeyFile != "" {
		pem, err := os.ReadFile(s.cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("parse key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if s.cfg.Password != "" {
		auth = append(auth, ssh.Password(s.cfg.Password))
	}
	addr := s.cfg.Host
	if !strings.Contains(addr, ":") {
		addr += ":22"
	}
	return ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User: s.cfg.User,
		Auth: auth,
		// Homelab hosts rotate keys on reinstall; pinning would make
		// every rebuild a config change.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         sshDialTimeout,
	})
}

func (s *ZPoolSource) cycle(ctx context.Context, client *ssh.Client, batch *batcher, throttle *writeThrottle, meta *metaCache) error {
	now := time.Now()

	listOut, err := runSSH(ctx, client, zpoolListCmd)
	if err != nil {
		return fmt.Errorf("%s: %w", zpoolListCmd, err)
	}
	pools := parseZpoolList(listOut)

	iostatOut, err := runSSH(ctx, client, zpoolIostatCmd)
	if err != nil {
		return fmt.Errorf("%s: %w", zpoolIostatCmd, err)
	}
	rows := parseZpoolIostat(iostatOut, pools)

	fresh := make(map[string]model.PoolStat, len(rows))
	for _, row := range rows {
		path := s.label + "/" + row.path
		s.met.SamplesCollected.WithLabelValues(s.Name()).Inc()
		stat := s.calc.Calculate(path, row.counters, now)
		stat.EntityPath = path

		if info, ok := pools[row.path]; ok {
			// Pool-level rows get capacity and health from zpool list,
			// which reports the real size (iostat's alloc+free is raw).
			stat.Health = info.health
			stat.SizeBytes = info.size
			stat.AllocBytes = info.alloc
			stat.FreeBytes = info.free
			stat.CapPercent = 0
			if info.size > 0 {
				stat.CapPercent = float64(info.alloc) / float64(info.size) * 100
			}
			meta.Put(path, "health", info.health)
		}
		fresh[path] = stat

		if !throttle.ShouldWrite(path, now) {
			continue
		}
		if err := batch.Add(poolSamples(path, stat)...); err != nil {
			s.met.WriteFailures.WithLabelValues(s.Name()).Inc()
			return fmt.Errorf("batch write: %w", err)
		}
		s.met.BatchesWritten.WithLabelValues(s.Name()).Inc()
	}

	s.cache.UpdateScoped(s.label, fresh)
	s.met.CachedEntities.WithLabelValues(s.Name()).Set(float64(s.cache.Len()))
	return nil
}

// runSSH executes one command in its own session. Cancellation closes
// the session so a hung command cannot stall shutdown.
func runSSH(ctx context.Context, client *ssh.Client, cmd string) ([]byte, error) {
	sess, err := client.NewSession()
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := sess.Output(cmd)
		done <- result{out, err}
	}()
	select {
	case <-ctx.Done():
		sess.Close()
		return nil, ctx.Err()
	case r := <-done:
		return r.out, r.err
	}
}

type poolInfo struct {
	size   uint64
	alloc  uint64
	free   uint64
	health string
}

// parseZpoolList parses `zpool list -Hpo name,size,alloc,free,health`
// (tab-separated, one pool per line). Unparseable lines are skipped.
func parseZpoolList(out []byte) map[string]poolInfo {
	pools := make(map[string]poolInfo)
	for _, line := range strings.Split(string(out), "\n") {
		f := strings.Fields(line)
		if len(f) != 5 {
			continue
		}
		size, err1 := strconv.ParseUint(f[1], 10, 64)
		alloc, err2 := strconv.ParseUint(f[2], 10, 64)
		free, err3 := strconv.ParseUint(f[3], 10, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		pools[f[0]] = poolInfo{size: size, alloc: alloc, free: free, health: f[4]}
	}
	return pools
}

type iostatRow struct {
	path     string
	counters rate.PoolCounters
}

// parseZpoolIostat parses `zpool iostat -Hpv`: tab-separated rows of
// name, alloc, free, read-ops, write-ops, read-bytes, write-bytes.
// Scripted mode loses indentation, so hierarchy is rebuilt from the
// known pool names: a row naming a pool opens its section, vdev rows
// (mirror-*, raidz*, etc.) nest under the current pool, and leaf
// disks nest under the current vdev or directly under the pool.
func parseZpoolIostat(out []byte, pools map[string]poolInfo) []iostatRow {
	var rows []iostatRow
	var curPool, curVdev string

	for _, line := range strings.Split(string(out), "\n") {
		f := strings.Fields(line)
		if len(f) != 7 {
			continue
		}
		name := f[0]
		c, ok := parsePoolCounters(f)
		if !ok {
			continue
		}

		if _, isPool := pools[name]; isPool {
			curPool, curVdev = name, ""
			rows = append(rows, iostatRow{path: name, counters: c})
			continue
		}
		if curPool == "" {
			continue
		}
		if isVdevName(name) {
			curVdev = name
			rows = append(rows, iostatRow{path: curPool + "/" + name, counters: c})
			continue
		}
		path := curPool + "/" + name
		if curVdev != "" {
			path = curPool + "/" + curVdev + "/" + name
		}
		rows = append(rows, iostatRow{path: path, counters: c})
	}
	return rows
}

func parsePoolCounters(f []string) (rate.PoolCounters, bool) {
	var vals [6]uint64
	for i := 0; i < 6; i++ {
		// "-" appears for vdev-level alloc/free on some layouts.
		if f[i+1] == "-" {
			continue
		}
		v, err := strconv.ParseUint(f[i+1], 10, 64)
		if err != nil {
			return rate.PoolCounters{}, false
		}
		vals[i] = v
	}
	return rate.PoolCounters{
		Alloc:      vals[0],
		Free:       vals[1],
		ReadOps:    vals[2],
		WriteOps:   vals[3],
		ReadBytes:  vals[4],
		WriteBytes: vals[5],
	}, true
}

func isVdevName(name string) bool {
	for _, prefix := range []string{"mirror", "raidz", "draid", "spare", "log", "cache", "special"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func poolSamples(path string, st model.PoolStat) []model.Sample {
	mk := func(metric string, v float64) model.Sample {
		return model.Sample{Timestamp: st.Timestamp, EntityPath: path, Metric: metric, Value: v}
	}
	return []model.Sample{
		mk("capacity_percent", st.CapPercent),
		mk("read_ops_per_sec", st.ReadOpsSec),
		mk("write_ops_per_sec", st.WriteOpsSec),
		mk("read_bytes_per_sec", st.ReadBytSec),
		mk("write_bytes_per_sec", st.WriteBytSec),
	}
}
