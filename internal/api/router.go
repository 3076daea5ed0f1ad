package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jaredglaser/homelab-manager-sub001/internal/model"
	"github.com/jaredglaser/homelab-manager-sub001/internal/notify"
	"github.com/jaredglaser/homelab-manager-sub001/internal/obs"
	"github.com/jaredglaser/homelab-manager-sub001/internal/statscache"
	"github.com/jaredglaser/homelab-manager-sub001/internal/store"
)

// Caches is the per-source read surface handed to the API layer. The
// presentation/aggregation layers consume only this and the stream.
type Caches struct {
	Containers *statscache.Cache[model.ContainerStat]
	Pools      *statscache.Cache[model.PoolStat]
	VMs        *statscache.Cache[model.VMStat]
	Host       *statscache.Cache[model.HostStat]
}

// View returns the current merged snapshot for one source, optionally
// filtered to ids, or nil for an unknown source.
func (c *Caches) View(source string, ids []string) any {
	switch source {
	case model.SourceContainers:
		return cacheView(c.Containers, ids)
	case model.SourcePools:
		return cacheView(c.Pools, ids)
	case model.SourceVMs:
		return cacheView(c.VMs, ids)
	case model.SourceHost:
		return cacheView(c.Host, ids)
	}
	return nil
}

// Stale reports per-source staleness, false for unknown sources.
func (c *Caches) Stale(source string) bool {
	switch source {
	case model.SourceContainers:
		return c.Containers.Stale()
	case model.SourcePools:
		return c.Pools.Stale()
	case model.SourceVMs:
		return c.VMs.Stale()
	case model.SourceHost:
		return c.Host.Stale()
	}
	return false
}

func cacheView[T any](c *statscache.Cache[T], ids []string) any {
	if len(ids) > 0 {
		return c.Get(ids)
	}
	return c.GetAll()
}

// NewRouter creates the HTTP router with all API routes.
func NewRouter(db *store.Store, mux *notify.Mux, caches *Caches, met *obs.Metrics, log *zap.Logger) http.Handler {
	m := http.NewServeMux()

	ws := &wsAPI{store: db, mux: mux, caches: caches, met: met, log: log.Named("ws")}
	qa := &queryAPI{store: db, caches: caches}

	m.HandleFunc("GET /api/v1/ws/{source}", ws.handle)
	m.HandleFunc("GET /api/v1/history", qa.history)
	m.HandleFunc("GET /api/v1/entities/{source}", qa.entities)
	m.HandleFunc("GET /api/v1/metadata/{source}", qa.metadata)
	m.HandleFunc("GET /api/v1/health", qa.health)
	m.Handle("GET /metrics", promhttp.HandlerFor(met.Registry, promhttp.HandlerOpts{}))

	return withMiddleware(m, log.Named("http"))
}

func withMiddleware(next http.Handler, log *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		defer func() {
			if err := recover(); err != nil {
				log.Error("panic", zap.Any("err", err))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()

		// CORS for local dashboards
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
		log.Debug("request", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Duration("took", time.Since(start)))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
