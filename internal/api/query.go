package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/jaredglaser/homelab-manager-sub001/internal/store"
)

type queryAPI struct {
	store  *store.Store
	caches *Caches
}

// history serves a trailing time window of persisted rows for charts.
func (a *queryAPI) history(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "source parameter required"})
		return
	}

	seconds := 3600 // default: last hour
	if v := r.URL.Query().Get("seconds"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid seconds"})
			return
		}
		seconds = n
	}

	samples, err := a.store.SamplesInWindow(source, seconds)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, samples)
}

// entities serves the stats-cache read surface: current merged view,
// optional id filter, and the source staleness flag.
func (a *queryAPI) entities(w http.ResponseWriter, r *http.Request) {
	source := r.PathValue("source")

	var ids []string
	if v := r.URL.Query().Get("ids"); v != "" {
		ids = strings.Split(v, ",")
	}

	view := a.caches.View(source, ids)
	if view == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown source"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source":   source,
		"stale":    a.caches.Stale(source),
		"entities": view,
	})
}

func (a *queryAPI) metadata(w http.ResponseWriter, r *http.Request) {
	source := r.PathValue("source")
	md, err := a.store.GetMetadata(source)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, md)
}

func (a *queryAPI) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
