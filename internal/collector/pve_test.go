package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/jaredglaser/homelab-manager-sub001/internal/config"
	"github.com/jaredglaser/homelab-manager-sub001/internal/model"
	"github.com/jaredglaser/homelab-manager-sub001/internal/obs"
	"github.com/jaredglaser/homelab-manager-sub001/internal/statscache"
)

const clusterResourcesBody = `{"data":[
	{"id":"qemu/100","type":"qemu","vmid":100,"node":"pve1","name":"web","status":"running",
	 "cpu":0.25,"mem":1073741824,"maxmem":4294967296,"netin":1000,"netout":2000,
	 "diskread":3000,"diskwrite":4000,"uptime":86400,"tags":"prod"},
	{"id":"lxc/101","type":"lxc","vmid":101,"node":"pve2","name":"cache","status":"running",
	 "cpu":0.1,"mem":268435456,"maxmem":1073741824},
	{"id":"node/pve1","type":"node","node":"pve1"},
	{"id":"broken","vmid":"not-a-number"}
]}`

func newTestPVESource(t *testing.T, baseURL string) *PVESource {
	t.Helper()
	cfg := config.PVEConfig{BaseURL: baseURL, TokenID: "monitor@pam!token", Secret: "s3cret"}
	return NewPVESource(cfg, nil, statscache.New[model.VMStat](), obs.New(), zap.NewNop())
}

func TestFetchResources(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		w.Write([]byte(clusterResourcesBody))
	}))
	defer srv.Close()

	s := newTestPVESource(t, srv.URL+"/") // trailing slash is tolerated
	resources, err := s.fetchResources(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if gotAuth != "PVEAPIToken=monitor@pam!token=s3cret" {
		t.Fatalf("wrong auth header: %q", gotAuth)
	}
	if gotPath != "/api2/json/cluster/resources?type=vm" {
		t.Fatalf("wrong request path: %q", gotPath)
	}

	// Guests, nodes and storages come back; the malformed record is
	// dropped without failing the snapshot.
	if len(resources) != 3 {
		t.Fatalf("want 3 resources, got %d: %+v", len(resources), resources)
	}
	vm := resources[0]
	if vm.Type != "qemu" || vm.VMID != 100 || vm.Node != "pve1" || vm.CPU != 0.25 {
		t.Fatalf("guest parsed wrong: %+v", vm)
	}
	if vm.Tags != "prod" || vm.Uptime != 86400 {
		t.Fatalf("guest parsed wrong: %+v", vm)
	}
}

func TestFetchResourcesErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "auth failed", http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := newTestPVESource(t, srv.URL)
	if _, err := s.fetchResources(context.Background()); err == nil {
		t.Fatal("want error on non-200 status")
	}
}

func TestPVEConfigured(t *testing.T) {
	s := newTestPVESource(t, "https://pve.lan:8006")
	if !s.Configured() {
		t.Fatal("complete credentials must read configured")
	}
	s.cfg.Secret = ""
	if s.Configured() {
		t.Fatal("missing secret must read unconfigured")
	}
}
