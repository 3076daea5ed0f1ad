package collector

import (
	"testing"

	"github.com/docker/docker/api/types"
)

func TestCountersFromStats(t *testing.T) {
	var sj types.StatsJSON
	sj.CPUStats.CPUUsage.TotalUsage = 5e9
	sj.CPUStats.SystemUsage = 100e9
	sj.CPUStats.OnlineCPUs = 8
	sj.MemoryStats.Usage = 1 << 30
	sj.MemoryStats.Limit = 4 << 30
	sj.Networks = map[string]types.NetworkStats{
		"eth0": {RxBytes: 1000, TxBytes: 500},
		"eth1": {RxBytes: 200, TxBytes: 100},
	}
	sj.BlkioStats.IoServiceBytesRecursive = []types.BlkioStatEntry{
		{Op: "Read", Value: 4096},
		{Op: "Write", Value: 8192},
		{Op: "read", Value: 1000},
		{Op: "Total", Value: 999999}, // ignored
	}

	c := countersFromStats(&sj)
	if c.CPUTotal != 5e9 || c.CPUSystem != 100e9 || c.OnlineCPUs != 8 {
		t.Fatalf("cpu counters wrong: %+v", c)
	}
	if c.MemUsage != 1<<30 || c.MemLimit != 4<<30 {
		t.Fatalf("mem counters wrong: %+v", c)
	}
	// Interfaces sum.
	if c.NetRxBytes != 1200 || c.NetTxBytes != 600 {
		t.Fatalf("net counters wrong: %+v", c)
	}
	// Read entries sum case-insensitively; Total is not a direction.
	if c.BlkReadByt != 5096 || c.BlkWriteByt != 8192 {
		t.Fatalf("blkio counters wrong: %+v", c)
	}
}

func TestHostLabel(t *testing.T) {
	cases := []struct {
		endpoint string
		want     string
	}{
		{"unix:///var/run/docker.sock", "local"},
		{"tcp://pantry:2375", "pantry"},
		{"tcp://192.168.1.40:2376", "192.168.1.40"},
		{"", "local"},
	}
	for _, c := range cases {
		if got := hostLabel(c.endpoint); got != c.want {
			t.Errorf("hostLabel(%q): want %q, got %q", c.endpoint, c.want, got)
		}
	}
}

func TestShortID(t *testing.T) {
	full := "3f2a9c1d8e7b6a5f4e3d2c1b0a9f8e7d6c5b4a3f2e1d0c9b8a7f6e5d4c3b2a1f"
	if got := shortID(full); got != "3f2a9c1d8e7b" {
		t.Fatalf("want 12-char prefix, got %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Fatalf("short ids pass through, got %q", got)
	}
}
