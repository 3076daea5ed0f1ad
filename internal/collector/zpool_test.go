package collector

import (
	"testing"
)

const zpoolListOutput = "tank\t1000\t250\t750\tONLINE\n" +
	"backup\t2000\t1800\t200\tDEGRADED\n" +
	"garbage line\n" +
	"badnum\tx\t1\t2\tONLINE\n"

func TestParseZpoolList(t *testing.T) {
	pools := parseZpoolList([]byte(zpoolListOutput))
	if len(pools) != 2 {
		t.Fatalf("want 2 pools, got %d: %v", len(pools), pools)
	}

	tank := pools["tank"]
	if tank.size != 1000 || tank.alloc != 250 || tank.free != 750 || tank.health != "ONLINE" {
		t.Fatalf("tank parsed wrong: %+v", tank)
	}
	if pools["backup"].health != "DEGRADED" {
		t.Fatalf("backup parsed wrong: %+v", pools["backup"])
	}
}

// Scripted iostat loses indentation; hierarchy is rebuilt from the
// known pool names and the vdev name prefixes.
const zpoolIostatOutput = "tank\t250\t750\t10\t20\t1000\t2000\n" +
	"mirror-0\t-\t-\t5\t10\t500\t1000\n" +
	"sda\t-\t-\t2\t5\t250\t500\n" +
	"sdb\t-\t-\t3\t5\t250\t500\n" +
	"backup\t1800\t200\t1\t2\t3\t4\n" +
	"sdc\t-\t-\t1\t2\t3\t4\n"

func TestParseZpoolIostatHierarchy(t *testing.T) {
	pools := parseZpoolList([]byte(zpoolListOutput))
	rows := parseZpoolIostat([]byte(zpoolIostatOutput), pools)

	want := []string{
		"tank",
		"tank/mirror-0",
		"tank/mirror-0/sda",
		"tank/mirror-0/sdb",
		"backup",
		"backup/sdc",
	}
	if len(rows) != len(want) {
		t.Fatalf("want %d rows, got %d: %+v", len(want), len(rows), rows)
	}
	for i, w := range want {
		if rows[i].path != w {
			t.Errorf("row %d: want path %q, got %q", i, w, rows[i].path)
		}
	}

	if c := rows[0].counters; c.Alloc != 250 || c.ReadOps != 10 || c.WriteBytes != 2000 {
		t.Fatalf("tank counters wrong: %+v", c)
	}
	// "-" alloc/free on vdev rows parse as zero, not as a skip.
	if c := rows[1].counters; c.Alloc != 0 || c.ReadOps != 5 {
		t.Fatalf("vdev counters wrong: %+v", c)
	}
}

func TestParseZpoolIostatIgnoresRowsBeforeAnyPool(t *testing.T) {
	pools := parseZpoolList([]byte(zpoolListOutput))
	out := "sdz\t-\t-\t1\t1\t1\t1\n" + // orphan disk: no pool opened yet
		"tank\t250\t750\t10\t20\t1000\t2000\n"
	rows := parseZpoolIostat([]byte(out), pools)
	if len(rows) != 1 || rows[0].path != "tank" {
		t.Fatalf("orphan rows must be skipped, got %+v", rows)
	}
}

func TestIsVdevName(t *testing.T) {
	for _, name := range []string{"mirror-0", "raidz2-1", "draid1-0", "special", "log", "cache", "spare-0"} {
		if !isVdevName(name) {
			t.Errorf("%s must be a vdev name", name)
		}
	}
	for _, name := range []string{"sda", "nvme0n1", "ata-WDC_WD40"} {
		if isVdevName(name) {
			t.Errorf("%s must not be a vdev name", name)
		}
	}
}
