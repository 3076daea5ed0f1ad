package statscache

import (
	"testing"
	"time"
)

// fakeClock drives the cache's time without sleeping.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache(t *testing.T) (*Cache[int], *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)}
	c := New[int]()
	c.now = clk.now
	return c, clk
}

func TestUpdateKeepsPresentEntitiesFresh(t *testing.T) {
	c, clk := newTestCache(t)

	c.Update(map[string]int{"a": 1, "b": 2})
	clk.advance(time.Minute)
	c.Update(map[string]int{"a": 3, "b": 4})

	all := c.GetAll()
	if len(all) != 2 {
		t.Fatalf("want 2 entries, got %d", len(all))
	}
	for id, e := range all {
		if e.Stale {
			t.Errorf("%s: entity present in every snapshot must stay fresh", id)
		}
	}
	if all["a"].Value != 3 {
		t.Errorf("value not refreshed: got %d", all["a"].Value)
	}
}

func TestAbsenceLadder(t *testing.T) {
	c, clk := newTestCache(t)

	c.Update(map[string]int{"gone": 1, "kept": 1})

	// Within grace: still fresh.
	clk.advance(5 * time.Second)
	c.Update(map[string]int{"kept": 2})
	if e, ok := c.GetAll()["gone"]; !ok || e.Stale {
		t.Fatalf("absent 5s: want fresh entry, got ok=%v stale=%v", ok, e.Stale)
	}

	// Past grace: flagged stale but still served.
	clk.advance(11 * time.Second) // absent 16s total
	c.Update(map[string]int{"kept": 3})
	if e, ok := c.GetAll()["gone"]; !ok || !e.Stale {
		t.Fatalf("absent 16s: want stale entry, got ok=%v stale=%v", ok, e.Stale)
	}

	// Past expiry: dropped.
	clk.advance(285 * time.Second) // absent 301s total
	c.Update(map[string]int{"kept": 4})
	if _, ok := c.GetAll()["gone"]; ok {
		t.Fatal("absent 301s: entry must be expired")
	}
	if c.Len() != 1 {
		t.Fatalf("want 1 entry left, got %d", c.Len())
	}
}

func TestReappearanceClearsStale(t *testing.T) {
	c, clk := newTestCache(t)

	c.Update(map[string]int{"x": 1})
	clk.advance(20 * time.Second)
	c.Update(map[string]int{})
	if !c.GetAll()["x"].Stale {
		t.Fatal("setup: entry should be stale")
	}

	c.Update(map[string]int{"x": 2})
	if e := c.GetAll()["x"]; e.Stale || e.Value != 2 {
		t.Fatalf("reappeared entity must be fresh with new value, got %+v", e)
	}
}

func TestUpdateScopedLeavesOtherScopesAlone(t *testing.T) {
	c, clk := newTestCache(t)

	c.Update(map[string]int{"nas1/tank": 1, "nas2/backup": 1})

	// nas1 keeps reporting for six minutes; nas2 never appears in its
	// snapshots and must not be touched by them.
	for i := 0; i < 12; i++ {
		clk.advance(30 * time.Second)
		c.UpdateScoped("nas1", map[string]int{"nas1/tank": i})
	}

	all := c.GetAll()
	if _, ok := all["nas2/backup"]; !ok {
		t.Fatal("scoped update must not expire entities outside its scope")
	}
	if all["nas2/backup"].Stale {
		t.Fatal("scoped update must not stale entities outside its scope")
	}
}

func TestGetFiltersUnknownIDs(t *testing.T) {
	c, _ := newTestCache(t)
	c.Update(map[string]int{"a": 1, "b": 2})

	got := c.Get([]string{"a", "nope"})
	if len(got) != 1 {
		t.Fatalf("want 1 entry, got %d", len(got))
	}
	if got["a"].Value != 1 {
		t.Fatalf("wrong value: %+v", got["a"])
	}
}

func TestSourceStaleness(t *testing.T) {
	c, clk := newTestCache(t)

	if !c.Stale() {
		t.Fatal("cache with no updates yet must read stale")
	}

	c.Update(map[string]int{"a": 1})
	if c.Stale() {
		t.Fatal("just-updated cache must read fresh")
	}

	clk.advance(31 * time.Second)
	if !c.Stale() {
		t.Fatal("cache idle past the staleness window must read stale")
	}
}
