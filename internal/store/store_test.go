package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jaredglaser/homelab-manager-sub001/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mkSamples(n int, entity string) []model.Sample {
	now := time.Now().UnixMilli()
	out := make([]model.Sample, n)
	for i := range out {
		out[i] = model.Sample{
			Timestamp:  now,
			EntityPath: entity,
			Metric:     "cpu_percent",
			Value:      float64(i),
		}
	}
	return out
}

func TestInsertEmptyBatchIsNoOp(t *testing.T) {
	s := newTestStore(t)

	seq, err := s.InsertSamples(model.SourceContainers, nil)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if seq != 0 {
		t.Fatalf("empty batch: want seq 0, got %d", seq)
	}
	select {
	case c := <-s.Changes():
		t.Fatalf("empty batch must not signal, got %+v", c)
	default:
	}

	if max, _ := s.MaxSequence(model.SourceContainers); max != 0 {
		t.Fatalf("empty batch wrote rows: max seq %d", max)
	}
}

func TestInsertSignalsOncePerBatch(t *testing.T) {
	s := newTestStore(t)

	seq, err := s.InsertSamples(model.SourceContainers, mkSamples(5, "local/abc"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if seq != 5 {
		t.Fatalf("want batch max seq 5, got %d", seq)
	}

	select {
	case c := <-s.Changes():
		if c.Source != model.SourceContainers || c.MaxSeq != 5 {
			t.Fatalf("wrong signal: %+v", c)
		}
	default:
		t.Fatal("non-empty batch must emit exactly one signal")
	}
	select {
	case c := <-s.Changes():
		t.Fatalf("second signal for one batch: %+v", c)
	default:
	}
}

func TestSequenceMonotonicAcrossBatches(t *testing.T) {
	s := newTestStore(t)

	s1, err := s.InsertSamples(model.SourceContainers, mkSamples(3, "local/a"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	s2, err := s.InsertSamples(model.SourcePools, mkSamples(2, "nas1/tank"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	s3, err := s.InsertSamples(model.SourceContainers, mkSamples(1, "local/a"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !(s1 < s2 && s2 < s3) {
		t.Fatalf("sequence must grow across batches and sources: %d %d %d", s1, s2, s3)
	}

	// The per-source max only counts that source's rows.
	max, err := s.MaxSequence(model.SourcePools)
	if err != nil {
		t.Fatalf("max: %v", err)
	}
	if max != s2 {
		t.Fatalf("pool max: want %d, got %d", s2, max)
	}
}

func TestSamplesSinceOrderingAndExclusivity(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.InsertSamples(model.SourceContainers, mkSamples(10, "local/a")); err != nil {
		t.Fatalf("insert: %v", err)
	}

	rows, err := s.SamplesSince(model.SourceContainers, 5)
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("cursor 5 of 10: want 5 rows, got %d", len(rows))
	}
	for i, r := range rows {
		if want := int64(6 + i); r.Seq != want {
			t.Fatalf("row %d: want seq %d, got %d", i, want, r.Seq)
		}
	}

	// Cursor at max yields nothing.
	rows, err = s.SamplesSince(model.SourceContainers, 10)
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("cursor at max: want 0 rows, got %d", len(rows))
	}
}

func TestSamplesSinceIsPerSource(t *testing.T) {
	s := newTestStore(t)

	s.InsertSamples(model.SourceContainers, mkSamples(3, "local/a"))
	s.InsertSamples(model.SourcePools, mkSamples(3, "nas1/tank"))

	rows, err := s.SamplesSince(model.SourcePools, 0)
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("want 3 pool rows, got %d", len(rows))
	}
	for _, r := range rows {
		if r.Source != model.SourcePools {
			t.Fatalf("foreign source leaked into cursor read: %+v", r)
		}
	}
}

func TestMetadataUpsert(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertMetadata(model.SourceContainers, "local/abc", "name", "web"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertMetadata(model.SourceContainers, "local/abc", "name", "web-renamed"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertMetadata(model.SourceContainers, "local/abc", "image", "nginx:1.25"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	md, err := s.GetMetadata(model.SourceContainers)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(md) != 2 {
		t.Fatalf("want 2 attributes, got %d: %+v", len(md), md)
	}
	byKey := map[string]string{}
	for _, m := range md {
		byKey[m.Key] = m.Value
	}
	if byKey["name"] != "web-renamed" {
		t.Fatalf("upsert did not replace value: %q", byKey["name"])
	}
	if byKey["image"] != "nginx:1.25" {
		t.Fatalf("missing attribute: %+v", byKey)
	}
}

func TestPurgeOlderThan(t *testing.T) {
	s := newTestStore(t)

	old := []model.Sample{{
		Timestamp:  time.Now().Add(-48 * time.Hour).UnixMilli(),
		EntityPath: "local/a",
		Metric:     "cpu_percent",
		Value:      1,
	}}
	s.InsertSamples(model.SourceContainers, old)
	s.InsertSamples(model.SourceContainers, mkSamples(2, "local/a"))

	n, err := s.PurgeOlderThan(24)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("want 1 purged row, got %d", n)
	}
	rows, _ := s.SamplesSince(model.SourceContainers, 0)
	if len(rows) != 2 {
		t.Fatalf("recent rows must survive purge, got %d", len(rows))
	}
}

func TestSignalDropOldestNeverBlocks(t *testing.T) {
	s := newTestStore(t)

	// Overfill the unread channel; inserts must keep returning.
	for i := 0; i < changeBuffer+10; i++ {
		if _, err := s.InsertSamples(model.SourceHost, mkSamples(1, "host")); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	// The newest signal survives at the channel tail.
	var last model.Change
	drained := 0
	for {
		select {
		case c := <-s.Changes():
			last = c
			drained++
			continue
		default:
		}
		break
	}
	if drained != changeBuffer {
		t.Fatalf("want full buffer of %d signals, got %d", changeBuffer, drained)
	}
	max, _ := s.MaxSequence(model.SourceHost)
	if last.MaxSeq != max {
		t.Fatalf("newest signal must survive overflow: want %d, got %d", max, last.MaxSeq)
	}
}
