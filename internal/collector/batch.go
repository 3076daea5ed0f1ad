package collector

import (
	"time"

	"github.com/jaredglaser/homelab-manager-sub001/internal/model"
)

// sampleWriter is the slice of the store the batcher needs.
type sampleWriter interface {
	InsertSamples(source string, samples []model.Sample) (int64, error)
}

// batcher accumulates samples and flushes them in one store write when
// the size threshold is reached. Time-based flushing is driven by the
// owning collect loop calling Flush on its ticker, so a quiet stream
// still persists what it has. A failed flush keeps nothing: the batch
// is either fully applied or fully discarded so a retry can never
// duplicate sequence assignment.
type batcher struct {
	store   sampleWriter
	source  string
	size    int
	pending []model.Sample
}

func newBatcher(store sampleWriter, source string, size int) *batcher {
	if size <= 0 {
		size = 1
	}
	return &batcher{store: store, source: source, size: size}
}

// Add buffers samples, flushing if the batch is full.
func (b *batcher) Add(samples ...model.Sample) error {
	b.pending = append(b.pending, samples...)
	if len(b.pending) >= b.size {
		return b.Flush()
	}
	return nil
}

// Flush writes the pending batch. No-op when empty.
func (b *batcher) Flush() error {
	if len(b.pending) == 0 {
		return nil
	}
	batch := b.pending
	b.pending = nil
	_, err := b.store.InsertSamples(b.source, batch)
	return err
}

// Len reports the buffered sample count.
func (b *batcher) Len() int { return len(b.pending) }

// writeThrottle decouples the sampling rate from the persisted rate:
// sources stream at native speed so rate math stays accurate, but each
// entity is written at most once per interval.
type writeThrottle struct {
	interval time.Duration
	last     map[string]time.Time
}

func newWriteThrottle(interval time.Duration) *writeThrottle {
	return &writeThrottle{interval: interval, last: make(map[string]time.Time)}
}

// ShouldWrite reports whether this entity is due for persistence and,
// if so, marks it written at now.
func (t *writeThrottle) ShouldWrite(entity string, now time.Time) bool {
	if last, ok := t.last[entity]; ok && now.Sub(last) < t.interval {
		return false
	}
	t.last[entity] = now
	return true
}

// Forget drops throttle state for an entity that disappeared.
func (t *writeThrottle) Forget(entity string) {
	delete(t.last, entity)
}
