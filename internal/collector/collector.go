// Package collector owns the per-source collection lifecycle: connect,
// stream, batch, back off, drain.
package collector

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Source is one concrete sample producer. CollectOnce must connect,
// stream until the stream ends naturally or ctx is cancelled, and
// flush anything it buffered before returning. A nil return means the
// stream ended gracefully; a cancellation-caused return must surface
// ctx.Err().
type Source interface {
	Name() string
	Configured() bool
	CollectOnce(ctx context.Context) error
}

const (
	configRecheckDelay = 1 * time.Second
	reconnectDelay     = 1 * time.Second
	backoffBase        = 500 * time.Millisecond
	backoffCap         = 30 * time.Second
	backoffMaxExp      = 5
)

// backoff returns the sleep before retry n (n >= 1):
// min(base * 2^min(n, 5), cap).
func backoff(n int) time.Duration {
	exp := n
	if exp > backoffMaxExp {
		exp = backoffMaxExp
	}
	d := backoffBase << uint(exp)
	if d > backoffCap {
		d = backoffCap
	}
	return d
}

// Runner drives one Source forever until ctx fires. Exactly one
// Runner is authoritative for a given source/host at a time.
type Runner struct {
	src Source
	log *zap.Logger
}

func NewRunner(src Source, log *zap.Logger) *Runner {
	return &Runner{src: src, log: log.Named(src.Name())}
}

// Run loops until cancellation. Persistent failure never busy-loops,
// transient failure recovers fast, and a graceful stream end resets
// the error counter.
func (r *Runner) Run(ctx context.Context) {
	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if !r.src.Configured() {
			if !sleep(ctx, configRecheckDelay) {
				return
			}
			continue
		}

		err := r.src.CollectOnce(ctx)
		if ctx.Err() != nil {
			// The source already drained its buffered batch.
			return
		}
		if err == nil || errors.Is(err, context.Canceled) {
			failures = 0
			if !sleep(ctx, reconnectDelay) {
				return
			}
			continue
		}

		failures++
		d := backoff(failures)
		r.log.Warn("collect failed", zap.Int("attempt", failures), zap.Duration("backoff", d), zap.Error(err))
		if !sleep(ctx, d) {
			return
		}
	}
}

// sleep waits d or until cancellation, reporting false on cancel.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
