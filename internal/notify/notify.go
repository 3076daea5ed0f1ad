// Package notify fans a single upstream stream of store change signals
// out to any number of in-process subscribers.
package notify

import (
	"sync"

	"github.com/juju/pubsub/v2"
	"go.uber.org/zap"

	"github.com/jaredglaser/homelab-manager-sub001/internal/model"
)

// topic returns the hub topic for one source's change signals.
func topic(source string) string { return "changes." + source }

// Mux owns the one listener draining the store's change channel and
// republishes every signal to subscribed handlers. It holds no
// business state: pure fan-out plus lifecycle.
type Mux struct {
	hub *pubsub.SimpleHub
	log *zap.Logger

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	started bool
}

// NewMux creates a multiplexer over the given change stream. Exactly
// one Mux exists per process; construction-site discipline, not a
// package global, enforces that.
func NewMux(log *zap.Logger) *Mux {
	return &Mux{
		hub: pubsub.NewSimpleHub(nil),
		log: log,
	}
}

// Start begins draining changes. Idempotent: a second Start while
// running is a no-op.
func (m *Mux) Start(changes <-chan model.Change) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.listen(changes, m.stop, m.done)
}

// Stop halts the upstream listener. Safe to call multiple times.
// Subscribers stay registered; a later Start resumes delivery.
func (m *Mux) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	m.started = false
	close(m.stop)
	<-m.done
}

func (m *Mux) listen(changes <-chan model.Change, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case c, ok := <-changes:
			if !ok {
				m.log.Info("change stream closed")
				return
			}
			m.hub.Publish(topic(c.Source), c)
		}
	}
}

// Subscribe registers a handler for one source's change signals and
// returns its unsubscribe func. Unsubscribing never affects other
// handlers.
func (m *Mux) Subscribe(source string, handler func(model.Change)) func() {
	return m.hub.Subscribe(topic(source), func(_ string, data interface{}) {
		if c, ok := data.(model.Change); ok {
			handler(c)
		}
	})
}
