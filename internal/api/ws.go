package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/jaredglaser/homelab-manager-sub001/internal/model"
	"github.com/jaredglaser/homelab-manager-sub001/internal/notify"
	"github.com/jaredglaser/homelab-manager-sub001/internal/obs"
	"github.com/jaredglaser/homelab-manager-sub001/internal/store"
)

const pingInterval = 30 * time.Second

// sequenceReader is the slice of the store a cursor session needs.
type sequenceReader interface {
	MaxSequence(source string) (int64, error)
	SamplesSince(source string, seq int64) ([]model.Sample, error)
}

// changeSubscriber is the slice of the mux a session needs.
type changeSubscriber interface {
	Subscribe(source string, handler func(model.Change)) func()
}

type wsAPI struct {
	store  *store.Store
	mux    *notify.Mux
	caches *Caches
	met    *obs.Metrics
	log    *zap.Logger
}

// streamMessage is one JSON text frame on the subscriber transport.
type streamMessage struct {
	Type   string `json:"type"` // "snapshot" or "rows"
	Source string `json:"source"`
	Data   any    `json:"data"`
}

// handle upgrades the connection and runs the delivery mode matching
// the source's churn: containers replay rows by sequence cursor, the
// low-entity-count sources resend the cache snapshot.
func (a *wsAPI) handle(w http.ResponseWriter, r *http.Request) {
	source := r.PathValue("source")
	cursorMode := source == model.SourceContainers
	if !cursorMode && a.caches.View(source, nil) == nil {
		http.Error(w, "unknown source", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // allow any origin for local tool
	})
	if err != nil {
		a.log.Warn("accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	a.met.ActiveSessions.WithLabelValues(source).Inc()
	defer a.met.ActiveSessions.WithLabelValues(source).Dec()

	// Transport disconnect is the session's cancellation signal.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()
	go pingLoop(ctx, conn)

	send := func(msg streamMessage) error {
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		return conn.Write(ctx, websocket.MessageText, data)
	}

	if cursorMode {
		s := &cursorSession{
			source:  source,
			store:   a.store,
			mux:     a.mux,
			met:     a.met,
			log:     a.log,
			signals: make(chan struct{}, 1),
			send: func(rows []model.Sample) error {
				return send(streamMessage{Type: "rows", Source: source, Data: rows})
			},
		}
		s.run(ctx)
		return
	}

	runSnapshotSession(ctx, source, a.mux, func() error {
		return send(streamMessage{Type: "snapshot", Source: source, Data: a.caches.View(source, nil)})
	})
}

func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Ping(ctx); err != nil {
				return
			}
		}
	}
}

// runSnapshotSession sends the full cache view on connect and again on
// every change signal for the source. Signals arriving while a send is
// in progress collapse into one further send.
func runSnapshotSession(ctx context.Context, source string, mux changeSubscriber, send func() error) {
	kick := make(chan struct{}, 1)
	unsub := mux.Subscribe(source, func(model.Change) {
		select {
		case kick <- struct{}{}:
		default:
		}
	})
	defer unsub()

	if err := send(); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-kick:
			if err := send(); err != nil {
				return
			}
		}
	}
}

// cursorSession delivers every row exactly once in sequence order.
// The cursor starts at the source's current max, so only rows newer
// than connect time are ever sent.
type cursorSession struct {
	source  string
	store   sequenceReader
	mux     changeSubscriber
	met     *obs.Metrics
	log     *zap.Logger
	signals chan struct{} // cap 1: doubles as the pending flag
	send    func([]model.Sample) error
}

func (s *cursorSession) run(ctx context.Context) {
	cursor, err := s.store.MaxSequence(s.source)
	if err != nil {
		s.log.Warn("cursor init failed", zap.Error(err))
		return
	}

	unsub := s.mux.Subscribe(s.source, func(model.Change) {
		// Non-blocking: a signal during an in-flight catch-up sets the
		// pending flag instead of queueing a second query.
		select {
		case s.signals <- struct{}{}:
		default:
		}
	})
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.signals:
			ok := true
			cursor, ok = s.catchUp(ctx, cursor)
			if !ok {
				return
			}
		}
	}
}

// catchUp runs catch-up queries until no signal arrived during the
// last one. At most one query is ever in flight, and duplicate or
// bursty signals only cost extra empty reads, never missed rows.
func (s *cursorSession) catchUp(ctx context.Context, cursor int64) (int64, bool) {
	for {
		if ctx.Err() != nil {
			return cursor, false
		}
		if s.met != nil {
			s.met.CatchupQueries.WithLabelValues(s.source).Inc()
		}
		rows, err := s.store.SamplesSince(s.source, cursor)
		if err != nil {
			s.log.Warn("catch-up query failed", zap.Error(err))
			return cursor, false
		}
		if len(rows) > 0 {
			if err := s.send(rows); err != nil {
				return cursor, false
			}
			cursor = rows[len(rows)-1].Seq
		}

		select {
		case <-s.signals: // pending was set mid-query: go again
		default:
			return cursor, true
		}
	}
}
