package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jaredglaser/homelab-manager-sub001/internal/model"
	_ "modernc.org/sqlite"
)

// changeBuffer bounds the change channel. Signals are delivered
// at-least-once; if the buffer fills the oldest signal is dropped,
// which is safe because every consumer re-reads from its own cursor.
const changeBuffer = 256

// Store provides database operations. All writes go through the single
// sqlite connection, which makes each batch insert all-or-nothing.
type Store struct {
	db      *sql.DB
	dbPath  string
	changes chan model.Change
}

// New opens (or creates) the SQLite database and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite single-writer
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return &Store{
		db:      db,
		dbPath:  dbPath,
		changes: make(chan model.Change, changeBuffer),
	}, nil
}

// DBPath returns the database file path.
func (s *Store) DBPath() string { return s.dbPath }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Changes returns the channel on which one signal is emitted per
// non-empty batch insert. The notification multiplexer is the single
// consumer.
func (s *Store) Changes() <-chan model.Change { return s.changes }

// InsertSamples batch-inserts rows for one source in a single
// transaction and returns the sequence assigned to the last row.
// Rows are inserted in call order, so the last sequence is the batch
// maximum. An empty batch writes nothing and signals nothing.
func (s *Store) InsertSamples(source string, samples []model.Sample) (int64, error) {
	if len(samples) == 0 {
		return 0, nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	stmt, err := tx.Prepare("INSERT INTO samples (timestamp, source, entity_path, metric, value) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	defer stmt.Close()

	var maxSeq int64
	for _, m := range samples {
		res, err := stmt.Exec(m.Timestamp, source, m.EntityPath, m.Metric, m.Value)
		if err != nil {
			tx.Rollback()
			return 0, err
		}
		if maxSeq, err = res.LastInsertId(); err != nil {
			tx.Rollback()
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	s.signal(model.Change{Source: source, MaxSeq: maxSeq})
	return maxSeq, nil
}

// signal enqueues a change without ever blocking the write path.
func (s *Store) signal(c model.Change) {
	for {
		select {
		case s.changes <- c:
			return
		default:
			// Full: evict the oldest signal to make room.
			select {
			case <-s.changes:
			default:
			}
		}
	}
}

// UpsertMetadata writes one entity attribute.
func (s *Store) UpsertMetadata(source, entityPath, key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO entity_metadata (source, entity_path, key, value, updated) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source, entity_path, key) DO UPDATE SET value = excluded.value, updated = excluded.updated`,
		source, entityPath, key, value, time.Now().UnixMilli())
	return err
}

// GetMetadata returns all attributes for one source.
func (s *Store) GetMetadata(source string) ([]model.Metadata, error) {
	rows, err := s.db.Query("SELECT source, entity_path, key, value FROM entity_metadata WHERE source = ? ORDER BY entity_path, key", source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []model.Metadata
	for rows.Next() {
		var m model.Metadata
		if err := rows.Scan(&m.Source, &m.EntityPath, &m.Key, &m.Value); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// MaxSequence returns the highest sequence assigned to a source, or 0
// when the source has no rows yet.
func (s *Store) MaxSequence(source string) (int64, error) {
	var seq int64
	err := s.db.QueryRow("SELECT COALESCE(MAX(seq), 0) FROM samples WHERE source = ?", source).Scan(&seq)
	return seq, err
}

// SamplesSince returns rows newer than seq for one source, in
// ascending sequence order. This is the catch-up query used by
// sequence-cursor sessions.
func (s *Store) SamplesSince(source string, seq int64) ([]model.Sample, error) {
	rows, err := s.db.Query(`
		SELECT seq, timestamp, source, entity_path, metric, value
		FROM samples
		WHERE source = ? AND seq > ?
		ORDER BY seq`,
		source, seq)
	if err != nil {
		return nil, err
	}
	return scanSamples(rows)
}

// SamplesInWindow returns the trailing time window of rows for one
// source, ordered by sequence.
func (s *Store) SamplesInWindow(source string, seconds int) ([]model.Sample, error) {
	cutoff := time.Now().UnixMilli() - int64(seconds)*1000
	rows, err := s.db.Query(`
		SELECT seq, timestamp, source, entity_path, metric, value
		FROM samples
		WHERE source = ? AND timestamp >= ?
		ORDER BY seq`,
		source, cutoff)
	if err != nil {
		return nil, err
	}
	return scanSamples(rows)
}

func scanSamples(rows *sql.Rows) ([]model.Sample, error) {
	defer rows.Close()
	var result []model.Sample
	for rows.Next() {
		var m model.Sample
		if err := rows.Scan(&m.Seq, &m.Timestamp, &m.Source, &m.EntityPath, &m.Metric, &m.Value); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// PurgeOlderThan removes samples older than the given retention.
func (s *Store) PurgeOlderThan(hours int) (int64, error) {
	cutoff := time.Now().UnixMilli() - int64(hours)*3600*1000
	res, err := s.db.Exec("DELETE FROM samples WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
