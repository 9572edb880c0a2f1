package tracker

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// AnnounceEvent is one recorded announce, independent of whether a sink
// persists it anywhere.
type AnnounceEvent struct {
	InfoHash string
	PeerID   string
	IP       string
	Port     uint16
	Event    string
	At       time.Time
}

// AnnounceSink receives one event per announce. Implementations must
// not block the announce path for long; PostgresSink writes are a
// single prepared-statement insert.
type AnnounceSink interface {
	Record(AnnounceEvent)
}

// noopSink is the default AnnounceSink: it discards every event.
type noopSink struct{}

func (noopSink) Record(AnnounceEvent) {}

// PostgresSink persists every announce to a Postgres table for audit,
// via database/sql and the lib/pq driver.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink opens a connection to dsn and ensures the announce_log
// table exists.
func NewPostgresSink(dsn string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("tracker: open postgres sink: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("tracker: ping postgres sink: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS announce_log (
	id BIGSERIAL PRIMARY KEY,
	info_hash TEXT NOT NULL,
	peer_id TEXT NOT NULL,
	ip TEXT NOT NULL,
	port INTEGER NOT NULL,
	event TEXT NOT NULL,
	announced_at TIMESTAMPTZ NOT NULL
)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("tracker: create announce_log: %w", err)
	}
	return &PostgresSink{db: db}, nil
}

// Close closes the underlying database connection.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}

// Record inserts ev into announce_log. Insert errors are discarded and
// not logged, so the announce path does not fail when the audit log is
// unavailable.
func (s *PostgresSink) Record(ev AnnounceEvent) {
	const insert = `
INSERT INTO announce_log (info_hash, peer_id, ip, port, event, announced_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	_, _ = s.db.Exec(insert, ev.InfoHash, ev.PeerID, ev.IP, ev.Port, ev.Event, ev.At)
}
