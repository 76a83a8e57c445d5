// Package sqlite implements the windowed bar cache on SQLite.
// The database runs in WAL mode so readers stay concurrent with the
// single writer, and synchronous=NORMAL relaxes durability: the cache
// is a derived artifact, reconstructible from the source file.
package sqlite

import (
	"database/sql"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"
)

const defaultChunkRows = 2000

// Config configures the SQLite cache.
type Config struct {
	Path      string // database file, e.g. "data/bars.db"
	ChunkRows int    // rows per transaction chunk during ingest
}

// Store is the SQLite-backed bar cache. Writes are serialized on a
// dedicated single-connection handle; reads use their own pool.
type Store struct {
	readDB    *sql.DB
	writeDB   *sql.DB
	chunkRows int
}

// New opens (creating if needed) the cache database and its schema.
func New(cfg Config) (*Store, error) {
	dsn := cfg.Path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"

	writeDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// single-writer: one connection owns all transactions
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)

	if err := createSchema(writeDB); err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	readDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("sqlite open read pool: %w", err)
	}

	chunk := cfg.ChunkRows
	if chunk <= 0 {
		chunk = defaultChunkRows
	}

	log.Printf("[sqlite] opened cache at %s (chunk=%d rows)", cfg.Path, chunk)
	return &Store{readDB: readDB, writeDB: writeDB, chunkRows: chunk}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol TEXT    NOT NULL,
			tf     TEXT    NOT NULL,
			ts     INTEGER NOT NULL,
			open   REAL    NOT NULL,
			high   REAL    NOT NULL,
			low    REAL    NOT NULL,
			close  REAL    NOT NULL,
			volume REAL,
			PRIMARY KEY (symbol, tf, ts)
		);

		CREATE INDEX IF NOT EXISTS idx_bars_key_ts ON bars (symbol, tf, ts DESC);
	`)
	return err
}

// DB returns the read handle for health checks.
func (s *Store) DB() *sql.DB { return s.readDB }

// Close closes both database handles.
func (s *Store) Close() error {
	rerr := s.readDB.Close()
	werr := s.writeDB.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
