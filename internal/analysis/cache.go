package analysis

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store caches estimates by source id in sqlite.
type Store struct {
	db *sql.DB
}

// OpenStore opens or creates the cache database at path. ":memory:" keeps
// it in memory.
func OpenStore(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS track_analysis (
		source_id TEXT PRIMARY KEY,
		bpm REAL,
		confidence REAL NOT NULL,
		candidates TEXT NOT NULL,
		key TEXT NOT NULL,
		key_name TEXT,
		key_confidence REAL NOT NULL,
		analyzed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_analyzed_at ON track_analysis(analyzed_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores est for sourceID, replacing any earlier result.
func (s *Store) Put(sourceID string, est TempoKeyEstimate) error {
	cands, err := json.Marshal(est.Candidates)
	if err != nil {
		return err
	}
	var keyName sql.NullString
	if est.KeyName != "" {
		keyName = sql.NullString{String: est.KeyName, Valid: true}
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO track_analysis
		(source_id, bpm, confidence, candidates, key, key_name, key_confidence, analyzed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sourceID, est.BPM, est.Confidence, string(cands), est.Key, keyName, est.KeyConfidence, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save analysis for %s: %w", sourceID, err)
	}
	return nil
}

// Get returns the cached estimate for sourceID or ErrNotFound.
func (s *Store) Get(sourceID string) (TempoKeyEstimate, error) {
	var (
		est     TempoKeyEstimate
		bpm     sql.NullFloat64
		cands   string
		keyName sql.NullString
	)
	row := s.db.QueryRow(`SELECT bpm, confidence, candidates, key, key_name, key_confidence
		FROM track_analysis WHERE source_id = ?`, sourceID)
	err := row.Scan(&bpm, &est.Confidence, &cands, &est.Key, &keyName, &est.KeyConfidence)
	if errors.Is(err, sql.ErrNoRows) {
		return TempoKeyEstimate{}, fmt.Errorf("%w: %s", ErrNotFound, sourceID)
	}
	if err != nil {
		return TempoKeyEstimate{}, fmt.Errorf("failed to read analysis for %s: %w", sourceID, err)
	}
	if bpm.Valid {
		v := bpm.Float64
		est.BPM = &v
	}
	est.KeyName = keyName.String
	if err := json.Unmarshal([]byte(cands), &est.Candidates); err != nil {
		return TempoKeyEstimate{}, fmt.Errorf("corrupt candidates for %s: %w", sourceID, err)
	}
	return est, nil
}
