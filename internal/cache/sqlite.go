package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "github.com/mattn/go-sqlite3"
)

// diskStore is the persistence tier: one row per key with either a
// zstd-compressed JSON payload or a recorded failure, never both.
type diskStore struct {
	db *sql.DB
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS snapshots (
	content_id    TEXT NOT NULL,
	language      TEXT NOT NULL,
	rules_version TEXT NOT NULL,
	payload       BLOB,
	failure       TEXT,
	created_at    INTEGER NOT NULL,
	PRIMARY KEY (content_id, language, rules_version),
	CHECK ((payload IS NULL) != (failure IS NULL))
);
`

var (
	zstdEnc, _ = zstd.NewWriter(nil)
	zstdDec, _ = zstd.NewReader(nil)
)

func openDiskStore(dir string) (*diskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	dbPath := filepath.Join(dir, "weft.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening cache db: %w", err)
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing cache schema: %w", err)
	}
	return &diskStore{db: db}, nil
}

// get loads a snapshot. Unreadable or corrupt rows are dropped and reported
// as a miss, which makes a damaged cache behave like a cold one.
func (s *diskStore) get(ctx context.Context, key Key) (*Snapshot, bool) {
	var payload []byte
	var failure sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, failure FROM snapshots WHERE content_id = ? AND language = ? AND rules_version = ?`,
		string(key.ContentID), key.Language, key.RulesVersion,
	).Scan(&payload, &failure)
	if err != nil {
		return nil, false
	}
	if failure.Valid {
		return &Snapshot{Failure: failure.String}, true
	}
	snap, err := decodeSnapshot(payload)
	if err != nil {
		s.drop(ctx, key)
		return nil, false
	}
	return snap, true
}

func (s *diskStore) put(ctx context.Context, key Key, snap *Snapshot) error {
	var payload any
	var failure any
	if snap.Failure != "" {
		failure = snap.Failure
	} else {
		b, err := encodeSnapshot(snap)
		if err != nil {
			return err
		}
		payload = b
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO snapshots (content_id, language, rules_version, payload, failure, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(key.ContentID), key.Language, key.RulesVersion, payload, failure, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("persisting snapshot: %w", err)
	}
	return nil
}

func (s *diskStore) drop(ctx context.Context, key Key) {
	_, _ = s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE content_id = ? AND language = ? AND rules_version = ?`,
		string(key.ContentID), key.Language, key.RulesVersion,
	)
}

func (s *diskStore) clean(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots`); err != nil {
		return fmt.Errorf("cleaning cache: %w", err)
	}
	return nil
}

func (s *diskStore) close() error {
	return s.db.Close()
}

func encodeSnapshot(snap *Snapshot) ([]byte, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return zstdEnc.EncodeAll(raw, nil), nil
}

func decodeSnapshot(payload []byte) (*Snapshot, error) {
	raw, err := zstdDec.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &snap, nil
}
