// Package store persists extraction results in SQLite, keyed by a
// deterministic digest of the source URL. One row per distinct URL;
// re-submitting a URL overwrites in place.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/hyperifyio/webtapi/internal/extract"
)

// DefaultFreshness is the window during which a stored result is served
// back without re-fetching.
const DefaultFreshness = 24 * time.Hour

const schema = `
CREATE TABLE IF NOT EXISTS pages (
	key        TEXT PRIMARY KEY,
	source_url TEXT NOT NULL,
	payload    TEXT NOT NULL,
	stored_at  INTEGER NOT NULL
);
`

// Store owns the persisted records. Callers receive decoded copies, never
// references into the store. Safe for concurrent use; same-key writes are
// last-writer-wins via an atomic upsert.
type Store struct {
	db        *sql.DB
	freshness time.Duration

	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies schema
// migration before any read or write. A non-positive freshness selects
// DefaultFreshness.
func Open(path string, freshness time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %s: %w", pragma, err)
		}
	}
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	s := &Store{db: db, freshness: freshness, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the table for fresh databases and upgrades legacy layouts
// that predate the stored_at column. The upgrade is additive and idempotent:
// existing rows are backfilled with the current time so they age out
// normally instead of being served forever.
func (s *Store) migrate() error {
	rows, err := s.db.Query(`PRAGMA table_info(pages)`)
	if err != nil {
		return fmt.Errorf("table_info: %w", err)
	}
	cols := map[string]bool{}
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notnull    int
			dflt       sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &primaryKey); err != nil {
			rows.Close()
			return fmt.Errorf("scan table_info: %w", err)
		}
		cols[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if len(cols) > 0 && !cols["stored_at"] {
		log.Info().Msg("store: adding stored_at column to legacy pages table")
		if _, err := s.db.Exec(`ALTER TABLE pages ADD COLUMN stored_at INTEGER NOT NULL DEFAULT 0`); err != nil {
			return fmt.Errorf("add stored_at: %w", err)
		}
		if _, err := s.db.Exec(`UPDATE pages SET stored_at = ? WHERE stored_at = 0`, s.now().Unix()); err != nil {
			return fmt.Errorf("backfill stored_at: %w", err)
		}
	}

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Put upserts the result under the key derived from rawURL and returns that
// key. Overwrites replace payload and stored_at atomically.
func (s *Store) Put(ctx context.Context, rawURL string, res extract.Result) (string, error) {
	key := KeyFrom(rawURL)
	payload, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pages (key, source_url, payload, stored_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   source_url = excluded.source_url,
		   payload    = excluded.payload,
		   stored_at  = excluded.stored_at`,
		key, rawURL, string(payload), s.now().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("upsert page: %w", err)
	}
	return key, nil
}

// Get returns the stored result for key, or ok=false when no record exists
// or the record is older than the freshness window. Stale rows are left in
// place; the next Put with the same URL overwrites them.
func (s *Store) Get(ctx context.Context, key string) (*extract.Result, bool, error) {
	var (
		payload  string
		storedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, stored_at FROM pages WHERE key = ?`, key,
	).Scan(&payload, &storedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select page: %w", err)
	}
	if s.now().Sub(time.Unix(storedAt, 0)) > s.freshness {
		return nil, false, nil
	}
	var res extract.Result
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return nil, false, fmt.Errorf("decode payload: %w", err)
	}
	return &res, true, nil
}

// PruneExpired deletes rows older than the freshness window and reports how
// many were removed. The pipeline never calls this on its own; it exists as
// a maintenance hook since reads deliberately leave stale rows behind.
func (s *Store) PruneExpired(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.freshness).Unix()
	res, err := s.db.ExecContext(ctx, `DELETE FROM pages WHERE stored_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// KeyFrom derives the lookup key for a URL: the hex sha256 digest of its
// normalized form. The same URL always maps to the same key, which is what
// makes repeated submissions dedupe into one record. The flip side is that
// anyone who knows a source URL can derive its key; the key is a lookup
// handle, not a secret.
func KeyFrom(rawURL string) string {
	h := sha256.Sum256([]byte(NormalizeURL(rawURL)))
	return hex.EncodeToString(h[:])
}

// NormalizeURL canonicalizes a URL for key derivation: scheme and host are
// lowercased, default ports and fragments dropped. Unparseable input is
// normalized to its trimmed form so key derivation never fails.
func NormalizeURL(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return trimmed
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if (u.Scheme == "http" && strings.HasSuffix(u.Host, ":80")) ||
		(u.Scheme == "https" && strings.HasSuffix(u.Host, ":443")) {
		u.Host = u.Host[:strings.LastIndex(u.Host, ":")]
	}
	u.Fragment = ""
	return u.String()
}
