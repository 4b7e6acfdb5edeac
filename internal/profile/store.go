package profile

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store is an SQLite-backed profile cache layered over a Source. Cached
// entries serve roster lookups even when the directory endpoint is down —
// the name shown for a known contact should not depend on network health.
type Store struct {
	db  *sql.DB
	src Source
	ttl time.Duration
}

// OpenStore opens (or creates) the profile cache in dir.
func OpenStore(dir string, src Source, ttl time.Duration) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("profile: create cache dir: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, "profiles.db"))
	if err != nil {
		return nil, fmt.Errorf("profile: open cache: %w", err)
	}

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
		CREATE TABLE IF NOT EXISTS profiles (
			id           TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			avatar_url   TEXT NOT NULL DEFAULT '',
			fetched_at   INTEGER NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("profile: init cache schema: %w", err)
	}

	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{db: db, src: src, ttl: ttl}, nil
}

// Lookup returns the cached profile when fresh, otherwise asks the source
// and caches the answer. A failed refresh falls back to any stale cached
// row before giving up.
func (s *Store) Lookup(ctx context.Context, participantID string) (Profile, error) {
	cached, fetchedAt, found := s.get(participantID)
	if found && time.Since(fetchedAt) < s.ttl {
		return cached, nil
	}

	p, err := s.src.Lookup(ctx, participantID)
	if err != nil {
		if found {
			log.Debugf("serving stale profile for %s: %v", participantID, err)
			return cached, nil
		}
		return Profile{}, err
	}

	s.put(participantID, p)
	return p, nil
}

func (s *Store) get(id string) (Profile, time.Time, bool) {
	var p Profile
	var ts int64
	err := s.db.QueryRow(
		`SELECT display_name, avatar_url, fetched_at FROM profiles WHERE id = ?`, id,
	).Scan(&p.DisplayName, &p.AvatarURL, &ts)
	if err != nil {
		return Profile{}, time.Time{}, false
	}
	return p, time.UnixMilli(ts), true
}

func (s *Store) put(id string, p Profile) {
	_, err := s.db.Exec(
		`INSERT INTO profiles (id, display_name, avatar_url, fetched_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   display_name = excluded.display_name,
		   avatar_url   = excluded.avatar_url,
		   fetched_at   = excluded.fetched_at`,
		id, p.DisplayName, p.AvatarURL, time.Now().UnixMilli(),
	)
	if err != nil {
		log.Warnf("caching profile for %s: %v", id, err)
	}
}

// Close releases the cache database.
func (s *Store) Close() error {
	return s.db.Close()
}
