// Package settings is the user-scoped key-value store. Chat histories,
// submodule caches and per-repository commit actions are kept here, in a
// single SQLite database under the QGitc data directory.
package settings

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"github.com/timxx/qgitc-sub000/internal/errors"
)

// CompressThreshold is the value size above which values are stored
// zstd-compressed.
const CompressThreshold = 4 * 1024

// KV is the storage contract consumed by other packages.
type KV interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Keys(prefix string) ([]string, error)
}

// Store is a KV backed by SQLite.
type Store struct {
	db  *sql.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// Open creates or opens the database at path. ":memory:" opens a private
// in-memory database.
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create settings directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One connection: keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	if s.enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault)); err != nil {
		db.Close()
		return nil, err
	}
	if s.dec, err = zstd.NewReader(nil); err != nil {
		s.enc.Close()
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		compressed INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	s.dec.Close()
	if err := s.enc.Close(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}

// Get returns the value for key, or a *errors.NotFoundError.
func (s *Store) Get(key string) ([]byte, error) {
	var (
		value      []byte
		compressed bool
	)
	err := s.db.QueryRow("SELECT value, compressed FROM settings WHERE key = ?", key).Scan(&value, &compressed)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("setting", key)
	}
	if err != nil {
		return nil, fmt.Errorf("read setting %s: %w", key, err)
	}
	if !compressed {
		return value, nil
	}
	out, err := s.dec.DecodeAll(value, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress setting %s: %w", key, err)
	}
	return out, nil
}

// Set stores value under key, compressing values over CompressThreshold.
func (s *Store) Set(key string, value []byte) error {
	compressed := false
	if len(value) > CompressThreshold {
		value = s.enc.EncodeAll(value, make([]byte, 0, len(value)/2))
		compressed = true
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO settings (key, value, compressed, updated_at)
		VALUES (?, ?, ?, ?)`, key, value, compressed, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("write setting %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	_, err := s.db.Exec("DELETE FROM settings WHERE key = ?", key)
	return err
}

// Keys returns the keys starting with prefix in ascending order.
func (s *Store) Keys(prefix string) ([]string, error) {
	rows, err := s.db.Query(
		"SELECT key FROM settings WHERE substr(key, 1, length(?)) = ? ORDER BY key", prefix, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// GetJSON decodes the value for key into v.
func GetJSON(kv KV, key string, v any) error {
	data, err := kv.Get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// SetJSON encodes v and stores it under key.
func SetJSON(kv KV, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return kv.Set(key, data)
}

// Key joins key segments with "/". Path-like segments are normalized to
// forward slashes and a trailing slash is dropped so the same repository
// always maps to the same key.
func Key(parts ...string) string {
	for i, p := range parts {
		p = filepath.ToSlash(p)
		if len(p) > 1 {
			p = strings.TrimSuffix(p, "/")
		}
		parts[i] = p
	}
	return strings.Join(parts, "/")
}

var _ KV = (*Store)(nil)
