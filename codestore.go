package hostplane

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	// Pure-Go SQLite driver for database/sql.
	_ "github.com/glebarez/sqlite"
)

// TenantMeta is the editable metadata kept beside a tenant's source.
type TenantMeta struct {
	Name        string
	Description string
}

// CodeStore owns each tenant's current deployable source text plus its
// metadata, persisted in a single SQLite database so deployments survive a
// restart. Semantics are deliberately simple: one document per tenant,
// last write wins, and loading a never-deployed tenant returns the empty
// default instead of an error.
type CodeStore struct {
	db    *sql.DB
	cache sync.Map // tenant code -> string (source)
}

// OpenCodeStore opens (or creates) the store database under dataDir.
func OpenCodeStore(dataDir string) (*CodeStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "hostplane.sqlite3")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening code store %q: %w", dbPath, err)
	}
	// Same-file writers from concurrent handlers serialize in the driver.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS tenants (
		code        TEXT PRIMARY KEY,
		name        TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		source      TEXT NOT NULL DEFAULT '',
		updated_at  INTEGER NOT NULL DEFAULT 0
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tenants table: %w", err)
	}
	return &CodeStore{db: db}, nil
}

// ValidateTenantCode rejects tenant codes that are empty, oversized, or
// contain characters that could escape into paths or headers.
func ValidateTenantCode(code string) error {
	if code == "" {
		return fmt.Errorf("tenant code must not be empty")
	}
	if len(code) > 64 {
		return fmt.Errorf("tenant code too long")
	}
	if strings.ContainsAny(code, "/\\ \t\r\n") || strings.Contains(code, "..") {
		return fmt.Errorf("tenant code contains invalid characters")
	}
	if strings.ContainsRune(code, 0) {
		return fmt.Errorf("tenant code contains null byte")
	}
	return nil
}

// Save overwrites the tenant's stored source, creating the tenant row if
// absent. Concurrent saves for the same tenant race to last-write-wins;
// each individual write is atomic.
func (s *CodeStore) Save(code, source string) error {
	if err := ValidateTenantCode(code); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT INTO tenants (code, source, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET source = excluded.source, updated_at = excluded.updated_at`,
		code, source, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("saving source for %s: %w", code, err)
	}
	s.cache.Store(code, source)
	return nil
}

// Load returns the most recently saved source for the tenant, or the empty
// string if the tenant has never deployed. Distinguishing "never deployed"
// from an error is the caller's concern, not the store's.
func (s *CodeStore) Load(code string) (string, error) {
	if v, ok := s.cache.Load(code); ok {
		return v.(string), nil
	}
	var source string
	err := s.db.QueryRow(`SELECT source FROM tenants WHERE code = ?`, code).Scan(&source)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("loading source for %s: %w", code, err)
	}
	s.cache.Store(code, source)
	return source, nil
}

// Meta returns the tenant's metadata, zero-valued for unknown tenants.
func (s *CodeStore) Meta(code string) (TenantMeta, error) {
	var m TenantMeta
	err := s.db.QueryRow(`SELECT name, description FROM tenants WHERE code = ?`, code).
		Scan(&m.Name, &m.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return TenantMeta{}, nil
	}
	if err != nil {
		return TenantMeta{}, fmt.Errorf("loading metadata for %s: %w", code, err)
	}
	return m, nil
}

// SetMeta updates the tenant's metadata, creating the row if absent.
func (s *CodeStore) SetMeta(code string, meta TenantMeta) error {
	if err := ValidateTenantCode(code); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT INTO tenants (code, name, description, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET name = excluded.name, description = excluded.description`,
		code, meta.Name, meta.Description, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("saving metadata for %s: %w", code, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *CodeStore) Close() error {
	return s.db.Close()
}
