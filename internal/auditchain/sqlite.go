package auditchain

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// sqliteSchema is applied statement by statement on open. The triggers are the
// immutability guard: any UPDATE or DELETE on audit_logs aborts.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		ts             INTEGER NOT NULL,
		user_principal TEXT    NOT NULL,
		action         TEXT    NOT NULL,
		resource_type  TEXT,
		resource_id    TEXT,
		metadata       TEXT,
		previous_hash  TEXT    NOT NULL UNIQUE,
		hash           TEXT    NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_audit_logs_genesis ON audit_logs(action) WHERE action = 'CHAIN_GENESIS'`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs(resource_id)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_ts ON audit_logs(ts)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_user ON audit_logs(user_principal)`,
	`CREATE TRIGGER IF NOT EXISTS audit_logs_no_update BEFORE UPDATE ON audit_logs
	 BEGIN
		SELECT RAISE(ABORT, 'audit_logs entries are immutable and cannot be modified');
	 END`,
	`CREATE TRIGGER IF NOT EXISTS audit_logs_no_delete BEFORE DELETE ON audit_logs
	 BEGIN
		SELECT RAISE(ABORT, 'audit_logs entries are immutable and cannot be modified');
	 END`,
}

const sqliteColumns = "id, ts, user_principal, action, resource_type, resource_id, metadata, previous_hash, hash"

// SQLiteStore persists the chain in an embedded SQLite database file.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex // serialises Insert within this process
}

// OpenSQLiteStore opens (or creates) the database at path and applies the schema.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store %s: %w", path, err)
	}
	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating sqlite schema: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Insert implements Store.
func (s *SQLiteStore) Insert(ctx context.Context, e *Entry) error {
	meta, err := CanonicalMetadata(e.Metadata)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var tail sql.NullString
	if err := tx.QueryRowContext(ctx, "SELECT hash FROM audit_logs ORDER BY id DESC LIMIT 1").Scan(&tail); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read chain tail: %w", err)
	}
	switch {
	case e.Action == ActionChainGenesis && tail.Valid:
		return ErrGenesisExists
	case e.Action != ActionChainGenesis && !tail.Valid:
		return ErrNotInitialized
	case e.Action != ActionChainGenesis && tail.String != e.PreviousHash:
		return ErrForkDetected
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO audit_logs (ts, user_principal, action, resource_type, resource_id, metadata, previous_hash, hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp.UnixMilli(), e.UserPrincipal, string(e.Action),
		nullString(string(e.ResourceType)), nullString(e.ResourceID), nullString(meta),
		e.PreviousHash, e.Hash,
	)
	if err != nil {
		return mapSQLiteError(fmt.Errorf("insert audit entry: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read inserted id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return mapSQLiteError(fmt.Errorf("commit audit entry: %w", err))
	}
	e.ID = id
	return nil
}

// Last implements Store.
func (s *SQLiteStore) Last(ctx context.Context) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sqliteColumns+" FROM audit_logs ORDER BY id DESC LIMIT 1")
	e, err := scanSQLiteEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs").Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return n, nil
}

// Scan implements Store.
func (s *SQLiteStore) Scan(ctx context.Context, from, to int64, fn func(*Entry) error) error {
	query := "SELECT " + sqliteColumns + " FROM audit_logs WHERE id >= ?"
	args := []any{from}
	if to > 0 {
		query += " AND id <= ?"
		args = append(args, to)
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query audit chain: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanSQLiteEntry(rows)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Find implements Store. Metadata containment is evaluated in Go since SQLite has
// no equivalent of jsonb @>.
func (s *SQLiteStore) Find(ctx context.Context, f Filter) ([]*Entry, error) {
	query := "SELECT " + sqliteColumns + " FROM audit_logs WHERE 1=1"
	var args []any

	if f.ResourceID != "" {
		query += " AND resource_id = ?"
		args = append(args, f.ResourceID)
	}
	if f.ResourceType != "" {
		query += " AND resource_type = ?"
		args = append(args, string(f.ResourceType))
	}
	if f.Action != "" {
		query += " AND action = ?"
		args = append(args, string(f.Action))
	}
	if f.UserPrincipal != "" {
		query += " AND user_principal = ?"
		args = append(args, f.UserPrincipal)
	}
	if f.From != nil {
		query += " AND ts >= ?"
		args = append(args, f.From.UnixMilli())
	}
	if f.To != nil {
		query += " AND ts <= ?"
		args = append(args, f.To.UnixMilli())
	}
	if f.Sort == SortDesc {
		query += " ORDER BY id DESC"
	} else {
		query += " ORDER BY id ASC"
	}
	if f.Limit > 0 && len(f.Metadata) == 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	out := []*Entry{}
	for rows.Next() {
		e, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, err
		}
		if len(f.Metadata) > 0 && !metadataContains(e.Metadata, f.Metadata) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, rows.Err()
}

// Update implements Store. The statement is issued so that the trigger rejects it.
func (s *SQLiteStore) Update(ctx context.Context, e *Entry) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE audit_logs SET user_principal = ?, resource_id = ?, hash = ? WHERE id = ?",
		e.UserPrincipal, nullString(e.ResourceID), e.Hash, e.ID,
	)
	return immutableResult(err)
}

// Delete implements Store. The statement is issued so that the trigger rejects it.
func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM audit_logs WHERE id = ?", id)
	return immutableResult(err)
}

// immutableResult maps the outcome of a rejected mutation. A statement that
// matched no rows still reports ErrImmutable.
func immutableResult(err error) error {
	if err == nil {
		return ErrImmutable
	}
	return mapSQLiteError(err)
}

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEntry(r rowScanner) (*Entry, error) {
	var (
		e                Entry
		millis           int64
		action           string
		rtype, rid, meta sql.NullString
	)
	if err := r.Scan(&e.ID, &millis, &e.UserPrincipal, &action, &rtype, &rid, &meta, &e.PreviousHash, &e.Hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan audit row: %w", err)
	}
	e.Timestamp = time.UnixMilli(millis).UTC()
	e.Action = Action(action)
	e.ResourceType = ResourceType(rtype.String)
	e.ResourceID = rid.String
	m, err := decodeMetadata(meta.String)
	if err != nil {
		return nil, err
	}
	e.Metadata = m
	return &e, nil
}

func mapSQLiteError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "immutable"):
		return fmt.Errorf("%w: %v", ErrImmutable, err)
	case strings.Contains(msg, "audit_logs.previous_hash"):
		return fmt.Errorf("%w: %v", ErrForkDetected, err)
	case strings.Contains(msg, "audit_logs.action"):
		return fmt.Errorf("%w: %v", ErrGenesisExists, err)
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
