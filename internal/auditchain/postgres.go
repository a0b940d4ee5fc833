package auditchain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey serialises appends across every process sharing the database.
// The value is arbitrary but must be the same for all instances.
const advisoryLockKey = int64(7_340_021_115)

const pgColumns = "id, timestamp, user_principal, action, resource_type, resource_id, metadata::text, previous_hash, hash"

// PostgresStore persists the chain in PostgreSQL. The schema (including the
// immutability triggers) lives in the migrations package.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Insert implements Store.
// The tail check and the insert run in one transaction holding an advisory lock,
// so a second writer can never link to a stale tail.
func (s *PostgresStore) Insert(ctx context.Context, e *Entry) error {
	meta, err := CanonicalMetadata(e.Metadata)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	var tail string
	err = tx.QueryRow(ctx, "SELECT hash FROM audit_logs ORDER BY id DESC LIMIT 1").Scan(&tail)
	empty := errors.Is(err, pgx.ErrNoRows)
	if err != nil && !empty {
		return fmt.Errorf("read chain tail: %w", err)
	}
	switch {
	case e.Action == ActionChainGenesis && !empty:
		return ErrGenesisExists
	case e.Action != ActionChainGenesis && empty:
		return ErrNotInitialized
	case e.Action != ActionChainGenesis && tail != e.PreviousHash:
		return ErrForkDetected
	}

	if err := tx.QueryRow(ctx,
		`INSERT INTO audit_logs (timestamp, user_principal, action, resource_type, resource_id, metadata, previous_hash, hash)
		 VALUES ($1, $2, $3, $4, $5, $6::json, $7, $8)
		 RETURNING id`,
		e.Timestamp, e.UserPrincipal, string(e.Action),
		nullable(string(e.ResourceType)), nullable(e.ResourceID), nullable(meta),
		e.PreviousHash, e.Hash,
	).Scan(&e.ID); err != nil {
		return mapPgError(fmt.Errorf("insert audit entry: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return mapPgError(fmt.Errorf("commit audit entry: %w", err))
	}

	s.logger.Debug("audit entry persisted",
		zap.Int64("id", e.ID),
		zap.String("action", string(e.Action)),
	)
	return nil
}

// Last implements Store.
func (s *PostgresStore) Last(ctx context.Context) (*Entry, error) {
	e, err := scanPgEntry(s.pool.QueryRow(ctx, "SELECT "+pgColumns+" FROM audit_logs ORDER BY id DESC LIMIT 1"))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// Count implements Store.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_logs").Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return n, nil
}

// Scan implements Store. Rows are streamed, so memory use is independent of
// chain length.
func (s *PostgresStore) Scan(ctx context.Context, from, to int64, fn func(*Entry) error) error {
	query := "SELECT " + pgColumns + " FROM audit_logs WHERE id >= $1"
	args := []any{from}
	if to > 0 {
		query += " AND id <= $2"
		args = append(args, to)
	}
	query += " ORDER BY id ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query audit chain: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanPgEntry(rows)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Find implements Store.
func (s *PostgresStore) Find(ctx context.Context, f Filter) ([]*Entry, error) {
	query, args, err := findQuery(f)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	out := []*Entry{}
	for rows.Next() {
		e, err := scanPgEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Update implements Store. The statement is issued so that the trigger rejects it.
func (s *PostgresStore) Update(ctx context.Context, e *Entry) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE audit_logs SET user_principal = $1, resource_id = $2, hash = $3 WHERE id = $4",
		e.UserPrincipal, nullable(e.ResourceID), e.Hash, e.ID,
	)
	if err == nil {
		return ErrImmutable
	}
	return mapPgError(err)
}

// Delete implements Store. The statement is issued so that the trigger rejects it.
func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM audit_logs WHERE id = $1", id)
	if err == nil {
		return ErrImmutable
	}
	return mapPgError(err)
}

// Close implements Store. The pool is owned by the caller and stays open.
func (s *PostgresStore) Close() error { return nil }

func scanPgEntry(r pgx.Row) (*Entry, error) {
	var (
		e          Entry
		ts         time.Time
		action     string
		rtype, rid *string
		meta       *string
	)
	if err := r.Scan(&e.ID, &ts, &e.UserPrincipal, &action, &rtype, &rid, &meta, &e.PreviousHash, &e.Hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan audit row: %w", err)
	}
	e.Timestamp = ts.UTC()
	e.Action = Action(action)
	if rtype != nil {
		e.ResourceType = ResourceType(*rtype)
	}
	if rid != nil {
		e.ResourceID = *rid
	}
	if meta != nil {
		m, err := decodeMetadata(*meta)
		if err != nil {
			return nil, err
		}
		e.Metadata = m
	}
	return &e, nil
}

// findQuery renders f as a parameterized SELECT over audit_logs.
func findQuery(f Filter) (string, []any, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.ResourceID != "" {
		add("resource_id = $%d", f.ResourceID)
	}
	if f.ResourceType != "" {
		add("resource_type = $%d", string(f.ResourceType))
	}
	if f.Action != "" {
		add("action = $%d", string(f.Action))
	}
	if f.UserPrincipal != "" {
		add("user_principal = $%d", f.UserPrincipal)
	}
	if f.From != nil {
		add("timestamp >= $%d", *f.From)
	}
	if f.To != nil {
		add("timestamp <= $%d", *f.To)
	}
	if len(f.Metadata) > 0 {
		want, err := CanonicalMetadata(f.Metadata)
		if err != nil {
			return "", nil, err
		}
		add("metadata::jsonb @> $%d::jsonb", want)
	}

	query := "SELECT " + pgColumns + " FROM audit_logs"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	if f.Sort == SortDesc {
		query += " ORDER BY id DESC"
	} else {
		query += " ORDER BY id ASC"
	}
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args, nil
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case pgErr.Code == "P0001" || strings.Contains(pgErr.Message, "immutable"):
		return fmt.Errorf("%w: %v", ErrImmutable, err)
	case pgErr.Code == "23505" && pgErr.ConstraintName == "audit_logs_previous_hash_key":
		return fmt.Errorf("%w: %v", ErrForkDetected, err)
	case pgErr.Code == "23505" && pgErr.ConstraintName == "audit_logs_genesis_key":
		return fmt.Errorf("%w: %v", ErrGenesisExists, err)
	}
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
