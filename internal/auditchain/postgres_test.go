package auditchain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapPgError(t *testing.T) {
	plain := errors.New("connection reset")
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"trigger raise", &pgconn.PgError{Code: "P0001", Message: "audit_logs rows cannot be updated"}, ErrImmutable},
		{"immutable message", &pgconn.PgError{Code: "XX000", Message: "audit_logs is immutable"}, ErrImmutable},
		{"duplicate link", &pgconn.PgError{Code: "23505", ConstraintName: "audit_logs_previous_hash_key"}, ErrForkDetected},
		{"second genesis", &pgconn.PgError{Code: "23505", ConstraintName: "audit_logs_genesis_key"}, ErrGenesisExists},
		{"wrapped duplicate link", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "audit_logs_previous_hash_key"}), ErrForkDetected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapPgError(tt.err), tt.want)
		})
	}

	t.Run("passthrough", func(t *testing.T) {
		for _, err := range []error{
			plain,
			&pgconn.PgError{Code: "23505", ConstraintName: "audit_logs_pkey"},
			&pgconn.PgError{Code: "23503", ConstraintName: "audit_logs_genesis_key"},
		} {
			got := mapPgError(err)
			assert.Same(t, err, got)
			for _, sentinel := range []error{ErrImmutable, ErrForkDetected, ErrGenesisExists} {
				assert.NotErrorIs(t, got, sentinel)
			}
		}
	})
}

func TestFindQuery(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	base := "SELECT " + pgColumns + " FROM audit_logs"

	tests := []struct {
		name  string
		f     Filter
		query string
		args  []any
	}{
		{
			name:  "empty",
			query: base + " ORDER BY id ASC",
		},
		{
			name:  "resource descending",
			f:     Filter{ResourceType: ResourceFolder, ResourceID: "f-1", Sort: SortDesc},
			query: base + " WHERE resource_id = $1 AND resource_type = $2 ORDER BY id DESC",
			args:  []any{"f-1", "FOLDER"},
		},
		{
			name:  "every condition",
			f:     Filter{Action: ActionCreateFolder, UserPrincipal: "alice", From: &from, To: &to, Metadata: map[string]any{"b": 2, "a": 1}, Limit: 10},
			query: base + " WHERE action = $1 AND user_principal = $2 AND timestamp >= $3 AND timestamp <= $4 AND metadata::jsonb @> $5::jsonb ORDER BY id ASC LIMIT $6",
			args:  []any{"CREATE_FOLDER", "alice", from, to, `{"a":1,"b":2}`, 10},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args, err := findQuery(tt.f)
			require.NoError(t, err)
			assert.Equal(t, tt.query, query)
			assert.Equal(t, tt.args, args)
		})
	}

	t.Run("unserializable metadata", func(t *testing.T) {
		_, _, err := findQuery(Filter{Metadata: map[string]any{"ch": make(chan int)}})
		assert.ErrorIs(t, err, ErrInvalidMetadata)
	})
}
