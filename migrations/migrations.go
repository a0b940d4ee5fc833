// Package migrations embeds the PostgreSQL schema and applies it using the same
// schema_migrations table format as golang-migrate (bigint version + dirty flag),
// so the two tools are interchangeable.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed *.sql
var files embed.FS

// Logf receives one progress line per migration.
type Logf func(format string, args ...any)

// Files returns the embedded migration filenames in application order.
func Files() ([]string, error) {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Apply runs every migration not yet recorded as clean and returns how many ran.
func Apply(ctx context.Context, db *pgxpool.Pool, logf Logf) (int, error) {
	if logf == nil {
		logf = func(string, ...any) {}
	}

	if _, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version bigint NOT NULL,
			dirty   boolean NOT NULL,
			PRIMARY KEY (version)
		)`); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}

	names, err := Files()
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, f := range names {
		ver, err := Version(f)
		if err != nil {
			return applied, fmt.Errorf("parse version from %s: %w", f, err)
		}

		var exists bool
		if err := db.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1 AND dirty = false)`,
			ver,
		).Scan(&exists); err != nil {
			return applied, fmt.Errorf("check %s: %w", f, err)
		}
		if exists {
			logf("  skip  %s (already applied)", f)
			continue
		}

		sql, err := files.ReadFile(f)
		if err != nil {
			return applied, fmt.Errorf("read %s: %w", f, err)
		}

		// Mark dirty first so a crash mid-migration is visible.
		if _, err := db.Exec(ctx,
			`INSERT INTO schema_migrations (version, dirty) VALUES ($1, true)
			 ON CONFLICT (version) DO UPDATE SET dirty = true`, ver,
		); err != nil {
			return applied, fmt.Errorf("mark dirty %s: %w", f, err)
		}
		if _, err := db.Exec(ctx, string(sql)); err != nil {
			return applied, fmt.Errorf("apply %s: %w", f, err)
		}
		if _, err := db.Exec(ctx,
			`UPDATE schema_migrations SET dirty = false WHERE version = $1`, ver,
		); err != nil {
			return applied, fmt.Errorf("mark clean %s: %w", f, err)
		}

		logf("  apply %s", f)
		applied++
	}
	return applied, nil
}

// Version extracts the leading integer from a migration filename:
// "001_audit_logs.up.sql" is version 1.
func Version(filename string) (int64, error) {
	prefix, _, ok := strings.Cut(filename, "_")
	if !ok {
		return 0, fmt.Errorf("unexpected filename format %q", filename)
	}
	return strconv.ParseInt(prefix, 10, 64)
}
