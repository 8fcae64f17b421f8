package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// migrationLockKey serializes migration runs across processes. Tenant
// migrations also touch the shared schema, so one key covers all schemas.
const migrationLockKey = "anamnesis_migrations"

// Migration is one numbered SQL file, e.g. "002_sessions.sql".
type Migration struct {
	Version  int
	Name     string
	SQL      string
	Checksum string
}

// MigrationStatus reports whether a migration has been applied to a schema.
// Modified is set when the file changed after it was applied.
type MigrationStatus struct {
	Version   int
	Name      string
	Applied   bool
	AppliedAt *time.Time
	Modified  bool
}

// Migrator applies numbered SQL migrations to a PostgreSQL schema and
// records them in the schema's _migrations table.
type Migrator struct {
	pool *pgxpool.Pool
	fsys fs.FS
}

// NewMigrator reads migrations from a directory on disk.
func NewMigrator(pool *pgxpool.Pool, migrationsDir string) *Migrator {
	return NewMigratorFS(pool, os.DirFS(migrationsDir))
}

// NewMigratorFS reads migrations from the root of fsys, which may be an
// embed.FS.
func NewMigratorFS(pool *pgxpool.Pool, fsys fs.FS) *Migrator {
	return &Migrator{pool: pool, fsys: fsys}
}

// LoadMigrations returns the .sql files with a numeric prefix, sorted by
// version. Two files sharing a version are an error.
func (m *Migrator) LoadMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(m.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	seen := make(map[int]string)
	var migrations []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil || version <= 0 {
			continue
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %d: %s and %s", version, other, name)
		}
		seen[version] = name

		content, err := fs.ReadFile(m.fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", name, err)
		}
		sum := sha256.Sum256(content)
		migrations = append(migrations, Migration{
			Version:  version,
			Name:     name,
			SQL:      string(content),
			Checksum: hex.EncodeToString(sum[:]),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func quoteSchema(schema string) (string, error) {
	if !strings.HasPrefix(schema, "tenant_") && schema != "public" && schema != "shared" {
		return "", fmt.Errorf("refusing to migrate schema %q", schema)
	}
	return pgx.Identifier{schema}.Sanitize(), nil
}

// withLockedConn runs fn on a dedicated connection holding the migration
// advisory lock with search_path set to schema.
func (m *Migrator) withLockedConn(ctx context.Context, schema string, fn func(conn *pgxpool.Conn, table string) error) error {
	quoted, err := quoteSchema(schema)
	if err != nil {
		return err
	}
	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtext($1))`, migrationLockKey); err != nil {
		return fmt.Errorf("take migration lock: %w", err)
	}
	defer conn.Exec(context.Background(), `SELECT pg_advisory_unlock(hashtext($1))`, migrationLockKey)
	defer conn.Exec(context.Background(), `RESET search_path`)

	if _, err := conn.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quoted)); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, shared, public", quoted)); err != nil {
		return fmt.Errorf("set search_path: %w", err)
	}
	table := quoted + "._migrations"
	if _, err := conn.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    version    INTEGER PRIMARY KEY,
    name       VARCHAR(255) NOT NULL,
    checksum   CHAR(64) NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, table)); err != nil {
		return fmt.Errorf("create _migrations table in %s: %w", schema, err)
	}
	return fn(conn, table)
}

type appliedMigration struct {
	checksum  string
	appliedAt time.Time
}

func appliedMigrations(ctx context.Context, conn *pgxpool.Conn, table string) (map[int]appliedMigration, error) {
	rows, err := conn.Query(ctx, fmt.Sprintf(`SELECT version, checksum, applied_at FROM %s`, table))
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]appliedMigration)
	for rows.Next() {
		var v int
		var a appliedMigration
		if err := rows.Scan(&v, &a.checksum, &a.appliedAt); err != nil {
			return nil, fmt.Errorf("scan migration row: %w", err)
		}
		applied[v] = a
	}
	return applied, rows.Err()
}

// Up applies every pending migration to schema and returns how many ran.
func (m *Migrator) Up(ctx context.Context, schema string) (int, error) {
	return m.UpTo(ctx, schema, 0)
}

// UpTo applies pending migrations up to and including targetVersion; zero
// means all. Each migration commits in its own transaction.
func (m *Migrator) UpTo(ctx context.Context, schema string, targetVersion int) (int, error) {
	migrations, err := m.LoadMigrations()
	if err != nil {
		return 0, err
	}

	count := 0
	err = m.withLockedConn(ctx, schema, func(conn *pgxpool.Conn, table string) error {
		applied, err := appliedMigrations(ctx, conn, table)
		if err != nil {
			return err
		}
		for _, mig := range migrations {
			if targetVersion > 0 && mig.Version > targetVersion {
				break
			}
			if _, ok := applied[mig.Version]; ok {
				continue
			}
			if err := applyMigration(ctx, conn, table, mig); err != nil {
				return fmt.Errorf("apply migration %d (%s): %w", mig.Version, mig.Name, err)
			}
			count++
		}
		return nil
	})
	return count, err
}

func applyMigration(ctx context.Context, conn *pgxpool.Conn, table string, mig Migration) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, mig.SQL); err != nil {
		return fmt.Errorf("execute SQL: %w", err)
	}
	if _, err := tx.Exec(ctx,
		fmt.Sprintf("INSERT INTO %s (version, name, checksum) VALUES ($1, $2, $3)", table),
		mig.Version, mig.Name, mig.Checksum,
	); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit(ctx)
}

// Status lists every known migration with its applied state for schema.
func (m *Migrator) Status(ctx context.Context, schema string) ([]MigrationStatus, error) {
	migrations, err := m.LoadMigrations()
	if err != nil {
		return nil, err
	}

	var applied map[int]appliedMigration
	err = m.withLockedConn(ctx, schema, func(conn *pgxpool.Conn, table string) error {
		applied, err = appliedMigrations(ctx, conn, table)
		return err
	})
	if err != nil {
		return nil, err
	}
	return statusOf(migrations, applied), nil
}

func statusOf(migrations []Migration, applied map[int]appliedMigration) []MigrationStatus {
	statuses := make([]MigrationStatus, 0, len(migrations))
	for _, mig := range migrations {
		st := MigrationStatus{Version: mig.Version, Name: mig.Name}
		if a, ok := applied[mig.Version]; ok {
			at := a.appliedAt
			st.Applied = true
			st.AppliedAt = &at
			st.Modified = a.checksum != mig.Checksum
		}
		statuses = append(statuses, st)
	}
	return statuses
}
