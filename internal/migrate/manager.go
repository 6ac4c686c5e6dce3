// Package migrate applies the documents schema and seed data.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"
)

//go:embed sql/*.sql seeds/*.sql
var bundled embed.FS

// Bundled returns the migrations and seeds compiled into the binary.
func Bundled() (migrations, seeds fs.FS) {
	m, _ := fs.Sub(bundled, "sql")
	s, _ := fs.Sub(bundled, "seeds")
	return m, s
}

// Manager executes SQL migrations and seed files.
type Manager struct {
	db              *sql.DB
	migrations      fs.FS
	seeds           fs.FS
	migrationsTable string
	seedsTable      string
	log             zerolog.Logger
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the default migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// WithSeedsTable overrides the default seeds bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

// WithLogger reports each applied file to log.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// NewManager constructs a Manager. Either file system may be nil.
func NewManager(db *sql.DB, migrations, seeds fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		migrations:      migrations,
		seeds:           seeds,
		migrationsTable: defaultMigrationsTable,
		seedsTable:      defaultSeedsTable,
		log:             zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies all pending migrations and returns their names.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	return m.apply(ctx, m.migrations, ".up.sql", m.migrationsTable, "migration")
}

// Seed applies pending seed files and returns their names.
func (m *Manager) Seed(ctx context.Context) ([]string, error) {
	return m.apply(ctx, m.seeds, ".sql", m.seedsTable, "seed")
}

func (m *Manager) apply(ctx context.Context, fsys fs.FS, suffix, table, what string) ([]string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	executed, err := m.listExecuted(ctx, table)
	if err != nil {
		return nil, err
	}
	files, err := collectSQL(fsys, suffix)
	if err != nil {
		return nil, err
	}
	var applied []string
	for _, name := range files {
		if executed[name] {
			continue
		}
		if err := m.exec(ctx, fsys, name); err != nil {
			return applied, fmt.Errorf("apply %s %s: %w", what, name, err)
		}
		if err := m.insertRecord(ctx, table, name); err != nil {
			return applied, err
		}
		m.log.Info().Str(what, name).Msg("applied")
		applied = append(applied, name)
	}
	return applied, nil
}

// Down rolls back the most recent applied migration.
func (m *Manager) Down(ctx context.Context) (string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return "", err
	}
	executed, err := m.history(ctx, m.migrationsTable)
	if err != nil {
		return "", err
	}
	if len(executed) == 0 {
		return "", errors.New("no migrations applied")
	}
	last := executed[len(executed)-1]
	down := strings.TrimSuffix(last, ".up.sql") + ".down.sql"
	if m.migrations == nil {
		return "", fmt.Errorf("missing down migration for %s", last)
	}
	if _, err := fs.Stat(m.migrations, down); err != nil {
		return "", fmt.Errorf("missing down migration for %s", last)
	}
	if err := m.exec(ctx, m.migrations, down); err != nil {
		return "", fmt.Errorf("rollback migration %s: %w", last, err)
	}
	if _, err := m.db.ExecContext(ctx, fmt.Sprintf(`delete from %s where name = $1`, m.migrationsTable), last); err != nil {
		return "", err
	}
	m.log.Info().Str("migration", last).Msg("rolled back")
	return last, nil
}

// Status returns ordered applied migrations.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	return m.history(ctx, m.migrationsTable)
}

func (m *Manager) ensureTables(ctx context.Context) error {
	for _, table := range []string{m.migrationsTable, m.seedsTable} {
		ddl := fmt.Sprintf(`
		create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		);`, table)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) exec(ctx context.Context, fsys fs.FS, name string) error {
	body, err := fs.ReadFile(fsys, name)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(body)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (m *Manager) insertRecord(ctx context.Context, table, name string) error {
	_, err := m.db.ExecContext(ctx, fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, table),
		name, time.Now().UTC())
	return err
}

func (m *Manager) listExecuted(ctx context.Context, table string) (map[string]bool, error) {
	names, err := m.names(ctx, fmt.Sprintf(`select name from %s`, table))
	if err != nil {
		return nil, err
	}
	result := make(map[string]bool, len(names))
	for _, n := range names {
		result[n] = true
	}
	return result, nil
}

func (m *Manager) history(ctx context.Context, table string) ([]string, error) {
	return m.names(ctx, fmt.Sprintf(`select name from %s order by applied_at asc, name asc`, table))
}

func (m *Manager) names(ctx context.Context, query string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res = append(res, name)
	}
	return res, rows.Err()
}

// collectSQL lists the top-level files of fsys ending in suffix, sorted by name.
func collectSQL(fsys fs.FS, suffix string) ([]string, error) {
	if fsys == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		files = append(files, path.Base(e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// splitStatements splits SQL on semicolons outside single-quoted strings.
func splitStatements(sql string) []string {
	var stmts []string
	var current strings.Builder
	var inString bool
	for _, r := range sql {
		current.WriteRune(r)
		switch r {
		case '\'':
			inString = !inString
		case ';':
			if !inString {
				stmts = append(stmts, current.String())
				current.Reset()
			}
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		stmts = append(stmts, current.String())
	}
	return stmts
}
