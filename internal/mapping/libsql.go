package mapping

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/envsync/pkg/schema"
)

// listMappingsQuery reads rows in insert order so the scoped/unscoped
// precedence rules see them the way they were authored.
const listMappingsQuery = `SELECT env_var, reference, environment_scoped, environment_key FROM env_var_mappings ORDER BY rowid`

const createMappingsTable = `CREATE TABLE IF NOT EXISTS env_var_mappings (
	env_var TEXT NOT NULL,
	reference TEXT NOT NULL,
	environment_scoped INTEGER NOT NULL DEFAULT 0,
	environment_key TEXT
)`

const insertMappingStmt = `INSERT INTO env_var_mappings (env_var, reference, environment_scoped, environment_key) VALUES (?, ?, ?, ?)`

// DBSource reads mapping rows from an embedded libSQL database.
type DBSource struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDBSource opens the database at path. A plain filesystem path is
// accepted and turned into a file URI.
func NewDBSource(path string, logger *slog.Logger) (*DBSource, error) {
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	db, err := sql.Open("libsql", path)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "open mapping database").WithCause(err)
	}
	db.SetMaxOpenConns(1)

	// Connection-level PRAGMAs. Some return rows so QueryRow is used.
	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &DBSource{db: db, logger: logger}, nil
}

// NewDBSourceFromDB wraps an existing connection. Used by tests.
func NewDBSourceFromDB(db *sql.DB, logger *slog.Logger) *DBSource {
	return &DBSource{db: db, logger: logger}
}

func (s *DBSource) Name() string { return "db" }

func (s *DBSource) ListMappings(ctx context.Context) ([]schema.Record, error) {
	rows, err := s.db.QueryContext(ctx, listMappingsQuery)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "query mapping rows").WithCause(err)
	}
	defer rows.Close()

	var records []schema.Record
	for rows.Next() {
		var rec schema.Record
		var envKey sql.NullString
		if err := rows.Scan(&rec.Name, &rec.Reference, &rec.EnvScoped, &envKey); err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "scan mapping row").WithCause(err)
		}
		rec.EnvKey = envKey.String
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "read mapping rows").WithCause(err)
	}

	s.logger.DebugContext(ctx, "loaded mapping rows from database", "count", len(records))
	return records, nil
}

// EnsureSchema creates the mapping table when it does not exist yet, so
// bootstrap tooling can start from an empty database file.
func (s *DBSource) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createMappingsTable); err != nil {
		return schema.NewError(schema.ErrCodeStore, "create mapping table").WithCause(err)
	}
	return nil
}

// AddMapping appends one mapping row.
func (s *DBSource) AddMapping(ctx context.Context, rec schema.Record) error {
	var envKey any
	if rec.EnvKey != "" {
		envKey = rec.EnvKey
	}
	if _, err := s.db.ExecContext(ctx, insertMappingStmt, rec.Name, rec.Reference, rec.EnvScoped, envKey); err != nil {
		return schema.NewError(schema.ErrCodeStore, "insert mapping row").WithCause(err).WithKey(rec.Name)
	}
	s.logger.DebugContext(ctx, "mapping row inserted", "var", rec.Name, "scoped", rec.EnvScoped)
	return nil
}

func (s *DBSource) Close() error { return s.db.Close() }
