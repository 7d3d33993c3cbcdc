package store

import (
	"context"
	"database/sql"
	"time"

	ccerr "github.com/ccengram/ccengram/internal/errors"
)

// CurrentSchemaVersion is the schema version this build writes.
const CurrentSchemaVersion = 1

// migration is one append-only schema step.
type migration struct {
	version int
	name    string
	apply   func(ctx context.Context, tx *sql.Tx) error
}

// migrations are applied in ascending version order and never rolled back.
var migrations = []migration{
	{version: 1, name: "initial_schema", apply: applyInitialSchema},
}

// ensureSchema makes the migrations table exist and runs pending
// migrations. Called on every open; idempotent.
func (s *Store) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS _migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return ccerr.Database("create migrations table", err)
	}
	_, err := s.RunMigrations(ctx)
	return err
}

// SchemaVersion returns the highest applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM _migrations`).Scan(&version)
	if err != nil {
		return 0, ccerr.Database("read schema version", err)
	}
	return int(version.Int64), nil
}

// RunMigrations applies every pending migration in ascending order and
// returns how many were applied. A second call applies zero.
func (s *Store) RunMigrations(ctx context.Context) (int, error) {
	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return applied, ccerr.Database("begin migration", err)
		}
		if err := m.apply(ctx, tx); err != nil {
			_ = tx.Rollback()
			return applied, ccerr.Database("apply migration "+m.name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO _migrations (version, name, applied_at) VALUES (?, ?, ?)`,
			m.version, m.name, time.Now().UnixMilli()); err != nil {
			_ = tx.Rollback()
			return applied, ccerr.Database("record migration "+m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return applied, ccerr.Database("commit migration "+m.name, err)
		}
		applied++
	}
	return applied, nil
}

// applyInitialSchema materializes the full current schema (v1).
func applyInitialSchema(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id              TEXT PRIMARY KEY,
			project_id      TEXT NOT NULL,
			content         TEXT NOT NULL,
			summary         TEXT NOT NULL DEFAULT '',
			sector          TEXT NOT NULL,
			tier            TEXT NOT NULL,
			memory_type     TEXT NOT NULL DEFAULT '',
			importance      REAL NOT NULL,
			salience        REAL NOT NULL,
			confidence      REAL NOT NULL,
			access_count    INTEGER NOT NULL DEFAULT 0,
			tags            TEXT NOT NULL DEFAULT '',
			concepts        TEXT NOT NULL DEFAULT '',
			files           TEXT NOT NULL DEFAULT '',
			categories      TEXT NOT NULL DEFAULT '',
			scope_path      TEXT NOT NULL DEFAULT '',
			scope_module    TEXT NOT NULL DEFAULT '',
			context         TEXT NOT NULL DEFAULT '',
			session_id      TEXT NOT NULL DEFAULT '',
			segment_id      TEXT NOT NULL DEFAULT '',
			created_at      INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL,
			last_accessed   INTEGER NOT NULL,
			valid_from      INTEGER NOT NULL,
			valid_until     INTEGER,
			is_deleted      INTEGER NOT NULL DEFAULT 0,
			deleted_at      INTEGER,
			content_hash    TEXT NOT NULL,
			simhash         BLOB,
			superseded_by   TEXT NOT NULL DEFAULT '',
			embedding_model TEXT NOT NULL DEFAULT '',
			decay_rate      REAL NOT NULL DEFAULT 0,
			next_decay_at   INTEGER,
			embedding       BLOB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_hash ON memories (project_id, content_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_active ON memories (project_id, is_deleted)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_session ON memories (session_id)`,

		`CREATE TABLE IF NOT EXISTS code_chunks (
			id              TEXT PRIMARY KEY,
			project_id      TEXT NOT NULL,
			file_path       TEXT NOT NULL,
			content         TEXT NOT NULL,
			language        TEXT NOT NULL,
			chunk_type      TEXT NOT NULL,
			symbols         TEXT NOT NULL DEFAULT '',
			start_line      INTEGER NOT NULL,
			end_line        INTEGER NOT NULL,
			file_hash       TEXT NOT NULL,
			indexed_at      INTEGER NOT NULL,
			tokens_estimate INTEGER NOT NULL DEFAULT 0,
			embedding       BLOB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_file ON code_chunks (project_id, file_path)`,

		`CREATE TABLE IF NOT EXISTS code_references (
			id              TEXT PRIMARY KEY,
			project_id      TEXT NOT NULL,
			source_chunk_id TEXT NOT NULL,
			target_symbol   TEXT NOT NULL,
			target_chunk_id TEXT NOT NULL DEFAULT '',
			ref_type        TEXT NOT NULL,
			created_at      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_refs_source ON code_references (source_chunk_id)`,
		`CREATE INDEX IF NOT EXISTS idx_refs_symbol ON code_references (project_id, target_symbol)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			ended_at   INTEGER
		)`,

		`CREATE TABLE IF NOT EXISTS events (
			id         TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			name       TEXT NOT NULL,
			payload    TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS documents (
			id          TEXT PRIMARY KEY,
			project_id  TEXT NOT NULL,
			document_id TEXT NOT NULL,
			content     TEXT NOT NULL,
			title       TEXT NOT NULL DEFAULT '',
			source      TEXT NOT NULL DEFAULT '',
			source_kind TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			total_chunks INTEGER NOT NULL,
			char_offset INTEGER NOT NULL DEFAULT 0,
			created_at  INTEGER NOT NULL,
			embedding   BLOB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_doc ON documents (project_id, document_id)`,

		`CREATE TABLE IF NOT EXISTS document_metadata (
			id           TEXT PRIMARY KEY,
			project_id   TEXT NOT NULL,
			title        TEXT NOT NULL DEFAULT '',
			source       TEXT NOT NULL DEFAULT '',
			source_kind  TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			char_count   INTEGER NOT NULL DEFAULT 0,
			chunk_count  INTEGER NOT NULL DEFAULT 0,
			content      TEXT NOT NULL DEFAULT '',
			created_at   INTEGER NOT NULL,
			updated_at   INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS session_memories (
			id         TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			memory_id  TEXT NOT NULL,
			usage      TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_session_memories ON session_memories (session_id, memory_id)`,

		`CREATE TABLE IF NOT EXISTS memory_relationships (
			id             TEXT PRIMARY KEY,
			project_id     TEXT NOT NULL,
			from_memory_id TEXT NOT NULL,
			to_memory_id   TEXT NOT NULL,
			rel_type       TEXT NOT NULL,
			confidence     REAL NOT NULL DEFAULT 1,
			valid_from     INTEGER NOT NULL,
			valid_until    INTEGER,
			extractor      TEXT NOT NULL DEFAULT '',
			created_at     INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rel_from ON memory_relationships (from_memory_id)`,
		`CREATE INDEX IF NOT EXISTS idx_rel_to ON memory_relationships (to_memory_id)`,

		`CREATE TABLE IF NOT EXISTS entities (
			id            TEXT PRIMARY KEY,
			project_id    TEXT NOT NULL,
			name          TEXT NOT NULL,
			kind          TEXT NOT NULL DEFAULT '',
			summary       TEXT NOT NULL DEFAULT '',
			aliases       TEXT NOT NULL DEFAULT '',
			first_seen    INTEGER NOT NULL,
			last_seen     INTEGER NOT NULL,
			mention_count INTEGER NOT NULL DEFAULT 0,
			UNIQUE (project_id, name)
		)`,

		`CREATE TABLE IF NOT EXISTS memory_entities (
			id         TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			memory_id  TEXT NOT NULL,
			entity_id  TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS index_checkpoints (
			id             TEXT PRIMARY KEY,
			project_id     TEXT NOT NULL,
			kind           TEXT NOT NULL,
			processed      TEXT NOT NULL DEFAULT '',
			pending        TEXT NOT NULL DEFAULT '',
			total_files    INTEGER NOT NULL DEFAULT 0,
			total_chunks   INTEGER NOT NULL DEFAULT 0,
			error_count    INTEGER NOT NULL DEFAULT 0,
			gitignore_hash TEXT NOT NULL DEFAULT '',
			started_at     INTEGER NOT NULL,
			updated_at     INTEGER NOT NULL,
			is_complete    INTEGER NOT NULL DEFAULT 0,
			UNIQUE (project_id, kind)
		)`,

		`CREATE TABLE IF NOT EXISTS segment_accumulators (
			id         TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			state      TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE (project_id, session_id)
		)`,

		`CREATE TABLE IF NOT EXISTS extraction_segments (
			id                 TEXT PRIMARY KEY,
			project_id         TEXT NOT NULL,
			session_id         TEXT NOT NULL DEFAULT '',
			trigger_kind       TEXT NOT NULL,
			input_tokens       INTEGER NOT NULL DEFAULT 0,
			output_tokens      INTEGER NOT NULL DEFAULT 0,
			memories_extracted INTEGER NOT NULL DEFAULT 0,
			duration_ms        INTEGER NOT NULL DEFAULT 0,
			error              TEXT NOT NULL DEFAULT '',
			created_at         INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS indexed_files (
			project_id      TEXT NOT NULL,
			path            TEXT NOT NULL,
			content_hash    TEXT NOT NULL,
			size            INTEGER NOT NULL DEFAULT 0,
			mtime           INTEGER NOT NULL DEFAULT 0,
			last_indexed_at INTEGER NOT NULL,
			chunk_count     INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (project_id, path)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
