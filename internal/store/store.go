// Package store is the per-project storage substrate: a SQLite database for
// rows and HNSW graphs for vectors, kept consistent by this package. All
// record encoding (JSON list columns, unix-milli timestamps, lowercase-snake
// enums, fixed-dimension float32 vectors) lives here.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	ccerr "github.com/ccengram/ccengram/internal/errors"
)

// DBFileName is the SQLite file inside a project's data directory.
const DBFileName = "engram.db"

// Embedded tables, each backed by its own HNSW graph.
const (
	TableMemories       = "memories"
	TableCodeChunks     = "code_chunks"
	TableDocumentChunks = "documents"
)

// Store owns one project's database and vector indexes.
type Store struct {
	ProjectID string

	db   *sql.DB
	dir  string
	dims int

	mu      sync.Mutex // serializes multi-statement mutations
	vectors map[string]*vectorIndex
}

// Open opens (creating if needed) the project store at dir with vector
// dimension dims, ensures the schema, and loads vector indexes from disk.
func Open(dir, projectID string, dims int) (*Store, error) {
	if dims <= 0 {
		return nil, ccerr.Validation("dimensions", "vector dimension must be positive")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, ccerr.Database("create project dir", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", filepath.Join(dir, DBFileName))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, ccerr.Database("open database", err)
	}
	// SQLite supports one writer; a single connection serializes mutating
	// operations the way the concurrency model requires.
	db.SetMaxOpenConns(1)

	s := &Store{
		ProjectID: projectID,
		db:        db,
		dir:       dir,
		dims:      dims,
		vectors:   make(map[string]*vectorIndex),
	}

	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.loadVectors(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Dimensions returns the schema vector dimension D.
func (s *Store) Dimensions() int { return s.dims }

// Close persists vector indexes and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for table, idx := range s.vectors {
		if err := idx.Save(s.vectorPath(table)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Flush persists vector indexes without closing.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for table, idx := range s.vectors {
		if err := idx.Save(s.vectorPath(table)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) vectorPath(table string) string {
	return filepath.Join(s.dir, "vectors", table+".hnsw")
}

func (s *Store) loadVectors() error {
	for _, table := range []string{TableMemories, TableCodeChunks, TableDocumentChunks} {
		idx := newVectorIndex(s.dims)
		path := s.vectorPath(table)
		if _, err := os.Stat(path); err == nil {
			if err := idx.Load(path); err != nil {
				// A corrupt graph is rebuilt from the row embeddings.
				idx = newVectorIndex(s.dims)
				if err := s.rebuildVectors(table, idx); err != nil {
					return err
				}
			}
		} else if err := s.rebuildVectors(table, idx); err != nil {
			return err
		}
		s.vectors[table] = idx
	}
	return nil
}

// rebuildVectors repopulates a graph from embedding blobs stored in SQLite.
func (s *Store) rebuildVectors(table string, idx *vectorIndex) error {
	rows, err := s.db.Query(fmt.Sprintf(`SELECT id, embedding FROM %s WHERE embedding IS NOT NULL`, table))
	if err != nil {
		return ccerr.Database("rebuild vectors", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return ccerr.Database("scan embedding", err)
		}
		if vec := decodeVector(blob, s.dims); vec != nil {
			idx.Add(id, vec)
		}
	}
	return rows.Err()
}

func (s *Store) index(table string) *vectorIndex {
	return s.vectors[table]
}
