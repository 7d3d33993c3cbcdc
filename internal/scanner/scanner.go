// Package scanner discovers indexable source files in a project tree,
// honouring gitignore rules and skipping binaries.
package scanner

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ccengram/ccengram/internal/chunk"
	"github.com/ccengram/ccengram/internal/core"
	"github.com/ccengram/ccengram/internal/gitignore"
)

// DefaultMaxFileSize is the largest file the scanner will emit (5 MB).
const DefaultMaxFileSize = 5 * 1024 * 1024

// matcherCacheSize bounds the number of cached gitignore matchers so a
// long-running daemon watching many projects stays flat on memory.
const matcherCacheSize = 64

// FileInfo describes one accepted source file.
type FileInfo struct {
	AbsPath  string
	RelPath  string
	Language core.Language
	Checksum string
	Size     int64
}

type cachedMatcher struct {
	matcher   *gitignore.Matcher
	rulesHash string
}

// Scanner walks project trees. Matchers are cached per root and refreshed
// when the tree's gitignore rules change.
type Scanner struct {
	maxFileSize int64
	matchers    *lru.Cache[string, cachedMatcher]
}

// New creates a scanner.
func New() (*Scanner, error) {
	cache, err := lru.New[string, cachedMatcher](matcherCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create matcher cache: %w", err)
	}
	return &Scanner{maxFileSize: DefaultMaxFileSize, matchers: cache}, nil
}

// Matcher returns the gitignore matcher for root, rebuilding it when the
// tree's rules hash has changed since the cached build.
func (s *Scanner) Matcher(root string) (*gitignore.Matcher, error) {
	hash, err := gitignore.RulesHash(root)
	if err != nil {
		return nil, err
	}
	if cached, ok := s.matchers.Get(root); ok && cached.rulesHash == hash {
		return cached.matcher, nil
	}
	m, err := gitignore.LoadTree(root)
	if err != nil {
		return nil, err
	}
	s.matchers.Add(root, cachedMatcher{matcher: m, rulesHash: hash})
	return m, nil
}

// ShouldIgnore applies gitignore rules to a path relative to root.
func (s *Scanner) ShouldIgnore(root, relPath string, isDir bool) bool {
	m, err := s.Matcher(root)
	if err != nil {
		return false
	}
	return m.Match(relPath, isDir)
}

// Scan walks root and returns every accepted source file. The walk honours
// gitignore, skips binaries and oversized files, and stops early when ctx
// is cancelled.
func (s *Scanner) Scan(ctx context.Context, root string) ([]FileInfo, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", absRoot)
	}

	matcher, err := s.Matcher(absRoot)
	if err != nil {
		return nil, err
	}

	var files []FileInfo
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entry, skip
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, relErr := filepath.Rel(absRoot, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if matcher.Match(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		fi, statErr := d.Info()
		if statErr != nil || fi.Size() > s.maxFileSize {
			return nil
		}

		accepted, checksum := s.probe(path)
		if !accepted {
			return nil
		}

		files = append(files, FileInfo{
			AbsPath:  path,
			RelPath:  rel,
			Language: chunk.DetectLanguage(rel),
			Checksum: checksum,
			Size:     fi.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// ScanFile probes a single file the watcher reported, returning its info or
// ok=false if it no longer qualifies (deleted, binary, too large).
func (s *Scanner) ScanFile(root, relPath string) (FileInfo, bool) {
	abs := filepath.Join(root, filepath.FromSlash(relPath))
	fi, err := os.Stat(abs)
	if err != nil || fi.IsDir() || fi.Size() > s.maxFileSize {
		return FileInfo{}, false
	}
	accepted, checksum := s.probe(abs)
	if !accepted {
		return FileInfo{}, false
	}
	return FileInfo{
		AbsPath:  abs,
		RelPath:  filepath.ToSlash(relPath),
		Language: chunk.DetectLanguage(relPath),
		Checksum: checksum,
		Size:     fi.Size(),
	}, true
}

// probe reads the file once, rejecting binary content, and returns the
// content checksum.
func (s *Scanner) probe(path string) (bool, string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, ""
	}
	if isBinary(data) {
		return false, ""
	}
	return true, core.ContentHash(string(data))
}

// isBinary sniffs the first 8 KB for NUL bytes, the same heuristic git uses.
func isBinary(data []byte) bool {
	probe := data
	if len(probe) > 8192 {
		probe = probe[:8192]
	}
	return bytes.IndexByte(probe, 0) >= 0
}
