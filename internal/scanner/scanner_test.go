package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccengram/ccengram/internal/core"
)

func writeFile(t *testing.T, root, rel string, content []byte) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
}

func TestScanHonoursGitignore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", []byte("vendor/\n*.log\n"))
	writeFile(t, root, "main.go", []byte("package main\n"))
	writeFile(t, root, "vendor/lib.go", []byte("package lib\n"))
	writeFile(t, root, "debug.log", []byte("noise\n"))

	s, err := New()
	require.NoError(t, err)

	files, err := s.Scan(context.Background(), root)
	require.NoError(t, err)

	rels := make([]string, 0, len(files))
	for _, f := range files {
		rels = append(rels, f.RelPath)
	}
	assert.Contains(t, rels, "main.go")
	assert.Contains(t, rels, ".gitignore")
	assert.NotContains(t, rels, "vendor/lib.go")
	assert.NotContains(t, rels, "debug.log")
}

func TestScanSkipsBinary(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "blob.bin", []byte{0x7f, 0x45, 0x4c, 0x46, 0x00, 0x01})
	writeFile(t, root, "ok.go", []byte("package ok\n"))

	s, err := New()
	require.NoError(t, err)
	files, err := s.Scan(context.Background(), root)
	require.NoError(t, err)

	require.Len(t, files, 1)
	assert.Equal(t, "ok.go", files[0].RelPath)
	assert.Equal(t, core.LangGo, files[0].Language)
	assert.NotEmpty(t, files[0].Checksum)
}

func TestScanFileChecksumChanges(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", []byte("package a\n"))

	s, err := New()
	require.NoError(t, err)

	first, ok := s.ScanFile(root, "a.go")
	require.True(t, ok)

	writeFile(t, root, "a.go", []byte("package a // changed\n"))
	second, ok := s.ScanFile(root, "a.go")
	require.True(t, ok)

	assert.NotEqual(t, first.Checksum, second.Checksum)
}

func TestScanFileMissing(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	_, ok := s.ScanFile(t.TempDir(), "nope.go")
	assert.False(t, ok)
}

func TestMatcherRefreshOnRuleChange(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "keep.tmp", []byte("x"))

	s, err := New()
	require.NoError(t, err)
	assert.False(t, s.ShouldIgnore(root, "keep.tmp", false))

	writeFile(t, root, ".gitignore", []byte("*.tmp\n"))
	assert.True(t, s.ShouldIgnore(root, "keep.tmp", false), "matcher must rebuild after rules change")
}
