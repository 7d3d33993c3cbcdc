package core

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"

	"github.com/google/uuid"
)

// ProjectIDLen is the length of a project identifier in hex characters.
const ProjectIDLen = 16

// MinPrefixLen is the shortest id prefix accepted by prefix lookups.
const MinPrefixLen = 6

// ProjectIDFor derives the stable 16-hex-char project identifier from the
// canonical absolute project path. The same path always yields the same id.
func ProjectIDFor(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	abs = filepath.Clean(abs)
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:])[:ProjectIDLen]
}

// NewID returns a new time-ordered record identifier.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the entropy source does; fall back to v4.
		return uuid.NewString()
	}
	return id.String()
}

// ValidID reports whether s parses as a record identifier.
func ValidID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
