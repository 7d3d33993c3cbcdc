package logging

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LogPath returns the daemon log path under the data root.
func LogPath(dataRoot string) string {
	return filepath.Join(dataRoot, LogFileName)
}

// SweepOldLogs deletes log files named ccengram.log* whose modification
// time is older than retentionDays. A retention of 0 keeps everything.
// Returns the number of files removed.
func SweepOldLogs(dataRoot string, retentionDays int, now time.Time) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	entries, err := os.ReadDir(dataRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := now.Add(-time.Duration(retentionDays) * 24 * time.Hour)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), LogFileName) {
			continue
		}
		// Never delete the live log file, only rotated ones.
		if entry.Name() == LogFileName {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dataRoot, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
