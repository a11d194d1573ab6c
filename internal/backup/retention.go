package backup

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yourusername/wordpress-backup/internal/logging"
)

// EnforceRetention keeps the newest keep archives at dest and deletes the
// rest. Only files ending in ArchiveSuffix are considered; the date prefix
// makes name order chronological. keep <= 0 keeps everything.
func EnforceRetention(dest Destination, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}

	files, err := dest.List()
	if err != nil {
		return 0, fmt.Errorf("failed to list archives: %w", err)
	}

	var archives []BackupFile
	for _, file := range files {
		if strings.HasSuffix(file.Filename, ArchiveSuffix) {
			archives = append(archives, file)
		}
	}

	if len(archives) <= keep {
		return 0, nil
	}

	sort.Slice(archives, func(i, j int) bool {
		return archives[i].Filename > archives[j].Filename
	})

	deleted := 0
	var firstErr error
	for _, archive := range archives[keep:] {
		if err := dest.Delete(archive.Filename); err != nil {
			logging.L().Warn("Failed to delete old archive", "file", archive.Filename, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		logging.L().Info("Deleted old archive", "file", archive.Filename, "destination", dest.GetType())
		deleted++
	}

	return deleted, firstErr
}
