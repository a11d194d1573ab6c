package backup

import (
	"fmt"
	"strings"
)

// ArchiveTargets are archived relative to the WordPress root.
var ArchiveTargets = []string{
	"wp-content/uploads/",
	"wp-content/themes/",
	"wp-content/plugins/",
	"wp-config.php",
}

// ArchiveExcludes are zip -x patterns.
var ArchiveExcludes = []string{
	"wp-content/cache/*",
	"wp-content/tmp/*",
}

// permissionFallback keeps a partially failed zip from failing the command.
const permissionFallback = `echo "Some files may have been skipped due to permissions"`

// BuildZipCommand constructs the remote command that archives the WordPress
// content under remotePath into filename.
func BuildZipCommand(remotePath, filename string) string {
	var excludes []string
	for _, pattern := range ArchiveExcludes {
		excludes = append(excludes, quote(pattern))
	}

	return fmt.Sprintf("cd %s && zip -r %s %s -x %s || %s",
		quote(remotePath),
		quote(filename),
		strings.Join(ArchiveTargets, " "),
		strings.Join(excludes, " "),
		permissionFallback,
	)
}

func quote(value string) string {
	return "'" + escapeSingleQuotes(value) + "'"
}

func escapeSingleQuotes(value string) string {
	return strings.ReplaceAll(value, "'", "'\\''")
}
