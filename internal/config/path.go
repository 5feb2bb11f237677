// Package config loads the redactor's settings from flags, environment and
// the config file.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandPath resolves a configured local path such as the job database, the
// staging directory, a policy file or the metrics textfile. A leading ~ becomes
// the home directory and $VAR references are replaced from the environment.
// Surrounding whitespace from hand-edited config files is dropped.
func ExpandPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return path
	}

	if rest, ok := strings.CutPrefix(path, "~"); ok && (rest == "" || rest[0] == '/') {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, rest)
		}
	}

	return os.ExpandEnv(path)
}

// expandLocation expands store locations. URLs such as gs://bucket/prefix are
// returned unchanged.
func expandLocation(location string) string {
	if strings.Contains(location, "://") {
		return strings.TrimSpace(location)
	}
	return ExpandPath(location)
}
