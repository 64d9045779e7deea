// Package pathutil expands user-supplied paths from config, such as
// the workspace root.
package pathutil

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// Expand resolves environment variables and a leading "~" against the
// current user's home directory.
func Expand(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}

	expanded := os.ExpandEnv(trimmed)
	switch {
	case expanded == "~":
		home, err := homeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		expanded = home
	case strings.HasPrefix(expanded, "~/"):
		home, err := homeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		expanded = filepath.Join(home, expanded[2:])
	}

	return filepath.Clean(expanded), nil
}

func homeDir() (string, error) {
	if home, err := os.UserHomeDir(); err == nil && usableHome(home) {
		return strings.TrimSpace(home), nil
	}
	if current, err := user.Current(); err == nil && usableHome(current.HomeDir) {
		return strings.TrimSpace(current.HomeDir), nil
	}
	if home := os.Getenv("HOME"); usableHome(home) {
		return strings.TrimSpace(home), nil
	}
	return "", fmt.Errorf("cannot determine home directory")
}

// usableHome rejects empty or still-unresolved values like "~".
func usableHome(home string) bool {
	h := strings.TrimSpace(home)
	return h != "" && h != "~" && !strings.HasPrefix(h, "~/")
}
