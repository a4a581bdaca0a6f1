package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// workspaceDirs are created in a fresh workspace: the PARA categories and
// the drop folders for external artifacts.
var workspaceDirs = []string{"projects", "areas", "resources", "archive", "inbox", "attachments"}

// EnsureWorkspace creates the workspace and its standard directories.
// Existing content is left alone.
func EnsureWorkspace(path string) error {
	if path == "" {
		return fmt.Errorf("workspace path is empty")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}
	for _, d := range workspaceDirs {
		if err := os.MkdirAll(filepath.Join(path, d), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}
