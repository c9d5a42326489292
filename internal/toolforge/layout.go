package toolforge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WorkspaceLayout holds the four canonical directories of one build.
// Build and source are populated during the pipeline and intentionally left
// behind on completion for inspection; the cache directory is shared
// between targets.
type WorkspaceLayout struct {
	InstallDir string
	BuildDir   string
	SourceDir  string
	CacheDir   string
}

// Prepare validates and creates the workspace. A pre-existing build or
// source directory aborts with ErrWorkspaceExists: clobbering a previous
// (possibly half-finished) build is an operator decision, not ours.
func (l WorkspaceLayout) Prepare() error {
	if isNested(l.BuildDir, l.SourceDir) || isNested(l.SourceDir, l.BuildDir) {
		return fmt.Errorf("%w: build=%s source=%s", ErrWorkspaceNested, l.BuildDir, l.SourceDir)
	}

	for _, dir := range []string{l.BuildDir, l.SourceDir} {
		if _, err := os.Stat(dir); err == nil {
			return fmt.Errorf("%w: %s (remove it to rebuild)", ErrWorkspaceExists, dir)
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat %s: %w", dir, err)
		}
	}

	for _, dir := range []string{l.InstallDir, l.BuildDir, l.SourceDir, l.CacheDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create dir %s: %w", dir, err)
		}
	}
	return nil
}

// isNested reports whether child lives underneath parent (or is parent).
func isNested(child, parent string) bool {
	child = filepath.Clean(child)
	parent = filepath.Clean(parent)
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(os.PathSeparator))
}
