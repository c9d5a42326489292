package toolforge

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func testLayout(t *testing.T) WorkspaceLayout {
	t.Helper()
	base := t.TempDir()
	return WorkspaceLayout{
		InstallDir: filepath.Join(base, "install", "demo-1.0"),
		BuildDir:   filepath.Join(base, "build", "demo-1.0"),
		SourceDir:  filepath.Join(base, "source", "demo-1.0"),
		CacheDir:   filepath.Join(base, "cache"),
	}
}

func TestPrepare_CreatesAllDirectories(t *testing.T) {
	l := testLayout(t)
	if err := l.Prepare(); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	for _, dir := range []string{l.InstallDir, l.BuildDir, l.SourceDir, l.CacheDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s, err=%v", dir, err)
		}
	}
}

func TestPrepare_RefusesExistingBuildDir(t *testing.T) {
	l := testLayout(t)
	if err := l.Prepare(); err != nil {
		t.Fatalf("first Prepare: %v", err)
	}
	err := l.Prepare()
	if !errors.Is(err, ErrWorkspaceExists) {
		t.Fatalf("expected ErrWorkspaceExists, got %v", err)
	}
}

func TestPrepare_RefusesExistingSourceDir(t *testing.T) {
	l := testLayout(t)
	if err := os.MkdirAll(l.SourceDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := l.Prepare(); !errors.Is(err, ErrWorkspaceExists) {
		t.Fatalf("expected ErrWorkspaceExists, got %v", err)
	}
}

func TestPrepare_RefusesNestedBuildAndSource(t *testing.T) {
	base := t.TempDir()
	l := WorkspaceLayout{
		InstallDir: filepath.Join(base, "install"),
		BuildDir:   filepath.Join(base, "work"),
		SourceDir:  filepath.Join(base, "work", "src"),
		CacheDir:   filepath.Join(base, "cache"),
	}
	if err := l.Prepare(); !errors.Is(err, ErrWorkspaceNested) {
		t.Fatalf("expected ErrWorkspaceNested, got %v", err)
	}

	// And the other way around.
	l.BuildDir, l.SourceDir = l.SourceDir, l.BuildDir
	if err := l.Prepare(); !errors.Is(err, ErrWorkspaceNested) {
		t.Fatalf("expected ErrWorkspaceNested (swapped), got %v", err)
	}
}

func TestIsNested(t *testing.T) {
	cases := []struct {
		child, parent string
		want          bool
	}{
		{"/a/b", "/a", true},
		{"/a", "/a", true},
		{"/a/b", "/a/bc", false},
		{"/x", "/a", false},
	}
	for _, c := range cases {
		if got := isNested(c.child, c.parent); got != c.want {
			t.Fatalf("isNested(%q, %q) = %v, want %v", c.child, c.parent, got, c.want)
		}
	}
}
