package toolforge

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// setupTestConfig points every global root at a fresh temp tree and returns
// the config plus the repository directory targets are defined in.
func setupTestConfig(t *testing.T) (*Config, string) {
	t.Helper()
	base := t.TempDir()
	repo := filepath.Join(base, "repo")
	if err := os.MkdirAll(repo, 0o755); err != nil {
		t.Fatalf("mkdir repo: %v", err)
	}
	cfg := &Config{Values: map[string]string{
		"TOOLFORGE_INSTALL_ROOT": filepath.Join(base, "install"),
		"TOOLFORGE_BUILD_ROOT":   filepath.Join(base, "build"),
		"TOOLFORGE_SOURCE_ROOT":  filepath.Join(base, "source"),
		"TOOLFORGE_CACHE_DIR":    filepath.Join(base, "cache"),
		"TOOLFORGE_PATH":         repo,
		"TOOLFORGE_JOBS":         "4",
	}}
	initConfig(cfg)
	return cfg, repo
}

// writeTarget lays down a target definition directory.
func writeTarget(t *testing.T, repo, name string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(repo, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir target: %v", err)
	}
	for file, content := range files {
		if err := os.WriteFile(filepath.Join(dir, file), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", file, err)
		}
	}
	return dir
}

func TestLoadTarget_ParsesDefinition(t *testing.T) {
	cfg, repo := setupTestConfig(t)
	writeTarget(t, repo, "llvm", map[string]string{
		"version": "8.0.0 2\n",
		"sources": `# primary tree first
https://releases.example.org/8.0.0/llvm-8.0.0.tar.xz
https://releases.example.org/8.0.0/cfe-8.0.0.tar.xz tools/clang
`,
		"configure": `--prefix=@PREFIX@
-DCMAKE_BUILD_TYPE=Release
-DLLVM_PARALLEL_LINK_JOBS=@JOBS@
`,
		"make_flags": "-j@JOBS@ VERBOSE=1\n",
		"options":    "cmake\n",
	})

	tgt, err := loadTarget("llvm", cfg)
	if err != nil {
		t.Fatalf("loadTarget: %v", err)
	}
	if tgt.Version != "8.0.0" || tgt.Revision != "2" {
		t.Fatalf("unexpected version/revision: %s/%s", tgt.Version, tgt.Revision)
	}
	if len(tgt.Artifacts) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(tgt.Artifacts))
	}
	if tgt.Artifacts[0].Filename != "llvm-8.0.0.tar.xz" || tgt.Artifacts[0].RelocateTo != "" {
		t.Fatalf("unexpected primary artifact: %+v", tgt.Artifacts[0])
	}
	if tgt.Artifacts[1].RelocateTo != "tools/clang" {
		t.Fatalf("expected relocation for clang, got %+v", tgt.Artifacts[1])
	}
	if !tgt.Options["cmake"] {
		t.Fatalf("expected cmake option to be set")
	}

	wantOpts := []string{
		"--prefix=" + tgt.Layout.InstallDir,
		"-DCMAKE_BUILD_TYPE=Release",
		"-DLLVM_PARALLEL_LINK_JOBS=4",
	}
	if len(tgt.ConfigureOptions) != len(wantOpts) {
		t.Fatalf("unexpected configure options: %v", tgt.ConfigureOptions)
	}
	for i, want := range wantOpts {
		if tgt.ConfigureOptions[i] != want {
			t.Fatalf("configure option %d: got %q want %q", i, tgt.ConfigureOptions[i], want)
		}
	}

	if len(tgt.MakeFlags) != 2 || tgt.MakeFlags[0] != "-j4" || tgt.MakeFlags[1] != "VERBOSE=1" {
		t.Fatalf("unexpected make flags: %v", tgt.MakeFlags)
	}

	if filepath.Base(tgt.Layout.BuildDir) != "llvm-8.0.0" {
		t.Fatalf("unexpected build dir: %s", tgt.Layout.BuildDir)
	}
}

func TestLoadTarget_DefaultsWithoutOptionalFiles(t *testing.T) {
	cfg, repo := setupTestConfig(t)
	writeTarget(t, repo, "demo", map[string]string{
		"version": "1.0\n",
		"sources": "https://example.org/demo-1.0.tar.gz\n",
	})

	tgt, err := loadTarget("demo", cfg)
	if err != nil {
		t.Fatalf("loadTarget: %v", err)
	}
	if tgt.Revision != "1" {
		t.Fatalf("expected default revision 1, got %s", tgt.Revision)
	}
	if len(tgt.ConfigureOptions) != 0 {
		t.Fatalf("expected no configure options, got %v", tgt.ConfigureOptions)
	}
	if len(tgt.MakeFlags) != 1 || tgt.MakeFlags[0] != "-j4" {
		t.Fatalf("expected default -j4, got %v", tgt.MakeFlags)
	}
}

func TestLoadTarget_NotFound(t *testing.T) {
	cfg, _ := setupTestConfig(t)
	if _, err := loadTarget("nonexistent", cfg); !errors.Is(err, errTargetNotFound) {
		t.Fatalf("expected errTargetNotFound, got %v", err)
	}
}

func TestLoadTarget_EmptyVersionFile(t *testing.T) {
	cfg, repo := setupTestConfig(t)
	writeTarget(t, repo, "empty", map[string]string{
		"version": "\n",
		"sources": "https://example.org/empty-1.0.tar.gz\n",
	})
	if _, err := loadTarget("empty", cfg); err == nil {
		t.Fatalf("expected error for empty version file")
	}
}

func TestLoadTarget_IdleHalvesJobs(t *testing.T) {
	cfg, repo := setupTestConfig(t)
	writeTarget(t, repo, "emacs", map[string]string{
		"version": "29.4\n",
		"sources": "https://ftp.gnu.org/gnu/emacs/emacs-29.4.tar.xz\n",
		"options": "idle\n",
	})
	tgt, err := loadTarget("emacs", cfg)
	if err != nil {
		t.Fatalf("loadTarget: %v", err)
	}
	if tgt.Jobs != 2 {
		t.Fatalf("expected idle to halve jobs to 2, got %d", tgt.Jobs)
	}
}

func TestExpandPlaceholders(t *testing.T) {
	tgt := &BuildTarget{
		Jobs: 8,
		Layout: WorkspaceLayout{
			InstallDir: "/opt/x",
			BuildDir:   "/b",
			SourceDir:  "/s",
		},
	}
	got := expandPlaceholders("--prefix=@PREFIX@ --src=@SOURCE@ --bld=@BUILD@ -j@JOBS@", tgt)
	want := "--prefix=/opt/x --src=/s --bld=/b -j8"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
