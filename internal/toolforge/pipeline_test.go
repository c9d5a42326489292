package toolforge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// servedArchives builds the demo tarballs and serves them over HTTP.
func servedArchives(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	makeTarGz(t, filepath.Join(dir, "demo-1.0.tar.gz"), []tarEntry{
		{name: "demo-1.0/", mode: 0o755, isDir: true},
		{name: "demo-1.0/README", content: "demo\n", mode: 0o644},
		{name: "demo-1.0/tools/", mode: 0o755, isDir: true},
	})
	makeTarGz(t, filepath.Join(dir, "addon-1.0.tar.gz"), []tarEntry{
		{name: "addon-1.0/", mode: 0o755, isDir: true},
		{name: "addon-1.0/addon.txt", content: "addon\n", mode: 0o644},
	})
	srv := httptest.NewServer(http.FileServer(http.Dir(dir)))
	t.Cleanup(srv.Close)
	return srv
}

func demoPipeline(t *testing.T, makeScript string, extraFiles map[string]string) (*Pipeline, *BuildTarget) {
	t.Helper()
	cfg, repo := setupTestConfig(t)
	srv := servedArchives(t)

	files := map[string]string{
		"version": "1.0\n",
		"sources": srv.URL + "/demo-1.0.tar.gz\n" +
			srv.URL + "/addon-1.0.tar.gz tools/addon\n",
		"configure": "--prefix=@PREFIX@\n",
	}
	for name, content := range extraFiles {
		files[name] = content
	}
	writeTarget(t, repo, "demo", files)

	tgt, err := loadTarget("demo", cfg)
	if err != nil {
		t.Fatalf("loadTarget: %v", err)
	}

	tools := t.TempDir()
	driver := &Driver{
		ConfigureProgram: stubTool(t, tools, "configure", "exit 0"),
		MakeProgram:      stubTool(t, tools, "make", makeScript),
	}
	p := &Pipeline{
		Target: tgt,
		Exec:   &Executor{Context: context.Background()},
		Driver: driver,
		Quiet:  true,
	}
	return p, tgt
}

func TestPipeline_EndToEndSuccess(t *testing.T) {
	p, tgt := demoPipeline(t, "exit 0", nil)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}

	// Primary tree extracted into the source dir.
	if _, err := os.Stat(filepath.Join(tgt.Layout.SourceDir, "README")); err != nil {
		t.Fatalf("primary source tree missing: %v", err)
	}
	// Subproject relocated to its in-source location.
	if _, err := os.Stat(filepath.Join(tgt.Layout.SourceDir, "tools", "addon", "addon.txt")); err != nil {
		t.Fatalf("relocated subproject missing: %v", err)
	}

	// Activation script published and referencing the install tree.
	data, err := os.ReadFile(filepath.Join(tgt.Layout.InstallDir, activationFileName))
	if err != nil {
		t.Fatalf("activation script missing: %v", err)
	}
	if !strings.Contains(string(data), "demo-1.0") {
		t.Fatalf("activation script does not reference demo-1.0:\n%s", data)
	}

	// Metadata records the artifacts with their digests.
	meta, err := os.ReadFile(filepath.Join(tgt.Layout.InstallDir, "meta"))
	if err != nil {
		t.Fatalf("metadata missing: %v", err)
	}
	if !strings.Contains(string(meta), "artifact demo-1.0.tar.gz b3:") {
		t.Fatalf("metadata missing artifact digest:\n%s", meta)
	}

	// Build log archived into the install dir.
	if _, err := os.Stat(filepath.Join(tgt.Layout.InstallDir, "log.xz")); err != nil {
		t.Fatalf("archived build log missing: %v", err)
	}
}

func TestPipeline_SecondRunRefusesDirtyWorkspace(t *testing.T) {
	p, _ := demoPipeline(t, "exit 0", nil)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	err := p.Run(context.Background())
	if !errors.Is(err, ErrWorkspaceExists) {
		t.Fatalf("expected ErrWorkspaceExists on rerun, got %v", err)
	}
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageWorkspace {
		t.Fatalf("expected workspace stage attribution, got %v", err)
	}
}

func TestPipeline_CompileFailureHaltsBeforeInstall(t *testing.T) {
	// The stub succeeds for "install" but fails the plain compile run, so
	// reaching install at all would succeed and betray a sequencing bug.
	p, tgt := demoPipeline(t, `if [ "$1" = "install" ]; then exit 0; fi; echo partial > out.o; exit 1`, nil)

	err := p.Run(context.Background())
	if err == nil {
		t.Fatalf("expected pipeline failure")
	}
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageCompile {
		t.Fatalf("expected compile stage failure, got %v", err)
	}

	// No activation script or metadata after a failed build.
	if _, err := os.Stat(filepath.Join(tgt.Layout.InstallDir, activationFileName)); !os.IsNotExist(err) {
		t.Fatalf("activation script published despite failure")
	}
	if _, err := os.Stat(filepath.Join(tgt.Layout.InstallDir, "meta")); !os.IsNotExist(err) {
		t.Fatalf("metadata written despite failure")
	}

	// Partial build output stays in place for inspection.
	if _, err := os.Stat(filepath.Join(tgt.Layout.BuildDir, "out.o")); err != nil {
		t.Fatalf("partial build output was cleaned up: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tgt.Layout.BuildDir, "build.log")); err != nil {
		t.Fatalf("build log missing after failure: %v", err)
	}
}

func TestPipeline_InSourceOptionBuildsInSourceTree(t *testing.T) {
	p, tgt := demoPipeline(t, "pwd > built-here; exit 0", map[string]string{
		"options": "in-source\n",
	})

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(tgt.Layout.SourceDir, "built-here"))
	if err != nil {
		t.Fatalf("build did not run in the source tree: %v", err)
	}
	if strings.TrimSpace(string(data)) != tgt.Layout.SourceDir {
		t.Errorf("build ran in %q, want %q", strings.TrimSpace(string(data)), tgt.Layout.SourceDir)
	}
}

func TestPipeline_ConfigureFailureStopsPipeline(t *testing.T) {
	p, tgt := demoPipeline(t, "echo should-not-run > compiled; exit 0", nil)
	p.Driver.ConfigureProgram = stubTool(t, t.TempDir(), "configure", "exit 1")

	err := p.Run(context.Background())
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageConfigure {
		t.Fatalf("expected configure stage failure, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(tgt.Layout.BuildDir, "compiled")); !os.IsNotExist(err) {
		t.Fatalf("compile ran after configure failure")
	}
}
