package toolforge

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureSudo_NoopWithoutRootRequirement(t *testing.T) {
	e := &Executor{Context: context.Background(), ShouldRunAsRoot: false}
	if err := e.ensureSudo(); err != nil {
		t.Fatalf("ensureSudo should be a no-op for unprivileged executors: %v", err)
	}
}

func TestNeedsRoot(t *testing.T) {
	base := t.TempDir()

	if needsRoot(base) {
		t.Errorf("needsRoot(%s) = true for a writable dir", base)
	}
	// Nonexistent paths fall back to the first existing ancestor.
	if needsRoot(filepath.Join(base, "not", "yet", "created")) {
		t.Errorf("needsRoot = true for a path under a writable ancestor")
	}

	if os.Geteuid() == 0 {
		t.Skip("root can write anywhere")
	}
	locked := filepath.Join(base, "locked")
	if err := os.Mkdir(locked, 0o555); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if !needsRoot(filepath.Join(locked, "toolchains")) {
		t.Errorf("needsRoot = false for a path under a read-only ancestor")
	}
}

func TestInstallExecutor_ElevatesForUnwritableInstallRoot(t *testing.T) {
	defer func(u, r *Executor, root string) {
		UserExec, RootExec, InstallRoot = u, r, root
	}(UserExec, RootExec, InstallRoot)
	UserExec = &Executor{Context: context.Background()}
	RootExec = &Executor{Context: context.Background(), ShouldRunAsRoot: true}

	base := t.TempDir()
	InstallRoot = filepath.Join(base, "toolchains")
	if got := installExecutor(); got != UserExec {
		t.Errorf("writable install root should use the unprivileged executor")
	}

	if os.Geteuid() == 0 {
		t.Skip("root can write anywhere")
	}
	locked := filepath.Join(base, "locked")
	if err := os.Mkdir(locked, 0o555); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	InstallRoot = filepath.Join(locked, "toolchains")
	if got := installExecutor(); got != RootExec {
		t.Errorf("unwritable install root should use the elevating executor")
	}
}
