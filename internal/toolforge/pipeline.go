package toolforge

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ulikunitz/xz"
)

// Pipeline runs the full fetch -> unpack -> build -> publish sequence for
// one target. Stages are strictly sequential and fail-fast: the first
// error aborts the run, and whatever is on disk at that point stays there
// for the operator to inspect.
type Pipeline struct {
	Target *BuildTarget
	Exec   *Executor
	// Driver overrides the build-tool entry points; tests use this to
	// substitute stubs. When nil a default Driver is used.
	Driver *Driver
	Quiet  bool
}

func (p *Pipeline) phase(format string, a ...any) {
	if p.Quiet {
		return
	}
	colArrow.Print("-> ")
	colSuccess.Printf(format+"\n", a...)
}

// Run executes the pipeline. The returned error, if any, is a *StageError
// identifying the phase that failed.
func (p *Pipeline) Run(ctx context.Context) error {
	t := p.Target
	startTime := time.Now()

	p.phase("Building %s %s", t.Name, t.Version)

	// --- Workspace ---
	p.phase("Preparing workspace under %s", t.Layout.BuildDir)
	if err := t.Layout.Prepare(); err != nil {
		return stageErr(StageWorkspace, err)
	}

	// Every stage from here on tees its output into the build log.
	logPath := filepath.Join(t.Layout.BuildDir, "build.log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return stageErr(StageWorkspace, fmt.Errorf("failed to create build log: %w", err))
	}
	defer logFile.Close()

	var logWriter io.Writer = logFile
	if !p.Quiet {
		logWriter = io.MultiWriter(logFile, os.Stdout)
	}

	// --- Fetch ---
	p.phase("Fetching %d artifact(s)", len(t.Artifacts))
	paths, err := fetchArtifacts(t, p.Quiet)
	if err != nil {
		return stageErr(StageFetch, err)
	}

	digests := make(map[string]string, len(paths))
	for i, path := range paths {
		sum, err := fileDigest(path)
		if err != nil {
			return stageErr(StageFetch, fmt.Errorf("failed to digest %s: %w", path, err))
		}
		digests[t.Artifacts[i].Filename] = sum
		fmt.Fprintf(logFile, "artifact %s b3:%s\n", t.Artifacts[i].Filename, sum)
	}

	// --- Unpack ---
	p.phase("Unpacking sources into %s", t.Layout.SourceDir)
	for i, a := range t.Artifacts {
		if i == 0 || a.RelocateTo == "" {
			// Primary tree, or an overlay extracted straight into it.
			if err := Unpack(paths[i], t.Layout.SourceDir); err != nil {
				return stageErr(StageUnpack, err)
			}
			continue
		}
		// Subproject: extract into a staging dir, then move it to the
		// in-source location the primary tree's build system expects.
		staging, err := os.MkdirTemp(t.Layout.BuildDir, "stage-")
		if err != nil {
			return stageErr(StageUnpack, fmt.Errorf("failed to create staging dir: %w", err))
		}
		if err := Unpack(paths[i], staging); err != nil {
			return stageErr(StageUnpack, err)
		}
		if err := Relocate(staging, filepath.Join(t.Layout.SourceDir, a.RelocateTo)); err != nil {
			return stageErr(StageUnpack, err)
		}
	}

	// --- Sanitize ---
	env := Sanitize(nil, compilerWhitelist(t.CCPrefix))
	if t.CCPrefix != "" {
		p.phase("Using custom compiler prefix %s", t.CCPrefix)
	}

	buildExec := &Executor{
		Context:           ctx,
		ApplyIdlePriority: t.Options["idle"],
	}

	driver := p.Driver
	if driver == nil {
		driver = &Driver{}
	}
	driver.Exec = buildExec
	driver.Env = env
	driver.Log = logWriter

	// --- Configure / Compile / Install ---
	// Some build systems (older Emacs, gcc without a separate objdir) only
	// work in-tree; the in-source option runs every build step in the
	// source dir instead of the build dir.
	workDir := t.Layout.BuildDir
	if t.Options["in-source"] {
		workDir = t.Layout.SourceDir
	}

	p.phase("Configuring %s", t.Name)
	if err := driver.Configure(t.Layout.SourceDir, workDir, t.ConfigureOptions, t.Options["cmake"]); err != nil {
		return stageErr(StageConfigure, err)
	}

	p.phase("Compiling %s (%d jobs)", t.Name, t.Jobs)
	if err := driver.Compile(workDir, t.MakeFlags); err != nil {
		return stageErr(StageCompile, err)
	}

	p.phase("Installing %s into %s", t.Name, t.Layout.InstallDir)
	isCriticalAtomic.Store(1)
	defer isCriticalAtomic.Store(0)
	// Configure and compile always ran unprivileged; only the install
	// step inherits the pipeline executor's elevation.
	driver.Exec = &Executor{
		Context:           ctx,
		ShouldRunAsRoot:   p.Exec.ShouldRunAsRoot,
		ApplyIdlePriority: t.Options["idle"],
	}
	if err := driver.Install(workDir); err != nil {
		return stageErr(StageInstall, err)
	}

	// --- Publish ---
	actPath, err := PublishActivation(t.Layout.InstallDir)
	if err != nil {
		return stageErr(StagePublish, err)
	}
	if err := writeMetadata(t, digests); err != nil {
		return stageErr(StagePublish, err)
	}

	// Archive the build log next to the install tree. Best effort: a
	// finished toolchain with a missing log is not a failure.
	logFile.Close()
	if err := compressLogXZ(logPath, filepath.Join(t.Layout.InstallDir, "log.xz")); err != nil {
		debugf("Warning: failed to archive build log: %v\n", err)
	}

	p.phase("Built %s %s in %s", t.Name, t.Version, time.Since(startTime).Round(time.Second))
	p.phase("Activate with: . %s", actPath)
	return nil
}

// compressLogXZ compresses a build log into the install directory.
func compressLogXZ(srcPath, destPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer dest.Close()

	xzWriter, err := xz.NewWriter(dest)
	if err != nil {
		return err
	}
	defer xzWriter.Close()

	_, err = io.Copy(xzWriter, src)
	return err
}
