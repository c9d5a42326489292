package toolforge

import (
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
)

// Driver invokes the wrapped build system's configure, compile, and install
// steps as opaque subprocesses. A non-zero exit from any step is fatal for
// that stage; the driver never retries and never cleans up after a failure.
type Driver struct {
	Exec *Executor
	Env  *SanitizedEnvironment
	Log  io.Writer

	// ConfigureProgram overrides the configure entry point (the source
	// tree's ./configure, or cmake when the target says so). Used by tests
	// to substitute stub tools.
	ConfigureProgram string
	// MakeProgram overrides the build tool (default "make").
	MakeProgram string
}

// Configure runs the configure step inside buildDir. Option order is
// passed through exactly as given: for autoconf and cmake alike, later
// flags may override earlier ones.
func (d *Driver) Configure(sourceDir, buildDir string, options []string, useCMake bool) error {
	prog := d.ConfigureProgram
	args := options
	if prog == "" {
		if useCMake {
			prog = "cmake"
			args = append([]string{sourceDir}, options...)
		} else {
			prog = filepath.Join(sourceDir, "configure")
		}
	}
	return d.run(buildDir, prog, args)
}

// Compile runs the build tool with the target's make flags. Parallelism is
// whatever the flags say (-jN); the driver does no scheduling of its own.
func (d *Driver) Compile(buildDir string, flags []string) error {
	return d.run(buildDir, d.makeProgram(), flags)
}

// Install runs the build tool's install step.
func (d *Driver) Install(buildDir string) error {
	return d.run(buildDir, d.makeProgram(), []string{"install"})
}

func (d *Driver) makeProgram() string {
	if d.MakeProgram != "" {
		return d.MakeProgram
	}
	return "make"
}

func (d *Driver) run(dir, prog string, args []string) error {
	cmd := exec.Command(prog, args...)
	cmd.Dir = dir
	cmd.Env = d.Env.Slice()
	cmd.Stdout = d.Log
	cmd.Stderr = d.Log

	debugf("Running in %s: %s %s\n", dir, prog, strings.Join(args, " "))
	if err := d.Exec.Run(cmd); err != nil {
		return fmt.Errorf("%s failed: %w", filepath.Base(prog), err)
	}
	return nil
}
