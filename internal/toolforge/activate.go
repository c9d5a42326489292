package toolforge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const activationFileName = "activate"

// activationExports lists the published variables and the install-dir
// subpaths prepended onto them, in the order they appear in the script.
var activationExports = []struct {
	Name    string
	Subdirs []string
}{
	{"PATH", []string{"bin"}},
	{"LD_LIBRARY_PATH", []string{"lib", "lib64"}},
	{"MANPATH", []string{"share/man"}},
	{"INFOPATH", []string{"share/info"}},
}

// RenderActivation returns the shell snippet that brings the installed
// toolchain into a session. Each export prepends onto any pre-existing
// value. Pure templating: the pipeline never reads this back.
func RenderActivation(installDir string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Generated by toolforge %s on %s.\n", version, time.Now().Format("2006-01-02"))
	fmt.Fprintf(&b, "# Source this file to use the toolchain in %s.\n", installDir)
	for _, e := range activationExports {
		paths := make([]string, len(e.Subdirs))
		for i, sub := range e.Subdirs {
			paths[i] = filepath.Join(installDir, sub)
		}
		value := strings.Join(paths, ":")
		fmt.Fprintf(&b, "export %s=\"%s${%s:+:$%s}\"\n", e.Name, value, e.Name, e.Name)
	}
	return b.String()
}

// PublishActivation writes the activation script into the install
// directory and returns its path.
func PublishActivation(installDir string) (string, error) {
	path := filepath.Join(installDir, activationFileName)
	if err := os.WriteFile(path, []byte(RenderActivation(installDir)), 0o644); err != nil {
		return "", fmt.Errorf("failed to write activation script: %w", err)
	}
	return path, nil
}

// writeMetadata records what was built and from which artifacts, next to
// the activation script.
func writeMetadata(t *BuildTarget, digests map[string]string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "name %s\n", t.Name)
	fmt.Fprintf(&b, "version %s %s\n", t.Version, t.Revision)
	fmt.Fprintf(&b, "arch %s\n", arch)
	fmt.Fprintf(&b, "date %s\n", time.Now().UTC().Format(time.RFC3339))
	for _, a := range t.Artifacts {
		fmt.Fprintf(&b, "artifact %s b3:%s\n", a.Filename, digests[a.Filename])
	}

	path := filepath.Join(t.Layout.InstallDir, "meta")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}
