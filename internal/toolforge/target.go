package toolforge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ArtifactDescriptor is one downloadable source unit of a target.
type ArtifactDescriptor struct {
	URL      string
	Filename string
	// RelocateTo, when set, is the subdirectory of the primary source tree
	// the extracted archive is moved into (in-source dependency layout,
	// e.g. clang into tools/clang of the llvm tree).
	RelocateTo string
}

// BuildTarget is the immutable per-invocation description of one toolchain
// build, assembled from a target definition directory.
type BuildTarget struct {
	Name             string
	Version          string
	Revision         string
	Dir              string
	Artifacts        []ArtifactDescriptor
	ConfigureOptions []string
	MakeFlags        []string
	Options          map[string]bool
	CCPrefix         string
	Jobs             int
	Layout           WorkspaceLayout
}

// findTargetDir searches every repository in TOOLFORGE_PATH for the named
// target definition directory.
func findTargetDir(name string) (string, error) {
	for _, repo := range strings.Split(repoPaths, ":") {
		if repo == "" {
			continue
		}
		tryPath := filepath.Join(repo, name)
		if info, err := os.Stat(tryPath); err == nil && info.IsDir() {
			return tryPath, nil
		}
	}
	return "", fmt.Errorf("%w: %s (searched TOOLFORGE_PATH=%s)", errTargetNotFound, name, repoPaths)
}

// loadTargetOptions reads the consolidated 'options' file (one flag per line).
func loadTargetOptions(targetDir string) map[string]bool {
	options := make(map[string]bool)
	data, err := os.ReadFile(filepath.Join(targetDir, "options"))
	if err != nil {
		return options
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		options[line] = true
	}
	return options
}

// loadTarget assembles a BuildTarget from its definition directory and the
// global configuration. The returned value is not modified afterwards.
func loadTarget(name string, cfg *Config) (*BuildTarget, error) {
	targetDir, err := findTargetDir(name)
	if err != nil {
		return nil, err
	}

	versionData, err := os.ReadFile(filepath.Join(targetDir, "version"))
	if err != nil {
		return nil, fmt.Errorf("failed to read version file: %v", err)
	}
	fields := strings.Fields(string(versionData))
	if len(fields) == 0 {
		return nil, fmt.Errorf("version file for %s is empty", name)
	}
	version := fields[0]
	revision := "1"
	if len(fields) >= 2 {
		revision = fields[1]
	}

	options := loadTargetOptions(targetDir)

	t := &BuildTarget{
		Name:     name,
		Version:  version,
		Revision: revision,
		Dir:      targetDir,
		Options:  options,
		CCPrefix: ccPrefix,
	}

	// Per-target compiler prefix overrides the global one.
	if data, err := os.ReadFile(filepath.Join(targetDir, "ccprefix")); err == nil {
		if p := strings.TrimSpace(string(data)); p != "" {
			t.CCPrefix = p
		}
	}

	t.Jobs = defaultJobs
	if options["idle"] {
		t.Jobs = max(defaultJobs/2, 1)
		debugf("Idle mode enabled for %s. Using %d jobs.\n", name, t.Jobs)
	}

	slug := fmt.Sprintf("%s-%s", name, version)
	t.Layout = WorkspaceLayout{
		InstallDir: filepath.Join(InstallRoot, slug),
		BuildDir:   filepath.Join(BuildRoot, slug),
		SourceDir:  filepath.Join(SourceRoot, slug),
		CacheDir:   CacheStore,
	}

	if t.Artifacts, err = parseSources(targetDir); err != nil {
		return nil, err
	}
	if len(t.Artifacts) == 0 {
		return nil, fmt.Errorf("sources file for %s lists no artifacts", name)
	}

	if t.ConfigureOptions, err = parseConfigureOptions(targetDir, t); err != nil {
		return nil, err
	}

	t.MakeFlags = parseMakeFlags(targetDir, t)

	return t, nil
}

// parseSources reads the 'sources' file: one artifact per line, the URL
// optionally followed by the in-source relocation subdirectory.
func parseSources(targetDir string) ([]ArtifactDescriptor, error) {
	data, err := os.ReadFile(filepath.Join(targetDir, "sources"))
	if err != nil {
		return nil, fmt.Errorf("could not read sources file: %v", err)
	}

	var artifacts []ArtifactDescriptor
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		rawURL := fields[0]
		parts := strings.Split(rawURL, "/")
		a := ArtifactDescriptor{
			URL:      rawURL,
			Filename: parts[len(parts)-1],
		}
		if a.Filename == "" {
			return nil, fmt.Errorf("source URL %q has no filename component", rawURL)
		}
		if len(fields) >= 2 {
			a.RelocateTo = fields[1]
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, nil
}

// parseConfigureOptions reads the 'configure' file: one option per line in
// the order the wrapped build system expects. Later options may override
// earlier ones for some tools, so the order is preserved exactly.
func parseConfigureOptions(targetDir string, t *BuildTarget) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(targetDir, "configure"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("could not read configure file: %v", err)
	}

	var options []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		options = append(options, expandPlaceholders(line, t))
	}
	return options, nil
}

// parseMakeFlags reads 'make_flags' (whitespace-separated tokens); the
// default is the job-count flag alone.
func parseMakeFlags(targetDir string, t *BuildTarget) []string {
	data, err := os.ReadFile(filepath.Join(targetDir, "make_flags"))
	if err != nil {
		return []string{fmt.Sprintf("-j%d", t.Jobs)}
	}
	var flags []string
	for _, tok := range strings.Fields(string(data)) {
		flags = append(flags, expandPlaceholders(tok, t))
	}
	if len(flags) == 0 {
		return []string{fmt.Sprintf("-j%d", t.Jobs)}
	}
	return flags
}

// expandPlaceholders substitutes the workspace paths and job count into a
// configure option or make flag. Pure string templating, no shell involved.
func expandPlaceholders(s string, t *BuildTarget) string {
	r := strings.NewReplacer(
		"@PREFIX@", t.Layout.InstallDir,
		"@SOURCE@", t.Layout.SourceDir,
		"@BUILD@", t.Layout.BuildDir,
		"@JOBS@", fmt.Sprintf("%d", t.Jobs),
	)
	return r.Replace(s)
}
