package toolforge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/gookit/color"
	"github.com/ulikunitz/xz"
)

// printHelp prints the commands table
func printHelp() {
	colSuccess.Println("Usage: toolforge <command> [arguments]")
	fmt.Println()
	colInfo.Println("Available Commands:")

	type cmdInfo struct {
		Cmd  string
		Args string
		Desc string
	}
	cmds := []cmdInfo{
		{"version, --version", "", "Version information"},
		{"build, b", "<target>...", "Run the full build pipeline for target(s)"},
		{"fetch, f", "<target>...", "Download source artifacts into the cache"},
		{"targets, ls", "", "List available target definitions"},
		{"show", "<target>", "Show the resolved build record for a target"},
		{"new, n", "<target>", "Create a new target definition skeleton"},
		{"log", "<target>", "View the archived build log of an installed target"},
		{"upload", "[-list] [target]", "Upload an install-tree snapshot to the mirror"},
	}

	// --- Dynamic Padding Logic ---
	// Find the longest usage string to calculate the width of the first column.
	maxLen := 0
	for _, c := range cmds {
		length := len(c.Cmd) + len(c.Args)
		if c.Args != "" {
			length++ // Account for the space
		}
		if length > maxLen {
			maxLen = length
		}
	}
	columnWidth := maxLen + 4

	for _, c := range cmds {
		var usageString string
		if c.Args != "" {
			usageString = fmt.Sprintf("  %s %s", c.Cmd, c.Args)
		} else {
			usageString = fmt.Sprintf("  %s", c.Cmd)
		}

		fmt.Print("  ")
		color.Bold.Print(c.Cmd)
		if c.Args != "" {
			fmt.Print(" ")
			color.Cyan.Print(c.Args)
		}

		pad := columnWidth - len(usageString)
		if pad < 1 {
			pad = 1
		}
		fmt.Print(strings.Repeat(" ", pad))
		colInfo.Println(c.Desc)
	}

	fmt.Println()
}

// fail prints the stage-aware failure banner and exits non-zero.
func fail(err error) {
	colArrow.Print("-> ")
	var se *StageError
	if errors.As(err, &se) {
		colError.Printf("Pipeline failed during the %s phase: %v\n", se.Stage, se.Err)
	} else {
		colError.Printf("Error: %v\n", err)
	}
	os.Exit(1)
}

// Main is the CLI entrypoint for cmd/toolforge.
func Main() {
	// 1. CONTEXT AND SIGNAL SETUP
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	// 2. SIGNAL HANDLING GOROUTINE
	go func() {
		for {
			select {
			case sig := <-sigs:
				if isCriticalAtomic.Load() == 1 {
					// --- CRITICAL PHASE: Block 1st signal, force exit on 2nd ---
					colArrow.Print("\n-> ")
					colError.Printf("Install in progress. Press Ctrl+C AGAIN to force exit NOW.\n")

					select {
					case <-sigs:
						colArrow.Print("\n-> ")
						colError.Printf("Forced immediate exit.")
						os.Exit(130) // Common exit code for SIGINT
					case <-time.After(5 * time.Second):
						continue
					case <-ctx.Done():
						return
					}
				} else {
					// --- NON-CRITICAL PHASE: Graceful Cancellation ---
					colArrow.Print("\n-> ")
					color.Danger.Printf("Received %v. Cancelling process gracefully\n", sig)
					cancel()

					// Give the command a moment to die and flush its buffers
					time.Sleep(100 * time.Millisecond)

					select {
					case <-sigs:
						colArrow.Print("\n-> ")
						color.Danger.Printf("Second interrupt received. Forcing immediate exit.")
						os.Exit(130)
					case <-time.After(2 * time.Second):
						colArrow.Print("\n-> ")
						color.Danger.Printf("Graceful shutdown timeout. Exiting.")
						os.Exit(1)
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	// 3. MAIN LOGIC EXECUTION
	if ctx.Err() != nil {
		return
	}

	if len(os.Args) < 2 {
		printHelp()
		return
	}

	configPath := ConfigFile
	if conf := os.Getenv("TOOLFORGE_CONF"); conf != "" {
		configPath = conf
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to read %s: %v\n", configPath, err)
	}
	initConfig(cfg)

	// 4. INITIALIZE EXECUTORS
	UserExec = &Executor{
		Context:         ctx,
		ShouldRunAsRoot: false,
	}
	RootExec = &Executor{
		Context:         ctx,
		ShouldRunAsRoot: true,
	}

	// 5. MAIN LOGIC
	switch os.Args[1] {
	case "version", "--version":
		fmt.Printf("toolforge %s (%s, built %s)\n", version, arch, buildDate)

	case "build", "b":
		if len(os.Args) < 3 {
			fmt.Println("Usage: toolforge build <target>...")
			os.Exit(1)
		}
		for _, name := range os.Args[2:] {
			t, err := loadTarget(name, cfg)
			if err != nil {
				fail(err)
			}
			p := &Pipeline{Target: t, Exec: installExecutor()}
			if err := p.Run(ctx); err != nil {
				fail(err)
			}
		}

	case "fetch", "f":
		if len(os.Args) < 3 {
			fmt.Println("Usage: toolforge fetch <target>...")
			os.Exit(1)
		}
		names := os.Args[2:]
		if len(names) == 1 {
			t, err := loadTarget(names[0], cfg)
			if err != nil {
				fail(err)
			}
			if _, err := fetchArtifacts(t, false); err != nil {
				fail(stageErr(StageFetch, err))
			}
		} else {
			prefetchTargets(names, cfg)
		}

	case "targets", "list", "ls":
		names, err := listTargets()
		if err != nil {
			fail(err)
		}
		if err := RunPager("Targets", names); err != nil {
			fail(err)
		}

	case "show":
		if len(os.Args) < 3 {
			fmt.Println("Usage: toolforge show <target>")
			os.Exit(1)
		}
		t, err := loadTarget(os.Args[2], cfg)
		if err != nil {
			fail(err)
		}
		showTarget(t)

	case "new", "n":
		if len(os.Args) < 3 {
			fmt.Println("Usage: toolforge new <target>")
			os.Exit(1)
		}
		if err := newTargetSkeleton(os.Args[2]); err != nil {
			fail(err)
		}

	case "log":
		if len(os.Args) < 3 {
			fmt.Println("Usage: toolforge log <target>")
			os.Exit(1)
		}
		t, err := loadTarget(os.Args[2], cfg)
		if err != nil {
			fail(err)
		}
		if err := showBuildLog(t); err != nil {
			fail(err)
		}

	case "upload":
		args := os.Args[2:]
		if len(args) >= 1 && args[0] == "-list" {
			if err := listMirror(ctx, cfg); err != nil {
				fail(err)
			}
			return
		}
		if len(args) < 1 {
			fmt.Println("Usage: toolforge upload [-list] <target>")
			os.Exit(1)
		}
		t, err := loadTarget(args[0], cfg)
		if err != nil {
			fail(err)
		}
		if err := uploadSnapshot(ctx, t, cfg); err != nil {
			fail(err)
		}

	case "help", "-h", "--help":
		printHelp()

	default:
		fmt.Println("Unknown command:", os.Args[1])
		printHelp()
		os.Exit(1)
	}
}

// installExecutor picks the executor for a build. Installing into a root
// that the invoking user cannot write (e.g. /opt/toolforge) goes through
// sudo; everything before the install step still runs unprivileged.
func installExecutor() *Executor {
	if needsRoot(InstallRoot) {
		return RootExec
	}
	return UserExec
}

// listTargets collects target definition directories across TOOLFORGE_PATH.
func listTargets() ([]string, error) {
	seen := make(map[string]bool)
	var names []string
	for _, repo := range strings.Split(repoPaths, ":") {
		if repo == "" {
			continue
		}
		entries, err := os.ReadDir(repo)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() || seen[e.Name()] {
				continue
			}
			// A target dir is recognized by its version file.
			if _, err := os.Stat(filepath.Join(repo, e.Name(), "version")); err != nil {
				continue
			}
			seen[e.Name()] = true
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no targets found in TOOLFORGE_PATH=%s", repoPaths)
	}
	sort.Strings(names)
	return names, nil
}

// showTarget prints the fully resolved build record.
func showTarget(t *BuildTarget) {
	cPrintf(colSuccess, "%s %s (revision %s)\n", t.Name, t.Version, t.Revision)
	fmt.Printf("  definition:  %s\n", t.Dir)
	fmt.Printf("  install dir: %s\n", t.Layout.InstallDir)
	fmt.Printf("  build dir:   %s\n", t.Layout.BuildDir)
	fmt.Printf("  source dir:  %s\n", t.Layout.SourceDir)
	fmt.Printf("  cache dir:   %s\n", t.Layout.CacheDir)
	fmt.Printf("  jobs:        %d\n", t.Jobs)
	if t.CCPrefix != "" {
		fmt.Printf("  cc prefix:   %s\n", t.CCPrefix)
	}
	for _, a := range t.Artifacts {
		if a.RelocateTo != "" {
			fmt.Printf("  artifact:    %s -> %s\n", a.Filename, a.RelocateTo)
		} else {
			fmt.Printf("  artifact:    %s\n", a.Filename)
		}
	}
	for _, opt := range t.ConfigureOptions {
		fmt.Printf("  configure:   %s\n", opt)
	}
	fmt.Printf("  make flags:  %s\n", strings.Join(t.MakeFlags, " "))
}

// newTargetSkeleton creates a target definition skeleton in the first
// TOOLFORGE_PATH repository.
func newTargetSkeleton(name string) error {
	repos := strings.Split(repoPaths, ":")
	if len(repos) == 0 || repos[0] == "" {
		return fmt.Errorf("TOOLFORGE_PATH is not set")
	}
	dir := filepath.Join(repos[0], name)
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("target %s already exists at %s", name, dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	files := map[string]string{
		"version":   "1.0 1\n",
		"sources":   fmt.Sprintf("# one artifact per line: URL [in-source subdir]\nhttps://example.org/releases/%s-1.0.tar.gz\n", name),
		"configure": "--prefix=@PREFIX@\n",
	}
	for file, content := range files {
		if err := os.WriteFile(filepath.Join(dir, file), []byte(content), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", file, err)
		}
	}

	colArrow.Print("-> ")
	cPrintln(colSuccess, "Created target skeleton:", dir)
	return nil
}

// showBuildLog decompresses the archived build log and pages it.
func showBuildLog(t *BuildTarget) error {
	logXZPath := filepath.Join(t.Layout.InstallDir, "log.xz")
	f, err := os.Open(logXZPath)
	if err != nil {
		return fmt.Errorf("no archived build log for %s: %w", t.Name, err)
	}
	defer f.Close()

	xr, err := xz.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", logXZPath, err)
	}
	data, err := io.ReadAll(xr)
	if err != nil {
		return fmt.Errorf("failed to decompress %s: %w", logXZPath, err)
	}
	return RunPager(fmt.Sprintf("Build log: %s %s", t.Name, t.Version), strings.Split(string(data), "\n"))
}

// uploadSnapshot archives the install tree and pushes it to the mirror.
func uploadSnapshot(ctx context.Context, t *BuildTarget, cfg *Config) error {
	if _, err := os.Stat(t.Layout.InstallDir); err != nil {
		return fmt.Errorf("nothing installed for %s: %w", t.Name, err)
	}

	client, err := NewMirrorClient(cfg)
	if err != nil {
		return err
	}

	name := snapshotName(t)
	snapPath := filepath.Join(t.Layout.CacheDir, name)
	colArrow.Print("-> ")
	colSuccess.Printf("Creating snapshot %s\n", name)
	if err := CreateSnapshot(t.Layout.InstallDir, snapPath); err != nil {
		return err
	}

	sum, err := fileDigest(snapPath)
	if err != nil {
		return err
	}
	digestPath, err := writeDigestFile(snapPath, sum)
	if err != nil {
		return err
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Uploading %s\n", name)
	if err := client.UploadLocalFile(ctx, name, snapPath); err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	if err := client.UploadLocalFile(ctx, name+".b3", digestPath); err != nil {
		return fmt.Errorf("digest upload failed: %w", err)
	}

	colArrow.Print("-> ")
	colSuccess.Println("Snapshot uploaded successfully")
	return nil
}

// writeDigestFile writes the digest sidecar next to the snapshot and
// returns its path.
func writeDigestFile(snapPath, sum string) (string, error) {
	path := snapPath + ".b3"
	if err := os.WriteFile(path, []byte(sum+"  "+filepath.Base(snapPath)+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("failed to write digest sidecar: %w", err)
	}
	return path, nil
}

// listMirror prints the snapshots currently on the mirror.
func listMirror(ctx context.Context, cfg *Config) error {
	client, err := NewMirrorClient(cfg)
	if err != nil {
		return err
	}
	objects, err := client.ListObjects(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to list mirror: %w", err)
	}
	var lines []string
	for _, obj := range objects {
		lines = append(lines, fmt.Sprintf("%12d  %s", obj.Size, obj.Key))
	}
	if len(lines) == 0 {
		lines = []string{"(mirror is empty)"}
	}
	return RunPager("Mirror contents", lines)
}
