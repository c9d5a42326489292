package toolforge

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Config struct
type Config struct {
	Values      map[string]string
	DefaultJobs int
}

// Load /etc/toolforge.conf and apply defaults
func loadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	// Attempt to read the file
	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			val = strings.Trim(val, `"'`)
			cfg.Values[key] = val
		}
		if err := scanner.Err(); err != nil {
			return cfg, err
		}
	}

	// Merge TOOLFORGE_* env overrides
	mergeEnvOverrides(cfg)

	return cfg, nil
}

// Merge TOOLFORGE_* env overrides
func mergeEnvOverrides(cfg *Config) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "TOOLFORGE_") {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				cfg.Values[parts[0]] = parts[1]
			}
		}
	}
}

func initConfig(cfg *Config) {
	InstallRoot = cfg.Values["TOOLFORGE_INSTALL_ROOT"]
	if InstallRoot == "" {
		InstallRoot = "/opt/toolforge"
	}

	BuildRoot = cfg.Values["TOOLFORGE_BUILD_ROOT"]
	if BuildRoot == "" {
		BuildRoot = "/var/tmp/toolforge/build"
	}

	SourceRoot = cfg.Values["TOOLFORGE_SOURCE_ROOT"]
	if SourceRoot == "" {
		SourceRoot = "/var/tmp/toolforge/source"
	}

	CacheStore = cfg.Values["TOOLFORGE_CACHE_DIR"]
	if CacheStore == "" {
		CacheStore = "/var/cache/toolforge/distfiles"
	}

	repoPaths = cfg.Values["TOOLFORGE_PATH"]
	if repoPaths == "" {
		colWarn.Println("Warning: TOOLFORGE_PATH is not set")
	}

	Debug = false
	if cfg.Values["TOOLFORGE_DEBUG"] == "1" {
		Debug = true
	}

	ccPrefix = cfg.Values["TOOLFORGE_CC_PREFIX"]

	cfg.DefaultJobs = runtime.NumCPU()
	if jobs := cfg.Values["TOOLFORGE_JOBS"]; jobs != "" {
		if n, err := strconv.Atoi(jobs); err == nil && n > 0 {
			cfg.DefaultJobs = n
		} else {
			colWarn.Printf("Warning: ignoring invalid TOOLFORGE_JOBS=%q\n", jobs)
		}
	}
	defaultJobs = cfg.DefaultJobs

	// Load the GNU mirror URL if it's set in the config
	if mirror, exists := cfg.Values["GNU_MIRROR"]; exists && mirror != "" {
		gnuMirrorURL = strings.TrimRight(mirror, "/") // Remove trailing slash if present
		debugf("=> Using GNU mirror from config: %s\n", gnuMirrorURL)
	}

	// Set a default mirror if none was provided by the user
	if gnuMirrorURL == "" {
		// mirrors.kernel.org is a reliable and globally distributed mirror, making it an excellent default.
		gnuMirrorURL = "https://mirrors.kernel.org/gnu"
		debugf("=> No GNU mirror configured, using default: %s\n", gnuMirrorURL)
	}

	if mirror, exists := cfg.Values["TOOLFORGE_MIRROR"]; exists && mirror != "" {
		BinaryMirror = strings.TrimRight(mirror, "/")
		debugf("=> Using Binary Mirror: %s\n", BinaryMirror)
	}
}
