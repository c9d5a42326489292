package toolforge

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// systemPath is the fixed PATH every build subprocess starts from.
// Nothing from the invoking shell's PATH leaks into a build.
const systemPath = "/usr/local/bin:/usr/bin:/bin:/usr/sbin:/sbin"

// identityVars are re-established from the captured environment after the
// wipe; configure scripts misbehave without them.
var identityVars = []string{"USER", "LOGNAME", "HOME", "SHELL", "TERM"}

// safeNameRe matches well-formed environment variable names. Exported shell
// functions ("BASH_FUNC_x%%") and other anomalies fail this and are skipped
// during capture rather than causing an error.
var safeNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SanitizedEnvironment is the minimal deterministic environment a build
// subprocess runs under: identity variables, a fixed system PATH, and
// explicitly layered toolchain values. It is constructed fresh per
// invocation and never mutates the ambient process environment.
type SanitizedEnvironment struct {
	vars map[string]string
}

// Sanitize builds a SanitizedEnvironment from the current process
// environment. preserve names variables whose current values carry over
// (in addition to the identity set); extra layers explicit assignments on
// top, with PATH entries prepended to the fixed system PATH.
func Sanitize(preserve []string, extra map[string]string) *SanitizedEnvironment {
	// Capture before clearing: only well-formed names are considered.
	captured := make(map[string]string)
	for _, kv := range os.Environ() {
		i := strings.IndexByte(kv, '=')
		if i <= 0 {
			continue
		}
		name := kv[:i]
		if !safeNameRe.MatchString(name) {
			debugf("Skipping anomalous environment entry: %q\n", name)
			continue
		}
		captured[name] = kv[i+1:]
	}

	vars := make(map[string]string)
	for _, id := range identityVars {
		if v, ok := captured[id]; ok {
			vars[id] = v
		}
	}
	for _, name := range preserve {
		if v, ok := captured[name]; ok {
			vars[name] = v
		}
	}
	vars["PATH"] = systemPath

	for k, v := range extra {
		if k == "PATH" {
			vars["PATH"] = v + ":" + vars["PATH"]
			continue
		}
		vars[k] = v
	}

	return &SanitizedEnvironment{vars: vars}
}

// Get returns the value of a variable and whether it is set.
func (e *SanitizedEnvironment) Get(name string) (string, bool) {
	v, ok := e.vars[name]
	return v, ok
}

// Slice renders the environment in the name=value form exec.Cmd expects,
// sorted by name so repeated builds see identical environments.
func (e *SanitizedEnvironment) Slice() []string {
	names := make([]string, 0, len(e.vars))
	for name := range e.vars {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, fmt.Sprintf("%s=%s", name, e.vars[name]))
	}
	return out
}

// compilerWhitelist returns the extra environment entries for a custom
// compiler prefix: its bin directory ahead of PATH and its library
// directories ahead of the loader path.
func compilerWhitelist(prefix string) map[string]string {
	if prefix == "" {
		return nil
	}
	return map[string]string{
		"PATH":            filepath.Join(prefix, "bin"),
		"LD_LIBRARY_PATH": filepath.Join(prefix, "lib") + ":" + filepath.Join(prefix, "lib64"),
	}
}
