package toolforge

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/gookit/color"
)

// isCriticalAtomic is 1 while an install/publish phase is running.
// The signal handler refuses to cancel on the first Ctrl+C in that window.
var isCriticalAtomic atomic.Int32

// Global variables
var (
	InstallRoot string
	BuildRoot   string
	SourceRoot  string
	CacheStore  string
	repoPaths   string
	ccPrefix    string
	defaultJobs int
	Debug       bool

	ConfigFile = "/etc/toolforge.conf"

	gnuMirrorURL         string
	gnuOriginalURL       = "https://ftp.gnu.org/gnu"
	gnuMirrorMessageOnce sync.Once
	BinaryMirror         string

	version   = "dev" // overridden at build time
	arch      = runtime.GOARCH
	buildDate = "unknown" // overridden at build time

	// Global executors (assigned in Main)
	UserExec *Executor
	RootExec *Executor
)

// color helpers
var (
	colInfo    = color.Info // style provided by gookit/color
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
)
