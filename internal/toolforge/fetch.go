package toolforge

import (
	"bufio"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gookit/color"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sys/unix"
	"lukechampine.com/blake3"
)

func newHTTPClient() (*http.Client, error) {
	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		return nil, fmt.Errorf("failed to load system CA certificates: %w", err)
	}

	tlsConfig := &tls.Config{
		RootCAs:    rootCAs,
		MinVersion: tls.VersionTLS12,
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig

	// Increase TLS handshake timeout to handle slow release servers.
	// Default is 10s, we increase it to 30s.
	transport.TLSHandshakeTimeout = 30 * time.Second

	return &http.Client{
		Transport: transport,
		Timeout:   300 * time.Second, // 5 min total timeout for large tarballs
	}, nil
}

type downloadOptions struct {
	Quiet bool // Quiet suppresses all stdout/stderr/progress output
}

// applyGnuMirror checks if a URL is a canonical GNU URL and replaces it with the
// user-configured mirror if one is set. It returns the (potentially modified) URL.
func applyGnuMirror(originalURL string) string {
	if gnuMirrorURL != "" && strings.HasPrefix(originalURL, gnuOriginalURL) {
		return strings.Replace(originalURL, gnuOriginalURL, gnuMirrorURL, 1)
	}
	return originalURL
}

// Fetch returns the cache path of filename, downloading urlRoot/filename
// into cacheDir first unless it is already cached. The download streams
// into a temporary .part path and is renamed into place on success, so a
// failed transfer never leaves a partial artifact behind.
func Fetch(urlRoot, filename, cacheDir string, quiet bool) (string, error) {
	absPath := filepath.Join(cacheDir, filename)
	if _, err := os.Stat(absPath); err == nil {
		debugf("Already in cache: %s\n", absPath)
		return absPath, nil
	}

	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create cache directory %s: %w", cacheDir, err)
	}

	originalURL := strings.TrimRight(urlRoot, "/") + "/" + filename
	finalURL := applyGnuMirror(originalURL)

	if !quiet {
		colArrow.Print("-> ")
		colSuccess.Printf("Fetching source: %s\n", filename)
	}

	opt := downloadOptions{Quiet: quiet}
	if err := downloadFileWithOptions(originalURL, finalURL, absPath, opt); err != nil {
		return "", fmt.Errorf("failed to download %s: %w", finalURL, err)
	}
	return absPath, nil
}

func downloadFileWithOptions(originalURL, finalURL, destFile string, opt downloadOptions) error {
	// If a GNU mirror is being used for this download, print the info message exactly once.
	if !opt.Quiet && originalURL != finalURL {
		gnuMirrorMessageOnce.Do(func() {
			colArrow.Print("-> ")
			colSuccess.Printf("Using GNU mirror: %s\n", gnuMirrorURL)
		})
	}

	lockPath := destFile + ".lock"

	// Create/Open a lock file to prevent races between the background
	// prefetcher and the main pipeline fetching the same artifact.
	lFile, err := os.Create(lockPath)
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer lFile.Close()

	// Acquire an exclusive lock. This blocks if another goroutine is downloading.
	if err := unix.Flock(int(lFile.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock for download: %w", err)
	}
	defer unix.Flock(int(lFile.Fd()), unix.LOCK_UN)
	defer os.Remove(lockPath)

	// DOUBLE CHECK: the prefetcher might have finished the file while we
	// were waiting for the lock.
	if _, err := os.Stat(destFile); err == nil {
		debugf("File %s appeared after acquiring lock, skipping download.\n", destFile)
		return nil
	}

	// All downloaders stream into the .part path; only a completed transfer
	// is renamed onto the final name.
	partFile := destFile + ".part"
	defer os.Remove(partFile)

	debugf("Downloading %s -> %s\n", finalURL, destFile)

	if err := runDownloadChain(finalURL, partFile, opt); err != nil {
		return err
	}
	if err := os.Rename(partFile, destFile); err != nil {
		return fmt.Errorf("failed to move downloaded file into cache: %w", err)
	}
	return nil
}

// runDownloadChain tries curl, then wget, then the native Go HTTP client.
func runDownloadChain(finalURL, outPath string, opt downloadOptions) error {
	// --- Primary Choice: curl with Go-native progress colorization ---
	if _, err := exec.LookPath("curl"); err == nil {
		curlArgs := []string{"-L", "--fail", "-o", outPath}
		if opt.Quiet {
			curlArgs = append(curlArgs, "-sS")
		} else {
			curlArgs = append(curlArgs, "-#")
		}
		curlArgs = append(curlArgs, finalURL)
		cmd := exec.Command("curl", curlArgs...)

		if opt.Quiet {
			cmd.Stdout = io.Discard
			cmd.Stderr = io.Discard
			if err := cmd.Run(); err == nil {
				return nil
			}
			debugf("curl (quiet) failed, falling back to wget\n")
		} else {
			stderrPipe, err := cmd.StderrPipe()
			if err != nil {
				cmd.Stderr = os.Stderr
			}
			cmd.Stdout = os.Stdout

			if err := cmd.Start(); err != nil {
				return fmt.Errorf("failed to start curl: %w", err)
			}

			if stderrPipe != nil {
				go func() {
					reader := bufio.NewReader(stderrPipe)
					blue := "\x1b[" + color.Blue.Code() + "m"
					reset := "\x1b[0m"
					for {
						lineBytes, err := reader.ReadBytes('\r')
						if len(lineBytes) > 0 {
							line := string(lineBytes)
							if strings.HasPrefix(strings.TrimSpace(line), "#") {
								fmt.Fprintf(os.Stderr, "%s%s%s", blue, line, reset)
							} else {
								fmt.Fprint(os.Stderr, line)
							}
						}
						if err != nil {
							break
						}
					}
				}()
			}

			if err := cmd.Wait(); err != nil {
				debugf("\ncurl failed, falling back to wget")
			} else {
				debugf("\nDownload successful with curl.")
				return nil
			}
		}
	} else {
		debugf("curl not found, trying wget")
	}

	// --- Fallback 1: wget ---
	if _, err := exec.LookPath("wget"); err == nil {
		args := []string{"-O", outPath}
		if opt.Quiet {
			args = append([]string{"-q"}, args...)
		} else {
			args = append([]string{"-nv"}, args...)
		}
		args = append(args, finalURL)
		cmd := exec.Command("wget", args...)
		if opt.Quiet {
			cmd.Stdout = io.Discard
			cmd.Stderr = io.Discard
		} else {
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
		}
		if err := cmd.Run(); err == nil {
			debugf("\nDownload successful with wget.")
			return nil
		}
		debugf("\nwget failed, falling back to native Go HTTP client")
	} else {
		debugf("wget not found, using native Go HTTP client")
	}

	// --- Fallback 2: Native Go HTTP Client ---
	client, err := newHTTPClient()
	if err != nil {
		return fmt.Errorf("failed to create http client: %w", err)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create destination file %s: %w", outPath, err)
	}
	defer out.Close()

	resp, err := client.Get(finalURL)
	if err != nil {
		return fmt.Errorf("native http get failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %s", resp.Status)
	}

	var w io.Writer = out
	if !opt.Quiet {
		bar := progressbar.DefaultBytes(resp.ContentLength, filepath.Base(outPath))
		w = io.MultiWriter(out, bar)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("failed to write to destination file: %w", err)
	}

	debugf("Download successful with native Go HTTP client.")
	return nil
}

// fetchArtifacts downloads every artifact of the target into the cache and
// returns the cache path of each, in descriptor order.
func fetchArtifacts(t *BuildTarget, quiet bool) ([]string, error) {
	var paths []string
	for _, a := range t.Artifacts {
		urlRoot, ok := strings.CutSuffix(a.URL, "/"+a.Filename)
		if !ok {
			return nil, fmt.Errorf("source URL %q does not end in its filename", a.URL)
		}
		p, err := Fetch(urlRoot, a.Filename, t.Layout.CacheDir, quiet)
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// prefetchTargets warms the artifact cache for several targets with a
// bounded worker pool. Per-file flock makes overlapping downloads safe.
func prefetchTargets(names []string, cfg *Config) {
	if len(names) == 0 {
		return
	}

	concurrencyLimit := 10
	debugf("Starting prefetch for %d targets (concurrency: %d)...\n", len(names), concurrencyLimit)

	sem := make(chan struct{}, concurrencyLimit)
	var wg sync.WaitGroup

	for _, name := range names {
		sem <- struct{}{}
		wg.Add(1)

		go func(name string) {
			defer wg.Done()
			defer func() { <-sem }()

			t, err := loadTarget(name, cfg)
			if err != nil {
				debugf("Prefetch skipped for %s: %v\n", name, err)
				return
			}
			if _, err := fetchArtifacts(t, true); err != nil {
				debugf("Prefetch failed for %s: %v\n", name, err)
			}
		}(name)
	}

	wg.Wait()
	debugf("Prefetch completed.\n")
}

// fileDigest returns the hex BLAKE3 digest of a file. Recorded in the build
// metadata for provenance; never used to gate the pipeline.
func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
