package toolforge

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// snapshotName is the mirror key for a built toolchain's install tree.
func snapshotName(t *BuildTarget) string {
	return fmt.Sprintf("%s-%s-%s-%s.tar.zst", t.Name, t.Version, t.Revision, arch)
}

// CreateSnapshot archives the target's install tree as a .tar.zst at
// destPath. It uses system tar if available, otherwise falls back to
// pure-Go tar+zstd. Entries are normalized to root ownership so a
// snapshot unpacks identically on any host.
func CreateSnapshot(installDir, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %v", err)
	}

	// --- Try system tar first ---
	if _, err := exec.LookPath("tar"); err == nil {
		args := []string{"--zstd", "-cf", destPath, "-C", installDir,
			"--owner=0", "--group=0", "--numeric-owner", "."}
		debugf("Creating snapshot with system tar: %s\n", destPath)
		if err := exec.Command("tar", args...).Run(); err == nil {
			return nil
		}
		// fall through to internal if tar fails
	}

	// --- Fallback: internal tar+zstd ---
	debugf("System tar not available, falling back to internal tar+zstd for %s\n", destPath)

	outFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %v", err)
	}
	defer outFile.Close()

	zw, err := zstd.NewWriter(outFile)
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %v", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	err = filepath.Walk(installDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(installDir, path)
		if err != nil {
			return err
		}

		var linkTarget string
		if info.Mode()&os.ModeSymlink != 0 {
			linkTarget, err = os.Readlink(path)
			if err != nil {
				return fmt.Errorf("readlink %s: %w", path, err)
			}
		}

		hdr, err := tar.FileInfoHeader(info, linkTarget)
		if err != nil {
			return err
		}

		if rel == "." {
			hdr.Name = "./"
			hdr.Mode = 0o755
		} else {
			hdr.Name = rel
		}

		// Snapshots must be portably root-owned.
		hdr.Uid, hdr.Gid = 0, 0
		hdr.Uname, hdr.Gname = "root", "root"

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		if rel == "." {
			return nil
		}

		if info.Mode().IsRegular() {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			if _, err := io.Copy(tw, f); err != nil {
				f.Close()
				return err
			}
			f.Close()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add files to snapshot: %v", err)
	}
	return nil
}
