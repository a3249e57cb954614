// Package cleanup implements the Cleanup component: unmounting every
// overlay filesystem left behind by a prior run and delegating the network
// teardown sweep to internal/network. See spec §4.6. It never removes
// root_dir/rw_dir/work_dir trees themselves (decided in DESIGN.md's Open
// Questions: disk reclamation is left to the operator).
package cleanup

import (
	"bufio"
	"io"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/nsrun/nsrun/internal/config"
	"github.com/nsrun/nsrun/internal/logging"
	"github.com/nsrun/nsrun/internal/nerr"
	"github.com/nsrun/nsrun/internal/network"
)

// Run performs the full teardown sweep: unmount every overlay mount found
// in /proc/self/mountinfo, then clean the network fabric.
func Run(cfg *config.Config) error {
	mounts, err := overlayMounts(mountinfoPath)
	if err != nil {
		return err
	}

	for _, m := range mounts {
		logging.Log.WithField("mountpoint", m).Info("unmounting overlay")
		if err := unix.Unmount(m, unix.MNT_DETACH); err != nil {
			logging.Log.WithError(err).WithField("mountpoint", m).Warn("failed to unmount overlay")
		}
	}

	fabric := network.New(cfg)
	if err := fabric.Clean(); err != nil {
		return nerr.Wrap(nerr.FabricFailure, err, "clean network fabric")
	}
	return nil
}

const mountinfoPath = "/proc/self/mountinfo"

// overlayMounts parses a mountinfo file (format documented in
// proc(5)) and returns the mountpoints of every entry whose filesystem
// type is "overlay". The parsing itself lives in parseOverlayMounts, which
// takes an io.Reader so it is unit-testable without root.
func overlayMounts(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nerr.Wrap(nerr.MountFailure, err, "open mountinfo")
	}
	defer f.Close()

	return parseOverlayMounts(f)
}

func parseOverlayMounts(r io.Reader) ([]string, error) {
	var out []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		mountpoint, fstype, ok := parseMountinfoLine(scanner.Text())
		if !ok {
			continue
		}
		if fstype == "overlay" {
			out = append(out, mountpoint)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nerr.Wrap(nerr.MountFailure, err, "scan mountinfo")
	}
	return out, nil
}

// parseMountinfoLine extracts the mountpoint and filesystem type from one
// mountinfo line. Fields up to a literal "-" separator are a variable-length
// prefix; the filesystem type is the first field after the separator.
func parseMountinfoLine(line string) (mountpoint, fstype string, ok bool) {
	fields := strings.Fields(line)
	sep := -1
	for i, f := range fields {
		if f == "-" {
			sep = i
			break
		}
	}
	if sep < 0 || sep+1 >= len(fields) || len(fields) < 5 {
		return "", "", false
	}
	return fields[4], fields[sep+1], true
}
