// Package container implements the Container Builder: allocating a
// container id, preparing its rw/work directories, and mounting its overlay
// rootfs.
package container

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/nsrun/nsrun/internal/image"
	"github.com/nsrun/nsrun/internal/nerr"
)

// Container is the live, on-disk view of a container's filesystem.
type Container struct {
	ID      string
	RootDir string
	RwDir   string
	WorkDir string
}

// NewID builds a container id as
// <image-name-with-/-replaced-by-->_<tag>_<uuid4>.
func NewID(imageName, tag string) string {
	safeName := strings.ReplaceAll(imageName, "/", "-")
	return fmt.Sprintf("%s_%s_%s", safeName, tag, uuid.NewString())
}

// Init allocates root/rw/work directories for id under dataDir and mounts
// the overlay rootfs over root_dir using image's content_dir as lowerdir.
// It does not clean up on partial failure — leftover directories or a
// partial mount are reclaimed by the clean sweep (spec §4.3/§4.6).
func Init(dataDir string, img image.Image, id string) (*Container, error) {
	c := &Container{
		ID:      id,
		RootDir: dataDir + "/" + id,
		RwDir:   dataDir + "/" + id + "/cow_rw",
		WorkDir: dataDir + "/" + id + "/cow_workdir",
	}

	for _, d := range []string{c.RootDir, c.RwDir, c.WorkDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, nerr.Wrap(nerr.MountFailure, err, "create container dir "+d)
		}
	}

	opts := fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s", img.ContentDir(), c.RwDir, c.WorkDir)
	if err := unix.Mount("overlay", c.RootDir, "overlay", unix.MS_NODEV, opts); err != nil {
		return nil, nerr.Wrap(nerr.MountFailure, err, "mount overlay at "+c.RootDir)
	}

	return c, nil
}
