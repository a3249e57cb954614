// Package image implements the Image Store: enumerating pre-fetched,
// on-disk images and exposing their default command, working directory, and
// content layer path.
package image

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/nsrun/nsrun/internal/logging"
	"github.com/nsrun/nsrun/internal/nerr"
)

// Image describes a single on-disk image: its identity, default command,
// and the directories the rest of the runtime needs.
type Image struct {
	Name       string // e.g. "library/alpine"
	Version    string // tag
	Size       int64
	Cmd        []string
	WorkingDir string
	Dir        string // image_dir
}

// ContentDir is the overlay lowerdir for this image.
func (i Image) ContentDir() string {
	return filepath.Join(i.Dir, "contents")
}

// manifest mirrors the on-disk manifest.json shape documented in spec §6.
type manifest struct {
	Name    string         `json:"name"`
	Tag     string         `json:"tag"`
	History []historyEntry `json:"history"`
}

type historyEntry struct {
	V1Compatibility string `json:"v1Compatibility"`
}

// v1Config is the nested JSON document embedded in the first history
// entry's v1Compatibility string.
type v1Config struct {
	Config struct {
		Cmd        []string `json:"Cmd"`
		WorkingDir string   `json:"WorkingDir"`
	} `json:"config"`
}

// List scans dir for image subdirectories and returns every image that
// parses successfully. A single bad image (missing manifest, malformed
// JSON, missing layers/) is skipped rather than failing the whole scan, per
// spec §4.1's "the caller decides whether that image is skipped".
func List(dir string) ([]Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nerr.Wrap(nerr.NotFound, err, "read image dir")
	}

	var images []Image
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		imageDir := filepath.Join(dir, e.Name())
		img, err := loadOne(imageDir)
		if err != nil {
			logging.Log.WithError(err).WithField("dir", imageDir).Warn("skipping image")
			continue
		}
		images = append(images, img)
	}
	return images, nil
}

func loadOne(imageDir string) (Image, error) {
	data, err := os.ReadFile(filepath.Join(imageDir, "manifest.json"))
	if err != nil {
		return Image{}, nerr.Wrap(nerr.ManifestParse, err, "read manifest.json")
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Image{}, nerr.Wrap(nerr.ManifestParse, err, "decode manifest.json")
	}
	if len(m.History) == 0 {
		return Image{}, nerr.New(nerr.ManifestParse, "manifest has no history entries")
	}

	var cfg v1Config
	if err := json.Unmarshal([]byte(m.History[0].V1Compatibility), &cfg); err != nil {
		return Image{}, nerr.Wrap(nerr.ManifestParse, err, "decode v1Compatibility")
	}

	size, err := layersSize(filepath.Join(imageDir, "layers"))
	if err != nil {
		return Image{}, nerr.Wrap(nerr.ManifestParse, err, "sum layer sizes")
	}

	return Image{
		Name:       m.Name,
		Version:    m.Tag,
		Size:       size,
		Cmd:        cfg.Config.Cmd,
		WorkingDir: cfg.Config.WorkingDir,
		Dir:        imageDir,
	}, nil
}

// layersSize sums regular-file sizes directly under layersDir — not
// recursive into subdirectories, per spec invariant §8.
func layersSize(layersDir string) (int64, error) {
	entries, err := os.ReadDir(layersDir)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
	}
	return total, nil
}

// Find does a linear search of List(dir) for the first image matching
// registry/name and tag.
func Find(dir, registry, name, tag string) (Image, error) {
	images, err := List(dir)
	if err != nil {
		return Image{}, err
	}

	full := registry + "/" + name
	for _, img := range images {
		if img.Name == full && img.Version == tag {
			return img, nil
		}
	}
	return Image{}, nerr.New(nerr.NotFound, full+":"+tag+" not found")
}

// SplitRegistry splits a user-supplied "registry/name" or bare "name"
// reference into (registry, name), defaulting to "library" when the
// reference carries no explicit registry segment — mirroring the original
// mini-docker's commands/__init__.py:parse_image_str.
func SplitRegistry(ref string) (registry, name string) {
	if idx := strings.LastIndex(ref, "/"); idx >= 0 {
		return ref[:idx], ref[idx+1:]
	}
	return "library", ref
}
