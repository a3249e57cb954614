package image

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeImage(t *testing.T, root, dirName string, m manifest, layerSizes []int64) string {
	t.Helper()
	imageDir := filepath.Join(root, dirName)
	if err := os.MkdirAll(filepath.Join(imageDir, "layers"), 0o755); err != nil {
		t.Fatalf("mkdir layers: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(imageDir, "contents"), 0o755); err != nil {
		t.Fatalf("mkdir contents: %v", err)
	}

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(imageDir, "manifest.json"), data, 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	for i, size := range layerSizes {
		p := filepath.Join(imageDir, "layers", "layer"+string(rune('a'+i)))
		if err := os.WriteFile(p, make([]byte, size), 0o644); err != nil {
			t.Fatalf("write layer: %v", err)
		}
	}

	// a subdirectory under layers/ must not contribute to size
	if err := os.MkdirAll(filepath.Join(imageDir, "layers", "nested"), 0o755); err != nil {
		t.Fatalf("mkdir nested: %v", err)
	}
	if err := os.WriteFile(filepath.Join(imageDir, "layers", "nested", "ignored"), make([]byte, 999), 0o644); err != nil {
		t.Fatalf("write nested file: %v", err)
	}

	return imageDir
}

func v1CompatJSON(t *testing.T, cmd []string, workingDir string) string {
	t.Helper()
	doc := map[string]any{
		"config": map[string]any{
			"Cmd":        cmd,
			"WorkingDir": workingDir,
		},
	}
	b, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal v1Compatibility: %v", err)
	}
	return string(b)
}

func TestListParsesCmdAndSize(t *testing.T) {
	root := t.TempDir()
	m := manifest{
		Name: "library/alpine",
		Tag:  "3",
		History: []historyEntry{
			{V1Compatibility: v1CompatJSON(t, []string{"/bin/sh", "-c", "echo hi"}, "")},
		},
	}
	writeImage(t, root, "alpine-3", m, []int64{10, 20, 5})

	images, err := List(root)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(images) != 1 {
		t.Fatalf("expected 1 image, got %d", len(images))
	}

	img := images[0]
	if got, want := img.Name, "library/alpine"; got != want {
		t.Errorf("Name = %q, want %q", got, want)
	}
	if got, want := img.Size, int64(35); got != want {
		t.Errorf("Size = %d, want %d (nested dir must not count)", got, want)
	}
	if len(img.Cmd) != 3 || img.Cmd[0] != "/bin/sh" {
		t.Errorf("Cmd = %v, want [/bin/sh -c \"echo hi\"]", img.Cmd)
	}
	if img.WorkingDir != "" {
		t.Errorf("WorkingDir = %q, want empty", img.WorkingDir)
	}
}

func TestFindMatchesRegistryAndTag(t *testing.T) {
	root := t.TempDir()
	m := manifest{
		Name:    "library/alpine",
		Tag:     "3",
		History: []historyEntry{{V1Compatibility: v1CompatJSON(t, []string{"/bin/sh"}, "/app")}},
	}
	writeImage(t, root, "alpine-3", m, nil)

	img, err := Find(root, "library", "alpine", "3")
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if img.WorkingDir != "/app" {
		t.Errorf("WorkingDir = %q, want /app", img.WorkingDir)
	}

	if _, err := Find(root, "library", "missing", "latest"); err == nil {
		t.Fatal("expected not-found error for missing image")
	}
}

func TestListSkipsMalformedImages(t *testing.T) {
	root := t.TempDir()
	badDir := filepath.Join(root, "broken")
	if err := os.MkdirAll(badDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	// no manifest.json at all

	good := manifest{
		Name:    "library/busybox",
		Tag:     "latest",
		History: []historyEntry{{V1Compatibility: v1CompatJSON(t, []string{"/bin/true"}, "")}},
	}
	writeImage(t, root, "busybox-latest", good, []int64{1})

	images, err := List(root)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(images) != 1 {
		t.Fatalf("expected malformed image to be skipped, got %d images", len(images))
	}
}

func TestSplitRegistry(t *testing.T) {
	cases := []struct {
		ref          string
		wantRegistry string
		wantName     string
	}{
		{"alpine", "library", "alpine"},
		{"myorg/alpine", "myorg", "alpine"},
	}
	for _, c := range cases {
		registry, name := SplitRegistry(c.ref)
		if registry != c.wantRegistry || name != c.wantName {
			t.Errorf("SplitRegistry(%q) = (%q, %q), want (%q, %q)", c.ref, registry, name, c.wantRegistry, c.wantName)
		}
	}
}
