package cleanup

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTempMountinfo(t *testing.T, lines []string) (*os.File, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mountinfo")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		return nil, err
	}
	return os.Open(path)
}

func TestParseMountinfoLine(t *testing.T) {
	cases := []struct {
		line           string
		wantMountpoint string
		wantFstype     string
		wantOK         bool
	}{
		{
			line:           `36 35 98:0 /mnt1 /var/opt/app/container/abc/root rw,relatime - overlay overlay rw,lowerdir=/a,upperdir=/b,workdir=/c`,
			wantMountpoint: "/var/opt/app/container/abc/root",
			wantFstype:     "overlay",
			wantOK:         true,
		},
		{
			line:           `36 35 98:0 /mnt1 /proc rw,relatime - proc proc rw`,
			wantMountpoint: "/proc",
			wantFstype:     "proc",
			wantOK:         true,
		},
		{
			line:   `garbage line with no separator`,
			wantOK: false,
		},
		{
			line:   ``,
			wantOK: false,
		},
	}

	for _, c := range cases {
		mp, fstype, ok := parseMountinfoLine(c.line)
		if ok != c.wantOK {
			t.Fatalf("parseMountinfoLine(%q) ok = %v, want %v", c.line, ok, c.wantOK)
		}
		if !ok {
			continue
		}
		if mp != c.wantMountpoint || fstype != c.wantFstype {
			t.Errorf("parseMountinfoLine(%q) = (%q, %q), want (%q, %q)",
				c.line, mp, fstype, c.wantMountpoint, c.wantFstype)
		}
	}
}

func TestParseOverlayMountsFiltersFstype(t *testing.T) {
	f, err := writeTempMountinfo(t, []string{
		`36 35 98:0 /mnt1 /proc rw,relatime - proc proc rw`,
		`37 35 98:0 /mnt2 /var/opt/app/container/a/root rw - overlay overlay rw,lowerdir=/x`,
		`38 35 98:0 /mnt3 /var/opt/app/container/b/root rw - overlay overlay rw,lowerdir=/y`,
		`39 35 98:0 /mnt4 /sys rw - sysfs sysfs rw`,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	got, err := parseOverlayMounts(f)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"/var/opt/app/container/a/root",
		"/var/opt/app/container/b/root",
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
