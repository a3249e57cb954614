package network

import "testing"

func TestNextNetnsIndex(t *testing.T) {
	cases := []struct {
		existing []string
		prefix   string
		want     int
	}{
		{nil, "container-ns-", 1},
		{[]string{"container-ns-1"}, "container-ns-", 2},
		{[]string{"container-ns-1", "container-ns-2", "unrelated"}, "container-ns-", 3},
	}
	for _, c := range cases {
		got := nextNetnsIndex(c.existing, c.prefix)
		if got != c.want {
			t.Errorf("nextNetnsIndex(%v, %q) = %d, want %d", c.existing, c.prefix, got, c.want)
		}
	}
}

func TestNextVethIndex(t *testing.T) {
	cases := []struct {
		ports int
		want  int
	}{
		{0, 2},
		{1, 3},
		{5, 7},
	}
	for _, c := range cases {
		if got := nextVethIndex(c.ports); got != c.want {
			t.Errorf("nextVethIndex(%d) = %d, want %d", c.ports, got, c.want)
		}
	}
}

func TestVethNaming(t *testing.T) {
	if got, want := hostVethName(2), "v2br"; got != want {
		t.Errorf("hostVethName(2) = %q, want %q", got, want)
	}
	if got, want := containerVethName(2), "v2p"; got != want {
		t.Errorf("containerVethName(2) = %q, want %q", got, want)
	}
}
