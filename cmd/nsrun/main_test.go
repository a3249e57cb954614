package main

import "testing"

func TestSplitTag(t *testing.T) {
	cases := []struct {
		ref      string
		wantName string
		wantTag  string
	}{
		{"nginx:1.2", "nginx", "1.2"},
		{"nginx", "nginx", "latest"},
		{"some/path/nginx:latest", "some/path/nginx", "latest"},
	}
	for _, c := range cases {
		name, tag := splitTag(c.ref)
		if name != c.wantName || tag != c.wantTag {
			t.Errorf("splitTag(%q) = (%q, %q), want (%q, %q)", c.ref, name, tag, c.wantName, c.wantTag)
		}
	}
}

func TestSplitPortPair(t *testing.T) {
	source, dest, err := splitPortPair("8080:80")
	if err != nil {
		t.Fatal(err)
	}
	if source != 8080 || dest != 80 {
		t.Errorf("splitPortPair(8080:80) = (%d, %d), want (8080, 80)", source, dest)
	}
}

func TestSplitPortPairRejectsMalformed(t *testing.T) {
	cases := []string{"8080", "8080:", ":80", "abc:80", "8080:xyz"}
	for _, c := range cases {
		if _, _, err := splitPortPair(c); err == nil {
			t.Errorf("splitPortPair(%q) expected error, got nil", c)
		}
	}
}
