package launcher

import "testing"

func TestResolveArgvPrefersOverride(t *testing.T) {
	got, err := resolveArgv([]string{"sh", "-c", "echo hi"}, []string{"/bin/default"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0] != "sh" {
		t.Errorf("got %v, want override argv", got)
	}
}

func TestResolveArgvFallsBackToImageCmd(t *testing.T) {
	got, err := resolveArgv(nil, []string{"/bin/default", "-x"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "/bin/default" {
		t.Errorf("got %v, want image cmd", got)
	}
}

func TestResolveArgvErrorsWhenBothEmpty(t *testing.T) {
	if _, err := resolveArgv(nil, nil); err == nil {
		t.Fatal("expected error when override and image cmd are both empty")
	}
}
