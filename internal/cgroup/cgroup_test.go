package cgroup

import "testing"

func TestParseMemory(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"512M", 512 << 20},
		{"1G", 1 << 30},
		{"2Gi", 2 << 30},
		{"100", 100},
	}
	for _, c := range cases {
		got, err := parseMemory(c.in)
		if err != nil {
			t.Fatalf("parseMemory(%q) error = %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("parseMemory(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestParseMemoryRejectsGarbage(t *testing.T) {
	if _, err := parseMemory("not-a-size"); err == nil {
		t.Error("expected error for garbage memory size")
	}
}

func TestCPUQuotaMath(t *testing.T) {
	quota := int64(0.5 * float64(defaultPeriod))
	if quota != 50000 {
		t.Errorf("0.5 cpus over %d period = %d, want 50000", defaultPeriod, quota)
	}
}
