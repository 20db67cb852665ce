package core

import "testing"

func TestThresholdWorkedExample(t *testing.T) {
	// N=7 elders, t=5: 4 shares produce no output, the 5th does.
	if got := Threshold(7); got != 5 {
		t.Fatalf("Threshold(7) = %d, want 5", got)
	}
}

func TestThresholdTable(t *testing.T) {
	cases := []struct {
		n, want int
	}{
		{0, 0},
		{1, 1},
		{3, 3},
		{4, 3},
		{7, 5},
		{10, 7},
	}
	for _, c := range cases {
		if got := Threshold(c.n); got != c.want {
			t.Errorf("Threshold(%d) = %d, want %d", c.n, got, c.want)
		}
	}
}

func TestWriteQuorumTable(t *testing.T) {
	cases := []struct {
		n, want int
	}{
		{0, 0},
		{1, 1},
		{4, 3},
		{7, 5},
	}
	for _, c := range cases {
		if got := WriteQuorum(c.n); got != c.want {
			t.Errorf("WriteQuorum(%d) = %d, want %d", c.n, got, c.want)
		}
	}
}
