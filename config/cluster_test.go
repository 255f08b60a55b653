package config

import "testing"

func TestDefaultBuildsValidCluster(t *testing.T) {
	c := Default(4, 9000)
	if err := c.Validate(); err != nil {
		t.Fatalf("default cluster failed validation: %v", err)
	}
	if c.F != 1 {
		t.Fatalf("expected F=1 for N=4, got %d", c.F)
	}
}

func TestValidateRejectsUndersizedCluster(t *testing.T) {
	c := Cluster{N: 3, F: 1, Peers: []Peer{{ID: 0}, {ID: 1}, {ID: 2}}}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected N=3,F=1 (violates N >= 3F+1) to fail validation")
	}
}

func TestPrimaryWrapsAroundByView(t *testing.T) {
	c := Default(4, 9000)
	cases := map[uint64]int{0: 0, 1: 1, 4: 0, 5: 1}
	for view, want := range cases {
		if got := c.Primary(view); got != want {
			t.Fatalf("Primary(%d) = %d, want %d", view, got, want)
		}
	}
}

func TestAddressLooksUpByID(t *testing.T) {
	c := Default(4, 9000)
	if c.Address(2) != "127.0.0.1:9002" {
		t.Fatalf("unexpected address: %q", c.Address(2))
	}
	if c.Address(99) != "" {
		t.Fatalf("expected empty address for unknown id")
	}
}
