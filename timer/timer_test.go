package timer

import (
	"testing"
	"time"
)

func TestControllerFiresAfterDuration(t *testing.T) {
	c := New(10 * time.Millisecond)
	select {
	case <-c.C:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timer did not fire")
	}
}

func TestResetPostponesFiring(t *testing.T) {
	c := New(30 * time.Millisecond)
	deadline := time.After(20 * time.Millisecond)
	<-deadline
	c.Reset()

	select {
	case <-c.C:
		t.Fatalf("timer fired before the reset deadline")
	case <-time.After(10 * time.Millisecond):
	}

	select {
	case <-c.C:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timer never fired after reset")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	c := New(10 * time.Millisecond)
	c.Stop()
	c.Stop()

	select {
	case <-c.C:
		t.Fatalf("stopped timer should not fire")
	case <-time.After(50 * time.Millisecond):
	}
}
