package availability

import (
	"testing"
	"time"
)

func TestDisableMonotonicity(t *testing.T) {
	r := New(10 * time.Second)
	t0 := time.Unix(1000, 0)
	r.Disable("claude-3-5-sonnet", t0, 5*time.Second)

	cases := []struct {
		at   time.Time
		want bool
	}{
		{t0, false},
		{t0.Add(4 * time.Second), false},
		{t0.Add(5 * time.Second), true},
		{t0.Add(6 * time.Second), true},
	}
	for _, c := range cases {
		if got := r.IsAvailable("claude-3-5-sonnet", c.at); got != c.want {
			t.Errorf("IsAvailable(%v) = %v, want %v", c.at, got, c.want)
		}
	}
}

func TestDisableLastWriterWins(t *testing.T) {
	r := New(10 * time.Second)
	t0 := time.Unix(2000, 0)
	r.Disable("m", t0, 5*time.Second)
	r.Disable("m", t0.Add(1*time.Second), 2*time.Second)

	// the second call's window (t0+1 .. t0+3) wins outright, not extended
	// on top of the first.
	if r.IsAvailable("m", t0.Add(2*time.Second)) {
		t.Fatalf("expected m unavailable at t0+2s")
	}
	if !r.IsAvailable("m", t0.Add(3*time.Second)) {
		t.Fatalf("expected m available at t0+3s")
	}
}

func TestSnapshotAndClear(t *testing.T) {
	r := New(10 * time.Second)
	t0 := time.Unix(3000, 0)
	r.Disable("a", t0, 5*time.Second)
	r.Disable("b", t0, 5*time.Second)

	if got := len(r.Snapshot()); got != 2 {
		t.Fatalf("snapshot len = %d, want 2", got)
	}
	r.Clear()
	if got := len(r.Snapshot()); got != 0 {
		t.Fatalf("snapshot after clear len = %d, want 0", got)
	}
}

func TestUnknownModelIsAvailable(t *testing.T) {
	r := New(10 * time.Second)
	if !r.IsAvailable("never-disabled", time.Unix(0, 0)) {
		t.Fatalf("expected unknown model to be available")
	}
}
