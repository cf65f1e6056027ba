package throttle

import (
	"testing"
	"time"
)

func newFakeClock(start time.Time) (*time.Time, func() time.Time) {
	now := start
	return &now, func() time.Time { return now }
}

func TestAdmitExactlyMaxWithinWindow(t *testing.T) {
	now, clock := newFakeClock(time.Unix(1000, 0))
	throttle := New(3, time.Minute)
	throttle.clock = clock

	for i := 0; i < 3; i++ {
		if !throttle.Admit() {
			t.Fatalf("Admit() call %d = false, want true", i+1)
		}
	}
	if throttle.Admit() {
		t.Fatal("Admit() beyond max = true, want false")
	}

	*now = now.Add(61 * time.Second)
	if !throttle.Admit() {
		t.Fatal("Admit() after window elapsed = false, want true")
	}
}

func TestTimeToWait(t *testing.T) {
	now, clock := newFakeClock(time.Unix(1000, 0))
	throttle := New(2, time.Minute)
	throttle.clock = clock

	if wait := throttle.TimeToWait(); wait != 0 {
		t.Fatalf("TimeToWait() on empty window = %v, want 0", wait)
	}

	throttle.Admit()
	*now = now.Add(10 * time.Second)
	throttle.Admit()

	wait := throttle.TimeToWait()
	if wait != 50*time.Second {
		t.Fatalf("TimeToWait() = %v, want 50s", wait)
	}

	*now = now.Add(50 * time.Second)
	if wait := throttle.TimeToWait(); wait != 0 {
		t.Fatalf("TimeToWait() after oldest expired = %v, want 0", wait)
	}
}

func TestAdmitSlidesWithPartialExpiry(t *testing.T) {
	now, clock := newFakeClock(time.Unix(1000, 0))
	throttle := New(2, time.Minute)
	throttle.clock = clock

	throttle.Admit()
	*now = now.Add(30 * time.Second)
	throttle.Admit()
	if throttle.Admit() {
		t.Fatal("Admit() at capacity = true, want false")
	}

	// Only the first timestamp has left the window.
	*now = now.Add(31 * time.Second)
	if !throttle.Admit() {
		t.Fatal("Admit() after first timestamp expired = false, want true")
	}
	if throttle.Admit() {
		t.Fatal("Admit() should be at capacity again")
	}
}

func TestAdmitConcurrent(t *testing.T) {
	throttle := New(50, time.Minute)
	admitted := make(chan bool, 100)
	for i := 0; i < 100; i++ {
		go func() { admitted <- throttle.Admit() }()
	}
	count := 0
	for i := 0; i < 100; i++ {
		if <-admitted {
			count++
		}
	}
	if count != 50 {
		t.Fatalf("admitted %d requests, want exactly 50", count)
	}
}
