package dispatch

import (
	"fmt"
	"testing"
	"time"
)

func TestDedupWindowRemember(t *testing.T) {
	w := NewDedupWindow(10, time.Minute)

	if !w.Remember("Ev1") {
		t.Error("first Remember(Ev1) = false, want true")
	}
	if w.Remember("Ev1") {
		t.Error("second Remember(Ev1) = true, want false")
	}
	if !w.Remember("Ev2") {
		t.Error("Remember(Ev2) = false, want true")
	}
}

func TestDedupWindowForget(t *testing.T) {
	w := NewDedupWindow(10, time.Minute)

	w.Remember("Ev1")
	w.Remember("Ev2")
	w.Forget("Ev1")

	if !w.Remember("Ev1") {
		t.Error("Remember(Ev1) after Forget = false, want true")
	}
	if w.Remember("Ev2") {
		t.Error("Remember(Ev2) = true, want false")
	}
	if w.Len() != 2 {
		t.Errorf("Len() = %d, want 2", w.Len())
	}
	// Forgetting an absent key is a no-op.
	w.Forget("Ev-unknown")
}

func TestDedupWindowCapacityEviction(t *testing.T) {
	w := NewDedupWindow(3, time.Hour)
	for i := 0; i < 4; i++ {
		w.Remember(fmt.Sprintf("Ev%d", i))
	}
	if w.Len() != 3 {
		t.Errorf("Len() = %d, want 3 after eviction", w.Len())
	}
	// Ev0 was evicted, so it reads as new again.
	if !w.Remember("Ev0") {
		t.Error("Remember(Ev0) after eviction = false, want true")
	}
	// Ev3 is still inside the window.
	if w.Remember("Ev3") {
		t.Error("Remember(Ev3) = true, want false")
	}
}

func TestDedupWindowAgeExpiry(t *testing.T) {
	now := time.Unix(9000, 0)
	w := NewDedupWindow(10, time.Minute).WithClock(func() time.Time { return now })

	w.Remember("Ev1")
	now = now.Add(30 * time.Second)
	w.Remember("Ev2")

	now = now.Add(45 * time.Second) // Ev1 is 75s old, Ev2 is 45s old
	if !w.Remember("Ev1") {
		t.Error("Remember(Ev1) after expiry = false, want true")
	}
	if w.Remember("Ev2") {
		t.Error("Remember(Ev2) inside the window = true, want false")
	}
}
