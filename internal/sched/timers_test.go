package sched

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestFiresOnce(t *testing.T) {
	ts := New()
	defer ts.Stop()
	var n int32
	ts.Schedule("a", 5*time.Millisecond, func() { atomic.AddInt32(&n, 1) })
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&n); got != 1 {
		t.Fatalf("expected one fire, got %d", got)
	}
	if ts.Pending("a") {
		t.Fatal("fired timer should no longer be pending")
	}
}

func TestCancelPreventsFire(t *testing.T) {
	ts := New()
	defer ts.Stop()
	var n int32
	ts.Schedule("a", 10*time.Millisecond, func() { atomic.AddInt32(&n, 1) })
	ts.Cancel("a")
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&n); got != 0 {
		t.Fatalf("cancelled timer fired %d times", got)
	}
}

func TestRescheduleSupersedes(t *testing.T) {
	ts := New()
	defer ts.Stop()
	var first, second int32
	ts.Schedule("a", 5*time.Millisecond, func() { atomic.AddInt32(&first, 1) })
	ts.Schedule("a", 15*time.Millisecond, func() { atomic.AddInt32(&second, 1) })
	time.Sleep(60 * time.Millisecond)
	if atomic.LoadInt32(&first) != 0 {
		t.Fatal("superseded timer must not fire")
	}
	if atomic.LoadInt32(&second) != 1 {
		t.Fatal("replacement timer should fire exactly once")
	}
}

func TestStopDropsEverything(t *testing.T) {
	ts := New()
	var n int32
	ts.Schedule("a", 10*time.Millisecond, func() { atomic.AddInt32(&n, 1) })
	ts.Schedule("b", 10*time.Millisecond, func() { atomic.AddInt32(&n, 1) })
	ts.Stop()
	ts.Schedule("c", time.Millisecond, func() { atomic.AddInt32(&n, 1) })
	time.Sleep(40 * time.Millisecond)
	if got := atomic.LoadInt32(&n); got != 0 {
		t.Fatalf("stopped registry fired %d times", got)
	}
}
