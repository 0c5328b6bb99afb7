package interaction

import (
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"

	"github.com/mycobrun/cobrun-picker/radius"
)

func viewWithRadius(m float64) View {
	return View{Selection: radius.Selection{RadiusMeters: m}}
}

func receive(t *testing.T, ch <-chan View) View {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for debounced view")
		return View{}
	}
}

func assertNothing(t *testing.T, ch <-chan View) {
	t.Helper()
	select {
	case v := <-ch:
		t.Errorf("unexpected view with radius %v", v.Selection.RadiusMeters)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDebouncer_CoalescesToLatest(t *testing.T) {
	fc := fakeclock.NewFakeClock(time.Now())
	got := make(chan View, 10)
	d := NewDebouncer(fc, 500*time.Millisecond, func(v View) { got <- v })

	for i := 1; i <= 3; i++ {
		d.Trigger(viewWithRadius(float64(i * 100)))
		fc.Increment(100 * time.Millisecond)
	}
	assertNothing(t, got)

	fc.Increment(500 * time.Millisecond)
	if v := receive(t, got); v.Selection.RadiusMeters != 300 {
		t.Errorf("radius = %v, want 300", v.Selection.RadiusMeters)
	}
	assertNothing(t, got)
}

func TestDebouncer_WaitsFullDelay(t *testing.T) {
	fc := fakeclock.NewFakeClock(time.Now())
	got := make(chan View, 1)
	d := NewDebouncer(fc, 500*time.Millisecond, func(v View) { got <- v })

	d.Trigger(viewWithRadius(100))
	fc.Increment(499 * time.Millisecond)
	assertNothing(t, got)

	fc.Increment(time.Millisecond)
	receive(t, got)
}

func TestDebouncer_Flush(t *testing.T) {
	fc := fakeclock.NewFakeClock(time.Now())
	got := make(chan View, 2)
	d := NewDebouncer(fc, 500*time.Millisecond, func(v View) { got <- v })

	d.Flush()
	assertNothing(t, got)

	d.Trigger(viewWithRadius(700))
	if !d.Pending() {
		t.Fatal("expected a pending view")
	}
	d.Flush()
	if v := receive(t, got); v.Selection.RadiusMeters != 700 {
		t.Errorf("radius = %v, want 700", v.Selection.RadiusMeters)
	}
	if d.Pending() {
		t.Error("flush should clear the pending view")
	}

	fc.Increment(time.Second)
	assertNothing(t, got)
}

func TestDebouncer_Stop(t *testing.T) {
	fc := fakeclock.NewFakeClock(time.Now())
	got := make(chan View, 2)
	d := NewDebouncer(fc, 500*time.Millisecond, func(v View) { got <- v })

	d.Trigger(viewWithRadius(100))
	d.Stop()
	fc.Increment(time.Second)
	assertNothing(t, got)

	d.Trigger(viewWithRadius(200))
	fc.Increment(time.Second)
	assertNothing(t, got)
}

func TestDebouncer_ZeroDelayIsSynchronous(t *testing.T) {
	var calls int
	d := NewDebouncer(fakeclock.NewFakeClock(time.Now()), 0, func(View) { calls++ })

	d.Trigger(viewWithRadius(100))
	d.Trigger(viewWithRadius(200))
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}
