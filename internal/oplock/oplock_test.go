package oplock_test

import (
	"errors"
	"testing"

	"orderline/internal/oplock"
)

func TestTryAcquireRefusesWhileHeld(t *testing.T) {
	g := oplock.New()
	release, err := g.TryAcquire()
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if !g.Held() {
		t.Fatal("gate should be held")
	}
	if _, err := g.TryAcquire(); !errors.Is(err, oplock.ErrBusy) {
		t.Fatalf("second acquire: got %v, want ErrBusy", err)
	}
	release()
	if g.Held() {
		t.Fatal("gate should be free after release")
	}
	if _, err := g.TryAcquire(); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	g := oplock.New()
	release, err := g.TryAcquire()
	if err != nil {
		t.Fatal(err)
	}
	release()
	release()
	// A double release must not free a slot someone else now holds.
	r2, err := g.TryAcquire()
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	release()
	if !g.Held() {
		t.Fatal("stale release freed another caller's slot")
	}
	r2()
}
