package common

import (
	"errors"
	"testing"
)

type pauseMap map[string]bool

func (p pauseMap) IsPaused(module string) bool { return p[module] }

func TestGuard(t *testing.T) {
	pauses := pauseMap{"escrow": true}

	if err := Guard(pauses, "escrow"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := Guard(pauses, "other"); err != nil {
		t.Fatalf("unexpected error for unpaused module: %v", err)
	}
	if err := Guard(nil, "escrow"); err != nil {
		t.Fatalf("nil view must disable the guard: %v", err)
	}
	if err := Guard(pauses, ""); err != nil {
		t.Fatalf("empty module name must disable the guard: %v", err)
	}
}
