package registry

import (
	"testing"

	"github.com/wippyai/quickjs-bridge/engine"
)

func TestRegisterResolve(t *testing.T) {
	r := New()
	r.Register(engine.ObjectID(100), "hello", nil)

	got, ok := r.Resolve(100)
	if !ok {
		t.Fatal("expected entry for id 100")
	}
	if got != "hello" {
		t.Fatalf("expected hello, got %v", got)
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", r.Len())
	}
}

func TestResolveUnknown(t *testing.T) {
	r := New()
	if _, ok := r.Resolve(42); ok {
		t.Fatal("expected no entry for unknown id")
	}
}

func TestReleaseRunsFinalizerOnce(t *testing.T) {
	r := New()
	calls := 0
	r.Register(7, struct{}{}, func() { calls++ })

	r.Release(7)
	r.Release(7)
	r.Release(7)

	if calls != 1 {
		t.Fatalf("expected finalizer to run once, ran %d times", calls)
	}
	if _, ok := r.Resolve(7); ok {
		t.Fatal("entry should be gone after release")
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d entries", r.Len())
	}
}

func TestReleaseUnknownIsNoop(t *testing.T) {
	r := New()
	r.Release(999)
}

func TestReleaseSwallowsFinalizerPanic(t *testing.T) {
	r := New()
	r.Register(1, "a", func() { panic("boom") })
	r.Register(2, "b", nil)

	r.Release(1)

	if _, ok := r.Resolve(2); !ok {
		t.Fatal("unrelated entry should survive a panicking finalizer")
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", r.Len())
	}
}

func TestClearReleasesAll(t *testing.T) {
	r := New()
	finalized := make(map[int]bool)
	r.Register(1, "a", func() { finalized[1] = true })
	r.Register(2, "b", func() { finalized[2] = true })
	r.Register(3, "c", nil)

	r.Clear()

	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d entries", r.Len())
	}
	if !finalized[1] || !finalized[2] {
		t.Fatalf("expected all finalizers to run, got %v", finalized)
	}
	// Clear must leave the registry usable.
	r.Register(4, "d", nil)
	if r.Len() != 1 {
		t.Fatalf("expected 1 entry after re-register, got %d", r.Len())
	}
}
