package atomics

import "testing"

func TestBoolZeroValueIsFalse(t *testing.T) {
	var b Bool
	if b.Get() {
		t.Fatalf("zero-value Bool should read false")
	}
}

func TestBoolSetAndGet(t *testing.T) {
	var b Bool
	b.Set(true)
	if !b.Get() {
		t.Fatalf("expected true after Set(true)")
	}
	b.Set(false)
	if b.Get() {
		t.Fatalf("expected false after Set(false)")
	}
}

func TestBoolSwapReturnsPrevious(t *testing.T) {
	var b Bool
	if prev := b.Swap(true); prev != false {
		t.Fatalf("expected previous value false, got %v", prev)
	}
	if prev := b.Swap(false); prev != true {
		t.Fatalf("expected previous value true, got %v", prev)
	}
	if b.Get() {
		t.Fatalf("expected false after final swap")
	}
}
