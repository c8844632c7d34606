package llmrelay

import (
	"errors"
	"reflect"
	"testing"
)

func TestRegistryRegisterAndDispose(t *testing.T) {
	r := NewRegistry[int]("number")

	disposeOne, err := r.Register("one", 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Register("two", 2); err != nil {
		t.Fatal(err)
	}

	if _, err := r.Register("one", 11); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}

	if got := r.Names(); !reflect.DeepEqual(got, []string{"one", "two"}) {
		t.Errorf("expected sorted names, got %v", got)
	}

	disposeOne()
	disposeOne()
	if _, ok := r.Get("one"); ok {
		t.Error("expected one to be gone")
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", r.Len())
	}
}

func TestRegistryStaleDisposerKeepsNewValue(t *testing.T) {
	r := NewRegistry[string]("provider")

	dispose, err := r.Register("qwen", "first")
	if err != nil {
		t.Fatal(err)
	}
	if !r.Unregister("qwen") {
		t.Fatal("expected Unregister to remove qwen")
	}
	if _, err := r.Register("qwen", "second"); err != nil {
		t.Fatal(err)
	}

	dispose()
	if v, ok := r.Get("qwen"); !ok || v != "second" {
		t.Errorf("stale disposer removed the new registration: %q %v", v, ok)
	}
	if r.Unregister("missing") {
		t.Error("expected Unregister of unknown name to report false")
	}
}

func TestRegistrySetReplaces(t *testing.T) {
	r := NewRegistry[int]("number")
	r.Set("x", 1)
	r.Set("x", 2)
	if v, _ := r.Get("x"); v != 2 {
		t.Errorf("expected 2, got %d", v)
	}
}
