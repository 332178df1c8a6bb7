package workflow

import (
	"sort"
	"testing"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	d := func(ctx Value, history []Event) ([]Command, error) { return nil, nil }

	if err := r.Register("hello", d); err != nil {
		t.Fatalf("Register returned %v", err)
	}
	if _, ok := r.Lookup("hello"); !ok {
		t.Fatal("expected decider to be registered")
	}
	if _, ok := r.Lookup("other"); ok {
		t.Fatal("unexpected decider for unregistered name")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	d := func(ctx Value, history []Event) ([]Command, error) { return nil, nil }

	if err := r.Register("hello", d); err != nil {
		t.Fatalf("Register returned %v", err)
	}
	if err := r.Register("hello", d); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestRegistryValidation(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("", func(ctx Value, history []Event) ([]Command, error) { return nil, nil }); err == nil {
		t.Fatal("expected empty name to fail")
	}
	if err := r.Register("d", nil); err == nil {
		t.Fatal("expected nil decider to fail")
	}
}

func TestRegistryNames(t *testing.T) {
	r := NewRegistry()
	d := func(ctx Value, history []Event) ([]Command, error) { return nil, nil }
	for _, name := range []string{"b", "a", "c"} {
		if err := r.Register(name, d); err != nil {
			t.Fatalf("Register(%q) returned %v", name, err)
		}
	}
	names := r.Names()
	sort.Strings(names)
	if len(names) != 3 || names[0] != "a" || names[2] != "c" {
		t.Fatalf("unexpected names %v", names)
	}
}
