package pool

import "testing"

type resettableThing struct {
	value int
	reset bool
}

func (r *resettableThing) Reset() {
	r.value = 0
	r.reset = true
}

func TestLitePool_GetReturnsConstructedValue(t *testing.T) {
	p := NewLitePool(func() *resettableThing { return &resettableThing{value: 1} })
	v := p.Get()
	if v.value != 1 {
		t.Fatalf("expected the constructor's value, got %d", v.value)
	}
}

func TestLitePool_PutResetsResettableValues(t *testing.T) {
	p := NewLitePool(func() *resettableThing { return &resettableThing{} })
	v := p.Get()
	v.value = 42
	p.Put(v)

	if !v.reset {
		t.Fatal("expected Put to call Reset on a Resettable value")
	}
	if v.value != 0 {
		t.Fatalf("expected value zeroed by Reset, got %d", v.value)
	}
}

func TestLitePool_NilConstructorPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected NewLitePool to panic on a nil constructor")
		}
	}()
	NewLitePool[*resettableThing](nil)
}

func TestLitePool_NonResettableValuesSurvivePut(t *testing.T) {
	p := NewLitePool(func() *int { v := 5; return &v })
	v := p.Get()
	p.Put(v) // must not panic for a type without Reset()
	if *v != 5 {
		t.Fatalf("expected the value to be left alone, got %d", *v)
	}
}
