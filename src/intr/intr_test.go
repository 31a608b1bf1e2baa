package intr

import "testing"

func TestDispatchInvokesRegisteredHandler(t *testing.T) {
	const vec = 200
	Clear(vec)
	var got *Trapframe
	Register(vec, func(ctx *Trapframe) { got = ctx })
	defer Clear(vec)

	Dispatch(&Trapframe{Vector: vec, Cr2: 0x1234})
	if got == nil || got.Cr2 != 0x1234 {
		t.Fatalf("handler did not observe dispatched trapframe: %+v", got)
	}
}

func TestDispatchUnclaimedVectorIsNoop(t *testing.T) {
	Clear(201)
	Dispatch(&Trapframe{Vector: 201}) // must not panic
}

func TestRegisterTwiceOnSameVectorPanics(t *testing.T) {
	const vec = 202
	Clear(vec)
	Register(vec, func(*Trapframe) {})
	defer Clear(vec)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic re-registering a claimed vector")
		}
	}()
	Register(vec, func(*Trapframe) {})
}
