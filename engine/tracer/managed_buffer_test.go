package tracer

import "testing"

func TestManagedBufferGrowthDoubles(t *testing.T) {
	b := NewManagedBuffer[uint32]("test", 0)
	if b.Len() != 0 {
		t.Fatalf("fresh buffer len = %d, want 0", b.Len())
	}

	b.Reserve(10)
	if b.Len() != 20 {
		t.Fatalf("after Reserve(10) len = %d, want 20 (doubled)", b.Len())
	}
	if !b.Dirty() || !b.BindingsInvalid() {
		t.Fatal("growth did not mark the buffer dirty and bindings invalid")
	}

	// A fit within capacity must not reallocate or re-flag.
	b.ClearBindingsInvalid()
	b.Reserve(15)
	if b.Len() != 20 {
		t.Fatalf("Reserve within capacity reallocated to %d", b.Len())
	}
	if b.BindingsInvalid() {
		t.Fatal("Reserve within capacity invalidated bindings")
	}

	b.Reserve(21)
	if b.Len() != 42 {
		t.Fatalf("after Reserve(21) len = %d, want 42", b.Len())
	}
	if !b.BindingsInvalid() {
		t.Fatal("growth past capacity did not invalidate bindings")
	}
}

func TestManagedBufferGrowthPreservesContent(t *testing.T) {
	b := NewManagedBuffer[uint32]("test", 0)
	b.Reserve(4)
	b.CopyFromSlice([]uint32{1, 2, 3, 4})

	b.Reserve(100)
	host := b.Host()
	for i, want := range []uint32{1, 2, 3, 4} {
		if host[i] != want {
			t.Fatalf("host[%d] = %d after growth, want %d", i, host[i], want)
		}
	}
}

func TestManagedBufferOffsetCopy(t *testing.T) {
	b := NewManagedBuffer[uint32]("test", 0)
	b.Reserve(8)

	b.CopyFromSliceOffset([]uint32{7, 8}, 3)
	host := b.Host()
	if host[3] != 7 || host[4] != 8 {
		t.Fatalf("offset copy landed at %v", host[:6])
	}
	if host[0] != 0 || host[5] != 0 {
		t.Fatal("offset copy disturbed neighboring elements")
	}
}

func TestManagedBufferOutOfRangePanics(t *testing.T) {
	b := NewManagedBuffer[uint32]("test", 0)
	b.Reserve(2) // capacity 4

	defer func() {
		if recover() == nil {
			t.Fatal("out-of-range copy did not panic")
		}
	}()
	b.CopyFromSlice([]uint32{1, 2, 3, 4, 5})
}

func TestManagedBufferElementSize(t *testing.T) {
	type wide struct {
		A [16]float32
		B [4]int32
	}
	b := NewManagedBuffer[wide]("test", 0)
	if got := b.ElementSize(); got != 80 {
		t.Fatalf("element size = %d, want 80", got)
	}
	b.Reserve(3)
	if got := b.ByteSize(); got != 80*6 {
		t.Fatalf("byte size = %d, want %d", got, 80*6)
	}
}
