package dmx

import "testing"

func TestHTPMergeIdempotent(t *testing.T) {
	x := NewBuffer([]byte{10, 20, 30})
	y := x.Clone()
	x.HTPMerge(&y)
	if !x.Equal(&y) {
		t.Fatalf("HTPMerge(x, x) != x: got %v want %v", x.Bytes(), y.Bytes())
	}
}

func TestHTPMergeWithZero(t *testing.T) {
	x := NewBuffer([]byte{10, 20, 30})
	zero := NewBuffer(nil)
	want := x.Clone()
	x.HTPMerge(&zero)
	if !x.Equal(&want) {
		t.Fatalf("HTPMerge(x, zero) != x: got %v want %v", x.Bytes(), want.Bytes())
	}
}

func TestHTPMergePerSlotMax(t *testing.T) {
	a := NewBuffer([]byte{10, 0, 0})
	b := NewBuffer([]byte{0, 20, 30})
	a.HTPMerge(&b)
	want := []byte{10, 20, 30}
	if len(a.Bytes()) != len(want) {
		t.Fatalf("size = %d, want %d", len(a.Bytes()), len(want))
	}
	for i, v := range want {
		if a.Get(i) != v {
			t.Fatalf("slot %d = %d, want %d", i, a.Get(i), v)
		}
	}
}

func TestHTPMergeGrows(t *testing.T) {
	a := NewBuffer([]byte{1})
	b := NewBuffer([]byte{1, 2, 3})
	a.HTPMerge(&b)
	if a.Size() != 3 {
		t.Fatalf("size = %d, want 3", a.Size())
	}
}

func TestGetOutOfRange(t *testing.T) {
	a := NewBuffer([]byte{1, 2})
	if a.Get(5) != 0 {
		t.Fatalf("out-of-range Get must be 0")
	}
}

func TestBlackout(t *testing.T) {
	var a Buffer
	a.Blackout()
	if a.Size() != MaxSlots {
		t.Fatalf("blackout size = %d, want %d", a.Size(), MaxSlots)
	}
	for i := 0; i < a.Size(); i++ {
		if a.Get(i) != 0 {
			t.Fatalf("blackout slot %d not zero", i)
		}
	}
}

func TestReset(t *testing.T) {
	a := NewBuffer([]byte{1, 2, 3})
	a.Reset()
	if a.Size() != 0 {
		t.Fatalf("reset size = %d, want 0", a.Size())
	}
}

func TestClampPriority(t *testing.T) {
	cases := map[int]uint8{-5: 0, 0: 0, 100: 100, 200: 200, 201: 200, 255: 200}
	for in, want := range cases {
		if got := ClampPriority(in); got != want {
			t.Fatalf("ClampPriority(%d) = %d, want %d", in, got, want)
		}
	}
}
