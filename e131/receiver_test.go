package e131

import (
	"path/filepath"
	"testing"

	"github.com/olalite/olad/prefs"
	"github.com/olalite/olad/universe"
)

func newTestReceiver(t *testing.T) (*Receiver, *universe.Store) {
	t.Helper()
	p := prefs.New()
	if err := p.Load(filepath.Join(t.TempDir(), "prefs.json")); err != nil {
		t.Fatalf("prefs load: %v", err)
	}
	store := universe.NewStore(p)
	return NewReceiver(store), store
}

// validHeader builds the address-type octet independently of
// DecodeDMPHeader's own shifts (bit 7 virtual, bit 6 relative, bits 5-4
// type, bits 1-0 size -- spec §6 / libs/acn/DMPHeader.h), so a decoder
// bug can't hide behind a test built the same wrong way. Virtual,
// non-relative, two-byte, range-equal is the real-wire 0xA1 value.
func validHeader(number uint16) []byte {
	addrType := byte(0x80) | byte(TypeRangeEqual<<4) | byte(SizeTwoBytes)
	return []byte{
		VectorSetProperty, addrType,
		0x00, 0x00, // first address
		0x00, 0x01, // address increment = 1
		byte(number >> 8), byte(number),
	}
}

func TestHandleFrameMergesIntoUniverse(t *testing.T) {
	r, store := newTestReceiver(t)
	r.Subscribe(7)

	ok := r.HandleFrame(Packet{
		UniverseID: 7,
		CID:        "cid-a",
		Sequence:   1,
		Priority:   100,
		DMPHeader:  validHeader(4),
		Data:       []byte{0x00, 10, 20, 30}, // start code + 3 slots
	})
	if !ok {
		t.Fatal("expected frame to be merged")
	}

	u, exists := store.GetUniverse(7)
	if !exists {
		t.Fatal("universe 7 should exist")
	}
	got := u.GetDMX()
	want := []byte{10, 20, 30}
	for i, w := range want {
		if got.Get(i) != w {
			t.Fatalf("slot %d = %d, want %d", i, got.Get(i), w)
		}
	}
}

func TestHandleFrameDropsUnsubscribedUniverse(t *testing.T) {
	r, _ := newTestReceiver(t)
	ok := r.HandleFrame(Packet{
		UniverseID: 9,
		CID:        "cid-a",
		DMPHeader:  validHeader(1),
		Data:       []byte{0x00, 1},
	})
	if ok {
		t.Fatal("frame for an unsubscribed universe must be dropped")
	}
}

func TestHandleFrameDropsHighPriority(t *testing.T) {
	r, _ := newTestReceiver(t)
	r.Subscribe(1)
	ok := r.HandleFrame(Packet{
		UniverseID: 1,
		CID:        "cid-a",
		Priority:   201,
		DMPHeader:  validHeader(1),
		Data:       []byte{0x00, 1},
	})
	if ok {
		t.Fatal("priority > 200 must be dropped")
	}
}

func TestHandleFrameReusesLastHeaderWhenOmitted(t *testing.T) {
	r, store := newTestReceiver(t)
	r.Subscribe(3)

	if !r.HandleFrame(Packet{
		UniverseID: 3,
		CID:        "cid-a",
		Sequence:   1,
		Priority:   100,
		DMPHeader:  validHeader(2),
		Data:       []byte{0x00, 5, 6},
	}) {
		t.Fatal("first frame with an explicit header should merge")
	}

	if !r.HandleFrame(Packet{
		UniverseID: 3,
		CID:        "cid-a",
		Sequence:   2,
		Priority:   100,
		Data:       []byte{0x00, 7, 8},
	}) {
		t.Fatal("second frame reusing the last header should merge")
	}

	u, _ := store.GetUniverse(3)
	got := u.GetDMX()
	if got.Get(0) != 7 || got.Get(1) != 8 {
		t.Fatalf("expected updated buffer [7 8], got %v", got.Bytes())
	}
}

func TestHandleFrameDropsNonUnitIncrement(t *testing.T) {
	r, _ := newTestReceiver(t)
	r.Subscribe(1)
	header := validHeader(1)
	header[5] = 0x02 // address increment = 2
	ok := r.HandleFrame(Packet{
		UniverseID: 1,
		CID:        "cid-a",
		DMPHeader:  header,
		Data:       []byte{0x00, 1},
	})
	if ok {
		t.Fatal("non-unit address increment must be dropped")
	}
}

func TestDecodeDMPHeaderRoundTrip(t *testing.T) {
	raw := validHeader(10)
	h, ok := DecodeDMPHeader(raw)
	if !ok {
		t.Fatal("expected header to decode")
	}
	if !h.Valid() {
		t.Fatal("expected header to be valid (virtual, non-relative, two-byte, range-equal)")
	}
	if h.Number != 10 {
		t.Fatalf("Number = %d, want 10", h.Number)
	}
	if h.AddressIncrement != 1 {
		t.Fatalf("AddressIncrement = %d, want 1", h.AddressIncrement)
	}
}
