package types

import (
	"bytes"
	"testing"
)

func TestAddressSetBytesPadding(t *testing.T) {
	a := BytesToAddress([]byte{0x01})
	want := make([]byte, AddressLength)
	want[AddressLength-1] = 0x01
	if !bytes.Equal(a.Bytes(), want) {
		t.Errorf("BytesToAddress(01) = %x, want %x", a.Bytes(), want)
	}
	// Oversized input keeps the rightmost bytes.
	long := make([]byte, 25)
	long[0] = 0xff
	long[24] = 0x01
	a = BytesToAddress(long)
	if a[AddressLength-1] != 0x01 || a[0] == 0xff {
		t.Errorf("oversized conversion = %x", a.Bytes())
	}
}

func TestHashHexRoundTrip(t *testing.T) {
	h := HexToHash("0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470")
	if h != EmptyCodeHash {
		t.Errorf("hex parse mismatch: %s", h)
	}
	if HexToHash(h.Hex()) != h {
		t.Error("Hex/HexToHash round trip failed")
	}
}

func TestZeroValues(t *testing.T) {
	var a Address
	var h Hash
	if !a.IsZero() || !h.IsZero() {
		t.Error("zero values must report IsZero")
	}
	if BytesToAddress([]byte{1}).IsZero() {
		t.Error("nonzero address reports zero")
	}
}

func TestAccessListStorageKeys(t *testing.T) {
	al := AccessList{
		{Address: BytesToAddress([]byte{1}), StorageKeys: []Hash{{}, BytesToHash([]byte{1})}},
		{Address: BytesToAddress([]byte{2})},
	}
	if got := al.StorageKeys(); got != 2 {
		t.Errorf("StorageKeys() = %d, want 2", got)
	}
}
