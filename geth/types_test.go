package geth

import (
	"bytes"
	"testing"

	"github.com/embervm/ember/core/types"
)

func TestAddressRoundTrip(t *testing.T) {
	a := types.HexToAddress("0x970e8128ab834e8eac17ab8e3812f010678cf791")
	if FromGethAddress(ToGethAddress(a)) != a {
		t.Error("address round trip failed")
	}
}

func TestHashRoundTrip(t *testing.T) {
	h := types.EmptyCodeHash
	if FromGethHash(ToGethHash(h)) != h {
		t.Error("hash round trip failed")
	}
}

func TestLogConversion(t *testing.T) {
	l := &types.Log{
		Address: types.HexToAddress("0x0000000000000000000000000000000000000001"),
		Topics:  []types.Hash{types.BytesToHash([]byte{0xaa})},
		Data:    []byte{1, 2, 3},
	}
	gl := ToGethLog(l)
	back := FromGethLog(gl)
	if back.Address != l.Address || len(back.Topics) != 1 || back.Topics[0] != l.Topics[0] {
		t.Errorf("log round trip mismatch: %+v", back)
	}
	if !bytes.Equal(back.Data, l.Data) {
		t.Errorf("data mismatch: %x", back.Data)
	}
	if ToGethLog(nil) != nil || FromGethLog(nil) != nil {
		t.Error("nil logs must convert to nil")
	}
}

func TestAccessListRoundTrip(t *testing.T) {
	al := types.AccessList{
		{
			Address:     types.HexToAddress("0x0000000000000000000000000000000000000002"),
			StorageKeys: []types.Hash{{}, types.BytesToHash([]byte{7})},
		},
	}
	back := FromGethAccessList(ToGethAccessList(al))
	if len(back) != 1 || back[0].Address != al[0].Address || len(back[0].StorageKeys) != 2 {
		t.Errorf("access list round trip mismatch: %+v", back)
	}
	if back[0].StorageKeys[1] != al[0].StorageKeys[1] {
		t.Error("storage key mismatch")
	}
	if ToGethAccessList(nil) != nil || FromGethAccessList(nil) != nil {
		t.Error("nil access lists must convert to nil")
	}
}

func TestLogsSliceConversion(t *testing.T) {
	logs := []*types.Log{
		{Address: types.BytesToAddress([]byte{1})},
		{Address: types.BytesToAddress([]byte{2})},
	}
	out := ToGethLogs(logs)
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	if FromGethAddress(out[1].Address) != logs[1].Address {
		t.Error("address mismatch in slice conversion")
	}
}
