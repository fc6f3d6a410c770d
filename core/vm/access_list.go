package vm

// access_list.go implements EIP-2929 warm/cold access tracking for
// addresses and storage slots, with an insertion journal so nested-frame
// reverts can restore the exact warm sets. Pre-populated entries (sender,
// target, coinbase, precompiles, EIP-2930 tuples) survive all reverts.

import (
	"github.com/embervm/ember/core/types"
)

// slotID keys the warm-slot set on the (address, slot) pair.
type slotID struct {
	addr types.Address
	slot types.Hash
}

// accessChangeKind identifies the type of change recorded in the journal.
type accessChangeKind uint8

const (
	changeAddAddress accessChangeKind = iota
	changeAddSlot
)

// accessChange records a single warm-set insertion for revert.
type accessChange struct {
	kind accessChangeKind
	addr types.Address
	slot types.Hash // only for changeAddSlot
}

// AccessList tracks the transaction-scoped warm sets. The map values are
// the journal index of the insertion; pre-populated entries use -1 so they
// are never rolled back.
type AccessList struct {
	addresses map[types.Address]int
	slots     map[slotID]int
	journal   []accessChange
	snapshots []int // journal length at each snapshot
}

// NewAccessList returns an empty access list.
func NewAccessList() *AccessList {
	return &AccessList{
		addresses: make(map[types.Address]int),
		slots:     make(map[slotID]int),
	}
}

// PrePopulate warms the entries every transaction starts with: the sender,
// the call target (nil for creations), the block coinbase from Shanghai on
// (EIP-3651), the precompile addresses active under the fork, and the
// tuples of an EIP-2930 access list.
func (al *AccessList) PrePopulate(fork Hardfork, sender types.Address, to *types.Address, coinbase types.Address, list types.AccessList) {
	al.addAddressPinned(sender)
	if to != nil {
		al.addAddressPinned(*to)
	}
	if fork.AtLeast(Shanghai) {
		al.addAddressPinned(coinbase)
	}
	for _, addr := range ActivePrecompiles(fork) {
		al.addAddressPinned(addr)
	}
	for _, tuple := range list {
		al.addAddressPinned(tuple.Address)
		for _, key := range tuple.StorageKeys {
			al.addSlotPinned(tuple.Address, key)
		}
	}
}

// addAddressPinned inserts without journaling, so the entry persists
// across reverts.
func (al *AccessList) addAddressPinned(addr types.Address) {
	if _, ok := al.addresses[addr]; !ok {
		al.addresses[addr] = -1
	}
}

// addSlotPinned inserts a slot (and its address) without journaling.
func (al *AccessList) addSlotPinned(addr types.Address, slot types.Hash) {
	al.addAddressPinned(addr)
	id := slotID{addr, slot}
	if _, ok := al.slots[id]; !ok {
		al.slots[id] = -1
	}
}

// ContainsAddress reports whether the address is warm.
func (al *AccessList) ContainsAddress(addr types.Address) bool {
	_, ok := al.addresses[addr]
	return ok
}

// ContainsSlot reports whether the (address, slot) pair is warm.
func (al *AccessList) ContainsSlot(addr types.Address, slot types.Hash) bool {
	_, ok := al.slots[slotID{addr, slot}]
	return ok
}

// TouchAddress warms addr if cold. It reports whether the address was
// already warm. Insertion is idempotent.
func (al *AccessList) TouchAddress(addr types.Address) bool {
	if _, ok := al.addresses[addr]; ok {
		return true
	}
	al.addresses[addr] = len(al.journal)
	al.journal = append(al.journal, accessChange{kind: changeAddAddress, addr: addr})
	return false
}

// TouchSlot warms the (address, slot) pair if cold, warming the address as
// a side effect. It reports whether the slot was already warm.
func (al *AccessList) TouchSlot(addr types.Address, slot types.Hash) bool {
	al.TouchAddress(addr)
	id := slotID{addr, slot}
	if _, ok := al.slots[id]; ok {
		return true
	}
	al.slots[id] = len(al.journal)
	al.journal = append(al.journal, accessChange{kind: changeAddSlot, addr: addr, slot: slot})
	return false
}

// AccessAddress touches addr and returns the full EIP-2929 access cost:
// ColdAccountAccessCost on first touch, WarmStorageReadCost after.
func (al *AccessList) AccessAddress(addr types.Address) uint64 {
	if al.TouchAddress(addr) {
		return WarmStorageReadCost
	}
	return ColdAccountAccessCost
}

// AccessSlot touches the slot and returns the full access cost:
// ColdSloadCost on first touch, WarmStorageReadCost after.
func (al *AccessList) AccessSlot(addr types.Address, slot types.Hash) uint64 {
	if al.TouchSlot(addr, slot) {
		return WarmStorageReadCost
	}
	return ColdSloadCost
}

// Snapshot records the current journal position and returns its id.
func (al *AccessList) Snapshot() int {
	id := len(al.snapshots)
	al.snapshots = append(al.snapshots, len(al.journal))
	return id
}

// RevertToSnapshot undoes every insertion journaled after the snapshot.
// Pinned entries are unaffected.
func (al *AccessList) RevertToSnapshot(id int) {
	if id < 0 || id >= len(al.snapshots) {
		return
	}
	journalLen := al.snapshots[id]
	for i := len(al.journal) - 1; i >= journalLen; i-- {
		ch := al.journal[i]
		switch ch.kind {
		case changeAddAddress:
			if idx, ok := al.addresses[ch.addr]; ok && idx >= journalLen {
				delete(al.addresses, ch.addr)
			}
		case changeAddSlot:
			sid := slotID{ch.addr, ch.slot}
			if idx, ok := al.slots[sid]; ok && idx >= journalLen {
				delete(al.slots, sid)
			}
		}
	}
	al.journal = al.journal[:journalLen]
	al.snapshots = al.snapshots[:id]
}

// Len returns the warm address and slot counts.
func (al *AccessList) Len() (addresses, slots int) {
	return len(al.addresses), len(al.slots)
}
