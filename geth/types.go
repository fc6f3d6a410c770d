// Package geth provides an adapter layer between ember's type system and
// go-ethereum's. Apart from core/vm's use of go-ethereum's blake2b for the
// BLAKE2 F precompile, it is the only package that imports go-ethereum; hosts
// embedding the engine in a geth-based node use these conversions at the
// boundary.
package geth

import (
	gethcommon "github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/embervm/ember/core/types"
)

// ToGethAddress converts an ember Address to a go-ethereum Address.
func ToGethAddress(a types.Address) gethcommon.Address {
	return gethcommon.Address(a)
}

// FromGethAddress converts a go-ethereum Address to an ember Address.
func FromGethAddress(a gethcommon.Address) types.Address {
	return types.Address(a)
}

// ToGethHash converts an ember Hash to a go-ethereum Hash.
func ToGethHash(h types.Hash) gethcommon.Hash {
	return gethcommon.Hash(h)
}

// FromGethHash converts a go-ethereum Hash to an ember Hash.
func FromGethHash(h gethcommon.Hash) types.Hash {
	return types.Hash(h)
}

// ToGethTopics converts log topics.
func ToGethTopics(topics []types.Hash) []gethcommon.Hash {
	if topics == nil {
		return nil
	}
	out := make([]gethcommon.Hash, len(topics))
	for i, t := range topics {
		out[i] = ToGethHash(t)
	}
	return out
}

// FromGethTopics converts log topics.
func FromGethTopics(topics []gethcommon.Hash) []types.Hash {
	if topics == nil {
		return nil
	}
	out := make([]types.Hash, len(topics))
	for i, t := range topics {
		out[i] = FromGethHash(t)
	}
	return out
}

// ToGethLog converts an ember Log to a go-ethereum Log.
func ToGethLog(l *types.Log) *gethtypes.Log {
	if l == nil {
		return nil
	}
	return &gethtypes.Log{
		Address: ToGethAddress(l.Address),
		Topics:  ToGethTopics(l.Topics),
		Data:    l.Data,
	}
}

// FromGethLog converts a go-ethereum Log to an ember Log.
func FromGethLog(l *gethtypes.Log) *types.Log {
	if l == nil {
		return nil
	}
	return &types.Log{
		Address: FromGethAddress(l.Address),
		Topics:  FromGethTopics(l.Topics),
		Data:    l.Data,
	}
}

// ToGethLogs converts a log slice.
func ToGethLogs(logs []*types.Log) []*gethtypes.Log {
	if logs == nil {
		return nil
	}
	out := make([]*gethtypes.Log, len(logs))
	for i, l := range logs {
		out[i] = ToGethLog(l)
	}
	return out
}

// ToGethAccessList converts an ember AccessList to a go-ethereum
// AccessList.
func ToGethAccessList(al types.AccessList) gethtypes.AccessList {
	if al == nil {
		return nil
	}
	out := make(gethtypes.AccessList, len(al))
	for i, tuple := range al {
		keys := make([]gethcommon.Hash, len(tuple.StorageKeys))
		for j, k := range tuple.StorageKeys {
			keys[j] = ToGethHash(k)
		}
		out[i] = gethtypes.AccessTuple{
			Address:     ToGethAddress(tuple.Address),
			StorageKeys: keys,
		}
	}
	return out
}

// FromGethAccessList converts a go-ethereum AccessList to an ember
// AccessList, e.g. to pre-warm the engine's access list from an
// EIP-2930 transaction decoded by geth.
func FromGethAccessList(al gethtypes.AccessList) types.AccessList {
	if al == nil {
		return nil
	}
	out := make(types.AccessList, len(al))
	for i, tuple := range al {
		keys := make([]types.Hash, len(tuple.StorageKeys))
		for j, k := range tuple.StorageKeys {
			keys[j] = FromGethHash(k)
		}
		out[i] = types.AccessTuple{
			Address:     FromGethAddress(tuple.Address),
			StorageKeys: keys,
		}
	}
	return out
}
