package journal

import (
	"bytes"
	"fmt"
)

// PartitionInfo describes one partition of a key-value store: the half-open
// key range it covers, the block holding it and its key count.
type PartitionInfo struct {
	KeyStart []byte
	KeyLimit []byte
	BlockID  uint64
	KeyCount uint64
}

// Clone returns a deep copy so callers never alias catalog state.
func (p PartitionInfo) Clone() PartitionInfo {
	return PartitionInfo{
		KeyStart: bytes.Clone(p.KeyStart),
		KeyLimit: bytes.Clone(p.KeyLimit),
		BlockID:  p.BlockID,
		KeyCount: p.KeyCount,
	}
}

// Equal reports whether two partitions describe the same range and block.
func (p PartitionInfo) Equal(o PartitionInfo) bool {
	return bytes.Equal(p.KeyStart, o.KeyStart) &&
		bytes.Equal(p.KeyLimit, o.KeyLimit) &&
		p.BlockID == o.BlockID &&
		p.KeyCount == o.KeyCount
}

// ClonePartitions deep-copies a partition list. A nil input yields an empty,
// non-nil slice.
func ClonePartitions(in []PartitionInfo) []PartitionInfo {
	out := make([]PartitionInfo, len(in))
	for i, p := range in {
		out[i] = p.Clone()
	}
	return out
}

// EntryKind tags the variant of an Entry on the wire.
type EntryKind uint32

const (
	KindCreateStore EntryKind = iota + 1
	KindCompletePartition
	KindCompleteStore
	KindDeleteStore
	KindRenameStore
	KindMergeStore
)

func (k EntryKind) String() string {
	switch k {
	case KindCreateStore:
		return "CreateStore"
	case KindCompletePartition:
		return "CompletePartition"
	case KindCompleteStore:
		return "CompleteStore"
	case KindDeleteStore:
		return "DeleteStore"
	case KindRenameStore:
		return "RenameStore"
	case KindMergeStore:
		return "MergeStore"
	default:
		return fmt.Sprintf("EntryKind(%d)", uint32(k))
	}
}

// Entry is one durable state transition of the store catalog.
//
// The set of variants is closed: only the types in this file implement Entry.
// Code handling entries switches on the concrete type and treats anything
// else as an error.
type Entry interface {
	Kind() EntryKind
	isEntry()
}

// CreateStore registers StoreID as an incomplete store.
type CreateStore struct {
	StoreID uint64
}

// CompletePartition appends Info to the incomplete store StoreID.
type CompletePartition struct {
	StoreID uint64
	Info    PartitionInfo
}

// CompleteStore moves StoreID from incomplete to complete.
type CompleteStore struct {
	StoreID uint64
}

// DeleteStore removes the complete store StoreID.
type DeleteStore struct {
	StoreID uint64
}

// RenameStore moves the complete store OldStoreID to NewStoreID.
type RenameStore struct {
	OldStoreID uint64
	NewStoreID uint64
}

// MergeStore appends the partitions of FromStoreID to ToStoreID and removes
// FromStoreID.
type MergeStore struct {
	FromStoreID uint64
	ToStoreID   uint64
}

func (CreateStore) Kind() EntryKind       { return KindCreateStore }
func (CompletePartition) Kind() EntryKind { return KindCompletePartition }
func (CompleteStore) Kind() EntryKind     { return KindCompleteStore }
func (DeleteStore) Kind() EntryKind       { return KindDeleteStore }
func (RenameStore) Kind() EntryKind       { return KindRenameStore }
func (MergeStore) Kind() EntryKind        { return KindMergeStore }

func (CreateStore) isEntry()       {}
func (CompletePartition) isEntry() {}
func (CompleteStore) isEntry()     {}
func (DeleteStore) isEntry()       {}
func (RenameStore) isEntry()       {}
func (MergeStore) isEntry()        {}

// ApplyFunc receives replayed entries in sequence order.
type ApplyFunc func(seq uint64, entry Entry) error

// EntryIterator yields a finite sequence of entries once. Next may only be
// called after HasNext returned true.
type EntryIterator interface {
	HasNext() bool
	Next() (Entry, error)
}
