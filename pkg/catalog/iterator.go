package catalog

import (
	"github.com/marmos91/dittokv/pkg/journal"
)

type iteratorPhase int

const (
	phaseNotStarted iteratorPhase = iota
	phaseEmitting
	phaseExhausted
)

// checkpointIterator replays the catalog state as a minimal entry sequence.
//
// Stores are visited in ascending id order. For each store it yields one
// CreateStore, one CompletePartition per partition in list order and, for
// complete stores only, a trailing CompleteStore. Incomplete stores thus come
// back incomplete after recovery.
//
// While emitting, index is -1 before the CreateStore, a partition position
// afterwards, and len(partitions) when only the CompleteStore is left.
//
// The iterator reads the live maps: they must not change while it is drained.
type checkpointIterator struct {
	st    *state
	ids   []uint64
	phase iteratorPhase
	store int
	index int
}

func newCheckpointIterator(st *state) *checkpointIterator {
	return &checkpointIterator{st: st}
}

func (it *checkpointIterator) start() {
	it.ids = it.st.storeIDs()
	it.enterStore(0)
}

func (it *checkpointIterator) enterStore(store int) {
	if store >= len(it.ids) {
		it.phase = phaseExhausted
		return
	}
	it.phase = phaseEmitting
	it.store = store
	it.index = -1
}

func (it *checkpointIterator) current() (id uint64, parts []journal.PartitionInfo, complete bool) {
	id = it.ids[it.store]
	if parts, ok := it.st.complete[id]; ok {
		return id, parts, true
	}
	return id, it.st.incomplete[id], false
}

// HasNext implements journal.EntryIterator.
func (it *checkpointIterator) HasNext() bool {
	if it.phase == phaseNotStarted {
		it.start()
	}
	return it.phase == phaseEmitting
}

// Next implements journal.EntryIterator.
func (it *checkpointIterator) Next() (journal.Entry, error) {
	if !it.HasNext() {
		return nil, journal.ErrIteratorExhausted
	}

	id, parts, complete := it.current()

	var entry journal.Entry
	switch {
	case it.index < 0:
		entry = journal.CreateStore{StoreID: id}
	case it.index < len(parts):
		entry = journal.CompletePartition{StoreID: id, Info: parts[it.index].Clone()}
	default:
		entry = journal.CompleteStore{StoreID: id}
	}
	it.index++

	// Move on once the store has nothing left: incomplete stores end after
	// their last partition, complete ones after the CompleteStore.
	last := len(parts) - 1
	if complete {
		last = len(parts)
	}
	if it.index > last {
		it.enterStore(it.store + 1)
	}
	return entry, nil
}
