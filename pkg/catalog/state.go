package catalog

import (
	"fmt"
	"sort"

	"github.com/marmos91/dittokv/pkg/journal"
)

// state holds the two store maps. A store id is in at most one of them.
//
// The transition methods are shared by live operations and journal replay.
// They validate their precondition and leave the maps untouched when it does
// not hold.
type state struct {
	incomplete map[uint64][]journal.PartitionInfo
	complete   map[uint64][]journal.PartitionInfo
}

func newState() state {
	return state{
		incomplete: make(map[uint64][]journal.PartitionInfo),
		complete:   make(map[uint64][]journal.PartitionInfo),
	}
}

func (s *state) exists(id uint64) bool {
	_, inc := s.incomplete[id]
	_, com := s.complete[id]
	return inc || com
}

func (s *state) isIncomplete(id uint64) bool {
	_, ok := s.incomplete[id]
	return ok
}

func (s *state) isComplete(id uint64) bool {
	_, ok := s.complete[id]
	return ok
}

// apply dispatches a journal entry to its transition.
func (s *state) apply(e journal.Entry) error {
	switch v := e.(type) {
	case journal.CreateStore:
		return s.createStore(v.StoreID)
	case journal.CompletePartition:
		return s.completePartition(v.StoreID, v.Info)
	case journal.CompleteStore:
		return s.completeStore(v.StoreID)
	case journal.DeleteStore:
		return s.deleteStore(v.StoreID)
	case journal.RenameStore:
		return s.renameStore(v.OldStoreID, v.NewStoreID)
	case journal.MergeStore:
		return s.mergeStore(v.FromStoreID, v.ToStoreID)
	default:
		return fmt.Errorf("unsupported journal entry %T", e)
	}
}

func (s *state) createStore(id uint64) error {
	if s.exists(id) {
		return fmt.Errorf("store %d already exists", id)
	}
	s.incomplete[id] = []journal.PartitionInfo{}
	return nil
}

func (s *state) completePartition(id uint64, info journal.PartitionInfo) error {
	parts, ok := s.incomplete[id]
	if !ok {
		return fmt.Errorf("store %d is not incomplete", id)
	}
	s.incomplete[id] = append(parts, info.Clone())
	return nil
}

func (s *state) completeStore(id uint64) error {
	parts, ok := s.incomplete[id]
	if !ok {
		return fmt.Errorf("store %d is not incomplete", id)
	}
	delete(s.incomplete, id)
	s.complete[id] = parts
	return nil
}

func (s *state) deleteStore(id uint64) error {
	if !s.isComplete(id) {
		return fmt.Errorf("store %d is not complete", id)
	}
	delete(s.complete, id)
	return nil
}

func (s *state) renameStore(oldID, newID uint64) error {
	parts, ok := s.complete[oldID]
	if !ok {
		return fmt.Errorf("store %d is not complete", oldID)
	}
	if oldID == newID {
		return nil
	}
	if s.exists(newID) {
		return fmt.Errorf("store %d already exists", newID)
	}
	delete(s.complete, oldID)
	s.complete[newID] = parts
	return nil
}

func (s *state) mergeStore(fromID, toID uint64) error {
	if fromID == toID {
		return fmt.Errorf("store %d cannot be merged into itself", fromID)
	}
	from, ok := s.complete[fromID]
	if !ok {
		return fmt.Errorf("store %d is not complete", fromID)
	}
	to, ok := s.complete[toID]
	if !ok {
		return fmt.Errorf("store %d is not complete", toID)
	}
	s.complete[toID] = append(to, from...)
	delete(s.complete, fromID)
	return nil
}

// storeIDs returns every store id of both maps in ascending order.
func (s *state) storeIDs() []uint64 {
	ids := make([]uint64, 0, len(s.incomplete)+len(s.complete))
	for id := range s.incomplete {
		ids = append(ids, id)
	}
	for id := range s.complete {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func cloneMap(in map[uint64][]journal.PartitionInfo) map[uint64][]journal.PartitionInfo {
	out := make(map[uint64][]journal.PartitionInfo, len(in))
	for id, parts := range in {
		out[id] = journal.ClonePartitions(parts)
	}
	return out
}
