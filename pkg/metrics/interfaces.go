package metrics

import "time"

// CatalogMetrics observes the store catalog.
//
// This interface is optional - catalogs built without it use the no-op
// implementation.
type CatalogMetrics interface {
	// RecordOperation records a catalog operation (e.g. "CreateStore",
	// "MergeStore") with its duration and outcome.
	RecordOperation(operation string, duration time.Duration, err error)

	// SetStores publishes the number of incomplete and complete stores.
	SetStores(incomplete, complete int)

	// RecordReplay records a finished recovery with the number of applied entries.
	RecordReplay(entries int, duration time.Duration, err error)
}

// JournalMetrics observes the write-ahead journal.
type JournalMetrics interface {
	// RecordFlush records the persistence of the open log.
	RecordFlush(entries, bytes int, duration time.Duration, err error)

	// RecordCheckpoint records a checkpoint write.
	RecordCheckpoint(entries, bytes int, duration time.Duration, err error)

	// RecordLogSealed counts logs that reached their size limit.
	RecordLogSealed()

	// SetNextSequence publishes the next sequence number to be assigned.
	SetNextSequence(seq uint64)
}

// GCMetrics observes the journal garbage collector.
type GCMetrics interface {
	// RecordCycle records a finished collection cycle.
	RecordCycle(duration time.Duration, err error)

	// RecordDeletion records a deletion attempt of a journal artifact kind
	// ("checkpoint", "log", "temporary-checkpoint").
	RecordDeletion(kind string, err error)

	// RecordRetained counts artifacts that were considered and kept, by reason
	// ("too-young", "not-covered").
	RecordRetained(kind, reason string)
}

// StorageMetrics observes storage backend operations.
type StorageMetrics interface {
	// ObserveOperation records one backend call. bytes is the payload size for
	// reads and writes, 0 otherwise.
	ObserveOperation(backend, operation string, duration time.Duration, bytes int, err error)
}

type noopCatalogMetrics struct{}

func (noopCatalogMetrics) RecordOperation(string, time.Duration, error) {}
func (noopCatalogMetrics) SetStores(int, int)                          {}
func (noopCatalogMetrics) RecordReplay(int, time.Duration, error)      {}

type noopJournalMetrics struct{}

func (noopJournalMetrics) RecordFlush(int, int, time.Duration, error)      {}
func (noopJournalMetrics) RecordCheckpoint(int, int, time.Duration, error) {}
func (noopJournalMetrics) RecordLogSealed()                                {}
func (noopJournalMetrics) SetNextSequence(uint64)                          {}

type noopGCMetrics struct{}

func (noopGCMetrics) RecordCycle(time.Duration, error) {}
func (noopGCMetrics) RecordDeletion(string, error)     {}
func (noopGCMetrics) RecordRetained(string, string)    {}

type noopStorageMetrics struct{}

func (noopStorageMetrics) ObserveOperation(string, string, time.Duration, int, error) {}

// NewNoopCatalogMetrics returns a CatalogMetrics that discards everything.
func NewNoopCatalogMetrics() CatalogMetrics { return noopCatalogMetrics{} }

// NewNoopJournalMetrics returns a JournalMetrics that discards everything.
func NewNoopJournalMetrics() JournalMetrics { return noopJournalMetrics{} }

// NewNoopGCMetrics returns a GCMetrics that discards everything.
func NewNoopGCMetrics() GCMetrics { return noopGCMetrics{} }

// NewNoopStorageMetrics returns a StorageMetrics that discards everything.
func NewNoopStorageMetrics() StorageMetrics { return noopStorageMetrics{} }

// Status maps an error to the "status" label value.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
