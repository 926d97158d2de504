// Package vectorstore adapts ANN vector indexes to the identifier view the
// reconciler needs: list every id, remove a set of ids, snapshot before
// writing.
//
// Two providers are supported. ChromemIndex reads a chromem-go persistent
// database in place; QdrantIndex talks to a Qdrant collection over gRPC
// with retries on transient errors. MemoryIndex holds ids in process.
//
// An index that cannot enumerate its ids returns ErrListingUnsupported from
// ListIDs. That is a capability gap, not a failure: the reconciler runs
// without existence checks.
//
// Index operations are counted in OperationsTotal and timed in
// OperationDuration; call RegisterMetrics to export them.
package vectorstore
