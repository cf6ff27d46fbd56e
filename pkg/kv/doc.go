/*
Package kv defines the narrow key-value interface the storage core consumes
and the two backends shipped with it.

The interface family layers capabilities: Reader (point reads and
iteration), Writer (point writes), Snapshottable (consistent read views) and
Transactional (atomic batches). Store adds lifecycle management. Subsystems
depend only on the smallest interface they need, so any conforming backend
can be plugged in.

Backends:

  - MemoryStore: mutex-guarded map; snapshots clone, batches buffer and
    apply under one lock. Used by tests and transient collections.
  - BoltStore: one BoltDB bucket per store, several stores may share one
    database file. Batches apply in a single write transaction; snapshots
    are read transactions.
*/
package kv
