/*
Package celldb implements the dynamic bag-of-cells store: a
content-addressed DAG of immutable cells over a key-value backend, with a
weak in-memory cache, transactional multi-cell writes and a mark-and-sweep
garbage collector driven by shard-state age.

# Saving and loading

SaveAsDynamicBoc walks a cell tree and feeds every cell missing from the
persistent store into a diff writer, a batch committed atomically after the
traversal. Membership is tested against the cell database itself, so a
subtree already on disk is never rewritten even when it has fallen out of
the cache; saving the same DAG twice writes zero cells the second time.

LoadCell resolves a hash to the shared in-memory cell: an upgradeable weak
cache entry wins, otherwise the record is read from disk, deserialized and
installed into the cache. The cache holds only weak entries: a cell stays
in memory exactly as long as some reader holds it, and its cache entry is
removed by a runtime cleanup once it is collected. References of a loaded
cell start unloaded (hash only) and are materialized on first access.

# Garbage collection

The collector scans the shard-state index and classifies each state: live
while its root is still held in memory or the resolver refuses collection
(gen_utime + ttl has not passed), dead otherwise. Live subtrees are stamped
with a fresh generation (mark), then dead subtrees are walked and every
cell still behind that generation is deleted in one batch (sweep). Cells
shared with a live state survive because mark runs to completion before
sweep begins, and the marked roots are pinned until the sweep batch has
committed.
*/
package celldb
