/*
Package blockindex maintains the per-shard block lookup tables.

Each shard owns a contiguous array of (seq_no, lt, unix_time, block_id)
entries and a descriptor carrying the range bounds and the newest key
values. Appends are serialized per store and must not decrease seq_no:
equal is a no-op, lower is an error.

Queries by seq_no are exact; queries by logical time or unix time return
the smallest block whose key is at least the query value. Both binary-search
the entry array and fold the result across shard prefix depths, probing
deeper prefixes when the query lies past a shard's newest entry.
*/
package blockindex
