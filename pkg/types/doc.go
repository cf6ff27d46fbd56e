/*
Package types defines the identifiers and records shared by every storage
subsystem.

CellId is the 32-byte content hash identifying an immutable cell. BlockIdExt
identifies a block by shard, sequence number and content hashes; its database
key form is a SHA-256 over all five components. BlockMeta is the compact
atomic flag-and-timestamp record persisted per block; BlockHandle couples it
with the transient per-block locks. ShardIdent carries the tagged shard
prefix used by the block index, and LtDesc/LtEntry are the block index
records.

All serialized forms are fixed-layout little-endian blobs.
*/
package types
