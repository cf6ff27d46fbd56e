/*
Package archive implements the two-stage file store for block artifacts.

Artifacts (block data, proofs, proof links) first land as loose files in the
unapplied staging directory, written atomically. Promotion copies them into
append-only package files organized by masterchain sequence number, updates
the offset index mapping each entry's stable key hash to its (slice index,
offset) position, and only then unlinks the loose files under the block's
write lock, so a concurrent reader always finds the bytes in one tier or the
other.

A package file is a 4-byte magic header followed by framed entries
([u16 filename_len][u32 data_len][u16 reserved][filename][data]). Appends
are serialized per package by an exclusive lock and the continuation that
updates the indexes runs while the lock is held; reads open independent
file handles. A slice bundles the packages of one archive window; in a
regular window it rolls over to a new package file when the next entry
would take the current one past its byte budget, while a key-block window
keeps a single package file.

Promotion is best-effort-once: the per-block moving-started test-and-set
dedupes concurrent movers, and a caller that loses the race is told so
rather than retried.

Layout on disk:

	<root>/archive/unapplied/<entry-short-name>
	<root>/archive/packages/arch<window>/archive.<slice>.pack
	<root>/archive/packages/key<window>/archive.<slice>.pack
*/
package archive
