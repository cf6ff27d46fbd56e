/*
Package storage wires the storage core together.

Storage composes the shard-state cell store (dynamic BOC plus garbage
collector), the two-stage block artifact archive, the block lookup index,
the block meta tables and the persistent state file store over a single
embedded database file (one bucket per logical table) and the archive
directory tree.

# Layout on disk

	<root>/db/storage.db                                  embedded tables
	<root>/archive/unapplied/<entry-short-name>           staged loose files
	<root>/archive/packages/arch<window>/archive.<n>.pack regular archives
	<root>/archive/packages/key<window>/archive.<n>.pack  key-block archives
	<root>/states/...                                     persistent states

# Atomicity domains

Each subsystem owns its own atomicity domain: cell DAG writes commit in one
batch, archive promotion is ordered by the per-block lock, and the block
index serializes appends per shard. There are no cross-subsystem
transactions.

# Typical flow

	cfg := storage.DefaultConfig()
	cfg.RootDir = "/var/lib/cellar"

	s, err := storage.Open(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer s.Close()

	handle, _ := s.Handles().Load(blockID)
	_ = s.StoreBlockData(ctx, handle, blockBytes)
	_ = s.StoreBlockProof(ctx, handle, proofBytes, false)
	_, _ = s.StoreState(handle, stateRoot)

	// later, once the block is old enough
	_, _ = s.ArchiveBlock(ctx, handle)
	_ = s.IndexBlock(handle)

	go s.RunGC(ctx)
*/
package storage
