// Package filedb stores one file per key under a fanned-out directory
// tree. It backs the persistent shard-state store, where values are too
// large for the embedded key-value backend.
package filedb
