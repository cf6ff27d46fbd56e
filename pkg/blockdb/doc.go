/*
Package blockdb persists block meta records and shares block handles.

MetaDb stores the fixed-layout meta blob per block key. HandleStorage keeps
at most one live BlockHandle per block in a weak cache, so every subsystem
touching a block sees the same atomic flags and the same per-block locks.
NodeStateDb is the small named-value table for node-local state such as the
storage instance id.
*/
package blockdb
