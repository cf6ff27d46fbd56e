/*
Package cell defines the immutable content-addressed cell model.

A cell is the atomic unit of chain state: up to 128 bytes of payload, a
typed header and up to four references to other cells. The representation
hash commits to the header, the payload and every child hash, which makes
cells content-addressed: identical content means an identical hash, and a
cell can only reference cells whose content was decided before it, so the
structure is always a DAG, never a cycle.

DataCell is the fully in-memory form produced by the builder; the celldb
package provides the lazily-loaded persistent form. CellData carries the
owned header and payload with a self-delimiting binary codec shared by both.
*/
package cell
