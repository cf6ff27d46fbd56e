/*
Package metrics exposes Prometheus collectors for the storage core.

Counters and histograms cover the cell database (writes, loads, cache hits),
the garbage collector (runs, swept cells, duration), the archive subsystem
(appended entries and bytes, staged files, promoted blocks), and the block
index. Register installs every collector into a registry; Handler serves the
standard /metrics endpoint.
*/
package metrics
