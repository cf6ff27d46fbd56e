/*
Package events distributes storage lifecycle events in process.

Subsystems publish an event when a shard state is stored, a garbage
collection run completes, a block is promoted into the archive, or a block
is indexed. Subscriptions carry an optional event-type filter and a bounded
buffer; delivery is synchronous fan-out, so a draining subscriber sees
events in publish order (a block's archived event never precedes its stored
event). A subscriber that falls behind loses events rather than stalling
the storage path, and its Subscription counts the drops.
*/
package events
