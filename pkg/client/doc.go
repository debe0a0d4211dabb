/*
Package client is the engine-linked shuffle client library.

A map-side task builds blocks with CreateShuffleBlock, obtains placement
with GetShuffleAssignments, registers the shuffle on every assigned server,
and ships blocks with SendShuffleData. Sends fan out over a bounded
transfer pool in up to two rounds: the primary replica group first, then
the secondary group only when a primary server failed. A block succeeds
once replicaWrite distinct servers acknowledged it; anything short of the
quorum is surfaced in SendResult.Failed and the engine reruns the task.

The reduce side reconstructs the partition's block-id set by unioning
bitmaps from replicaRead servers, then streams, verifies, and decompresses
the blocks with ShuffleReader.

Heartbeater keeps the app alive everywhere; its TTL expiry on the remote
side is what eventually garbage-collects all shuffle state.
*/
package client
