/*
Package storage implements the shuffle server's multi-tier storage: an
in-memory tier, a local-disk tier, and a remote HDFS tier behind a single
fixed capability set (select, write, read, lifecycle).

# Tier routing

MultiStorageManager picks the tier for each FlushEvent deterministically:
events above the cold-storage threshold go remote when the app has a remote
root; smaller events stay on local disk while usage is under the high
watermark; past the watermark the manager falls back to the remote tier when
the app has a remote root and otherwise keeps the event on local disk.
Routing is monotone in event size for a fixed configuration.

# Flush pipeline

FlushManager runs one single-writer goroutine per tier consuming a queue, so
the RPC path enqueues and returns. A failed local write is promoted to the
cold tier when the app has a remote root; a remote write is retried and, once retries are exhausted, the
shuffle is marked faulted and subsequent reads fail fast. Per-shuffle pending
counts implement the durability barrier behind sendCommit.

# On-disk layout

	<basePath>/<appId>/<shuffleId>/<start>-<end>/<seq>.data
	<basePath>/<appId>/<shuffleId>/<start>-<end>/<seq>.index

Index files are fixed-width 40-byte records (offset, length, uncompressed
length, crc, block id, task attempt id) so readers stride them without
parsing. The remote tier mirrors the same relative layout under the per-app
remote root.
*/
package storage
