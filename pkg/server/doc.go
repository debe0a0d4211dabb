/*
Package server implements the shuffle server, the stateful data plane of
the remote shuffle service.

Incoming blocks land in a bounded buffer pool keyed by (app, shuffle,
partition range). A buffer crossing the flush threshold emits a FlushEvent
into the storage pipeline; a full pool answers NO_BUFFER, which clients
treat as back-pressure.

Each registered shuffle walks a strict lifecycle:

	INIT -> REGISTERED -> WRITING -> COMMITTING -> COMMITTED -> READABLE -> TOMBSTONED

sendCommit is the durability barrier: it drains the shuffle's buffers and
pending flush events before replying with the running commit count.
finishShuffle seals the shuffle; later writes answer STATE_UNEXPECTED and
reads become legal. An expired app heartbeat tombstones every shuffle from
any state and removes all of the app's storage.

Registered apps are also recorded in a small bbolt meta store so a
restarted server can delete on-disk data whose in-memory state died with
the previous process.
*/
package server
