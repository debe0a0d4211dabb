/*
Package coordinator implements the control plane of the remote shuffle
service.

The coordinator holds soft state only: a registry of live shuffle servers
rebuilt from their heartbeats, and an application tracker driven by app
heartbeats. Nothing is persisted; a restarted coordinator reconverges within
one heartbeat interval.

# Placement

Assign maps a shuffle's partition ranges onto servers. Candidates are
filtered by required tags and ordered by the load key (app count, used
memory); each range takes replica distinct servers with a rotating start
index so ranges spread across the cluster. The result carries both
projections: partition to server list for writers, server to ranges for
pre-allocation on registration.

# Admission

AccessCluster routes each request through an ordered pipeline of checkers
configured by name. The first non-success verdict wins and its message names
the deciding checker. Built-ins: AccessCandidatesChecker (allow-list file,
reloaded periodically and on file change) and AccessClusterLoadChecker
(minimum live-server count).
*/
package coordinator
