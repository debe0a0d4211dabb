// Package metrics declares the Prometheus collectors shared by the
// coordinator, the shuffle server, and the client library, and exposes the
// promhttp handler both daemons serve on their metrics address.
package metrics
