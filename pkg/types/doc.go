/*
Package types holds the shared data model of the remote shuffle service:
server identities, partition ranges, shuffle blocks, status codes, and the
block-id bit layout. Every other package depends on it and it depends on
nothing but the standard library.
*/
package types
