/*
Package rpc defines the wire contracts of the remote shuffle service: the
request/response messages for every verb, hand-written gRPC service
descriptors for the rss.Coordinator and rss.ShuffleServer services, and a
JSON codec used on both sides of the connection.

Stub generation is intentionally out of scope for this repository, so the
descriptors and typed clients here play the role protoc output plays
elsewhere: the transport is still plain gRPC, only the message encoding is
JSON instead of protobuf.

Every response embeds ResponseStatus. Servers map internal failures to a
status code plus message and never return a transport-level error for an
application-level condition.
*/
package rpc
