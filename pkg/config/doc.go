/*
Package config defines the immutable configuration structs for the
coordinator, the shuffle server, and the client library.

Configs are loaded from a YAML file, validated once at construction, and
never mutated afterwards. The client additionally overlays the knob map
served by Coordinator.fetchClientConf: a dynamic knob only applies where the
local file left the zero value, so explicit config always wins.
*/
package config
