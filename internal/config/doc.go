// Package config encapsulates configuration for the puppynetd daemon and
// the puppynet CLI.
//
// Every component stores logs, caches, and runtime state inside a
// dedicated base directory. Load's only argument is the path to that base
// directory rather than to a config file directly; the directory is
// expected to contain a line-oriented 'config' file matching the C struct
// of this package. The catalog, cache, staging and propagation-log paths
// default to locations inside the base directory (the last three are
// exposed as methods of C); the keypair path defaults to $KEYPAIR or
// ./peer_keypair.bin instead.
package config
