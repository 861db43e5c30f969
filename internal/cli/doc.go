// Package cli wires together the Cobra command tree for the chronicle binary.
//
// It defines the root command and all subcommands (notes, index, evidence,
// serve, config, providers, cache, version), binds flags, reads
// configuration, runs the notes pipeline, and returns deterministic exit
// codes.
package cli
