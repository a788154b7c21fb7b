// Package commands defines the emberlink CLI and wires dependencies for
// subcommands.
//
// Commands
//
//   - init           Create the local identity on first run
//   - fingerprint    Print the identity fingerprint
//   - hosts          Manage the known-hosts trust store
//   - chat           Listen for a peer, optionally dial one, and chat
//
// # Implementation
//
// The root command builds the dependency graph (identity keyfile, trust
// store) before any subcommand runs, so handlers share one app context.
package commands
