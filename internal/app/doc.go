// Package app wires the dependency graph for the CLI: identity keyfile,
// trust store and connection manager, built from a single Config.
package app
