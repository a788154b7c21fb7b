// Package hosts persists the peer trust store: address to fingerprint
// mappings plus fingerprint nicknames, in known_hosts.json.
//
// The store is the single writer of its file; the connection core only reads
// through the domain.TrustStore interface. Adding a host is always an
// explicit operator action, never a side effect of a connection.
package hosts
