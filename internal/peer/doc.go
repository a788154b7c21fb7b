// Package peer owns the connection lifecycle: listening, dialing (directly or
// through a SOCKS5 proxy), the authenticated handshake, the encrypted message
// channel, periodic session renewal, and the file-transfer sub-protocol.
//
// A Manager holds at most one live peer session at a time. The accept loop,
// the receive loop and the renewal monitor each run on their own goroutine,
// poll with bounded deadlines, and are joined during teardown. Everything the
// operator needs to see flows through a single domain.EventFunc sink; the
// Manager never touches the terminal.
package peer
