// Package wire provides reliable message boundaries on top of a byte stream.
//
// Every frame is a uint32 big-endian length prefix followed by exactly that
// many payload bytes. The stream may be a plain TCP connection or a
// SOCKS5-proxied one; the framing does not care.
package wire
