// Package handshake mutually authenticates two endpoints over a framed byte
// stream and yields a live crypto session.
//
// The exchange is three JSON frames with hex-encoded binary fields. The
// initiator sends its public key and a random challenge; the responder
// replies with its own key, its own challenge, and a signature over the
// initiator's challenge; the initiator closes with its signature over the
// responder's challenge. Each side checks the peer fingerprint against the
// trust store (TOFU) as soon as the peer key arrives, and verifies the
// challenge signature before trusting anything else. The whole sequence runs
// under a single deadline.
package handshake
