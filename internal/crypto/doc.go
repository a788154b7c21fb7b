// Package crypto implements all cryptographic operations for one local
// identity and its per-connection sessions.
//
// The identity is a long-lived NIST P-384 keypair used both for ECDSA
// signatures (handshake challenges) and ECDH key agreement. A Session is the
// ephemeral AEAD context derived from one handshake: ECDH shared secret,
// HKDF-SHA256 expansion to a 32-byte key, AES-256-GCM with a fresh random
// 96-bit nonce per message.
package crypto
