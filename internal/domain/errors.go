package domain

import (
	"errors"
	"fmt"
)

// Network and lifecycle errors.
var (
	// ErrNotConnected is returned by operations that need a live peer session.
	ErrNotConnected = errors.New("not connected to a peer")
	// ErrAlreadyConnected is returned when a dial is attempted while a peer
	// session is active.
	ErrAlreadyConnected = errors.New("already connected to a peer")
	// ErrConnClosed indicates the peer closed the connection mid-read.
	ErrConnClosed = errors.New("connection closed by peer")
	// ErrManagerClosed is returned after Close has been called.
	ErrManagerClosed = errors.New("connection manager is closed")
)

// Protocol errors.
var (
	// ErrFrameTooLarge indicates a frame length above the configured cap.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	// ErrMalformedHandshake indicates an unexpected handshake payload shape.
	ErrMalformedHandshake = errors.New("malformed handshake payload")
)

// Authentication and crypto errors.
var (
	// ErrAuthFailed indicates the peer's challenge signature did not verify.
	ErrAuthFailed = errors.New("peer signature verification failed")
	// ErrHandshakeTimeout indicates the handshake did not complete in time.
	ErrHandshakeTimeout = errors.New("handshake timed out")
	// ErrNoSession is returned by crypto operations before key agreement.
	ErrNoSession = errors.New("session key not established")
)

// File transfer errors.
var (
	// ErrTransferPending rejects a second transfer while one is in flight.
	ErrTransferPending = errors.New("a file transfer is already pending")
	// ErrTransferDeclined reports that the peer declined the offer.
	ErrTransferDeclined = errors.New("peer declined the file transfer")
	// ErrSizeMismatch indicates received bytes disagree with the announced size.
	ErrSizeMismatch = errors.New("received size does not match announced size")
)

// ErrPingTimeout is returned when no pong arrives within the ping deadline.
var ErrPingTimeout = errors.New("ping timed out")

// TrustError is a TOFU rejection. It carries the peer fingerprint and address
// so the operator can be told exactly what to add to the trust store.
type TrustError struct {
	Fingerprint Fingerprint
	Address     string
}

// Error implements the error interface.
func (e *TrustError) Error() string {
	return fmt.Sprintf("unknown peer fingerprint %s from %s", e.Fingerprint, e.Address)
}

// RemediationCommand is the exact CLI invocation that would trust this peer.
func (e *TrustError) RemediationCommand() string {
	return fmt.Sprintf("emberlink hosts add %s %s", e.Address, e.Fingerprint)
}
