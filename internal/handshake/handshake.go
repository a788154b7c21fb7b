package handshake

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"emberlink/internal/crypto"
	"emberlink/internal/domain"
)

// DefaultTimeout bounds the whole handshake exchange.
const DefaultTimeout = 30 * time.Second

const challengeLen = 32

// Config carries the dependencies and policy for one handshake.
type Config struct {
	Identity *crypto.Identity
	Trust    domain.TrustStore
	Policy   domain.TrustPolicy
	// Timeout for the whole exchange; DefaultTimeout when zero.
	Timeout time.Duration
	Log     *logrus.Logger
}

// Result is the outcome of a successful handshake.
type Result struct {
	Session         *crypto.Session
	PeerFingerprint domain.Fingerprint
	// AddressMismatch is set when the fingerprint was trusted but recorded
	// under a different address. Informational only.
	AddressMismatch bool
}

func (c Config) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

func (c Config) log() *logrus.Logger {
	if c.Log != nil {
		return c.Log
	}
	return logrus.StandardLogger()
}

// Initiate runs the dialer's side of the handshake on conn. peerAddr is the
// address the trust store knows the peer by.
func Initiate(conn net.Conn, peerAddr string, cfg Config) (*Result, error) {
	deadline := time.Now().Add(cfg.timeout())
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	defer conn.SetDeadline(time.Time{})

	challenge := make([]byte, challengeLen)
	if _, err := rand.Read(challenge); err != nil {
		return nil, err
	}

	if err := sendJSON(conn, hello{
		PublicKey: hex.EncodeToString(cfg.Identity.PublicBytes()),
		Challenge: hex.EncodeToString(challenge),
	}); err != nil {
		return nil, classify(err)
	}

	var reply helloReply
	if err := recvJSON(conn, &reply); err != nil {
		return nil, classify(err)
	}
	peerKey, err := fromHex("public_key", reply.PublicKey)
	if err != nil {
		return nil, err
	}
	peerChallenge, err := fromHex("challenge", reply.Challenge)
	if err != nil {
		return nil, err
	}
	peerSig, err := fromHex("signature", reply.Signature)
	if err != nil {
		return nil, err
	}

	res, err := checkPeer(peerKey, peerAddr, cfg)
	if err != nil {
		return nil, err
	}
	if !crypto.Verify(peerKey, challenge, peerSig) {
		return nil, domain.ErrAuthFailed
	}

	sig, err := cfg.Identity.Sign(peerChallenge)
	if err != nil {
		return nil, err
	}
	if err := sendJSON(conn, closing{Signature: hex.EncodeToString(sig)}); err != nil {
		return nil, classify(err)
	}

	return finish(res, peerKey, cfg)
}

// Respond runs the accepter's side of the handshake on conn.
func Respond(conn net.Conn, peerAddr string, cfg Config) (*Result, error) {
	deadline := time.Now().Add(cfg.timeout())
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	defer conn.SetDeadline(time.Time{})

	var opening hello
	if err := recvJSON(conn, &opening); err != nil {
		return nil, classify(err)
	}
	peerKey, err := fromHex("public_key", opening.PublicKey)
	if err != nil {
		return nil, err
	}
	peerChallenge, err := fromHex("challenge", opening.Challenge)
	if err != nil {
		return nil, err
	}

	res, err := checkPeer(peerKey, peerAddr, cfg)
	if err != nil {
		return nil, err
	}

	challenge := make([]byte, challengeLen)
	if _, err := rand.Read(challenge); err != nil {
		return nil, err
	}
	sig, err := cfg.Identity.Sign(peerChallenge)
	if err != nil {
		return nil, err
	}
	if err := sendJSON(conn, helloReply{
		PublicKey: hex.EncodeToString(cfg.Identity.PublicBytes()),
		Challenge: hex.EncodeToString(challenge),
		Signature: hex.EncodeToString(sig),
	}); err != nil {
		return nil, classify(err)
	}

	var final closing
	if err := recvJSON(conn, &final); err != nil {
		return nil, classify(err)
	}
	peerSig, err := fromHex("signature", final.Signature)
	if err != nil {
		return nil, err
	}
	if !crypto.Verify(peerKey, challenge, peerSig) {
		return nil, domain.ErrAuthFailed
	}

	return finish(res, peerKey, cfg)
}

// checkPeer derives the peer fingerprint and applies the TOFU policy.
func checkPeer(peerKey []byte, peerAddr string, cfg Config) (*Result, error) {
	fp := domain.Fingerprint(crypto.Fingerprint(peerKey))
	mismatch, err := verifyTOFU(cfg.Trust, cfg.Policy, fp, peerAddr)
	if err != nil {
		cfg.log().WithFields(logrus.Fields{
			"fingerprint": fp,
			"address":     peerAddr,
			"policy":      cfg.Policy.String(),
		}).Warn("TOFU verification failed")
		return nil, err
	}
	if mismatch {
		cfg.log().WithFields(logrus.Fields{
			"fingerprint": fp,
			"address":     peerAddr,
		}).Info("peer trusted under a different address")
	}
	return &Result{PeerFingerprint: fp, AddressMismatch: mismatch}, nil
}

func finish(res *Result, peerKey []byte, cfg Config) (*Result, error) {
	sess, err := cfg.Identity.DeriveSession(peerKey)
	if err != nil {
		return nil, err
	}
	res.Session = sess
	return res, nil
}

// classify maps I/O deadline expiry to the handshake-timeout error.
func classify(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", domain.ErrHandshakeTimeout, err)
	}
	return err
}
