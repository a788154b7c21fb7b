package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const privateKeyPEMType = "PRIVATE KEY"

// Identity is the long-lived P-384 signing and agreement keypair. Exactly one
// exists per process; it is created on first run and never rotated
// automatically.
type Identity struct {
	priv *ecdsa.PrivateKey
}

// LoadOrGenerateIdentity loads the PKCS#8 PEM private key at path, or
// generates a fresh P-384 keypair and persists it with owner-only
// permissions. The same path always yields the same identity across restarts.
func LoadOrGenerateIdentity(path string) (*Identity, error) {
	b, err := os.ReadFile(path)
	if err == nil {
		return parseIdentityPEM(b)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read identity key: %w", err)
	}

	priv, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate identity key: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("encode identity key: %w", err)
	}
	blk := pem.EncodeToMemory(&pem.Block{Type: privateKeyPEMType, Bytes: der})

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create key directory: %w", err)
		}
	}
	if err := os.WriteFile(path, blk, 0o600); err != nil {
		return nil, fmt.Errorf("persist identity key: %w", err)
	}
	return &Identity{priv: priv}, nil
}

func parseIdentityPEM(b []byte) (*Identity, error) {
	blk, _ := pem.Decode(b)
	if blk == nil {
		return nil, errors.New("identity keyfile is not PEM")
	}
	key, err := x509.ParsePKCS8PrivateKey(blk.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse identity key: %w", err)
	}
	priv, ok := key.(*ecdsa.PrivateKey)
	if !ok || priv.Curve != elliptic.P384() {
		return nil, errors.New("identity keyfile is not a P-384 key")
	}
	return &Identity{priv: priv}, nil
}

// PublicBytes returns the canonical compressed-point encoding of the local
// public key. This is the wire representation exchanged during the handshake
// and the fingerprint input.
func (id *Identity) PublicBytes() []byte {
	return elliptic.MarshalCompressed(elliptic.P384(), id.priv.X, id.priv.Y)
}

// Fingerprint returns the SHA-256 hex fingerprint of the local public key.
func (id *Identity) Fingerprint() string {
	return Fingerprint(id.PublicBytes())
}

// Sign signs a challenge with the identity private key (ECDSA over SHA-256).
func (id *Identity) Sign(challenge []byte) ([]byte, error) {
	sum := sha256.Sum256(challenge)
	sig, err := ecdsa.SignASN1(rand.Reader, id.priv, sum[:])
	if err != nil {
		return nil, fmt.Errorf("sign challenge: %w", err)
	}
	return sig, nil
}

// Verify reports whether sig is a valid signature over challenge by the
// compressed public key pub. A malformed key or signature verifies false.
func Verify(pub, challenge, sig []byte) bool {
	key, err := parseCompressed(pub)
	if err != nil {
		return false
	}
	sum := sha256.Sum256(challenge)
	return ecdsa.VerifyASN1(key, sum[:], sig)
}

// Fingerprint returns the SHA-256 hex digest of a compressed public key point.
func Fingerprint(pub []byte) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])
}

func parseCompressed(pub []byte) (*ecdsa.PublicKey, error) {
	x, y := elliptic.UnmarshalCompressed(elliptic.P384(), pub)
	if x == nil {
		return nil, errors.New("invalid compressed P-384 point")
	}
	return &ecdsa.PublicKey{Curve: elliptic.P384(), X: x, Y: y}, nil
}
