package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"emberlink/internal/domain"
	"emberlink/internal/util/memzero"
)

// sessionKeyInfo is the fixed HKDF info string. Both ends must agree on it for
// the derived keys to match.
const sessionKeyInfo = "emberlink-session-key"

// NonceSize is the AES-GCM nonce length prepended to every ciphertext.
const NonceSize = 12

const sessionKeyLen = 32

// Session is the ephemeral symmetric context for one authenticated
// connection. It is owned exclusively by the connection that created it,
// never persisted, and zeroed on Close.
type Session struct {
	key     []byte
	aead    cipher.AEAD
	peerPub []byte
	peerFP  domain.Fingerprint
}

// DeriveSession performs ECDH against the peer's compressed public key and
// expands the shared secret with HKDF-SHA256 into an AES-256-GCM session.
func (id *Identity) DeriveSession(peerPublic []byte) (*Session, error) {
	peerKey, err := parseCompressed(peerPublic)
	if err != nil {
		return nil, fmt.Errorf("peer public key: %w", err)
	}
	ecdhPriv, err := id.priv.ECDH()
	if err != nil {
		return nil, fmt.Errorf("identity key agreement form: %w", err)
	}
	ecdhPub, err := peerKey.ECDH()
	if err != nil {
		return nil, fmt.Errorf("peer key agreement form: %w", err)
	}
	shared, err := ecdhPriv.ECDH(ecdhPub)
	if err != nil {
		return nil, fmt.Errorf("ecdh: %w", err)
	}
	defer memzero.Zero(shared)

	key := make([]byte, sessionKeyLen)
	kdf := hkdf.New(sha256.New, shared, nil, []byte(sessionKeyInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}

	blk, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(blk)
	if err != nil {
		return nil, err
	}

	pub := make([]byte, len(peerPublic))
	copy(pub, peerPublic)
	return &Session{
		key:     key,
		aead:    aead,
		peerPub: pub,
		peerFP:  domain.Fingerprint(Fingerprint(peerPublic)),
	}, nil
}

// PeerFingerprint returns the fingerprint of the peer this session was
// derived with.
func (s *Session) PeerFingerprint() domain.Fingerprint { return s.peerFP }

// Encrypt seals a text message as nonce||ciphertext with a fresh random nonce.
func (s *Session) Encrypt(plaintext string) ([]byte, error) {
	return s.EncryptBytes([]byte(plaintext))
}

// Decrypt opens nonce||ciphertext and returns the text message. Any
// tampering, wrong key or truncation fails the authenticated decryption.
func (s *Session) Decrypt(data []byte) (string, error) {
	b, err := s.DecryptBytes(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// EncryptBytes seals binary data (file chunks) as nonce||ciphertext.
func (s *Session) EncryptBytes(data []byte) ([]byte, error) {
	if s == nil || s.aead == nil {
		return nil, domain.ErrNoSession
	}
	nonce := make([]byte, NonceSize, NonceSize+len(data)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, data, nil), nil
}

// DecryptBytes opens nonce||ciphertext produced by EncryptBytes.
func (s *Session) DecryptBytes(data []byte) ([]byte, error) {
	if s == nil || s.aead == nil {
		return nil, domain.ErrNoSession
	}
	if len(data) < NonceSize {
		return nil, fmt.Errorf("ciphertext truncated: %d bytes", len(data))
	}
	pt, err := s.aead.Open(nil, data[:NonceSize], data[NonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("authenticated decryption: %w", err)
	}
	return pt, nil
}

// Close zeroes the session key material. The session is unusable afterwards.
func (s *Session) Close() {
	if s == nil {
		return
	}
	memzero.Zero(s.key)
	s.aead = nil
}
