package domain

// Fingerprint is the SHA-256 hex digest of a public key's compressed-point
// encoding. It is the durable peer identity: trust decisions key on the
// fingerprint, never on the network address.
type Fingerprint string

// FingerprintHexLen is the length of a full SHA-256 hex fingerprint.
const FingerprintHexLen = 64

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }

// Short returns an 8-character prefix suitable for display.
func (f Fingerprint) Short() string {
	if len(f) < 8 {
		return string(f)
	}
	return string(f[:8])
}

// TrustPolicy selects how a peer fingerprint is checked against the trust
// store during the handshake.
type TrustPolicy int

const (
	// TrustPolicyFingerprint accepts any fingerprint present in the store,
	// regardless of the address it was recorded under.
	TrustPolicyFingerprint TrustPolicy = iota
	// TrustPolicyStrictAddress requires the fingerprint recorded for the
	// peer's exact address to match. A fingerprint known under a different
	// address is accepted but flagged as an address mismatch.
	TrustPolicyStrictAddress
)

// String returns the flag-friendly name of the policy.
func (p TrustPolicy) String() string {
	switch p {
	case TrustPolicyStrictAddress:
		return "strict"
	default:
		return "fingerprint"
	}
}

// ParseTrustPolicy maps a flag value to a TrustPolicy.
func ParseTrustPolicy(s string) (TrustPolicy, bool) {
	switch s {
	case "fingerprint", "":
		return TrustPolicyFingerprint, true
	case "strict":
		return TrustPolicyStrictAddress, true
	}
	return TrustPolicyFingerprint, false
}
