package domain

// TrustStore is the known-hosts collaborator consumed by the connection core.
// Lookups are keyed by fingerprint membership for trust decisions; the address
// is informational. Implementations serialize their own writes.
type TrustStore interface {
	// LookupFingerprint returns the fingerprint recorded for an address.
	LookupFingerprint(address string) (Fingerprint, bool)
	// AllFingerprints returns every fingerprint the store trusts.
	AllFingerprints() []Fingerprint
	// Nickname returns the display name recorded for a fingerprint.
	Nickname(fp Fingerprint) (string, bool)
	// RecordNewPeer notifies the store that an unknown peer presented itself.
	// It is an operator-workflow hook, never an automatic write.
	RecordNewPeer(address string, fp Fingerprint)
}
