package handshake

import "emberlink/internal/domain"

// verifyTOFU applies the configured trust policy to a peer fingerprint.
//
// Under TrustPolicyFingerprint any fingerprint present in the store is
// accepted, whatever address it was recorded under. Under
// TrustPolicyStrictAddress the fingerprint stored for the peer's exact
// address must match; an address that maps to a different fingerprint is a
// hard rejection, while a fingerprint known only under other addresses is
// accepted with the mismatch flag set (ephemeral source ports land here).
//
// An unknown fingerprint is always rejected and reported via RecordNewPeer so
// the operator can add it deliberately. The store is never written here.
func verifyTOFU(trust domain.TrustStore, policy domain.TrustPolicy, fp domain.Fingerprint, addr string) (mismatch bool, err error) {
	if policy == domain.TrustPolicyStrictAddress {
		if stored, ok := trust.LookupFingerprint(addr); ok {
			if stored == fp {
				return false, nil
			}
			// The address is pinned to a different identity. Never fall
			// through to membership here: a changed key for a known host is
			// exactly what this policy exists to catch.
			trust.RecordNewPeer(addr, fp)
			return false, &domain.TrustError{Fingerprint: fp, Address: addr}
		}
		if fingerprintKnown(trust, fp) {
			return true, nil
		}
		trust.RecordNewPeer(addr, fp)
		return false, &domain.TrustError{Fingerprint: fp, Address: addr}
	}

	if fingerprintKnown(trust, fp) {
		return false, nil
	}
	trust.RecordNewPeer(addr, fp)
	return false, &domain.TrustError{Fingerprint: fp, Address: addr}
}

func fingerprintKnown(trust domain.TrustStore, fp domain.Fingerprint) bool {
	for _, known := range trust.AllFingerprints() {
		if known == fp {
			return true
		}
	}
	return false
}
