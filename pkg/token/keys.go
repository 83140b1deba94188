package token

import (
	"fmt"

	"github.com/systmms/payment-authgate/internal/secure"
)

// KeySet holds the current signing key plus every verification key still
// accepted, so a rotated-out signing key keeps validating tokens it minted
// until they naturally expire. Key material lives in secure.SecureBuffer
// enclaves: it is decrypted only when needed, and the decrypted buffer is
// destroyed right after a plain copy of the key is taken for the caller;
// that returned copy is not wiped.
type KeySet struct {
	signingKeyID string
	signing      *secure.SecureBuffer
	verification map[string]*secure.SecureBuffer
}

// NewKeySet seals signingKey as both the active signer and its own first
// verification key.
func NewKeySet(signingKeyID string, signingKey []byte) *KeySet {
	// NewSecureBuffer never errors in practice; memguard falls back to
	// standard allocation when mlock is unavailable rather than failing.
	// NewSecureBuffer wipes its input, so the verification copy is taken
	// before the signing key is sealed.
	verifyCopy := append([]byte(nil), signingKey...)
	buf, _ := secure.NewSecureBuffer(signingKey)
	verifyBuf, _ := secure.NewSecureBuffer(verifyCopy)
	return &KeySet{
		signingKeyID: signingKeyID,
		signing:      buf,
		verification: map[string]*secure.SecureBuffer{
			signingKeyID: verifyBuf,
		},
	}
}

// Rotate installs a new signing key, demoting the previous one to
// verification-only. The previous key keeps validating tokens it minted
// until its own overlap window (managed by the caller) ends and
// RetireVerificationKey is called.
func (ks *KeySet) Rotate(newKeyID string, newKey []byte) {
	verifyCopy := append([]byte(nil), newKey...)
	buf, _ := secure.NewSecureBuffer(newKey)
	verifyBuf, _ := secure.NewSecureBuffer(verifyCopy)
	ks.signing = buf
	ks.signingKeyID = newKeyID
	ks.verification[newKeyID] = verifyBuf
}

// RetireVerificationKey drops keyID from the accepted verification set. The
// current signing key may never be retired this way; rotate first.
func (ks *KeySet) RetireVerificationKey(keyID string) {
	if keyID == ks.signingKeyID {
		return
	}
	if buf, ok := ks.verification[keyID]; ok {
		buf.Destroy()
	}
	delete(ks.verification, keyID)
}

func (ks *KeySet) signingKeyBytes() ([]byte, error) {
	buf, err := ks.signing.Open()
	if err != nil {
		return nil, fmt.Errorf("open signing key: %w", err)
	}
	defer buf.Destroy()
	return append([]byte(nil), buf.Bytes()...), nil
}

// verificationKeys returns a copy of every currently accepted verification
// key. Order is unspecified; callers must try all of them.
func (ks *KeySet) verificationKeys() (map[string][]byte, error) {
	out := make(map[string][]byte, len(ks.verification))
	for id, enclave := range ks.verification {
		buf, err := enclave.Open()
		if err != nil {
			return nil, fmt.Errorf("open verification key %s: %w", id, err)
		}
		out[id] = append([]byte(nil), buf.Bytes()...)
		buf.Destroy()
	}
	return out, nil
}
