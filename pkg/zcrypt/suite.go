// Package zcrypt implements the per-dataset master-key hierarchy, HKDF
// session-key derivation, salt rotation, AEAD block encryption, and the
// hierarchical object-set/indirect-block MAC tree (spec §3.4, §4.3).
//
// AES-GCM is built on crypto/aes + crypto/cipher exactly as
// pkg/provisioners/provisioners.go's Encrypt/Decrypt helpers do. AES-CCM
// has no ecosystem package anywhere in this module's corpus or the
// standard library, so it is implemented from first principles in
// ccm.go; see DESIGN.md for that justification.
package zcrypt

import "github.com/openzfs-go/storageengine/pkg/zerrors"

// Suite identifies one of the six crypto-suite/mode/keylen combinations
// of §4.3.1.
type Suite int

const (
	AES128GCM Suite = iota
	AES192GCM
	AES256GCM
	AES128CCM
	AES192CCM
	AES256CCM
)

// KeyBytes returns the suite's symmetric key length in bytes.
func (s Suite) KeyBytes() (int, error) {
	switch s {
	case AES128GCM, AES128CCM:
		return 16, nil
	case AES192GCM, AES192CCM:
		return 24, nil
	case AES256GCM, AES256CCM:
		return 32, nil
	default:
		return 0, zerrors.ErrNotSupported
	}
}

// IsCCM reports whether the suite uses CCM instead of GCM.
func (s Suite) IsCCM() bool {
	switch s {
	case AES128CCM, AES192CCM, AES256CCM:
		return true
	default:
		return false
	}
}

func (s Suite) String() string {
	switch s {
	case AES128GCM:
		return "aes-128-gcm"
	case AES192GCM:
		return "aes-192-gcm"
	case AES256GCM:
		return "aes-256-gcm"
	case AES128CCM:
		return "aes-128-ccm"
	case AES192CCM:
		return "aes-192-ccm"
	case AES256CCM:
		return "aes-256-ccm"
	default:
		return "unknown"
	}
}

const (
	// ivBytes is the 96-bit IV every suite uses (§4.3.1).
	ivBytes = 12
	// tagBytes is the 128-bit AEAD authentication tag every suite uses.
	tagBytes = 16
	// hmacKeyBytes is the fixed HMAC-SHA-512 key length (§3.4, §4.3.1).
	hmacKeyBytes = 64
	// macTruncatedBytes is the stored length of the portable/local MAC
	// (§4.3.5): HMAC-SHA-512 truncated to 32 bytes.
	macTruncatedBytes = 32
)

// aead is the minimal sealed/open contract an opened AES-GCM or AES-CCM
// session exposes. Both ccmAEAD and the stdlib cipher.AEAD (used directly
// for GCM) satisfy it.
type aead interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	Overhead() int
}

func openSession(suite Suite, key []byte) (aead, error) {
	if suite.IsCCM() {
		return newCCM(key)
	}
	return newGCM(key)
}
