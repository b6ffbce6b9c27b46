package zcrypt

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/pkg/errors"
)

// newGCM opens an AES-GCM AEAD session, the same construction
// pkg/provisioners/provisioners.go's Encrypt/Decrypt helpers use, with
// the nonce size set explicitly to ivBytes and without hashing a
// passphrase into the key: the key here is already the right length.
func newGCM(key []byte) (aead, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "aes.NewCipher")
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivBytes)
	if err != nil {
		return nil, errors.Wrap(err, "cipher.NewGCM")
	}
	return gcm, nil
}
