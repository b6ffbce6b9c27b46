package zcrypt

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openzfs-go/storageengine/pkg/zerrors"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	for _, suite := range []Suite{AES128GCM, AES192GCM, AES256GCM, AES128CCM, AES192CCM, AES256CCM} {
		t.Run(suite.String(), func(t *testing.T) {
			n, err := suite.KeyBytes()
			require.NoError(t, err)
			k, err := Init(suite, make([]byte, n))
			require.NoError(t, err)

			salt, session, err := k.GetSalt()
			require.NoError(t, err)
			_ = session

			plaintext := []byte("0xDEADBEEF pattern data for a leaf block")
			var iv [ivBytes]byte
			iv[0] = 7

			ct, mac, err := EncryptBlock(k, salt, iv, plaintext)
			require.NoError(t, err)

			pt, err := DecryptBlock(k, salt, iv, mac, ct)
			require.NoError(t, err)
			require.True(t, bytes.Equal(pt, plaintext))
		})
	}
}

func TestDecryptFailsOnCorruptedMAC(t *testing.T) {
	k, err := Init(AES256GCM, make([]byte, 32))
	require.NoError(t, err)
	salt, _, err := k.GetSalt()
	require.NoError(t, err)

	var iv [ivBytes]byte
	ct, mac, err := EncryptBlock(k, salt, iv, []byte("secret block contents"))
	require.NoError(t, err)

	mac[0] ^= 0xff
	_, err = DecryptBlock(k, salt, iv, mac, ct)
	require.ErrorIs(t, err, zerrors.ErrChecksum)
}

func TestSaltRotatesAfterBound(t *testing.T) {
	k, err := Init(AES256GCM, make([]byte, 32))
	require.NoError(t, err)
	k.SetSaltUsesMax(4)

	seen := map[[8]byte]bool{}
	var iv [ivBytes]byte
	for i := 0; i < 10; i++ {
		salt, _, err := k.GetSalt()
		require.NoError(t, err)
		seen[salt] = true

		ct, mac, err := EncryptBlock(k, salt, iv, []byte("payload"))
		require.NoError(t, err)
		_, err = DecryptBlock(k, salt, iv, mac, ct)
		require.NoError(t, err, "every block must decrypt under its own recorded salt")
	}
	require.GreaterOrEqual(t, len(seen), 2, "expected at least 2 distinct salt values after SALT_USES_MAX=4 across 10 encryptions")
}

func TestKeyWrapUnwrapRoundTrip(t *testing.T) {
	k, err := Init(AES256GCM, make([]byte, 32))
	require.NoError(t, err)

	wrappingKey := make([]byte, 32)
	wrappingKey[0] = 0x42

	wrapped, err := k.Wrap(wrappingKey)
	require.NoError(t, err)

	unwrapped, err := Unwrap(wrapped, wrappingKey)
	require.NoError(t, err)

	require.True(t, bytes.Equal(k.master, unwrapped.master))
	require.True(t, bytes.Equal(k.hmac, unwrapped.hmac))
}

func TestUnwrapRejectsUnknownVersion(t *testing.T) {
	k, err := Init(AES256GCM, make([]byte, 32))
	require.NoError(t, err)
	wrappingKey := make([]byte, 32)

	wrapped, err := k.Wrap(wrappingKey)
	require.NoError(t, err)
	wrapped.Version = 2

	_, err = Unwrap(wrapped, wrappingKey)
	require.Error(t, err)
}

func TestObjectSetMACZeroLocalWhenIncomplete(t *testing.T) {
	hmacKey := make([]byte, hmacKeyBytes)
	mac := ComputeObjectSetMAC(hmacKey, 1, 0, MetaDnodeCore{Core: []byte("core")}, nil, true)
	var zero [macTruncatedBytes]byte
	require.Equal(t, zero, mac.Local)
}

func TestObjectSetMACDeterministic(t *testing.T) {
	hmacKey := make([]byte, hmacKeyBytes)
	meta := MetaDnodeCore{Core: []byte("core-bytes")}
	a := ComputeObjectSetMAC(hmacKey, 1, 0xff, meta, nil, true)
	b := ComputeObjectSetMAC(hmacKey, 1, 0xff, meta, nil, true)
	require.Equal(t, a.Portable, b.Portable)
}
