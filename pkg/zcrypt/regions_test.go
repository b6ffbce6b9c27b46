package zcrypt

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDoCryptNoopWhenAllSlotsUnallocated(t *testing.T) {
	k, err := Init(AES256GCM, make([]byte, 32))
	require.NoError(t, err)
	salt, _, err := k.GetSalt()
	require.NoError(t, err)

	data := bytes.Repeat([]byte{0}, 512)
	regions := DnodeRegions(128, 64, 4, nil, 0, 0, false)

	var iv [ivBytes]byte
	var mac [tagBytes]byte
	out, wasNoop, err := DoCrypt(true, k, salt, iv, &mac, regions, data)
	require.NoError(t, err)
	require.True(t, wasNoop, "dnode block with only AAD regions (no allocated bonus) must be a no-op")
	require.True(t, bytes.Equal(out, data))
}

func TestDoCryptEncryptsBonusRegionOnly(t *testing.T) {
	k, err := Init(AES256GCM, make([]byte, 32))
	require.NoError(t, err)
	salt, _, err := k.GetSalt()
	require.NoError(t, err)

	data := make([]byte, 600)
	for i := range data {
		data[i] = byte(i)
	}
	// slots occupy [0,512); the bonus buffer sits past the last slot so it
	// never overlaps a dnode core region.
	regions := DnodeRegions(128, 64, 4, nil, 520, 50, true)

	var iv [ivBytes]byte
	var mac [tagBytes]byte
	out, wasNoop, err := DoCrypt(true, k, salt, iv, &mac, regions, data)
	require.NoError(t, err)
	require.False(t, wasNoop)

	require.True(t, bytes.Equal(out[:400], data[:400]), "aad region bytes must pass through unencrypted")
	require.False(t, bytes.Equal(out[520:570], data[520:570]), "bonus region must be replaced by ciphertext")

	back, wasNoop2, err := DoCrypt(false, k, salt, iv, &mac, regions, out)
	require.NoError(t, err)
	require.False(t, wasNoop2)
	require.True(t, bytes.Equal(back, data))
}

func TestZILRegionsCarvesEmbeddedBlockPointersOutOfPayload(t *testing.T) {
	records := []ZILRecord{
		{
			Start:     16,
			End:       216,
			LeadBytes: 32,
			BlockPointers: [][2]int64{
				{116, 166},
			},
		},
	}
	regions := ZILRegions(16, records)

	var encryptTotal, aadTotal int64
	for _, r := range regions {
		n := r.End - r.Start
		if r.Encrypt {
			encryptTotal += n
			require.False(t, r.Start >= 116 && r.End <= 166, "block pointer range must not be re-emitted as an encrypt region")
		} else {
			aadTotal += n
		}
	}

	require.Equal(t, int64(216), aadTotal+encryptTotal, "header(16) + record(200) bytes must all be accounted for")
	require.Equal(t, int64(200-32-50), encryptTotal, "payload minus lead bytes minus embedded bp range")
}

func TestZILRegionsHeaderOnlyIsAllAAD(t *testing.T) {
	regions := ZILRegions(64, nil)
	require.Len(t, regions, 1)
	require.False(t, regions[0].Encrypt)
	require.Equal(t, int64(0), regions[0].Start)
	require.Equal(t, int64(64), regions[0].End)
}

func TestDecryptBlockRejectsCorruptedCiphertext(t *testing.T) {
	k, err := Init(AES128GCM, make([]byte, 16))
	require.NoError(t, err)
	salt, _, err := k.GetSalt()
	require.NoError(t, err)

	var iv [ivBytes]byte
	ct, mac, err := EncryptBlock(k, salt, iv, []byte("a data block"))
	require.NoError(t, err)

	ct[0] ^= 0x1
	_, err = DecryptBlock(k, salt, iv, mac, ct)
	require.Error(t, err)
}
