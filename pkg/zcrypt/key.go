package zcrypt

import (
	"crypto/rand"
	"crypto/sha512"
	"encoding/binary"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"

	"github.com/openzfs-go/storageengine/pkg/zerrors"
)

// saltUsesMaxDefault is SALT_USES_MAX's default (§3.4 invariant): bounds
// the probability of a 96-bit IV collision across all IVs issued under
// one key below 1 in 1e12.
const saltUsesMaxDefault = 400000000

// Key is the per-dataset encryption key state of §3.4.
type Key struct {
	mu sync.RWMutex

	Suite   Suite
	Version int
	GUID    uuid.UUID

	master []byte
	hmac   []byte

	salt     [8]byte
	saltUses uint64
	saltMax  uint64

	session aead
}

// Init implements key_init (§4.3.2): copies key as the master key,
// random-fills GUID, HMAC key and salt, derives the current session key
// via HKDF, and opens an AEAD session.
func Init(suite Suite, key []byte) (*Key, error) {
	keyBytes, err := suite.KeyBytes()
	if err != nil {
		return nil, zerrors.ErrNotSupported
	}
	if len(key) != keyBytes {
		return nil, zerrors.ErrInvalid
	}

	k := &Key{
		Suite:   suite,
		Version: 1,
		master:  append([]byte(nil), key...),
		hmac:    make([]byte, hmacKeyBytes),
		saltMax: saltUsesMaxDefault,
	}

	guidBytes := make([]byte, 16)
	if _, err := rand.Read(guidBytes); err != nil {
		k.Zero()
		return nil, errors.Wrap(err, "random-fill guid")
	}
	copy(k.GUID[:], guidBytes)

	if _, err := rand.Read(k.hmac); err != nil {
		k.Zero()
		return nil, errors.Wrap(err, "random-fill hmac key")
	}
	if _, err := rand.Read(k.salt[:]); err != nil {
		k.Zero()
		return nil, errors.Wrap(err, "random-fill salt")
	}

	if err := k.deriveAndOpen(); err != nil {
		k.Zero()
		return nil, err
	}
	return k, nil
}

// SetSaltUsesMax overrides the default salt-rotation bound. Tests call it
// to exercise rotation directly as in §8 scenario 4; nothing in this
// module passes pkg/config's ZfsKeyMaxSaltUses tunable to it.
func (k *Key) SetSaltUsesMax(n uint64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.saltMax = n
}

func (k *Key) deriveAndOpen() error {
	derived, err := deriveSessionKey(k.master, k.salt[:], len(k.master))
	if err != nil {
		return err
	}
	session, err := openSession(k.Suite, derived)
	if err != nil {
		return err
	}
	k.session = session
	k.saltUses = 0
	return nil
}

// deriveSessionKey implements HKDF-SHA512(master, salt, info="") →
// keylen bytes (§4.3.2 step 2).
func deriveSessionKey(master, salt []byte, keylen int) ([]byte, error) {
	r := hkdf.New(sha512.New, master, salt, nil)
	out := make([]byte, keylen)
	if _, err := r.Read(out); err != nil {
		return nil, errors.Wrap(err, "hkdf derive")
	}
	return out, nil
}

// GetSalt implements key_get_salt (§4.3.3): atomically reads the current
// salt and increments the use counter, rotating to a fresh salt (and
// re-deriving the session) if the bound is reached.
func (k *Key) GetSalt() (salt [8]byte, session aead, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	salt = k.salt
	k.saltUses++
	if k.saltUses >= k.saltMax {
		if _, err = rand.Read(k.salt[:]); err != nil {
			return salt, nil, errors.Wrap(err, "rotate salt")
		}
		if err = k.deriveAndOpen(); err != nil {
			return salt, nil, err
		}
	}
	return salt, k.session, nil
}

// SessionFor returns the AEAD session for salt: the cached session if
// salt matches the current one, or a fresh one-shot session derived for
// that specific salt (§4.3.4 step 2).
func (k *Key) SessionFor(salt [8]byte) (aead, error) {
	k.mu.RLock()
	if salt == k.salt {
		s := k.session
		k.mu.RUnlock()
		return s, nil
	}
	master := k.master
	suite := k.Suite
	k.mu.RUnlock()

	derived, err := deriveSessionKey(master, salt[:], len(master))
	if err != nil {
		return nil, err
	}
	return openSession(suite, derived)
}

// wrapAAD builds AAD = LE64(guid) || LE64(suite) || LE64(version), per
// §4.3.2 key_wrap step 2.
func wrapAAD(guid uuid.UUID, suite Suite, version int) []byte {
	aad := make([]byte, 24)
	binary.LittleEndian.PutUint64(aad[0:8], guidLow64(guid))
	binary.LittleEndian.PutUint64(aad[8:16], uint64(suite))
	binary.LittleEndian.PutUint64(aad[16:24], uint64(version))
	return aad
}

// guidLow64 reduces a 128-bit GUID to the 64-bit value the on-disk AAD
// encoding carries (the low 8 bytes), matching how the rest of this
// module treats GUIDs as uint64 handles (pkg/pool.Leaf.GUID).
func guidLow64(g uuid.UUID) uint64 {
	return binary.BigEndian.Uint64(g[8:16])
}

// WrappedKey is the on-disk record §6.2 describes: crypto-suite,
// version, wrapping IV, MAC, and the wrapped master/HMAC key bytes.
type WrappedKey struct {
	Suite         Suite
	Version       int
	GUID          uuid.UUID
	IV            [ivBytes]byte
	MAC           [tagBytes]byte
	WrappedMaster []byte
	WrappedHMAC   []byte
}

// Wrap implements key_wrap (§4.3.2): generates a random wrapping IV,
// builds the AAD, and AEAD-encrypts master||hmac under wrappingKey.
func (k *Key) Wrap(wrappingKey []byte) (*WrappedKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if n, err := k.Suite.KeyBytes(); err != nil || len(wrappingKey) != n {
		return nil, zerrors.ErrInvalid
	}

	session, err := openSession(k.Suite, wrappingKey)
	if err != nil {
		return nil, err
	}

	var iv [ivBytes]byte
	if _, err := rand.Read(iv[:]); err != nil {
		return nil, errors.Wrap(err, "generate wrapping iv")
	}

	aad := wrapAAD(k.GUID, k.Suite, k.Version)
	plaintext := append(append([]byte(nil), k.master...), k.hmac...)
	sealed := session.Seal(nil, iv[:], plaintext, aad)

	ct := sealed[:len(sealed)-tagBytes]
	var mac [tagBytes]byte
	copy(mac[:], sealed[len(sealed)-tagBytes:])

	return &WrappedKey{
		Suite:         k.Suite,
		Version:       k.Version,
		GUID:          k.GUID,
		IV:            iv,
		MAC:           mac,
		WrappedMaster: append([]byte(nil), ct[:len(k.master)]...),
		WrappedHMAC:   append([]byte(nil), ct[len(k.master):]...),
	}, nil
}

// Unwrap implements key_unwrap (§4.3.2): the inverse of Wrap. Version-0
// records are accepted with a 2-field AAD (guid, suite — no version
// word) for legacy-stream compatibility; they are left in place on read
// rather than rewritten (see DESIGN.md for that decision).
func Unwrap(w *WrappedKey, wrappingKey []byte) (*Key, error) {
	if w.Version != 0 && w.Version != 1 {
		return nil, zerrors.ErrOpNotSupported
	}
	if n, err := w.Suite.KeyBytes(); err != nil || len(wrappingKey) != n {
		return nil, zerrors.ErrInvalid
	}

	session, err := openSession(w.Suite, wrappingKey)
	if err != nil {
		return nil, err
	}

	var aad []byte
	if w.Version == 0 {
		aad = make([]byte, 16)
		binary.LittleEndian.PutUint64(aad[0:8], guidLow64(w.GUID))
		binary.LittleEndian.PutUint64(aad[8:16], uint64(w.Suite))
	} else {
		aad = wrapAAD(w.GUID, w.Suite, w.Version)
	}

	ct := append(append([]byte(nil), w.WrappedMaster...), w.WrappedHMAC...)
	sealed := append(ct, w.MAC[:]...)

	plaintext, err := session.Open(nil, w.IV[:], sealed, aad)
	if err != nil {
		return nil, zerrors.ErrChecksum
	}

	keyBytes, err := w.Suite.KeyBytes()
	if err != nil {
		return nil, zerrors.ErrNotSupported
	}
	if len(plaintext) != keyBytes+hmacKeyBytes {
		return nil, zerrors.ErrInvalid
	}

	k := &Key{
		Suite:   w.Suite,
		Version: w.Version,
		GUID:    w.GUID,
		master:  append([]byte(nil), plaintext[:keyBytes]...),
		hmac:    append([]byte(nil), plaintext[keyBytes:]...),
		saltMax: saltUsesMaxDefault,
	}
	if _, err := rand.Read(k.salt[:]); err != nil {
		k.Zero()
		return nil, errors.Wrap(err, "random-fill salt")
	}
	if err := k.deriveAndOpen(); err != nil {
		k.Zero()
		return nil, err
	}
	return k, nil
}

// Zero clears transient key material, called on any error path that
// leaves key state partially initialized (§4.3.8).
func (k *Key) Zero() {
	k.mu.Lock()
	defer k.mu.Unlock()
	zeroBytes(k.master)
	zeroBytes(k.hmac)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
