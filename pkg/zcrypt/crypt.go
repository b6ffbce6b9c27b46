package zcrypt

import (
	"github.com/openzfs-go/storageengine/pkg/rangetree"
	"github.com/openzfs-go/storageengine/pkg/zerrors"
)

// ObjectType selects how do_crypt partitions a buffer into authenticated
// (AAD) and encrypted regions (§4.3.4 step 1).
type ObjectType int

const (
	// ObjectData is ordinary file/zvol data: the entire payload is
	// encrypted and no AAD is present.
	ObjectData ObjectType = iota
	// ObjectDnode is a dnode block: the core dnode fields and every
	// block-pointer slot are authenticated only, the bonus buffer (if
	// marked encrypted and non-empty) is encrypted.
	ObjectDnode
	// ObjectZIL is an intent-log block: the chain header is
	// authenticated only, and each log record's lead fields and
	// embedded block pointers are authenticated while its payload is
	// encrypted.
	ObjectZIL
)

// Region is one authenticated-or-encrypted byte span of a do_crypt
// buffer. ZILRegions/DnodeRegions below compute these for their
// respective object types; a caller working with ObjectData passes a
// single Region spanning the whole buffer with Encrypt set.
type Region struct {
	Start, End int64
	Encrypt    bool
}

// DoCrypt implements do_crypt (§4.3.4). On encrypt it returns the
// buffer with every Encrypt region replaced by ciphertext and the
// computed tag; on decrypt, mac must carry the previously computed tag,
// and a mismatch returns zerrors.ErrChecksum with out left nil — no
// partial plaintext is ever produced (§4.3.8, §8 invariant 3).
//
// wasNoop is true when regions contain no Encrypt span at all (e.g. a
// ZIL block holding only its authenticated chain header): the call
// returns an unchanged copy of data without invoking the cipher, and no
// tag is computed or checked, so mac is left as passed in.
func DoCrypt(encrypt bool, key *Key, salt [8]byte, iv [ivBytes]byte, mac *[tagBytes]byte, regions []Region, data []byte) (out []byte, wasNoop bool, err error) {
	session, err := key.SessionFor(salt)
	if err != nil {
		return nil, false, zerrors.ErrIO
	}

	var aad, ciphertext []byte
	for _, r := range regions {
		if r.Start < 0 || r.End > int64(len(data)) || r.Start > r.End {
			return nil, false, zerrors.ErrInvalid
		}
		if r.Encrypt {
			ciphertext = append(ciphertext, data[r.Start:r.End]...)
		} else {
			aad = append(aad, data[r.Start:r.End]...)
		}
	}

	if len(ciphertext) == 0 {
		return append([]byte(nil), data...), true, nil
	}

	out = append([]byte(nil), data...)

	if encrypt {
		sealed := session.Seal(nil, iv[:], ciphertext, aad)
		pt := sealed[:len(sealed)-tagBytes]
		writeRegions(out, regions, pt)
		if mac != nil {
			copy(mac[:], sealed[len(sealed)-tagBytes:])
		}
		return out, false, nil
	}

	if mac == nil {
		return nil, false, zerrors.ErrInvalid
	}
	sealed := append(append([]byte(nil), ciphertext...), mac[:]...)
	pt, err := session.Open(nil, iv[:], sealed, aad)
	if err != nil {
		return nil, false, zerrors.ErrChecksum
	}
	writeRegions(out, regions, pt)
	return out, false, nil
}

func writeRegions(out []byte, regions []Region, pt []byte) {
	off := 0
	for _, r := range regions {
		if !r.Encrypt {
			continue
		}
		n := int(r.End - r.Start)
		copy(out[r.Start:r.End], pt[off:off+n])
		off += n
	}
}

// EncryptBlock is the common-case entry point for ObjectData: the whole
// buffer is encrypted, no AAD, and the tag is returned separately for the
// block pointer's MAC field (§3.5, §4.3.7).
func EncryptBlock(key *Key, salt [8]byte, iv [ivBytes]byte, plaintext []byte) (ciphertext []byte, mac [tagBytes]byte, err error) {
	session, err := key.SessionFor(salt)
	if err != nil {
		return nil, mac, zerrors.ErrIO
	}
	sealed := session.Seal(nil, iv[:], plaintext, nil)
	ciphertext = sealed[:len(sealed)-tagBytes]
	copy(mac[:], sealed[len(sealed)-tagBytes:])
	return ciphertext, mac, nil
}

// DecryptBlock is EncryptBlock's inverse. On authentication failure it
// returns zerrors.ErrChecksum and no plaintext.
func DecryptBlock(key *Key, salt [8]byte, iv [ivBytes]byte, mac [tagBytes]byte, ciphertext []byte) ([]byte, error) {
	session, err := key.SessionFor(salt)
	if err != nil {
		return nil, zerrors.ErrIO
	}
	sealed := append(append([]byte(nil), ciphertext...), mac[:]...)
	pt, err := session.Open(nil, iv[:], sealed, nil)
	if err != nil {
		return nil, zerrors.ErrChecksum
	}
	return pt, nil
}

// DnodeRegions builds the AAD/encrypt Region list for an ObjectDnode
// block made of fixed-size slots (§4.3.4): within each slot, the first
// coreBytes bytes (dnode core, non-portable flags masked and used
// zeroed by the caller before calling DoCrypt) and every block-pointer
// slot are AAD; the bonus buffer, if bonusEncrypted and non-empty, is
// encrypted.
func DnodeRegions(slotBytes, coreBytes int64, slots int, bpRegions [][2]int64, bonusStart, bonusLen int64, bonusEncrypted bool) []Region {
	var regions []Region
	for i := 0; i < slots; i++ {
		base := int64(i) * slotBytes
		regions = append(regions, Region{Start: base, End: base + coreBytes})
	}
	for _, bp := range bpRegions {
		regions = append(regions, Region{Start: bp[0], End: bp[1]})
	}
	if bonusEncrypted && bonusLen > 0 {
		regions = append(regions, Region{Start: bonusStart, End: bonusStart + bonusLen, Encrypt: true})
	}
	return regions
}

// ZILRegions builds the Region list for an ObjectZIL block (§4.3.4): the
// first headerBytes (chain header) are AAD; for each record, leadBytes
// of its lead fields are AAD, any embedded block-pointer byte ranges
// (which may fall inside the record's payload, e.g. TX_WRITE/
// TX_CLONE_RANGE) are carved out as AAD, and whatever payload remains is
// encrypted.
func ZILRegions(headerBytes int64, records []ZILRecord) []Region {
	regions := []Region{{Start: 0, End: headerBytes}}
	for _, rec := range records {
		regions = append(regions, Region{Start: rec.Start, End: rec.Start + rec.LeadBytes})
		for _, bp := range rec.BlockPointers {
			regions = append(regions, Region{Start: bp[0], End: bp[1]})
		}

		payloadStart := rec.Start + rec.LeadBytes
		if payloadStart >= rec.End {
			continue
		}
		payload := rangetree.New()
		payload.Add(payloadStart, rec.End-payloadStart)
		for _, bp := range rec.BlockPointers {
			payload.Remove(bp[0], bp[1]-bp[0])
		}
		payload.Walk(func(seg rangetree.Segment) bool {
			regions = append(regions, Region{Start: seg.Start, End: seg.End, Encrypt: true})
			return true
		})
	}
	return regions
}

// ZILRecord describes one intent-log record's byte layout within a ZIL
// block for the purposes of ZILRegions.
type ZILRecord struct {
	Start, End    int64
	LeadBytes     int64
	BlockPointers [][2]int64
}
