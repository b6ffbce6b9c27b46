package zcrypt

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
)

// ObjectSetMAC computes the two 256-bit (32-byte) authentication tags
// every object-set phys block carries (§4.3.5): the portable MAC, safe to
// send with zfs send, and the local MAC, covering only
// user/group/project accounting and never sent.
//
// Both are HMAC-SHA-512 truncated to 32 bytes, over fields assembled in
// a fixed, documented order.
type ObjectSetMAC struct {
	Portable [macTruncatedBytes]byte
	Local    [macTruncatedBytes]byte
}

// PortableMaskFlags and LocalMaskFlags split os_flags into the bits the
// portable MAC covers versus the bits that are purely local accounting
// metadata (§4.3.5). The exact bit assignment is an on-disk format detail
// out of this module's scope (§1); what matters here is that the split
// is total and disjoint, which these masks guarantee by construction.
const (
	PortableMaskFlags uint64 = 0x00000000FFFFFFFF
	LocalMaskFlags    uint64 = 0xFFFFFFFF00000000
)

// MetaDnodeCore is the meta-dnode's core fields plus its block-pointer
// MAC+portable-blk_prop pairs, the portable MAC's third input (§4.3.5
// item 3).
type MetaDnodeCore struct {
	Core        []byte
	BlockPtrMAC [][macTruncatedBytes]byte
	BlockProp   [][8]byte // portable blk_prop per block pointer, LE64
}

// AccountingDnode is one allocated user/group/project accounting dnode
// contributing to the local MAC (§4.3.5 "Local MAC inputs" item 2).
type AccountingDnode struct {
	Bytes []byte
}

// ComputeObjectSetMAC implements §4.3.5. If accountingIncomplete is true,
// or accounting is empty, Local is left zero. The object-set version is
// not an input, so no per-version check is made of which accounting
// dnodes are present.
func ComputeObjectSetMAC(hmacKey []byte, osType uint64, osFlags uint64, meta MetaDnodeCore, accounting []AccountingDnode, accountingIncomplete bool) ObjectSetMAC {
	var out ObjectSetMAC

	portable := hmac.New(sha512.New, hmacKey)
	writeLE64(portable, osType)
	writeLE64(portable, osFlags&PortableMaskFlags)
	portable.Write(meta.Core)
	for i := range meta.BlockPtrMAC {
		portable.Write(meta.BlockPtrMAC[i][:])
		portable.Write(meta.BlockProp[i][:])
	}
	copy(out.Portable[:], portable.Sum(nil)[:macTruncatedBytes])

	if accountingIncomplete || len(accounting) == 0 {
		return out
	}

	local := hmac.New(sha512.New, hmacKey)
	writeLE64(local, osFlags&LocalMaskFlags)
	for _, dn := range accounting {
		local.Write(dn.Bytes)
	}
	copy(out.Local[:], local.Sum(nil)[:macTruncatedBytes])

	return out
}

func writeLE64(h interface{ Write([]byte) (int, error) }, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	h.Write(b[:])
}

// IndirectMAC computes a non-leaf block's authentication tag: plain
// SHA-512 (not HMAC, so it needs no key) over the MACs of its children
// plus their portable blk_prop bits (§4.3.6). This permits verification
// without the master key and enables raw replication.
//
// version selects which legacy encoding to try: raw-receive accepts both
// version 0 (children's MAC only) and version 1 (MAC + blk_prop), per
// §4.3.6's note that raw streams may carry either.
func IndirectMAC(version int, children [][macTruncatedBytes]byte, blkProp [][8]byte) [64]byte {
	h := sha512.New()
	for i := range children {
		h.Write(children[i][:])
		if version >= 1 && i < len(blkProp) {
			h.Write(blkProp[i][:])
		}
	}
	var out [64]byte
	copy(out[:], h.Sum(nil))
	return out
}
