package zcrypt

import "encoding/binary"

// DVA is a (vdev-id, byte-offset, size) triple; a block pointer carries
// up to three (§3.5, GLOSSARY).
type DVA struct {
	VdevID uint64
	Offset uint64
	Size   uint64
}

// EncodeBlockPointerCrypto packs the encrypted-block-relevant slice of a
// block pointer's ~128 bytes (§3.5, §4.3.7) into the DVA[2]+blk_fill
// encoding; the rest of the block pointer (compression/checksum type,
// birth txg, logical/physical size) is out of this package's scope,
// consumed unchanged.
//
// On-disk encoding, always little-endian regardless of the block
// pointer's own byteswap flag:
//   - Salt (8 bytes) in DVA[2].word[0]
//   - IV lower 8 bytes in DVA[2].word[1]; IV upper 4 bytes in the top 32
//     bits of blk_fill
//   - MAC (16 bytes) in checksum.word[2..3]; the ordinary truncated
//     checksum occupies word[0..1]
func EncodeBlockPointerCrypto(salt [8]byte, iv [ivBytes]byte, mac [tagBytes]byte, blkFillLow uint32) (dva2Lo, dva2Hi, blkFill uint64, macWords [2]uint64) {
	dva2Lo = binary.LittleEndian.Uint64(salt[:])
	dva2Hi = binary.LittleEndian.Uint64(iv[0:8])

	var ivHi [4]byte
	copy(ivHi[:], iv[8:12])
	blkFill = uint64(blkFillLow) | uint64(binary.LittleEndian.Uint32(ivHi[:]))<<32

	macWords[0] = binary.LittleEndian.Uint64(mac[0:8])
	macWords[1] = binary.LittleEndian.Uint64(mac[8:16])
	return
}

// DecodeBlockPointerCrypto is EncodeBlockPointerCrypto's inverse.
func DecodeBlockPointerCrypto(dva2Lo, dva2Hi, blkFill uint64, macWords [2]uint64) (salt [8]byte, iv [ivBytes]byte, mac [tagBytes]byte) {
	binary.LittleEndian.PutUint64(salt[:], dva2Lo)
	binary.LittleEndian.PutUint64(iv[0:8], dva2Hi)

	var ivHi [4]byte
	binary.LittleEndian.PutUint32(ivHi[:], uint32(blkFill>>32))
	copy(iv[8:12], ivHi[:])

	binary.LittleEndian.PutUint64(mac[0:8], macWords[0])
	binary.LittleEndian.PutUint64(mac[8:16], macWords[1])
	return
}
