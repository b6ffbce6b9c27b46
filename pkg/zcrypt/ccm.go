package zcrypt

import (
	"crypto/aes"
	"crypto/subtle"

	"github.com/pkg/errors"
)

// ccmAEAD is a from-scratch AES-CCM implementation (RFC 3610) fixed to a
// 12-byte nonce and a 16-byte tag, matching this module's suite table
// (§4.3.1). Neither the standard library nor any example repo in this
// module's corpus ships a CCM mode — crypto/cipher only exposes GCM and
// raw block/stream modes — so this is built directly against
// crypto/aes's block cipher the way RFC 3610 specifies, rather than
// reaching for an unavailable library. See DESIGN.md for the full
// stdlib-only justification.
type ccmAEAD struct {
	c cipherBlock
}

// cipherBlock is the subset of cipher.Block this file needs; kept as its
// own name so ccm.go reads independently of crypto/cipher's doc comments.
type cipherBlock interface {
	Encrypt(dst, src []byte)
}

const (
	ccmNonceLen = ivBytes  // 12
	ccmTagLen   = tagBytes // 16
	ccmL        = 15 - ccmNonceLen
)

func newCCM(key []byte) (aead, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "aes.NewCipher")
	}
	return &ccmAEAD{c: block}, nil
}

func (c *ccmAEAD) Overhead() int { return ccmTagLen }

// Seal encrypts plaintext and appends the 16-byte tag, mirroring
// cipher.AEAD.Seal's contract so callers can treat GCM and CCM
// interchangeably.
func (c *ccmAEAD) Seal(dst, nonce, plaintext, aad []byte) []byte {
	if len(nonce) != ccmNonceLen {
		panic("zcrypt: ccm nonce must be 12 bytes")
	}
	tag := c.cbcMAC(nonce, aad, plaintext)
	ct := make([]byte, len(plaintext))
	c.ctrXOR(nonce, 1, plaintext, ct)
	s0 := c.ctrBlock(nonce, 0)
	for i := range tag {
		tag[i] ^= s0[i]
	}
	out := append(dst, ct...)
	return append(out, tag...)
}

// Open verifies and decrypts. A MAC mismatch returns an error and never
// writes partial plaintext into dst.
func (c *ccmAEAD) Open(dst, nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(nonce) != ccmNonceLen {
		panic("zcrypt: ccm nonce must be 12 bytes")
	}
	if len(ciphertext) < ccmTagLen {
		return nil, errors.New("zcrypt: ccm ciphertext too short")
	}
	ct := ciphertext[:len(ciphertext)-ccmTagLen]
	gotTag := append([]byte(nil), ciphertext[len(ciphertext)-ccmTagLen:]...)

	s0 := c.ctrBlock(nonce, 0)
	for i := range gotTag {
		gotTag[i] ^= s0[i]
	}

	pt := make([]byte, len(ct))
	c.ctrXOR(nonce, 1, ct, pt)

	wantTag := c.cbcMAC(nonce, aad, pt)
	if subtle.ConstantTimeCompare(gotTag, wantTag) != 1 {
		return nil, errors.New("zcrypt: ccm authentication failed")
	}
	return append(dst, pt...), nil
}

// cbcMAC computes the RFC 3610 CBC-MAC over B0, the formatted associated
// data, and the formatted (padded) plaintext.
func (c *ccmAEAD) cbcMAC(nonce, aad, plaintext []byte) []byte {
	b0 := make([]byte, 16)
	flags := byte(0)
	if len(aad) > 0 {
		flags |= 0x40
	}
	mPrime := byte((ccmTagLen - 2) / 2)
	lPrime := byte(ccmL - 1)
	flags |= mPrime << 3
	flags |= lPrime
	b0[0] = flags
	copy(b0[1:1+ccmNonceLen], nonce)
	putBE(b0[1+ccmNonceLen:], uint64(len(plaintext)), ccmL)

	x := make([]byte, 16)
	c.c.Encrypt(x, b0)

	for _, blk := range ccmFormatBlocks(aad, plaintext) {
		xorInto(x, blk)
		next := make([]byte, 16)
		c.c.Encrypt(next, x)
		x = next
	}
	return x[:ccmTagLen]
}

// ccmFormatBlocks returns the 16-byte blocks making up the formatted
// associated-data field (length-prefixed and zero-padded) followed by
// the zero-padded plaintext.
func ccmFormatBlocks(aad, plaintext []byte) [][]byte {
	var blocks [][]byte
	if len(aad) > 0 {
		var hdr []byte
		switch {
		case len(aad) < 0xff00:
			hdr = putBE16(uint16(len(aad)))
		default:
			hdr = append([]byte{0xff, 0xfe}, putBE32(uint32(len(aad)))...)
		}
		buf := append(append([]byte(nil), hdr...), aad...)
		blocks = append(blocks, padBlocks(buf)...)
	}
	blocks = append(blocks, padBlocks(plaintext)...)
	return blocks
}

func padBlocks(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	var out [][]byte
	for off := 0; off < len(data); off += 16 {
		end := off + 16
		if end > len(data) {
			blk := make([]byte, 16)
			copy(blk, data[off:])
			out = append(out, blk)
			break
		}
		out = append(out, data[off:end])
	}
	return out
}

// ctrBlock computes S_i = E(K, A_i) for the counter block numbered i.
func (c *ccmAEAD) ctrBlock(nonce []byte, i uint64) []byte {
	a := make([]byte, 16)
	a[0] = byte(ccmL - 1)
	copy(a[1:1+ccmNonceLen], nonce)
	putBE(a[1+ccmNonceLen:], i, ccmL)
	out := make([]byte, 16)
	c.c.Encrypt(out, a)
	return out
}

// ctrXOR XORs in with the CCM counter-mode keystream starting at counter
// start, writing the result to out.
func (c *ccmAEAD) ctrXOR(nonce []byte, start uint64, in, out []byte) {
	counter := start
	for off := 0; off < len(in); off += 16 {
		ks := c.ctrBlock(nonce, counter)
		end := off + 16
		if end > len(in) {
			end = len(in)
		}
		for i := off; i < end; i++ {
			out[i] = in[i] ^ ks[i-off]
		}
		counter++
	}
}

func xorInto(dst, src []byte) {
	for i := 0; i < len(dst) && i < len(src); i++ {
		dst[i] ^= src[i]
	}
}

func putBE(dst []byte, v uint64, n int) {
	for i := 0; i < n; i++ {
		dst[n-1-i] = byte(v >> (8 * i))
	}
}

func putBE16(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }
func putBE32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}
