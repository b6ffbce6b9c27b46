package zcrypt

import (
	"bytes"
	"testing"
)

func TestCCMSealOpenRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	key[0] = 0x11
	c, err := newCCM(key)
	if err != nil {
		t.Fatalf("newCCM: %v", err)
	}

	nonce := make([]byte, ccmNonceLen)
	nonce[5] = 0x9
	aad := []byte("authenticated header fields")
	plaintext := []byte("a plaintext block spanning more than sixteen bytes of data")

	sealed := c.Seal(nil, nonce, plaintext, aad)
	if len(sealed) != len(plaintext)+ccmTagLen {
		t.Fatalf("sealed length = %d, want %d", len(sealed), len(plaintext)+ccmTagLen)
	}

	opened, err := c.Open(nil, nonce, sealed, aad)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("round-tripped plaintext mismatch: got %q want %q", opened, plaintext)
	}
}

func TestCCMOpenRejectsTamperedCiphertext(t *testing.T) {
	key := make([]byte, 16)
	c, err := newCCM(key)
	if err != nil {
		t.Fatalf("newCCM: %v", err)
	}
	nonce := make([]byte, ccmNonceLen)
	sealed := c.Seal(nil, nonce, []byte("sixteen byte msg"), nil)
	sealed[0] ^= 0x01

	if _, err := c.Open(nil, nonce, sealed, nil); err == nil {
		t.Fatal("expected authentication failure on tampered ciphertext")
	}
}

func TestCCMOpenRejectsWrongAAD(t *testing.T) {
	key := make([]byte, 24)
	c, err := newCCM(key)
	if err != nil {
		t.Fatalf("newCCM: %v", err)
	}
	nonce := make([]byte, ccmNonceLen)
	sealed := c.Seal(nil, nonce, []byte("payload"), []byte("right-aad"))

	if _, err := c.Open(nil, nonce, sealed, []byte("wrong-aad")); err == nil {
		t.Fatal("expected authentication failure on mismatched aad")
	}
}

func TestCCMHandlesEmptyPlaintext(t *testing.T) {
	key := make([]byte, 32)
	c, err := newCCM(key)
	if err != nil {
		t.Fatalf("newCCM: %v", err)
	}
	nonce := make([]byte, ccmNonceLen)
	sealed := c.Seal(nil, nonce, nil, []byte("aad-only"))
	if len(sealed) != ccmTagLen {
		t.Fatalf("sealed length = %d, want %d (tag only)", len(sealed), ccmTagLen)
	}
	pt, err := c.Open(nil, nonce, sealed, []byte("aad-only"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(pt) != 0 {
		t.Fatalf("expected empty plaintext, got %d bytes", len(pt))
	}
}

func TestCCMMultiBlockPlaintext(t *testing.T) {
	key := make([]byte, 32)
	c, err := newCCM(key)
	if err != nil {
		t.Fatalf("newCCM: %v", err)
	}
	nonce := make([]byte, ccmNonceLen)
	plaintext := bytes.Repeat([]byte{0xab}, 100)
	sealed := c.Seal(nil, nonce, plaintext, nil)
	pt, err := c.Open(nil, nonce, sealed, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(pt, plaintext) {
		t.Fatal("multi-block ccm round trip mismatch")
	}
}
