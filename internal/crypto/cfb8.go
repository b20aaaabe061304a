package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// CFB8 is AES in 8-bit (1 byte) feedback mode: each plaintext byte is
// XORed with the first byte of an AES encryption of the previous
// ciphertext block (for decryption: of the previous *ciphertext* block,
// never the plaintext). This is the scheme required by the handshake
// (spec §6); Go's stdlib cipher.NewCFBEncrypter only implements
// whole-block CFB, so this composes the same primitive the original
// engine's aes_128_cfb_8.cpp layers over its own block cipher, built here
// directly atop crypto/aes's block cipher.
type CFB8 struct {
	block   cipher.Block
	shift   []byte // rolling feedback register, len == block.BlockSize()
	decrypt bool
	scratch []byte
}

// NewCFB8Encrypter returns a CFB8 stream that encrypts, seeded with the
// given IV (which must be block.BlockSize() bytes).
func NewCFB8Encrypter(key, iv []byte) (*CFB8, error) {
	return newCFB8(key, iv, false)
}

// NewCFB8Decrypter returns a CFB8 stream that decrypts, seeded with the
// given IV (which must be block.BlockSize() bytes).
func NewCFB8Decrypter(key, iv []byte) (*CFB8, error) {
	return newCFB8(key, iv, true)
}

func newCFB8(key, iv []byte, decrypt bool) (*CFB8, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: aes key setup: %w", err)
	}
	if len(iv) != block.BlockSize() {
		return nil, fmt.Errorf("crypto: iv length %d != block size %d", len(iv), block.BlockSize())
	}
	shift := make([]byte, block.BlockSize())
	copy(shift, iv)
	return &CFB8{
		block:   block,
		shift:   shift,
		decrypt: decrypt,
		scratch: make([]byte, block.BlockSize()),
	}, nil
}

// XORKeyStream encrypts or decrypts src into dst in place, one byte at a
// time, maintaining the rolling feedback register across calls. dst and
// src may overlap exactly (in-place transform), matching the in-place
// stream-cipher convention used elsewhere in this codebase.
func (c *CFB8) XORKeyStream(dst, src []byte) {
	bs := c.block.BlockSize()
	for i := range src {
		c.block.Encrypt(c.scratch, c.shift)
		out := src[i] ^ c.scratch[0]

		// Roll the feedback register left by one byte, appending the
		// new ciphertext byte (decrypt: src is ciphertext; encrypt:
		// out is ciphertext).
		var fed byte
		if c.decrypt {
			fed = src[i]
		} else {
			fed = out
		}
		copy(c.shift, c.shift[1:bs])
		c.shift[bs-1] = fed

		dst[i] = out
	}
}
