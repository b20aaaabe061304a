package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"math/big"

	"github.com/voxelcore/server/internal/coderr"
)

// KeyBits is the RSA modulus size required by the handshake (spec §6).
const KeyBits = 1024

// GenerateKeyPair creates an RSA-1024 key pair with the standard F4 public
// exponent and pre-computes its CRT parameters so decryption can use the
// fast Garner's-algorithm path below, the same optimization the teacher's
// keypair generator applies before every decrypt.
func GenerateKeyPair() (*rsa.PrivateKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("crypto: generating RSA key: %w", err)
	}
	priv.Precompute()
	return priv, nil
}

// PublicKeyDER returns the ASN.1 DER SubjectPublicKeyInfo encoding of pub,
// the standard format the handshake sends to the client in its encryption
// request (spec §6), in place of the teacher's client-specific scrambled
// modulus encoding.
func PublicKeyDER(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("crypto: marshaling public key: %w", err)
	}
	return der, nil
}

// decryptCRT performs raw (unpadded) RSA decryption using the Chinese
// Remainder Theorem, the same Garner's-algorithm composition as the
// teacher's RSADecryptNoPadding, generalized to return a key-size-padded
// block regardless of padding scheme so callers can strip whichever
// padding the wire format actually uses.
//
// CRT Algorithm (Garner's):
//
//	m1 = c^dP mod p
//	m2 = c^dQ mod q
//	h  = (m1 - m2) * qInv mod p
//	m  = m2 + h*q
func decryptCRT(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	keySize := (priv.N.BitLen() + 7) / 8
	if len(ciphertext) != keySize {
		return nil, fmt.Errorf("crypto: ciphertext length %d != key size %d", len(ciphertext), keySize)
	}

	c := new(big.Int).SetBytes(ciphertext)

	var m *big.Int
	if priv.Precomputed.Dp != nil && priv.Precomputed.Dq != nil &&
		priv.Precomputed.Qinv != nil && len(priv.Primes) >= 2 {
		p, q := priv.Primes[0], priv.Primes[1]
		m1 := new(big.Int).Exp(c, priv.Precomputed.Dp, p)
		m2 := new(big.Int).Exp(c, priv.Precomputed.Dq, q)
		h := new(big.Int).Sub(m1, m2)
		h.Mul(h, priv.Precomputed.Qinv)
		h.Mod(h, p)
		m = new(big.Int).Mul(h, q)
		m.Add(m, m2)
	} else {
		m = new(big.Int).Exp(c, priv.D, priv.N)
	}

	result := m.Bytes()
	if len(result) < keySize {
		padded := make([]byte, keySize)
		copy(padded[keySize-len(result):], result)
		result = padded
	}
	return result, nil
}

// DecryptPKCS1v15 decrypts a PKCS#1 v1.5-padded RSA block: the shared
// secret and verify token the client sends during the handshake are both
// encrypted this way (spec §6). It is built on decryptCRT above rather
// than crypto/rsa.DecryptPKCS1v15 so the CRT fast path stays explicit and
// grounded in the teacher's own decrypt routine; the unpadding follows the
// fixed structure the format defines (0x00 0x02 <nonzero pad> 0x00 <msg>).
func DecryptPKCS1v15(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	em, err := decryptCRT(priv, ciphertext)
	if err != nil {
		return nil, coderr.Wrap(coderr.Encryption, "rsa decrypt", err)
	}

	if len(em) < 11 || em[0] != 0x00 || em[1] != 0x02 {
		return nil, coderr.New(coderr.Encryption, "malformed PKCS#1 v1.5 padding")
	}
	i := 2
	for i < len(em) && em[i] != 0x00 {
		i++
	}
	if i == len(em) {
		return nil, coderr.New(coderr.Encryption, "PKCS#1 v1.5 padding has no terminator")
	}
	return em[i+1:], nil
}
