package crypto_test

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voxelcore/server/internal/crypto"
)

func TestCFB8RoundTrip(t *testing.T) {
	key := make([]byte, 16)
	_, err := rand.Read(key)
	require.NoError(t, err)

	enc, err := crypto.NewCFB8Encrypter(key, key)
	require.NoError(t, err)
	dec, err := crypto.NewCFB8Decrypter(key, key)
	require.NoError(t, err)

	plain := []byte("the quick brown fox jumps over the lazy dog, packet boundary test")
	cipherText := make([]byte, len(plain))
	enc.XORKeyStream(cipherText, plain)
	require.NotEqual(t, plain, cipherText)

	decoded := make([]byte, len(cipherText))
	dec.XORKeyStream(decoded, cipherText)
	require.Equal(t, plain, decoded)
}

func TestCFB8StreamsAcrossMultipleCalls(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 16)

	enc, err := crypto.NewCFB8Encrypter(key, key)
	require.NoError(t, err)
	dec, err := crypto.NewCFB8Decrypter(key, key)
	require.NoError(t, err)

	chunks := [][]byte{[]byte("one"), []byte("two-longer"), []byte("3")}
	var allCipher []byte
	for _, chunk := range chunks {
		out := make([]byte, len(chunk))
		enc.XORKeyStream(out, chunk)
		allCipher = append(allCipher, out...)
	}

	decoded := make([]byte, len(allCipher))
	dec.XORKeyStream(decoded, allCipher)
	require.Equal(t, "onetwo-longer3", string(decoded))
}

func TestCFB8RejectsWrongIVLength(t *testing.T) {
	_, err := crypto.NewCFB8Encrypter(make([]byte, 16), make([]byte, 4))
	require.Error(t, err)
}
