package crypto_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voxelcore/server/internal/crypto"
)

func encryptPKCS1v15(t *testing.T, pub *rsa.PublicKey, msg []byte) []byte {
	t.Helper()
	ct, err := rsa.EncryptPKCS1v15(rand.Reader, pub, msg)
	require.NoError(t, err)
	return ct
}

func TestGenerateKeyPairAndDERRoundTrip(t *testing.T) {
	priv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	require.Equal(t, crypto.KeyBits, priv.N.BitLen())

	der, err := crypto.PublicKeyDER(&priv.PublicKey)
	require.NoError(t, err)
	require.NotEmpty(t, der)

	parsed, err := x509.ParsePKIXPublicKey(der)
	require.NoError(t, err)
	require.True(t, priv.PublicKey.Equal(parsed))
}

func TestDecryptPKCS1v15RoundTrip(t *testing.T) {
	priv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	secret := sha256.Sum256([]byte("shared secret material"))
	ciphertext := encryptPKCS1v15(t, &priv.PublicKey, secret[:16])

	plain, err := crypto.DecryptPKCS1v15(priv, ciphertext)
	require.NoError(t, err)
	require.Equal(t, secret[:16], plain)
}

func TestDecryptPKCS1v15RejectsWrongLength(t *testing.T) {
	priv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	_, err = crypto.DecryptPKCS1v15(priv, []byte{1, 2, 3})
	require.Error(t, err)
}

func TestVerifyTokenMatches(t *testing.T) {
	tok, err := crypto.NewVerifyToken()
	require.NoError(t, err)
	require.Len(t, tok, crypto.VerifyTokenSize)

	require.True(t, crypto.VerifyTokenMatches(tok, append([]byte(nil), tok...)))

	tampered := append([]byte(nil), tok...)
	tampered[0] ^= 0xFF
	require.False(t, crypto.VerifyTokenMatches(tok, tampered))
	require.False(t, crypto.VerifyTokenMatches(tok, tok[:len(tok)-1]))
}
