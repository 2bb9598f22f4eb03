package cryptoutils

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyKeyPair(t *testing.T) {
	cert, key, pub, err := RandomKeyPair("sensor-42")
	require.NoError(t, err)
	otherCert, otherKey, otherPub, err := RandomKeyPair("sensor-43")
	require.NoError(t, err)

	assert.NoError(t, VerifyKeyPair(cert, key, pub))
	assert.NoError(t, VerifyKeyPair(otherCert, otherKey, otherPub))

	assert.ErrorContains(t, VerifyKeyPair(cert, otherKey, pub), "private key doesn't match")
	assert.ErrorContains(t, VerifyKeyPair(cert, key, otherPub), "public key doesn't match")
	assert.Error(t, VerifyKeyPair([]byte("not a cert"), key, pub))
	assert.Error(t, VerifyKeyPair(cert, []byte("not a key"), pub))
	assert.Error(t, VerifyKeyPair(cert, key, []byte("not a key")))
}

func TestVerifyKeyPair_PKCS1(t *testing.T) {
	cert, _, _, err := RandomKeyPair("sensor-42")
	require.NoError(t, err)

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(rsaKey)})

	// Parses as PKCS#1 but belongs to a different certificate.
	err = VerifyKeyPair(cert, keyPEM, nil)
	assert.ErrorContains(t, err, "private key doesn't match")
}

func TestCertificateFingerprint(t *testing.T) {
	cert, _, _, err := RandomKeyPair("sensor-42")
	require.NoError(t, err)

	fp, err := CertificateFingerprint(cert)
	require.NoError(t, err)
	assert.Len(t, fp, 64)

	again, err := CertificateFingerprint(cert)
	require.NoError(t, err)
	assert.Equal(t, fp, again)

	_, err = CertificateFingerprint([]byte("garbage"))
	assert.Error(t, err)
}
