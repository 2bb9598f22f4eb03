package cryptoutils

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"time"
)

type publicKeyEqualer interface {
	Equal(crypto.PublicKey) bool
}

// VerifyKeyPair checks that a certificate, its private key and the standalone public
// key belong together. It performs the following checks:
//   - The certificate parses and carries a supported public key
//   - The private key (PKCS#8, PKCS#1 or SEC 1) matches the certificate
//   - The public key (PKIX) matches the certificate
//
// Bundles assembled from files on disk are checked with this before they are
// distributed again, so a mixed up directory never reaches a device.
func VerifyKeyPair(certPEM, privateKeyPEM, publicKeyPEM []byte) error {
	cert, err := ParseCertificate(certPEM)
	if err != nil {
		return err
	}
	certKey, ok := cert.PublicKey.(publicKeyEqualer)
	if !ok {
		return errors.New("unsupported certificate key type")
	}

	privateKey, err := parsePrivateKey(privateKeyPEM)
	if err != nil {
		return err
	}
	if !certKey.Equal(privateKey.Public()) {
		return errors.New("private key doesn't match certificate")
	}

	pubBlock, _ := pem.Decode(publicKeyPEM)
	if pubBlock == nil || pubBlock.Type != "PUBLIC KEY" {
		return errors.New("failed to decode public key PEM block")
	}
	publicKey, err := x509.ParsePKIXPublicKey(pubBlock.Bytes)
	if err != nil {
		return fmt.Errorf("failed to parse public key: %w", err)
	}
	if !certKey.Equal(publicKey) {
		return errors.New("public key doesn't match certificate")
	}
	return nil
}

// ParseCertificate decodes the first CERTIFICATE block of certPEM.
func ParseCertificate(certPEM []byte) (*x509.Certificate, error) {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil || certBlock.Type != "CERTIFICATE" {
		return nil, errors.New("failed to decode certificate PEM block")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}

func parsePrivateKey(keyPEM []byte) (crypto.Signer, error) {
	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, errors.New("failed to decode private key PEM block")
	}

	var key any
	var err error
	switch keyBlock.Type {
	case "PRIVATE KEY":
		key, err = x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(keyBlock.Bytes)
	default:
		return nil, fmt.Errorf("unsupported private key PEM type %q", keyBlock.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, errors.New("unsupported private key type")
	}
	return signer, nil
}

// CertificateFingerprint returns the hex SHA-256 of the certificate DER, the value
// AWS IoT uses as certificate id.
func CertificateFingerprint(certPEM []byte) (string, error) {
	cert, err := ParseCertificate(certPEM)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:]), nil
}

// RandomKeyPair generates a self-signed certificate with its private and public keys,
// all PEM encoded. Useful for tests and local fakes of the registry.
func RandomKeyPair(cn string) (certPEM, privateKeyPEM, publicKeyPEM []byte, err error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, nil, err
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, template, privateKey.Public(), privateKey)
	if err != nil {
		return nil, nil, nil, err
	}

	privkeyBytes, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, nil, nil, err
	}
	pubkeyBytes, err := x509.MarshalPKIXPublicKey(privateKey.Public())
	if err != nil {
		return nil, nil, nil, err
	}

	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}),
		pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privkeyBytes}),
		pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubkeyBytes}),
		nil
}
