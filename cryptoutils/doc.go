// Package cryptoutils checks issued device credentials.
//
// The registry generates the key pair, so nothing here creates production keys.
// VerifyKeyPair confirms that a certificate, private key and public key read back
// from storage belong to the same identity before they are handed to a sink again.
package cryptoutils
