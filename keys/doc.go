// Package keys manages the signing keys used to sign and verify invoices.
//
// Public keys are exchanged as "<alg>:<base64>" strings where alg is ed25519
// or dilithium3. Seeds and private keys live in a filesystem keyring, by
// default ~/.bindle/keys.
package keys
