// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package efiverify

import (
	"bytes"
	"crypto/sha256"
)

// trustedKey is one entry of the compile-time trusted-key table: the
// SHA-256 of the raw little-endian-on-disk public key, paired with the
// big-endian modulus used to rebuild an *rsa.PublicKey. Ported from the
// linear PkDataBase scan in VerifyApplePeImageSignature
// (original_source/.../AppleEfiBinary.c); the real Apple key material in
// ApplePkDb.h was not part of the retrieved source pack (see
// original_source/_INDEX.md), so trustedKeyTable below ships empty and
// RegisterTrustedKey is the documented extension point for callers who
// have Apple's real public keys.
type trustedKey struct {
	fingerprint [32]byte // sha256 of the 256-byte little-endian modulus
	modulus     []byte   // 256-byte big-endian modulus
}

// trustedKeyTable is the hard-coded set of keys this verifier accepts.
// Populate it with real Apple EFI signing keys to use this module
// against production firmware; as shipped it is empty, so Verify will
// report ErrUnknownKey for every real-world input until keys are added.
var trustedKeyTable []trustedKey

// RegisterTrustedKey adds a public key (given in the same little-endian,
// on-disk byte order the Signature Directory uses) to the in-process
// trusted-key table. It is the supported extension point for embedding
// real Apple keys without modifying this package.
func RegisterTrustedKey(modulusLE []byte) {
	fp := sha256.Sum256(modulusLE)
	trustedKeyTable = append(trustedKeyTable, trustedKey{
		fingerprint: fp,
		modulus:     reverseBytes(modulusLE),
	})
}

// lookupTrustedKey returns the table entry whose fingerprint matches the
// extracted signature's key, or ErrUnknownKey.
func lookupTrustedKey(sig *appleSignature) (*trustedKey, error) {
	fp := sha256.Sum256(reverseBytes(sig.modulus))
	for i := range trustedKeyTable {
		if bytes.Equal(trustedKeyTable[i].fingerprint[:], fp[:]) {
			return &trustedKeyTable[i], nil
		}
	}
	return nil, ErrUnknownKey
}
