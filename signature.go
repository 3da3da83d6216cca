// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package efiverify

import (
	"crypto/rsa"
	"math/big"
)

// appleSigDirBytes is sizeof(EFI_APPLE_SIGNATURE) as laid
// out on disk: a 256-byte RSA-2048 public key modulus followed by a
// 256-byte signature, both little-endian (spec.md section 3, "Apple
// Signature Directory"; GetApplePeImageSignature in
// original_source/.../AppleEfiBinary.c). Unlike Microsoft Authenticode,
// there is no ASN.1/PKCS#7 envelope here, which is why this module does
// not reach for the teacher's go.mozilla.org/pkcs7 dependency -- see
// DESIGN.md for the full justification.
const (
	rsaKeyBytes      = 256
	appleSigBytes    = 256
	appleSigDirBytes = rsaKeyBytes + appleSigBytes

	// appleSigHeaderSize is the fixed-size preamble immediately
	// preceding the public key/signature fields (spec.md section 4.D;
	// the literal "+8" in the hash-skip accounting). PublicKey and
	// Signature always sit at VirtualAddress+8, regardless of the PE
	// data directory's own Size field.
	appleSigHeaderSize = 8
)

const rsaKeyBits = rsaKeyBytes * 8

// appleSignature is the parsed, big-endian-ready view of the Apple
// Signature Directory: a raw RSA-2048 modulus and a raw PKCS#1 v1.5
// signature, both already reversed out of the on-disk little-endian
// byte order.
type appleSignature struct {
	modulus   []byte // 256 bytes, big-endian, suitable for big.Int.SetBytes
	signature []byte // 256 bytes, big-endian
}

// parseAppleSignature extracts the public key and signature from the
// Security data directory's payload, reversing each 256-byte field from
// the little-endian disk order into the big-endian order Go's crypto/rsa
// and math/big expect (spec.md section 4.D; GetApplePeImageSignature).
//
// dirSize is the embedded signatureDirectorySize carried inside the
// directory; it must be at least appleSigHeaderSize+appleSigDirBytes for
// the header and the two fixed fields to be present, and at most the
// Security directory's Size, and the hasher uses it verbatim to size the
// byte range it skips over.
func parseAppleSignature(image []byte, ctx *peContext) (*appleSignature, uint32, error) {
	if !ctx.hasSecurityEntry() {
		return nil, 0, ErrMalformedSecurityDir
	}
	dir := ctx.securityDir
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return nil, 0, ErrMalformedSecurityDir
	}
	if dir.Size < appleSigHeaderSize+appleSigDirBytes {
		return nil, 0, ErrMalformedSecurityDir
	}

	raw, err := sliceAt(image, dir.VirtualAddress, dir.Size)
	if err != nil {
		return nil, 0, ErrMalformedSecurityDir
	}

	// The directory opens with an 8-byte header whose own length field
	// gives the total signatureDirectorySize used for hash-skip
	// accounting; PublicKey and Signature always immediately follow it,
	// at a fixed offset, never at an offset derived from the PE-level
	// Security directory Size (matches the original's fixed
	// header-then-key-then-signature layout).
	dirSize, err := readUint32(raw, 0)
	if err != nil {
		return nil, 0, ErrMalformedSecurityDir
	}
	if dirSize < appleSigHeaderSize+appleSigDirBytes || dirSize > dir.Size {
		return nil, 0, ErrMalformedSecurityDir
	}

	keyLE, err := sliceAt(raw, appleSigHeaderSize, rsaKeyBytes)
	if err != nil {
		return nil, 0, ErrMalformedSecurityDir
	}
	sigLE, err := sliceAt(raw, appleSigHeaderSize+rsaKeyBytes, appleSigBytes)
	if err != nil {
		return nil, 0, ErrMalformedSecurityDir
	}

	return &appleSignature{
		modulus:   reverseBytes(keyLE),
		signature: reverseBytes(sigLE),
	}, dirSize, nil
}

// reverseBytes returns a new slice with b's bytes in reverse order,
// porting the original's little-endian-to-big-endian reversal loop over
// Signature->PublicKey/Signature without mutating the caller's buffer.
func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// publicKey builds an *rsa.PublicKey from the extracted modulus, using
// the fixed Apple EFI signing exponent (65537, the universal RSA public
// exponent and the one the original's RsaVerify hard-codes).
func (s *appleSignature) publicKey() *rsa.PublicKey {
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(s.modulus),
		E: 65537,
	}
}
