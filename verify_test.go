// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package efiverify

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// signedImage builds a synthetic PE32+ image, computes its Apple
// Authenticode digest, signs it with a freshly generated RSA-2048 key,
// embeds the key and signature in the Signature Directory (in the
// little-endian disk order parseAppleSignature expects), and registers
// the key in trustedKeyTable so Verify can find it.
func signedImage(t *testing.T) ([]byte, *rsa.PrivateKey) {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	require.NoError(t, err)

	img := peBuilder{withSig: true}.build()
	ctx, err := parsePEContext(img)
	require.NoError(t, err)

	_, dirSize, err := parseAppleSignature(img, ctx)
	require.NoError(t, err)

	digest, err := hashPEImage(img, ctx, dirSize)
	require.NoError(t, err)

	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	require.NoError(t, err)

	modulusBE := priv.PublicKey.N.Bytes()
	modulusBE = leftPad(modulusBE, rsaKeyBytes)
	sigBE := leftPad(sig, appleSigBytes)

	dir := ctx.securityDir
	keyOffset := dir.VirtualAddress + 8
	copy(img[keyOffset:], reverseBytes(modulusBE))
	copy(img[keyOffset+rsaKeyBytes:], reverseBytes(sigBE))

	trustedKeyTable = nil
	RegisterTrustedKey(reverseBytes(modulusBE))

	return img, priv
}

func leftPad(b []byte, size int) []byte {
	if len(b) >= size {
		return b[len(b)-size:]
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}

func TestVerifySucceedsForTrustedSignedImage(t *testing.T) {
	img, _ := signedImage(t)
	result, err := Verify(img, nil)
	require.NoError(t, err)
	assert.True(t, result.OK())
	assert.False(t, result.IsFat)
}

func TestVerifyFailsForUntrustedKey(t *testing.T) {
	img, _ := signedImage(t)
	trustedKeyTable = nil // clear the registration

	_, err := Verify(img, nil)
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestVerifyFailsWhenSectionBytesTampered(t *testing.T) {
	img, _ := signedImage(t)
	img[sizeOfHeadersForTest] ^= 0xff

	_, err := Verify(img, nil)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

const sizeOfHeadersForTest = 0x200

func TestVerifyFatContainerSkipsUnsupportedAndTilesOffsets(t *testing.T) {
	signed, _ := signedImage(t)
	other := make([]byte, 16)

	img := buildFatContainer([][]byte{signed, other}, []uint32{cpuTypeX86_64, 0x12000000})

	result, err := Verify(img, nil)
	require.NoError(t, err)
	assert.True(t, result.IsFat)
	require.Len(t, result.Slices, 2)
	assert.True(t, result.Slices[0].Verified)
	assert.True(t, result.Slices[1].Skipped)
	assert.True(t, result.OK())
}
