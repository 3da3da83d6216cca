// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package efiverify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePEContextRejectsTooSmall(t *testing.T) {
	_, err := parsePEContext(make([]byte, 10))
	assert.ErrorIs(t, err, ErrTooSmall)
}

func TestParsePEContextRejectsBadDOSMagic(t *testing.T) {
	img := peBuilder{}.build()
	img[0] = 'X'
	_, err := parsePEContext(img)
	assert.ErrorIs(t, err, ErrMalformedPe)
}

func TestParsePEContextParsesSyntheticPE32Plus(t *testing.T) {
	img := peBuilder{}.build()
	ctx, err := parsePEContext(img)
	require.NoError(t, err)
	assert.True(t, ctx.is64)
	assert.Equal(t, uint16(1), ctx.numSections)
	assert.True(t, ctx.hasSecurityEntry())
}

func TestParsePEContextRejectsRelocsStripped(t *testing.T) {
	img := peBuilder{}.build()
	img[0x40+4+18] = 0x01 // IMAGE_FILE_RELOCS_STRIPPED
	_, err := parsePEContext(img)
	assert.ErrorIs(t, err, ErrRelocsStripped)
}

func TestParsePEContextAppliesIA64Erratum(t *testing.T) {
	img := peBuilder{}.build()
	// Force Machine = IA64 and magic = PE32, which must be treated as PE32+.
	le16 := func(off int, v uint16) {
		img[off] = byte(v)
		img[off+1] = byte(v >> 8)
	}
	le16(0x40+4, 0x200)              // Machine = IA64
	le16(0x40+4+fileHeaderSize, 0x10b) // Magic = PE32

	ctx, err := parsePEContext(img)
	require.NoError(t, err)
	assert.Equal(t, uint16(imageNtOptionalHeader64Magic), ctx.magic)
}
