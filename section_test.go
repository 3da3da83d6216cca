// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package efiverify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortedSectionsKeepsZeroSize(t *testing.T) {
	in := []sectionRecord{
		{pointerToRawData: 0x400, sizeOfRawData: 0x100},
		{pointerToRawData: 0x200, sizeOfRawData: 0},
		{pointerToRawData: 0x100, sizeOfRawData: 0x80},
	}
	out := sortedSections(in)

	assert.Len(t, out, 3)
	assert.Equal(t, uint32(0x100), out[0].pointerToRawData)
	assert.Equal(t, uint32(0x200), out[1].pointerToRawData)
	assert.Equal(t, uint32(0x400), out[2].pointerToRawData)
}

func TestSortedSectionsIsStableOnTies(t *testing.T) {
	in := []sectionRecord{
		{pointerToRawData: 0x100, sizeOfRawData: 0x10},
		{pointerToRawData: 0x100, sizeOfRawData: 0x20},
	}
	out := sortedSections(in)

	assert.Len(t, out, 2)
	assert.Equal(t, uint32(0x10), out[0].sizeOfRawData)
	assert.Equal(t, uint32(0x20), out[1].sizeOfRawData)
}

func TestParseSectionTableRejectsOutOfBoundsHeader(t *testing.T) {
	ctx := &peContext{numSections: 1, firstSectionOffset: 10}
	image := make([]byte, 20) // too small to hold one 40-byte header at offset 10

	_, err := parseSectionTable(image, ctx)
	assert.ErrorIs(t, err, ErrMalformedSections)
}
