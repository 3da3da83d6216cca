// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package efiverify

// Fat container constants, ported from EFI_FAT_MAGIC and the
// CPU_TYPE_* values consulted in VerifyAppleImageSignature
// (original_source/.../AppleEfiBinary.c).
const (
	fatMagic = 0x0EF1FAB9

	cpuTypeX86    = 7
	cpuTypeX86_64 = 0x01000007
)

const (
	fatHeaderSize = 8  // magic u32, num_archs u32
	fatArchSize   = 28 // cpu_type, cpu_subtype, offset, size, align: 5 x u32
)

// fatArch is one slot of the Fat arch table.
type fatArch struct {
	cpuType    uint32
	cpuSubtype uint32
	offset     uint32
	size       uint32
	align      uint32
}

// supported reports whether this slice's CPU type is one this verifier
// checks; unsupported types are still tiled over but never parsed as PE
// images (spec.md section 4.E, "only x86 and x86_64 slices are verified").
func (a fatArch) supported() bool {
	return a.cpuType == cpuTypeX86 || a.cpuType == cpuTypeX86_64
}

// isFatContainer reports whether image opens with the Fat magic.
func isFatContainer(image []byte) bool {
	magic, err := readUint32(image, 0)
	return err == nil && magic == fatMagic
}

// parseFatArches reads the Fat header and arch table, validating that
// the table itself fits the image (spec.md section 4.E step 1; the
// header+arch-table bounds checks in VerifyAppleImageSignature).
func parseFatArches(image []byte) ([]fatArch, error) {
	numArchs, err := readUint32(image, 4)
	if err != nil {
		return nil, ErrMalformedFat
	}
	// The multiplication itself can overflow a 32-bit accumulator for a
	// crafted numArchs near 2^32/28, silently wrapping tableEnd below
	// len(image) and driving the loop below into billions of iterations
	// over a tiny buffer. Do the size arithmetic in 64 bits, matching the
	// original's uint64_t SizeOfBinary accounting, and compare it against
	// len(image) before any arch record is read.
	tableEnd64 := uint64(fatHeaderSize) + uint64(numArchs)*uint64(fatArchSize)
	if tableEnd64 > uint64(len(image)) {
		return nil, ErrMalformedFat
	}

	arches := make([]fatArch, 0, numArchs)
	offset := uint32(fatHeaderSize)
	for i := uint32(0); i < numArchs; i++ {
		rec, err := sliceAt(image, offset, fatArchSize)
		if err != nil {
			return nil, ErrMalformedFat
		}
		cpuType, _ := readUint32(rec, 0)
		cpuSubtype, _ := readUint32(rec, 4)
		archOffset, _ := readUint32(rec, 8)
		size, _ := readUint32(rec, 12)
		align, _ := readUint32(rec, 16)
		arches = append(arches, fatArch{
			cpuType:    cpuType,
			cpuSubtype: cpuSubtype,
			offset:     archOffset,
			size:       size,
			align:      align,
		})
		offset += fatArchSize
	}
	return arches, nil
}
