// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package efiverify

import "crypto/sha256"

// hashPEImage recomputes the Apple-variant Authenticode SHA-256 digest
// over image, ported byte range for byte range from GetApplePeImageSha256
// in original_source/.../AppleEfiBinary.c. Unlike Microsoft's
// Authenticode, the excluded ranges are computed from a flat
// signatureDirectorySize rather than a WIN_CERTIFICATE dwLength, and the
// gap between sections (if any slack exists from section-table
// reordering or padding) is hashed but not counted toward
// sumOfBytesHashed -- see spec.md section 4.D for the full rationale.
//
// sigDirSize is the embedded size read back from the signature
// directory itself (parseAppleSignature's second return value), used
// here purely for the skip-accounting in step 5; it is never trusted to
// extend past the directory's own declared Size.
func hashPEImage(image []byte, ctx *peContext, sigDirSize uint32) ([32]byte, error) {
	h := sha256.New()
	imageSize := uint32(len(image))

	// Step 1: always hash the DOS header region, even when no DOS
	// header is actually present (peHdrOffset == 0).
	dosRegion, err := sliceAt(image, 0, dosHeaderSize)
	if err != nil {
		return [32]byte{}, ErrMalformedPe
	}
	h.Write(dosRegion)

	// Step 2: from e_lfanew through (not including) OptionalHeader.CheckSum.
	if ctx.checksumFieldOffset < ctx.peHdrOffset {
		return [32]byte{}, ErrMalformedPe
	}
	region2, err := sliceAt(image, ctx.peHdrOffset, ctx.checksumFieldOffset-ctx.peHdrOffset)
	if err != nil {
		return [32]byte{}, ErrMalformedPe
	}
	h.Write(region2)

	var sumOfBytesHashed uint32

	if !ctx.hasSecurityEntry() {
		// Short-prologue branch: no Security directory entry at all.
		// Hash from right after CheckSum through the end of the image
		// headers.
		start := ctx.checksumFieldOffset + 4
		if ctx.sizeOfHeaders < start {
			return [32]byte{}, ErrMalformedPe
		}
		region, err := sliceAt(image, start, ctx.sizeOfHeaders-start)
		if err != nil {
			return [32]byte{}, ErrMalformedPe
		}
		h.Write(region)
		sumOfBytesHashed = ctx.sizeOfHeaders
	} else {
		// 3a: end of CheckSum through the start of the Security entry.
		start := ctx.checksumFieldOffset + 4
		if ctx.securityDirEntryOffset < start {
			return [32]byte{}, ErrMalformedPe
		}
		region3a, err := sliceAt(image, start, ctx.securityDirEntryOffset-start)
		if err != nil {
			return [32]byte{}, ErrMalformedPe
		}
		h.Write(region3a)

		// 3b: start of the BaseReloc entry (immediately past the 8-byte
		// Security entry) through the end of the image headers.
		if ctx.sizeOfHeaders < ctx.relocDirOffset {
			return [32]byte{}, ErrMalformedPe
		}
		region3b, err := sliceAt(image, ctx.relocDirOffset, ctx.sizeOfHeaders-ctx.relocDirOffset)
		if err != nil {
			return [32]byte{}, ErrMalformedPe
		}
		h.Write(region3b)
		sumOfBytesHashed = ctx.sizeOfHeaders
	}

	// Step 4: sections in ascending PointerToRawData order.
	sections, err := parseSectionTable(image, ctx)
	if err != nil {
		return [32]byte{}, err
	}
	ordered := sortedSections(sections)

	var codecaveIndicator uint32
	for i, s := range ordered {
		// Zero-size sections are skipped: they hash no gap and do not
		// move the codecave indicator.
		if s.sizeOfRawData == 0 {
			continue
		}
		// The gap-hash guard is Index > 0 over the whole sorted table,
		// not "first non-empty section": index 0 never contributes a
		// preceding gap, since that region was already covered by
		// steps 1-3 (spec.md section 4.D step 4).
		if i > 0 && s.pointerToRawData > codecaveIndicator {
			gap, err := sliceAt(image, codecaveIndicator, s.pointerToRawData-codecaveIndicator)
			if err != nil {
				return [32]byte{}, ErrMalformedSections
			}
			h.Write(gap) // not counted toward sumOfBytesHashed
		}
		raw, err := sliceAt(image, s.pointerToRawData, s.sizeOfRawData)
		if err != nil {
			return [32]byte{}, ErrMalformedSections
		}
		h.Write(raw)
		if addOverflows(sumOfBytesHashed, s.sizeOfRawData) {
			return [32]byte{}, ErrMalformedSections
		}
		sumOfBytesHashed += s.sizeOfRawData
		codecaveIndicator = s.pointerToRawData + s.sizeOfRawData
	}

	// Step 5: signature-directory preamble, then skip the directory
	// itself plus the signed blob accounted for by sigDirSize.
	if imageSize > sumOfBytesHashed {
		dir := ctx.securityDir
		if dir.VirtualAddress < dir.Size {
			return [32]byte{}, ErrMalformedSecurityDir
		}
		preambleStart := dir.VirtualAddress - dir.Size
		preamble, err := sliceAt(image, preambleStart, dir.VirtualAddress-preambleStart)
		if err != nil {
			return [32]byte{}, ErrMalformedSecurityDir
		}
		h.Write(preamble)

		if addOverflows(sumOfBytesHashed, dir.Size+8) {
			return [32]byte{}, ErrMalformedSecurityDir
		}
		sumOfBytesHashed += dir.Size + 8
		if addOverflows(sumOfBytesHashed, sigDirSize) {
			return [32]byte{}, ErrMalformedSecurityDir
		}
		sumOfBytesHashed += sigDirSize
	}

	// Step 6: trailer.
	if imageSize > sumOfBytesHashed {
		trailer, err := sliceAt(image, sumOfBytesHashed, imageSize-sumOfBytesHashed)
		if err != nil {
			return [32]byte{}, ErrMalformedPe
		}
		h.Write(trailer)
	}

	var digest [32]byte
	copy(digest[:], h.Sum(nil))
	return digest, nil
}
