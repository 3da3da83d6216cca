// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package efiverify

import "sort"

// sectionRecord holds the fields of one IMAGE_SECTION_HEADER that the
// Apple Authenticode hasher needs, generalized from saferwall/pe's
// ImageSectionHeader (section.go) down to the two fields
// GetApplePeImageSha256 actually consults.
type sectionRecord struct {
	pointerToRawData uint32
	sizeOfRawData    uint32
}

// parseSectionTable reads the NumberOfSections entries starting at
// ctx.firstSectionOffset, in on-disk order (spec.md section 4.C).
func parseSectionTable(image []byte, ctx *peContext) ([]sectionRecord, error) {
	sections := make([]sectionRecord, 0, ctx.numSections)
	offset := ctx.firstSectionOffset
	for i := uint16(0); i < ctx.numSections; i++ {
		hdr, err := sliceAt(image, offset, sectionHeaderSize)
		if err != nil {
			return nil, ErrMalformedSections
		}
		pointerToRawData, err := readUint32(hdr, 20)
		if err != nil {
			return nil, ErrMalformedSections
		}
		sizeOfRawData, err := readUint32(hdr, 16)
		if err != nil {
			return nil, ErrMalformedSections
		}
		sections = append(sections, sectionRecord{
			pointerToRawData: pointerToRawData,
			sizeOfRawData:    sizeOfRawData,
		})
		offset += sectionHeaderSize
	}
	return sections, nil
}

// sortedSections stable-sorts the full section table by ascending
// PointerToRawData (spec.md section 4.D step 4; the original source's
// insertion sort over SectionCache). Zero-size sections are kept in the
// sorted result rather than dropped, so indices refer to the *whole*
// sorted table: GetApplePeImageSha256's gap-hash guard is "Index > 0"
// over that table, so whichever section lands at index 0 never
// contributes a preceding gap hash -- only later entries do. The hasher
// itself skips zero-size entries when it walks the result.
// sort.SliceStable is used in place of a hand-rolled insertion
// sort, matching the teacher's own reach for sort.Interface/sort.Sort in
// security.go's byStart type for the analogous Authentihash range
// ordering.
func sortedSections(sections []sectionRecord) []sectionRecord {
	out := make([]sectionRecord, len(sections))
	copy(out, sections)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].pointerToRawData < out[j].pointerToRawData
	})
	return out
}
