// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package efiverify

// Image executable signatures (subset relevant to DOS-stub detection;
// ported from saferwall/pe's pe.go image-type constants).
const (
	imageDOSSignature = 0x5A4D // MZ
	imageNTSignature  = 0x00004550
)

// Optional Header magic values.
const (
	imageNtOptionalHeader32Magic = 0x10b
	imageNtOptionalHeader64Magic = 0x20b
)

// Machine types consulted by the IA-64 erratum override (spec.md
// section 4.B step 3; GetPeHeaderMagicValue in the original source).
const (
	imageFileMachineIA64 = uint16(0x200)
)

// IMAGE_FILE_RELOCS_STRIPPED, the only Characteristics bit this module
// cares about (spec.md section 4.B step 6).
const imageFileRelocsStripped = 0x0001

// Data directory indices consulted downstream (Security = 4, BaseReloc = 5).
const (
	imageDirectoryEntrySecurity  = 4
	imageDirectoryEntryBaseReloc = 5
	imageNumberOfDirectoryEntries = 16
)

// dosHeaderSize is sizeof(IMAGE_DOS_HEADER) in the on-disk layout: 30
// uint16 fields (including reserved words) plus the trailing
// e_lfanew uint32 -- 64 bytes total, matching both the teacher's
// ImageDOSHeader and EFI_IMAGE_DOS_HEADER in original_source.
const dosHeaderSize = 64

// e_lfanew lives at a fixed offset inside the DOS header.
const dosHeaderELfanewOffset = 0x3c

// fileHeaderSize is sizeof(IMAGE_FILE_HEADER): Machine, NumberOfSections,
// TimeDateStamp, PointerToSymbolTable, NumberOfSymbols,
// SizeOfOptionalHeader, Characteristics.
const fileHeaderSize = 20

// dataDirectorySize is sizeof(IMAGE_DATA_DIRECTORY): VirtualAddress,Size.
const dataDirectorySize = 8

// optionalHeader32FixedSize/optionalHeader64FixedSize are the
// byte sizes of the Optional Header bodies *excluding* the trailing
// DataDirectory array, used to validate SizeOfOptionalHeader exactly
// (spec.md section 4.B step 4; HeaderWithoutDataDir in the original
// source).
const (
	optionalHeader32FixedSize = 96
	optionalHeader64FixedSize = 112
)

// sectionHeaderSize is sizeof(IMAGE_SECTION_HEADER): 40 bytes.
const sectionHeaderSize = 40

// dataDirectory is the on-disk {VirtualAddress,Size} pair.
type dataDirectory struct {
	VirtualAddress uint32
	Size           uint32
}

// peContext is the parsed, read-only view the hasher and extractor
// consume. It stores byte offsets and sizes only -- never pointers or
// sub-slices of the image -- so that it can never dangle and every
// consumer re-validates bounds at the point of use (spec.md section 9,
// "Raw pointer arithmetic -> owned-slice indexing").
type peContext struct {
	peHdrOffset    uint32
	magic          uint16
	is64           bool
	sizeOfHeaders  uint32
	sizeOfImage    uint32
	entryPoint     uint32

	checksumFieldOffset uint32

	numberOfRvaAndSizes uint32
	securityDir         dataDirectory
	// securityDirEntryOffset is the byte offset of DataDirectory[4]
	// itself (used to compute the CheckSum..SecurityDir hash range).
	securityDirEntryOffset uint32
	// relocDirOffset is the byte offset of DataDirectory[5], i.e. the
	// byte immediately past the Security entry (spec.md section 3,
	// "reloc_dir_offset").
	relocDirOffset uint32

	numSections        uint16
	firstSectionOffset uint32

	characteristics uint16
}

// parsePEContext implements spec.md section 4.B, ported operation for
// operation from GetPeHeader in original_source/.../AppleEfiBinary.c and
// generalized from saferwall/pe's dosheader.go/ntheader.go (which parse
// the same fields for introspection rather than for a hash-domain
// reconstruction).
func parsePEContext(image []byte) (*peContext, error) {
	n := uint32(len(image))

	maxHeaderSize := uint32(dosHeaderSize)
	if optionalHeader64FixedSize+dataDirectorySize*imageNumberOfDirectoryEntries > maxHeaderSize {
		maxHeaderSize = optionalHeader64FixedSize + dataDirectorySize*imageNumberOfDirectoryEntries
	}
	if n < maxHeaderSize {
		return nil, ErrTooSmall
	}

	var peHdrOffset uint32
	magicDos, err := readUint16(image, 0)
	if err == nil && magicDos == imageDOSSignature {
		lfanew, err := readUint32(image, dosHeaderELfanewOffset)
		if err != nil {
			return nil, ErrMalformedDos
		}
		if addOverflows(lfanew, optionalHeader64FixedSize+dataDirectorySize*imageNumberOfDirectoryEntries) ||
			lfanew+optionalHeader64FixedSize+dataDirectorySize*imageNumberOfDirectoryEntries > n {
			return nil, ErrMalformedDos
		}
		peHdrOffset = lfanew
	} else {
		peHdrOffset = 0
	}

	sig, err := readUint32(image, peHdrOffset)
	if err != nil || sig != imageNTSignature {
		return nil, ErrMalformedPe
	}

	fileHeaderOffset := peHdrOffset + 4
	machine, err := readUint16(image, fileHeaderOffset)
	if err != nil {
		return nil, ErrMalformedPe
	}
	numberOfSections, err := readUint16(image, fileHeaderOffset+2)
	if err != nil {
		return nil, ErrMalformedPe
	}
	sizeOfOptionalHeader, err := readUint16(image, fileHeaderOffset+16)
	if err != nil {
		return nil, ErrMalformedPe
	}
	characteristics, err := readUint16(image, fileHeaderOffset+18)
	if err != nil {
		return nil, ErrMalformedPe
	}
	if characteristics&imageFileRelocsStripped != 0 {
		return nil, ErrRelocsStripped
	}

	optHeaderOffset := fileHeaderOffset + fileHeaderSize
	rawMagic, err := readUint16(image, optHeaderOffset)
	if err != nil {
		return nil, ErrMalformedPe
	}

	// IA-64 erratum: some ELILO builds report a PE32 magic on an
	// Itanium machine type. Treat it as PE32+ (spec.md section 4.B
	// step 3; GetPeHeaderMagicValue in original_source).
	magic := rawMagic
	if machine == imageFileMachineIA64 && rawMagic == imageNtOptionalHeader32Magic {
		magic = imageNtOptionalHeader64Magic
	}

	ctx := &peContext{
		peHdrOffset:     peHdrOffset,
		magic:           magic,
		numSections:     numberOfSections,
		characteristics: characteristics,
	}

	switch magic {
	case imageNtOptionalHeader32Magic:
		ctx.is64 = false
		if err := fillOptionalHeader32(image, optHeaderOffset, sizeOfOptionalHeader, ctx); err != nil {
			return nil, err
		}
	case imageNtOptionalHeader64Magic:
		ctx.is64 = true
		if err := fillOptionalHeader64(image, optHeaderOffset, sizeOfOptionalHeader, ctx); err != nil {
			return nil, err
		}
	default:
		return nil, ErrUnsupportedMachine
	}

	// Section header offset, and the two parallel overflow checks
	// against SizeOfImage and SizeOfHeaders (spec.md section 4.B step 5).
	sectionHeaderOffset := peHdrOffset + 4 + fileHeaderSize + uint32(sizeOfOptionalHeader)
	ctx.firstSectionOffset = sectionHeaderOffset

	if ctx.sizeOfImage < sectionHeaderOffset {
		return nil, ErrMalformedPe
	}
	if (ctx.sizeOfImage-sectionHeaderOffset)/sectionHeaderSize <= uint32(numberOfSections) {
		return nil, ErrMalformedPe
	}
	if ctx.sizeOfHeaders < sectionHeaderOffset {
		return nil, ErrMalformedPe
	}
	if (ctx.sizeOfHeaders-sectionHeaderOffset)/sectionHeaderSize < uint32(numberOfSections) {
		return nil, ErrMalformedPe
	}

	// Walk the section table purely to validate the running raw-size
	// sum does not overflow and does not exceed the image (spec.md
	// section 4.B step 8); the parsed headers themselves are (re)read
	// by the hasher in on-disk order.
	var sumOfRaw uint32
	offset := sectionHeaderOffset
	for i := uint16(0); i < numberOfSections; i++ {
		sizeOfRawData, err := readUint32(image, offset+16)
		if err != nil {
			return nil, ErrMalformedSections
		}
		if addOverflows(sumOfRaw, sizeOfRawData) {
			return nil, ErrMalformedSections
		}
		sumOfRaw += sizeOfRawData
		offset += sectionHeaderSize
	}
	if sumOfRaw >= n {
		return nil, ErrMalformedSections
	}
	if n < ctx.sizeOfHeaders {
		return nil, ErrMalformedSections
	}
	// These checks only apply when NumberOfRvaAndSizes actually reaches
	// the Security entry (index 4); the short-prologue branch (spec.md
	// section 4.D step 3) never dereferences it, so a smaller
	// SizeOfOptionalHeader that omits it is not a malformed header.
	if ctx.hasSecurityEntry() {
		if addOverflows(ctx.securityDirEntryOffset, 8) || ctx.securityDirEntryOffset+8 > n {
			return nil, ErrMalformedSecurityDir
		}
		if ctx.securityDir.VirtualAddress >= n {
			return nil, ErrMalformedSecurityDir
		}
	}

	return ctx, nil
}

// fillOptionalHeader32 reads the PE32 Optional Header fields needed by
// the hasher and extractor (spec.md section 3, "PE Context").
func fillOptionalHeader32(image []byte, off uint32, sizeOfOptionalHeader uint16, ctx *peContext) error {
	if uint32(sizeOfOptionalHeader) < optionalHeader32FixedSize {
		return ErrMalformedPe
	}

	sizeOfImage, err := readUint32(image, off+56)
	if err != nil {
		return ErrMalformedPe
	}
	sizeOfHeaders, err := readUint32(image, off+60)
	if err != nil {
		return ErrMalformedPe
	}
	entryPoint, err := readUint32(image, off+16)
	if err != nil {
		return ErrMalformedPe
	}
	numberOfRvaAndSizes, err := readUint32(image, off+92)
	if err != nil {
		return ErrMalformedPe
	}
	if numberOfRvaAndSizes > 16 {
		return ErrMalformedPe
	}
	if err := checkOptionalHeaderSize(sizeOfOptionalHeader, optionalHeader32FixedSize, numberOfRvaAndSizes); err != nil {
		return err
	}

	ctx.sizeOfImage = sizeOfImage
	ctx.sizeOfHeaders = sizeOfHeaders
	ctx.entryPoint = entryPoint
	ctx.checksumFieldOffset = off + 64
	ctx.numberOfRvaAndSizes = numberOfRvaAndSizes

	dataDirBase := off + 96
	ctx.securityDirEntryOffset = dataDirBase + imageDirectoryEntrySecurity*dataDirectorySize
	ctx.relocDirOffset = dataDirBase + imageDirectoryEntryBaseReloc*dataDirectorySize
	if numberOfRvaAndSizes > imageDirectoryEntrySecurity {
		va, err := readUint32(image, ctx.securityDirEntryOffset)
		if err != nil {
			return ErrMalformedSecurityDir
		}
		sz, err := readUint32(image, ctx.securityDirEntryOffset+4)
		if err != nil {
			return ErrMalformedSecurityDir
		}
		ctx.securityDir = dataDirectory{VirtualAddress: va, Size: sz}
	}
	return nil
}

// fillOptionalHeader64 reads the PE32+ Optional Header fields.
//
// Per spec.md section 4.B step 7 / section 9 Open Questions: the
// original source reads SizeOfOptionalHeader and FirstSection through
// the PE32 view of the union even while in the PE32+ branch. Go has no
// union aliasing, so this reads SizeOfOptionalHeader directly (it is a
// COFF File Header field, identical in both views -- the caller already
// passed the one true value in) and computes FirstSection the same way
// regardless of magic; there is nothing to diverge.
func fillOptionalHeader64(image []byte, off uint32, sizeOfOptionalHeader uint16, ctx *peContext) error {
	if uint32(sizeOfOptionalHeader) < optionalHeader64FixedSize {
		return ErrMalformedPe
	}

	sizeOfImage, err := readUint32(image, off+56)
	if err != nil {
		return ErrMalformedPe
	}
	sizeOfHeaders, err := readUint32(image, off+60)
	if err != nil {
		return ErrMalformedPe
	}
	entryPoint, err := readUint32(image, off+16)
	if err != nil {
		return ErrMalformedPe
	}
	numberOfRvaAndSizes, err := readUint32(image, off+108)
	if err != nil {
		return ErrMalformedPe
	}
	if numberOfRvaAndSizes > 16 {
		return ErrMalformedPe
	}
	if err := checkOptionalHeaderSize(sizeOfOptionalHeader, optionalHeader64FixedSize, numberOfRvaAndSizes); err != nil {
		return err
	}

	ctx.sizeOfImage = sizeOfImage
	ctx.sizeOfHeaders = sizeOfHeaders
	ctx.entryPoint = entryPoint
	ctx.checksumFieldOffset = off + 64
	ctx.numberOfRvaAndSizes = numberOfRvaAndSizes

	dataDirBase := off + 112
	ctx.securityDirEntryOffset = dataDirBase + imageDirectoryEntrySecurity*dataDirectorySize
	ctx.relocDirOffset = dataDirBase + imageDirectoryEntryBaseReloc*dataDirectorySize
	if numberOfRvaAndSizes > imageDirectoryEntrySecurity {
		va, err := readUint32(image, ctx.securityDirEntryOffset)
		if err != nil {
			return ErrMalformedSecurityDir
		}
		sz, err := readUint32(image, ctx.securityDirEntryOffset+4)
		if err != nil {
			return ErrMalformedSecurityDir
		}
		ctx.securityDir = dataDirectory{VirtualAddress: va, Size: sz}
	}
	return nil
}

// checkOptionalHeaderSize validates that SizeOfOptionalHeader equals the
// fixed Optional Header body plus exactly numberOfRvaAndSizes
// data-directory entries -- no padding, no truncation (spec.md section
// 4.B step 4; the HeaderWithoutDataDir arithmetic in GetPeHeader).
func checkOptionalHeaderSize(sizeOfOptionalHeader uint16, fixedSize, numberOfRvaAndSizes uint32) error {
	if uint32(sizeOfOptionalHeader) != fixedSize+numberOfRvaAndSizes*dataDirectorySize {
		return ErrMalformedPe
	}
	return nil
}

// hasSecurityEntry reports whether the Optional Header's
// NumberOfRvaAndSizes is large enough to include the Security data
// directory entry (index 4); spec.md section 4.D step 3.
func (ctx *peContext) hasSecurityEntry() bool {
	return ctx.numberOfRvaAndSizes > imageDirectoryEntrySecurity
}
