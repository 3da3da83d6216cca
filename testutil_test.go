// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package efiverify

import "encoding/binary"

// peBuilder.build assembles a minimal, synthetic PE32+ image with a DOS
// stub, one code section, and (optionally) an Apple Signature
// Directory, entirely in memory. No Apple-signed fixture binaries were
// available in the retrieved example pack, so tests construct their own
// byte buffers rather than loading files from disk (unlike the
// teacher's test/*.exe fixtures in saferwall/pe).
//
// Layout:
//
//	[0x00, 0x40)   DOS header (e_lfanew = 0x40)
//	[0x40, ...)    PE signature + File Header + Optional Header32+ + 16 data dirs
//	section table  1 entry
//	headers padded to sizeOfHeaders (0x200)
//	[0x200, ...)   .text section, sizeOfRaw bytes
//	[sigOff, ...)  Apple Signature Directory (if withSig)
type peBuilder struct {
	withSig    bool
	sectionRaw []byte
}

func (b peBuilder) build() []byte {
	const (
		lfanew         = 0x40
		sizeOfHeaders  = 0x200
		sectionPtr     = sizeOfHeaders
		optHdr64Size   = optionalHeader64FixedSize + dataDirectorySize*16
		fileHdrOff     = lfanew + 4
		optHdrOff      = fileHdrOff + fileHeaderSize
		sectionTblOff  = optHdrOff + optHdr64Size
	)

	sectionRaw := b.sectionRaw
	if sectionRaw == nil {
		sectionRaw = make([]byte, 0x100)
		for i := range sectionRaw {
			sectionRaw[i] = byte(i)
		}
	}

	sigOff := sectionPtr + uint32(len(sectionRaw))
	sigOff = (sigOff + 0xf) &^ 0xf // align for realism

	total := sigOff
	var sigDirSize uint32
	if b.withSig {
		sigDirSize = 8 + appleSigDirBytes
		total = sigOff + sigDirSize
	}

	img := make([]byte, total+0x100) // trailer slack
	le := binary.LittleEndian

	// DOS header: magic MZ, e_lfanew at 0x3c.
	le.PutUint16(img[0:], imageDOSSignature)
	le.PutUint32(img[0x3c:], lfanew)

	// PE signature + File Header.
	le.PutUint32(img[lfanew:], imageNTSignature)
	le.PutUint16(img[fileHdrOff+0:], 0x8664) // AMD64
	le.PutUint16(img[fileHdrOff+2:], 1)      // NumberOfSections
	le.PutUint16(img[fileHdrOff+16:], uint16(optHdr64Size))
	le.PutUint16(img[fileHdrOff+18:], 0) // Characteristics

	// Optional Header64.
	le.PutUint16(img[optHdrOff:], imageNtOptionalHeader64Magic)
	le.PutUint32(img[optHdrOff+16:], 0x1000) // AddressOfEntryPoint
	le.PutUint32(img[optHdrOff+56:], total+0x100) // SizeOfImage
	le.PutUint32(img[optHdrOff+60:], sizeOfHeaders)
	le.PutUint32(img[optHdrOff+108:], 16) // NumberOfRvaAndSizes

	dataDirBase := optHdrOff + 112
	if b.withSig {
		secEntry := dataDirBase + imageDirectoryEntrySecurity*dataDirectorySize
		le.PutUint32(img[secEntry:], sigOff)
		le.PutUint32(img[secEntry+4:], sigDirSize)
	}

	// Section header.
	copy(img[sectionTblOff:], []byte(".text\x00\x00\x00"))
	le.PutUint32(img[sectionTblOff+8:], uint32(len(sectionRaw)))  // VirtualSize
	le.PutUint32(img[sectionTblOff+12:], 0x1000)                  // VirtualAddress
	le.PutUint32(img[sectionTblOff+16:], uint32(len(sectionRaw))) // SizeOfRawData
	le.PutUint32(img[sectionTblOff+20:], sectionPtr)              // PointerToRawData

	copy(img[sectionPtr:], sectionRaw)

	if b.withSig {
		le.PutUint32(img[sigOff:], sigDirSize) // embedded directory size
		// key and signature are all-zero placeholder bytes; callers
		// that need a verifiable signature overwrite them after build().
	}

	return img
}
