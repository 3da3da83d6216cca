// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package efiverify

import "errors"

// Sentinel errors returned by the parser, hasher, and verifier. Every
// internal failure path returns one of these (or wraps one with
// fmt.Errorf("%w", ...)); callers treat any non-nil error as a failed
// verification, per spec.md section 7.
var (
	// ErrTooSmall is returned when the image is smaller than the
	// largest of the DOS header and the optional-header union.
	ErrTooSmall = errors.New("efiverify: image too small to contain a PE header")

	// ErrMalformedDos is returned when the DOS/e_lfanew fields don't
	// describe a PE header reachable within the image.
	ErrMalformedDos = errors.New("efiverify: malformed DOS header")

	// ErrMalformedPe is returned for any PE/COFF header field that
	// fails the bounds or consistency checks in section 4.B.
	ErrMalformedPe = errors.New("efiverify: malformed PE header")

	// ErrUnsupportedMachine is returned when the optional header magic
	// is neither PE32 nor PE32+.
	ErrUnsupportedMachine = errors.New("efiverify: unsupported optional header magic")

	// ErrRelocsStripped is returned when IMAGE_FILE_RELOCS_STRIPPED is
	// set in the COFF Characteristics field.
	ErrRelocsStripped = errors.New("efiverify: relocations stripped")

	// ErrMalformedSections is returned when the section header table
	// overflows the image or a raw-data range is unreadable.
	ErrMalformedSections = errors.New("efiverify: malformed section header table")

	// ErrMalformedSecurityDir is returned when the Security data
	// directory entry is absent, empty, or points outside the image.
	ErrMalformedSecurityDir = errors.New("efiverify: malformed security directory")

	// ErrMalformedFat is returned when the Fat header or arch table
	// doesn't fit the image.
	ErrMalformedFat = errors.New("efiverify: malformed fat header")

	// ErrWrongArchOffset is returned when a Fat arch record's offset or
	// size overlaps the arch table or a previous slice, or overruns the
	// image.
	ErrWrongArchOffset = errors.New("efiverify: wrong fat arch offset")

	// ErrUnknownKey is returned when the extracted public key's SHA-256
	// matches no entry in the trusted-key table.
	ErrUnknownKey = errors.New("efiverify: unknown public key")

	// ErrSignatureMismatch is returned when the RSA signature doesn't
	// verify against the recomputed Apple Authenticode digest.
	ErrSignatureMismatch = errors.New("efiverify: signature does not match")

	// ErrOutOfMemory is not returned by any code path in this module,
	// which performs only small, bounded allocations; the error tag is
	// kept for parity with spec.md section 7.
	ErrOutOfMemory = errors.New("efiverify: out of memory")

	// errOutsideBoundary is the internal bounds-check error produced by
	// the readUint*/sliceAt helpers; callers translate it into one of
	// the exported errors above with surrounding context.
	errOutsideBoundary = errors.New("efiverify: read outside image boundary")
)
