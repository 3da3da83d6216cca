// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package efiverify

import "encoding/binary"

// The helpers below mirror saferwall/pe's File.ReadUint16/32/64 and
// structUnpack, generalized to operate on a plain, immutable byte slice
// instead of a *File with an mmap-backed buffer: this module has no
// need for a stateful File type, since Verify takes ownership of nothing
// and retains no reference past a single call (spec.md section 3,
// "Ownership").
//
// Every function here re-validates offset+len against len(b) before
// touching memory, including overflow checks on the offset+len addition
// itself, so that no byte outside b is ever read (spec.md P1) even when
// offset or length arrives from attacker-controlled header fields.

func readUint16(b []byte, offset uint32) (uint16, error) {
	if offset > uint32(len(b))-2 || uint32(len(b)) < 2 {
		return 0, errOutsideBoundary
	}
	return binary.LittleEndian.Uint16(b[offset:]), nil
}

func readUint32(b []byte, offset uint32) (uint32, error) {
	if offset > uint32(len(b))-4 || uint32(len(b)) < 4 {
		return 0, errOutsideBoundary
	}
	return binary.LittleEndian.Uint32(b[offset:]), nil
}

func readUint64(b []byte, offset uint32) (uint64, error) {
	if offset > uint32(len(b))-8 || uint32(len(b)) < 8 {
		return 0, errOutsideBoundary
	}
	return binary.LittleEndian.Uint64(b[offset:]), nil
}

// sliceAt returns b[offset:offset+size] after checking that the range
// fits entirely within b, with overflow-safe arithmetic on offset+size.
func sliceAt(b []byte, offset, size uint32) ([]byte, error) {
	total := offset + size
	// Overflow: total wrapped around past offset, unless size was zero.
	if (total > offset) != (size > 0) {
		return nil, errOutsideBoundary
	}
	if offset > uint32(len(b)) || total > uint32(len(b)) {
		return nil, errOutsideBoundary
	}
	return b[offset:total], nil
}

// addOverflows reports whether a+b overflows uint32.
func addOverflows(a, b uint32) bool {
	return a+b < a
}
