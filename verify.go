// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package efiverify

import (
	"crypto"
	"crypto/rsa"
	"fmt"

	"go.uber.org/zap"
)

// Options configures a call to Verify. A nil *Options is equivalent to
// &Options{} with every field at its zero value (spec.md section 5,
// "External Interfaces").
type Options struct {
	// Logger receives diagnostic messages at Debug/Warn/Error level as
	// parsing and verification proceed. Replacing saferwall/pe's own
	// log.Helper (not present in the retrieved pack) with
	// go.uber.org/zap's SugaredLogger, which exposes the same
	// Errorf/Warnf/Debugf shape the teacher's call sites use.
	Logger *zap.SugaredLogger
}

func (o *Options) logger() *zap.SugaredLogger {
	if o == nil || o.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return o.Logger
}

// SliceResult reports the outcome of verifying one architecture slice
// of a Fat container (or the sole slice of a non-Fat image).
type SliceResult struct {
	CPUType  uint32
	Offset   uint32
	Size     uint32
	Verified bool
	Skipped  bool // unsupported CPU type; tiled over but not checked
	Err      error
}

// Result is the outcome of a full Verify call.
type Result struct {
	IsFat  bool
	Slices []SliceResult
}

// OK reports whether every non-skipped slice verified successfully and
// at least one slice was actually verified.
func (r *Result) OK() bool {
	any := false
	for _, s := range r.Slices {
		if s.Skipped {
			continue
		}
		any = true
		if !s.Verified {
			return false
		}
	}
	return any
}

// Verify parses image as either an Apple Fat container or a single
// PE/COFF image, recomputes the Apple Authenticode digest of each
// x86/x86_64 slice, and checks its embedded RSA-2048 signature against
// trustedKeyTable. It retains no reference to image beyond the call
// (spec.md section 3, "Ownership").
//
// Ported from VerifyAppleImageSignature in
// original_source/.../AppleEfiBinary.c: Fat detection, per-arch
// dispatch, and the unconditional-tiling-offset accounting are all
// preserved verbatim in meaning.
func Verify(image []byte, opts *Options) (*Result, error) {
	log := opts.logger()

	if !isFatContainer(image) {
		log.Debugw("verifying single PE image", "size", len(image))
		err := verifyPE(image, opts)
		return &Result{
			IsFat: false,
			Slices: []SliceResult{{
				Offset:   0,
				Size:     uint32(len(image)),
				Verified: err == nil,
				Err:      err,
			}},
		}, err
	}

	arches, err := parseFatArches(image)
	if err != nil {
		log.Errorw("malformed fat header", "error", err)
		return nil, err
	}

	result := &Result{IsFat: true}
	// Slices must tile the image starting right after the arch table;
	// parseFatArches has already checked that the table fits the image.
	expectedNext := uint32(fatHeaderSize + len(arches)*fatArchSize)
	var firstErr error

	for _, a := range arches {
		slice := SliceResult{CPUType: a.cpuType, Offset: a.offset, Size: a.size}

		if !a.supported() {
			log.Debugw("skipping unsupported fat slice", "cpu_type", a.cpuType)
			slice.Skipped = true
			result.Slices = append(result.Slices, slice)
			// Tiling offset advances even for skipped slices (spec.md
			// section 4.E step 2).
			expectedNext = a.offset + a.size
			continue
		}

		if a.offset < expectedNext || addOverflows(a.offset, a.size) ||
			a.offset+a.size > uint32(len(image)) {
			slice.Err = ErrWrongArchOffset
			result.Slices = append(result.Slices, slice)
			if firstErr == nil {
				firstErr = ErrWrongArchOffset
			}
			expectedNext = a.offset + a.size
			continue
		}

		sub, err := sliceAt(image, a.offset, a.size)
		if err != nil {
			slice.Err = ErrWrongArchOffset
			result.Slices = append(result.Slices, slice)
			if firstErr == nil {
				firstErr = ErrWrongArchOffset
			}
			expectedNext = a.offset + a.size
			continue
		}

		err = verifyPE(sub, opts)
		slice.Verified = err == nil
		slice.Err = err
		if err != nil && firstErr == nil {
			firstErr = err
		}
		result.Slices = append(result.Slices, slice)
		expectedNext = a.offset + a.size
	}

	if expectedNext != uint32(len(image)) {
		log.Warnw("fat slices do not tile the whole image", "expected", len(image), "got", expectedNext)
		if firstErr == nil {
			firstErr = ErrMalformedFat
		}
	}

	return result, firstErr
}

// verifyPE runs the single-image path: parse the PE context, extract the
// signature, recompute the Apple Authenticode digest, look up the
// trusted key, and verify the RSA-PKCS1v1.5 signature with that key.
func verifyPE(image []byte, opts *Options) error {
	log := opts.logger()

	ctx, err := parsePEContext(image)
	if err != nil {
		log.Debugw("pe context parse failed", "error", err)
		return err
	}

	sig, dirSize, err := parseAppleSignature(image, ctx)
	if err != nil {
		log.Debugw("signature directory parse failed", "error", err)
		return err
	}

	digest, err := hashPEImage(image, ctx, dirSize)
	if err != nil {
		log.Debugw("authenticode hash failed", "error", err)
		return err
	}

	trusted, err := lookupTrustedKey(sig)
	if err != nil {
		log.Warnw("public key not in trusted table", "error", err)
		return err
	}
	trustedPub := (&appleSignature{modulus: trusted.modulus}).publicKey()

	if err := rsa.VerifyPKCS1v15(trustedPub, crypto.SHA256, digest[:], sig.signature); err != nil {
		log.Warnw("signature verification failed", "error", err)
		return fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}

	return nil
}
