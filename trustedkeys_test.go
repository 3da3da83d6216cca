// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package efiverify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupTrustedKey(t *testing.T) {
	saved := trustedKeyTable
	defer func() { trustedKeyTable = saved }()
	trustedKeyTable = nil

	keyLE := make([]byte, rsaKeyBytes)
	for i := range keyLE {
		keyLE[i] = byte(i * 3)
	}
	RegisterTrustedKey(keyLE)

	sig := &appleSignature{modulus: reverseBytes(keyLE)}
	got, err := lookupTrustedKey(sig)
	require.NoError(t, err)
	assert.Equal(t, reverseBytes(keyLE), got.modulus)

	unknown := &appleSignature{modulus: make([]byte, rsaKeyBytes)}
	_, err = lookupTrustedKey(unknown)
	assert.ErrorIs(t, err, ErrUnknownKey)
}
