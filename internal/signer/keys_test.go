/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package signer

import (
	"context"
	"crypto/elliptic"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyPair(t *testing.T) {
	for _, name := range []string{"P-256", "P-384", "P-521"} {
		t.Run(name, func(t *testing.T) {
			curve, err := ParseCurve(name)
			require.NoError(t, err)
			kp, err := GenerateKeyPair(curve)
			require.NoError(t, err)
			assert.Len(t, kp.KID, 32)

			path := filepath.Join(t.TempDir(), "priv")
			require.NoError(t, os.WriteFile(path, kp.PrivatePEM, 0o600))

			msg := []byte("challenge")
			sig, err := COSE{}.Sign(context.Background(), msg, path)
			require.NoError(t, err)

			pub, err := DecodePublicKey(kp.PublicKey)
			require.NoError(t, err)
			assert.NoError(t, Verify(pub, msg, sig))
		})
	}

	_, err := ParseCurve("P-224")
	assert.Error(t, err)
}

func TestDecodePublicKey_Garbage(t *testing.T) {
	_, err := DecodePublicKey([]byte{0x01})
	assert.Error(t, err)
}

func TestEncodePublicKey_ThumbprintStable(t *testing.T) {
	a, err := GenerateKeyPair(elliptic.P256())
	require.NoError(t, err)
	b, err := GenerateKeyPair(elliptic.P256())
	require.NoError(t, err)

	pub, err := DecodePublicKey(a.PublicKey)
	require.NoError(t, err)
	_, kid, err := EncodePublicKey(pub)
	require.NoError(t, err)
	assert.Equal(t, a.KID, kid)
	assert.NotEqual(t, a.KID, b.KID)
}
