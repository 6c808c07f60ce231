/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package update

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/kentakayama/zeus-over-http/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func manifestBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func TestStreamDelta_Append(t *testing.T) {
	m := manifestBytes(3000)
	signed := []byte("SIGNATURE+RANDOM")

	var out bytes.Buffer
	n, err := StreamDelta(&out, bytes.NewReader(m), signed, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(len(m)+len(signed)), n)
	assert.Equal(t, append(bytes.Clone(m), signed...), out.Bytes())
}

func TestStreamDelta_Splice(t *testing.T) {
	m := manifestBytes(3000)
	signed := []byte("SIGNATURE+RANDOM")

	for _, off := range []int64{0, 1, 1023, 1024, 1025, 2999, 3000} {
		var out bytes.Buffer
		n, err := StreamDelta(&out, bytes.NewReader(m), signed, &off)
		require.NoError(t, err, "offset %d", off)
		assert.Equal(t, int64(len(m)+len(signed)), n)

		want := append(bytes.Clone(m[:off]), signed...)
		want = append(want, m[off:]...)
		assert.Equal(t, want, out.Bytes(), "offset %d", off)
	}
}

func TestStreamDelta_SmallReads(t *testing.T) {
	m := manifestBytes(100)
	off := int64(37)

	var out bytes.Buffer
	_, err := StreamDelta(&out, iotest.OneByteReader(bytes.NewReader(m)), []byte("xy"), &off)
	require.NoError(t, err)
	assert.Equal(t, string(m[:37])+"xy"+string(m[37:]), out.String())
}

func TestStreamDelta_OffsetPastEnd(t *testing.T) {
	off := int64(10)
	var out bytes.Buffer
	_, err := StreamDelta(&out, strings.NewReader("short"), []byte("sig"), &off)
	assert.True(t, errors.Is(err, domain.ErrArtifactUnavailable))
	assert.NotContains(t, out.String(), "sig")
}

type failingWriter struct{ after int }

func (f *failingWriter) Write(p []byte) (int, error) {
	if f.after <= 0 {
		return 0, errors.New("connection reset")
	}
	f.after--
	return len(p), nil
}

func TestStreamDelta_Errors(t *testing.T) {
	_, err := StreamDelta(&failingWriter{}, bytes.NewReader(manifestBytes(10)), []byte("sig"), nil)
	assert.True(t, errors.Is(err, ErrSinkWrite))

	_, err = StreamDelta(&failingWriter{after: 1}, bytes.NewReader(manifestBytes(10)), []byte("sig"), nil)
	assert.True(t, errors.Is(err, ErrSinkWrite))

	src := iotest.TimeoutReader(bytes.NewReader(manifestBytes(4096)))
	_, err = StreamDelta(&bytes.Buffer{}, src, []byte("sig"), nil)
	assert.True(t, errors.Is(err, domain.ErrArtifactUnavailable))
}
