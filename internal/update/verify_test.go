/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package update

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func proofSet(n int) ([]string, []byte) {
	var hashes []string
	var body []byte
	for i := range n {
		sum := sha256.Sum256([]byte{byte(i)})
		hashes = append(hashes, hex.EncodeToString(sum[:]))
		body = append(body, sum[:]...)
	}
	return hashes, body
}

func TestVerifyProofs(t *testing.T) {
	hashes, body := proofSet(3)

	assert.True(t, VerifyProofs(hashes, bytes.NewReader(body)))
	assert.True(t, VerifyProofs(nil, bytes.NewReader(nil)))
	// trailing bytes are ignored
	assert.True(t, VerifyProofs(hashes, bytes.NewReader(append(bytes.Clone(body), 0xff))))

	tampered := bytes.Clone(body)
	tampered[len(tampered)-1] ^= 0x01
	assert.False(t, VerifyProofs(hashes, bytes.NewReader(tampered)))

	assert.False(t, VerifyProofs(hashes, bytes.NewReader(body[:len(body)-1])))
	assert.False(t, VerifyProofs(hashes, bytes.NewReader(nil)))

	assert.False(t, VerifyProofs([]string{"zz"}, bytes.NewReader([]byte{0x00})))
}

func TestVerifyProofs_Order(t *testing.T) {
	hashes, body := proofSet(2)
	swapped := append(bytes.Clone(body[32:]), body[:32]...)
	assert.False(t, VerifyProofs(hashes, bytes.NewReader(swapped)))
}

type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

// An early mismatch must not stop the remaining proofs from being read and compared.
func TestVerifyProofs_NoEarlyExit(t *testing.T) {
	hashes, body := proofSet(8)
	body = bytes.Clone(body)
	body[0] ^= 0xff

	cr := &countingReader{r: bytes.NewReader(body)}
	assert.False(t, VerifyProofs(hashes, cr))
	assert.Equal(t, len(body), cr.n)
}

func TestVerifyProofs_Timing(t *testing.T) {
	if testing.Short() {
		t.Skip("timing comparison")
	}
	hashes, body := proofSet(16)
	nearMiss := bytes.Clone(body)
	nearMiss[0] ^= 0x01

	measure := func(b []byte) time.Duration {
		best := time.Duration(1<<63 - 1)
		for range 50 {
			start := time.Now()
			for range 200 {
				VerifyProofs(hashes, bytes.NewReader(b))
			}
			if d := time.Since(start); d < best {
				best = d
			}
		}
		return best
	}

	match := measure(body)
	miss := measure(nearMiss)
	ratio := float64(miss) / float64(match)
	assert.InDelta(t, 1.0, ratio, 0.5, "match %v near-miss %v", match, miss)
}
