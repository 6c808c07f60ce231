/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package update

import (
	"crypto/subtle"
	"encoding/hex"
	"io"
)

// VerifyProofs reads one raw proof per expected hash from proofs, in order,
// and compares it with the hex-decoded hash in constant time. A short read
// or an undecodable expected hash fails closed.
func VerifyProofs(expected []string, proofs io.Reader) bool {
	ok := 1
	for _, h := range expected {
		want, err := hex.DecodeString(h)
		if err != nil {
			return false
		}
		got := make([]byte, len(want))
		if _, err := io.ReadFull(proofs, got); err != nil {
			return false
		}
		// keep going on mismatch so timing does not reveal which proof failed
		ok &= subtle.ConstantTimeCompare(got, want)
	}
	return ok == 1
}
