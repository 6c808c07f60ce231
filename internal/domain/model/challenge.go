/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import "time"

// IssuedChallenge records a challenge the server signed for a device.
// Only the server-chosen random part is kept; the nonce belongs to the device.
type IssuedChallenge struct {
	ID              int64
	RequestID       string
	Device          string
	ReportedVersion Version
	CurrentVersion  Version
	Random          []byte
	CreatedAt       time.Time
}
