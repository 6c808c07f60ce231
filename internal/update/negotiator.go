/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package update implements the delivery side of the update protocol:
// deciding whether a device is due, signing its challenge, streaming the
// interlaced manifest and checking proofs before the full payload.
package update

import "github.com/kentakayama/zeus-over-http/internal/domain/model"

// IsUpdateDue reports whether a device at reported should be served.
// Devices already at or past the current version get nothing, and so do
// versions without a payload to serve.
func IsUpdateDue(record *model.DeviceRecord, reported model.Version) bool {
	if record == nil || reported >= record.CurrentVersion {
		return false
	}
	_, ok := record.Payload(reported)
	return ok
}
