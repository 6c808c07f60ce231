/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
)

// Version is a firmware version number. Devices report it as decimal text
// and it travels as a 4-byte little-endian integer inside challenges.
type Version uint32

// ParseVersion parses the decimal representation used by devices and
// registry files.
func ParseVersion(s string) (Version, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", s, err)
	}
	return Version(v), nil
}

func (v Version) String() string {
	return strconv.FormatUint(uint64(v), 10)
}

// AppendLE appends the little-endian encoding of v to b.
func (v Version) AppendLE(b []byte) []byte {
	return binary.LittleEndian.AppendUint32(b, uint32(v))
}

// MarshalJSON writes the version as decimal text, matching existing registry files.
func (v Version) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

// UnmarshalJSON accepts both "5" and 5.
func (v *Version) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseVersion(s)
		if err != nil {
			return err
		}
		*v = parsed
		return nil
	}
	var n uint32
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid version %s: %w", data, err)
	}
	*v = Version(n)
	return nil
}
