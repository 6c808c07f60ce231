/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import (
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Registry maps a device identity to its update state.
// It is loaded and persisted as a whole.
type Registry map[string]*DeviceRecord

// DeviceRecord is the update state of one device family.
type DeviceRecord struct {
	CurrentVersion Version                    `json:"currentVersion" cbor:"currentVersion"`
	SignUtilRef    string                     `json:"sign_util" cbor:"sign_util"`
	Payloads       map[Version]VersionPayload `json:"payload" cbor:"payload"`
}

// VersionPayload holds what is served to a device reporting a given version.
type VersionPayload struct {
	PublicKey         HexBytes `json:"publicKey" cbor:"publicKey"`
	PrivateKeyRef     string   `json:"privateKey" cbor:"privateKey"` // never sent to devices
	DeltaManifestPath string   `json:"manifest1" cbor:"manifest1"`
	FullManifestPath  string   `json:"manifest2" cbor:"manifest2"`

	// VerificationHashes and VerificationSpliceOffset are both set or both nil.
	// An empty but non-nil hash list is valid and must survive a save, so
	// only a nil list is omitted.
	VerificationHashes       []string `json:"verification,omitzero" cbor:"verification,omitzero"`
	VerificationSpliceOffset *int64   `json:"verificationIndex,omitempty" cbor:"verificationIndex,omitempty"`
}

// SignedChallenge is the signature over a challenge followed by the
// 8 random bytes mixed into it.
type SignedChallenge []byte

var (
	errHashesWithoutOffset = errors.New("verification hashes without splice offset")
	errOffsetWithoutHashes = errors.New("splice offset without verification hashes")
)

// Validate checks the invariants of a payload entry.
func (p *VersionPayload) Validate() error {
	if p.DeltaManifestPath == "" || p.FullManifestPath == "" {
		return errors.New("missing manifest path")
	}
	if len(p.PublicKey) == 0 {
		return errors.New("missing public key")
	}
	switch {
	case p.VerificationHashes != nil && p.VerificationSpliceOffset == nil:
		return errHashesWithoutOffset
	case p.VerificationHashes == nil && p.VerificationSpliceOffset != nil:
		return errOffsetWithoutHashes
	}
	if p.VerificationSpliceOffset != nil && *p.VerificationSpliceOffset < 0 {
		return fmt.Errorf("negative splice offset %d", *p.VerificationSpliceOffset)
	}
	for i, h := range p.VerificationHashes {
		if _, err := hex.DecodeString(h); err != nil {
			return fmt.Errorf("verification hash #%d: %w", i, err)
		}
	}
	return nil
}

// Payload returns the payload registered for v, if any.
func (d *DeviceRecord) Payload(v Version) (VersionPayload, bool) {
	p, ok := d.Payloads[v]
	return p, ok
}

// Versions lists the versions with a payload, in ascending order.
func (d *DeviceRecord) Versions() []Version {
	return slices.Sorted(maps.Keys(d.Payloads))
}

// Clone returns a deep copy, so a merge can be prepared without touching
// the registry other readers hold.
func (r Registry) Clone() Registry {
	out := make(Registry, len(r))
	for name, rec := range r {
		if rec == nil {
			continue
		}
		c := &DeviceRecord{
			CurrentVersion: rec.CurrentVersion,
			SignUtilRef:    rec.SignUtilRef,
			Payloads:       make(map[Version]VersionPayload, len(rec.Payloads)),
		}
		for v, p := range rec.Payloads {
			p.PublicKey = slices.Clone(p.PublicKey)
			p.VerificationHashes = slices.Clone(p.VerificationHashes)
			if p.VerificationSpliceOffset != nil {
				off := *p.VerificationSpliceOffset
				p.VerificationSpliceOffset = &off
			}
			c.Payloads[v] = p
		}
		out[name] = c
	}
	return out
}
