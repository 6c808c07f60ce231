/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package domain

import "errors"

// Delivery path. All of these end in a generic rejection on the wire.
var (
	ErrMalformedChallenge  = errors.New("malformed challenge")
	ErrEntropyUnavailable  = errors.New("entropy unavailable")
	ErrSigningFailure      = errors.New("signing failure")
	ErrArtifactUnavailable = errors.New("artifact unavailable")
	ErrProofMismatch       = errors.New("proof mismatch")
	ErrUnknownDevice       = errors.New("unknown device")
	ErrNoUpdate            = errors.New("no update due")
)

// ErrNotFound is returned by audit lookups with no matching row.
var ErrNotFound = errors.New("not found")

// Registry persistence.
var (
	ErrRegistryUnreadable  = errors.New("registry unreadable")
	ErrRegistryWriteFailed = errors.New("registry write failed")
)

// Import path. Reported to the operator with the specific kind.
var (
	ErrInvalidImportFormat = errors.New("invalid import format")
	ErrKeyWriteFailed      = errors.New("private key write failed")
	ErrCopyFailed          = errors.New("manifest copy failed")
	ErrSignUtilRequired    = errors.New("signing utility required for a new device")
	ErrImportAborted       = errors.New("import aborted by operator")
)
