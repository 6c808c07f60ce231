/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import "time"

type DeliveryKind string

const (
	DeliveryManifest DeliveryKind = "manifest"
	DeliveryPayload  DeliveryKind = "payload"
)

type DeliveryOutcome string

const (
	OutcomeServed   DeliveryOutcome = "served"
	OutcomeNoUpdate DeliveryOutcome = "no-update"
	OutcomeRejected DeliveryOutcome = "rejected"
)

// Delivery is one answered manifest or payload request.
type Delivery struct {
	ID              int64
	RequestID       string
	Device          string
	Kind            DeliveryKind
	ReportedVersion Version
	Outcome         DeliveryOutcome
	Reason          string // internal only, never sent to the device
	Bytes           int64
	CreatedAt       time.Time
}
