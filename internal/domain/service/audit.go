/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package service

import (
	"context"

	"github.com/kentakayama/zeus-over-http/internal/domain/model"
)

// AuditLog records what the delivery path did and answers operator queries.
type AuditLog struct {
	Challenges ChallengeRepository
	Deliveries DeliveryRepository
}

func (a *AuditLog) RecordChallenge(ctx context.Context, c *model.IssuedChallenge) error {
	id, err := a.Challenges.Create(ctx, c)
	if err != nil {
		return err
	}
	c.ID = id
	return nil
}

func (a *AuditLog) RecordDelivery(ctx context.Context, d *model.Delivery) error {
	id, err := a.Deliveries.Create(ctx, d)
	if err != nil {
		return err
	}
	d.ID = id
	return nil
}

// DeviceSummary is the audit view of one device.
type DeviceSummary struct {
	Device     string                          `json:"device"`
	Challenges int64                           `json:"challenges"`
	Outcomes   map[model.DeliveryOutcome]int64 `json:"outcomes"`
	Recent     []*model.Delivery               `json:"recent"`
}

// Summary collects challenge and delivery counts plus the latest deliveries.
func (a *AuditLog) Summary(ctx context.Context, device string, limit int) (*DeviceSummary, error) {
	n, err := a.Challenges.CountByDevice(ctx, device)
	if err != nil {
		return nil, err
	}
	outcomes, err := a.Deliveries.CountByOutcome(ctx, device)
	if err != nil {
		return nil, err
	}
	recent, err := a.Deliveries.ListByDevice(ctx, device, limit)
	if err != nil {
		return nil, err
	}
	return &DeviceSummary{Device: device, Challenges: n, Outcomes: outcomes, Recent: recent}, nil
}
