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

// ChallengeRepository defines the interface for issued challenge persistence.
type ChallengeRepository interface {
	Create(ctx context.Context, c *model.IssuedChallenge) (int64, error)
	FindByRequestID(ctx context.Context, requestID string) (*model.IssuedChallenge, error)
	CountByDevice(ctx context.Context, device string) (int64, error)
}

// DeliveryRepository defines the interface for delivery persistence.
type DeliveryRepository interface {
	Create(ctx context.Context, d *model.Delivery) (int64, error)
	ListByDevice(ctx context.Context, device string, limit int) ([]*model.Delivery, error)
	CountByOutcome(ctx context.Context, device string) (map[model.DeliveryOutcome]int64, error)
}
