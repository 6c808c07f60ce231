/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kentakayama/zeus-over-http/internal/domain/model"
)

type DeliveryRepository struct {
	db *sql.DB
}

// NewDeliveryRepository creates a new instance of DeliveryRepository.
func NewDeliveryRepository(db *sql.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

func (r *DeliveryRepository) Create(ctx context.Context, d *model.Delivery) (int64, error) {
	const q = `
		INSERT INTO deliveries (request_id, device, kind, reported_version, outcome, reason, bytes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := r.db.ExecContext(ctx, q,
		d.RequestID, d.Device, string(d.Kind), uint32(d.ReportedVersion),
		string(d.Outcome), d.Reason, d.Bytes, d.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert delivery: %w", err)
	}
	return res.LastInsertId()
}

// ListByDevice returns the latest deliveries for device, newest first.
func (r *DeliveryRepository) ListByDevice(ctx context.Context, device string, limit int) ([]*model.Delivery, error) {
	const q = `
		SELECT id, request_id, device, kind, reported_version, outcome, reason, bytes, created_at
		FROM deliveries
		WHERE device = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, q, device, limit)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	var out []*model.Delivery
	for rows.Next() {
		var (
			d             model.Delivery
			kind, outcome string
			reported      uint32
		)
		if err := rows.Scan(&d.ID, &d.RequestID, &d.Device, &kind, &reported, &outcome, &d.Reason, &d.Bytes, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		d.Kind = model.DeliveryKind(kind)
		d.Outcome = model.DeliveryOutcome(outcome)
		d.ReportedVersion = model.Version(reported)
		out = append(out, &d)
	}
	return out, rows.Err()
}

// CountByOutcome tallies the deliveries of device per outcome.
func (r *DeliveryRepository) CountByOutcome(ctx context.Context, device string) (map[model.DeliveryOutcome]int64, error) {
	const q = `
		SELECT outcome, COUNT(*)
		FROM deliveries
		WHERE device = ?
		GROUP BY outcome
	`
	rows, err := r.db.QueryContext(ctx, q, device)
	if err != nil {
		return nil, fmt.Errorf("count deliveries: %w", err)
	}
	defer rows.Close()

	out := map[model.DeliveryOutcome]int64{}
	for rows.Next() {
		var (
			outcome string
			n       int64
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		out[model.DeliveryOutcome(outcome)] = n
	}
	return out, rows.Err()
}
