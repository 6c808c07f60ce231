/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kentakayama/zeus-over-http/internal/domain"
	"github.com/kentakayama/zeus-over-http/internal/domain/model"
)

// ChallengeRepository handles issued challenge persistence.
type ChallengeRepository struct {
	db *sql.DB
}

func NewChallengeRepository(db *sql.DB) *ChallengeRepository {
	return &ChallengeRepository{db: db}
}

// Create inserts an issued challenge and returns the inserted id.
func (r *ChallengeRepository) Create(ctx context.Context, c *model.IssuedChallenge) (int64, error) {
	const q = `
		INSERT INTO challenges (request_id, device, reported_version, current_version, random, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	res, err := r.db.ExecContext(ctx, q, c.RequestID, c.Device, uint32(c.ReportedVersion), uint32(c.CurrentVersion), c.Random, c.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert challenge: %w", err)
	}
	return res.LastInsertId()
}

// FindByRequestID returns the challenge issued while serving a request.
func (r *ChallengeRepository) FindByRequestID(ctx context.Context, requestID string) (*model.IssuedChallenge, error) {
	const q = `
		SELECT id, request_id, device, reported_version, current_version, random, created_at
		FROM challenges
		WHERE request_id = ?
		LIMIT 1
	`
	c, err := scanChallenge(r.db.QueryRowContext(ctx, q, requestID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan challenge: %w", err)
	}
	return c, nil
}

// CountByDevice returns how many challenges were signed for device.
func (r *ChallengeRepository) CountByDevice(ctx context.Context, device string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM challenges WHERE device = ?`, device).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count challenges: %w", err)
	}
	return n, nil
}

func scanChallenge(row *sql.Row) (*model.IssuedChallenge, error) {
	var (
		c                 model.IssuedChallenge
		reported, current uint32
	)
	if err := row.Scan(&c.ID, &c.RequestID, &c.Device, &reported, &current, &c.Random, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.ReportedVersion = model.Version(reported)
	c.CurrentVersion = model.Version(current)
	return &c, nil
}
