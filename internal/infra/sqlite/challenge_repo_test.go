/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package sqlite

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kentakayama/zeus-over-http/internal/domain"
	"github.com/kentakayama/zeus-over-http/internal/domain/model"
)

func TestChallenge_CreateFindByRequestID(t *testing.T) {
	ctx := context.Background()
	db, err := InitDB(ctx, ":memory:")
	if err != nil {
		t.Fatalf("InitDB error: %v", err)
	}
	defer CloseDB(db)

	repo := NewChallengeRepository(db)
	now := time.Now().UTC().Truncate(time.Second)

	c := &model.IssuedChallenge{
		RequestID:       "req-1",
		Device:          "thermo",
		ReportedVersion: 3,
		CurrentVersion:  5,
		Random:          []byte{1, 2, 3, 4, 5, 6, 7, 8},
		CreatedAt:       now,
	}
	id, err := repo.Create(ctx, c)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected non-zero id")
	}

	got, err := repo.FindByRequestID(ctx, "req-1")
	if err != nil {
		t.Fatalf("FindByRequestID error: %v", err)
	}
	if got.ID != id || got.Device != "thermo" {
		t.Fatalf("unexpected challenge %+v", got)
	}
	if got.ReportedVersion != 3 || got.CurrentVersion != 5 {
		t.Fatalf("versions not preserved: %d %d", got.ReportedVersion, got.CurrentVersion)
	}
	if !bytes.Equal(got.Random, c.Random) {
		t.Fatalf("random mismatch: %x", got.Random)
	}
	if !got.CreatedAt.Equal(now) {
		t.Fatalf("created_at mismatch: %v != %v", got.CreatedAt, now)
	}
}

func TestChallenge_FindByRequestID_NotFound(t *testing.T) {
	ctx := context.Background()
	db, err := InitDB(ctx, ":memory:")
	if err != nil {
		t.Fatalf("InitDB error: %v", err)
	}
	defer CloseDB(db)

	_, err = NewChallengeRepository(db).FindByRequestID(ctx, "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestChallenge_CountByDevice(t *testing.T) {
	ctx := context.Background()
	db, err := InitDB(ctx, ":memory:")
	if err != nil {
		t.Fatalf("InitDB error: %v", err)
	}
	defer CloseDB(db)

	repo := NewChallengeRepository(db)
	for _, dev := range []string{"thermo", "thermo", "lock"} {
		if _, err := repo.Create(ctx, &model.IssuedChallenge{RequestID: "r", Device: dev, Random: []byte{0}, CreatedAt: time.Now()}); err != nil {
			t.Fatalf("Create error: %v", err)
		}
	}
	n, err := repo.CountByDevice(ctx, "thermo")
	if err != nil {
		t.Fatalf("CountByDevice error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2, got %d", n)
	}
}
