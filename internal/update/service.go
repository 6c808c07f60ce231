/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package update

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/kentakayama/zeus-over-http/internal/domain"
	"github.com/kentakayama/zeus-over-http/internal/domain/model"
	"github.com/kentakayama/zeus-over-http/internal/registry"
	"github.com/kentakayama/zeus-over-http/internal/signer"
)

// Recorder keeps an audit trail of issued challenges and deliveries.
type Recorder interface {
	RecordChallenge(ctx context.Context, c *model.IssuedChallenge) error
	RecordDelivery(ctx context.Context, d *model.Delivery) error
}

// Request identifies the device asking for an update.
type Request struct {
	ID      string
	Device  string
	Version model.Version
}

// Service answers manifest and payload requests. It keeps no per-device
// state, so requests from different devices run concurrently; the registry
// read lock is held only while the registry is consulted, the challenge is
// signed and the artifact is opened.
type Service struct {
	store      *registry.Store
	challenges *ChallengeBuilder
	recorder   Recorder
	logger     *slog.Logger
}

// NewService wires a Service. recorder may be nil.
func NewService(store *registry.Store, signers signer.Resolver, recorder Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      store,
		challenges: &ChallengeBuilder{Signers: signers},
		recorder:   recorder,
		logger:     logger,
	}
}

// SetEntropy replaces the random source used for challenges.
func (s *Service) SetEntropy(r io.Reader) {
	s.challenges.Entropy = r
}

// ManifestDelivery is a ready-to-stream interlaced reply. It holds the
// artifact open until WriteTo, which must be called exactly once.
type ManifestDelivery struct {
	file   *os.File
	signed model.SignedChallenge
	offset *int64
	size   int64
}

// Size is the number of bytes WriteTo will produce.
func (d *ManifestDelivery) Size() int64 { return d.size }

// WriteTo streams the manifest with the signed challenge spliced in and
// closes the artifact.
func (d *ManifestDelivery) WriteTo(w io.Writer) (int64, error) {
	defer d.file.Close()
	return StreamDelta(w, d.file, d.signed, d.offset)
}

// PayloadDelivery is a ready-to-stream full artifact.
type PayloadDelivery struct {
	file *os.File
	size int64
}

func (d *PayloadDelivery) Size() int64 { return d.size }

func (d *PayloadDelivery) WriteTo(w io.Writer) (int64, error) {
	defer d.file.Close()
	return copyChunked(w, d.file)
}

// PrepareManifest checks whether req is due, signs a challenge over the
// device nonce and opens the delta manifest. ErrNoUpdate means there is
// nothing to send.
func (s *Service) PrepareManifest(ctx context.Context, req Request, nonceB64 string) (*ManifestDelivery, error) {
	var (
		delivery *ManifestDelivery
		issued   *model.IssuedChallenge
	)
	err := s.store.View(ctx, func(reg model.Registry) error {
		rec, payload, err := lookup(reg, req)
		if err != nil {
			return err
		}

		f, size, err := openArtifact(payload.DeltaManifestPath)
		if err != nil {
			return err
		}
		if off := payload.VerificationSpliceOffset; off != nil && *off > size {
			f.Close()
			return fmt.Errorf("%w: splice offset %d past end of %s (%d bytes)", domain.ErrArtifactUnavailable, *off, payload.DeltaManifestPath, size)
		}

		res, err := s.challenges.BuildAndSign(ctx, rec, req.Version, nonceB64)
		if err != nil {
			f.Close()
			return err
		}

		delivery = &ManifestDelivery{
			file:   f,
			signed: res.Signed,
			offset: payload.VerificationSpliceOffset,
			size:   size + int64(len(res.Signed)),
		}
		issued = &model.IssuedChallenge{
			RequestID:       req.ID,
			Device:          req.Device,
			ReportedVersion: req.Version,
			CurrentVersion:  rec.CurrentVersion,
			Random:          res.Random,
			CreatedAt:       time.Now().UTC(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.recorder != nil {
		if err := s.recorder.RecordChallenge(ctx, issued); err != nil {
			s.logger.Warn("failed to record issued challenge", "request", req.ID, "device", req.Device, "err", err)
		}
	}
	return delivery, nil
}

// PreparePayload checks whether req is due, verifies the device proofs when
// the version asks for them and opens the full manifest. proofs should be
// an in-memory reader: it is consumed under the registry read lock.
func (s *Service) PreparePayload(ctx context.Context, req Request, proofs io.Reader) (*PayloadDelivery, error) {
	var delivery *PayloadDelivery
	err := s.store.View(ctx, func(reg model.Registry) error {
		_, payload, err := lookup(reg, req)
		if err != nil {
			return err
		}

		if payload.VerificationHashes != nil && !VerifyProofs(payload.VerificationHashes, proofs) {
			return domain.ErrProofMismatch
		}

		f, size, err := openArtifact(payload.FullManifestPath)
		if err != nil {
			return err
		}
		delivery = &PayloadDelivery{file: f, size: size}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return delivery, nil
}

// Finish records how a request ended.
func (s *Service) Finish(ctx context.Context, req Request, kind model.DeliveryKind, bytes int64, err error) {
	outcome := model.OutcomeServed
	reason := ""
	switch {
	case errors.Is(err, domain.ErrNoUpdate):
		outcome = model.OutcomeNoUpdate
	case err != nil:
		outcome = model.OutcomeRejected
		reason = err.Error()
	}

	if s.recorder == nil {
		return
	}
	d := &model.Delivery{
		RequestID:       req.ID,
		Device:          req.Device,
		Kind:            kind,
		ReportedVersion: req.Version,
		Outcome:         outcome,
		Reason:          reason,
		Bytes:           bytes,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.recorder.RecordDelivery(ctx, d); err != nil {
		s.logger.Warn("failed to record delivery", "request", req.ID, "device", req.Device, "err", err)
	}
}

func lookup(reg model.Registry, req Request) (*model.DeviceRecord, model.VersionPayload, error) {
	rec, ok := reg[req.Device]
	if !ok {
		return nil, model.VersionPayload{}, fmt.Errorf("%w: %q", domain.ErrUnknownDevice, req.Device)
	}
	if !IsUpdateDue(rec, req.Version) {
		return nil, model.VersionPayload{}, domain.ErrNoUpdate
	}
	payload, _ := rec.Payload(req.Version)
	return rec, payload, nil
}

func openArtifact(path string) (*os.File, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", domain.ErrArtifactUnavailable, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("%w: %v", domain.ErrArtifactUnavailable, err)
	}
	if !fi.Mode().IsRegular() {
		f.Close()
		return nil, 0, fmt.Errorf("%w: %s is not a regular file", domain.ErrArtifactUnavailable, path)
	}
	return f, fi.Size(), nil
}
