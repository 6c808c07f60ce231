/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package update

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/kentakayama/zeus-over-http/internal/domain"
	"github.com/kentakayama/zeus-over-http/internal/domain/model"
	"github.com/kentakayama/zeus-over-http/internal/signer"
)

const (
	NonceSize  = 64
	RandomSize = 8
)

// DecodeNonce decodes the base64 nonce a device sends. Anything past the
// first 64 bytes is ignored; fewer than 64 bytes is malformed.
func DecodeNonce(b64 string) ([]byte, error) {
	// devices may wrap long base64 lines
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, b64)
	raw, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedChallenge, err)
	}
	if len(raw) < NonceSize {
		return nil, fmt.Errorf("%w: nonce is %d bytes, need %d", domain.ErrMalformedChallenge, len(raw), NonceSize)
	}
	return raw[:NonceSize], nil
}

// BuildChallenge lays out the bytes the server signs:
//
//	nonce[64] | reported (u32 LE) | current (u32 LE) | publicKey | random[8]
func BuildChallenge(nonce []byte, reported, current model.Version, publicKey, random []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce must be %d bytes", domain.ErrMalformedChallenge, NonceSize)
	}
	if len(random) != RandomSize {
		return nil, fmt.Errorf("random part must be %d bytes", RandomSize)
	}
	out := make([]byte, 0, NonceSize+8+len(publicKey)+RandomSize)
	out = append(out, nonce...)
	out = reported.AppendLE(out)
	out = current.AppendLE(out)
	out = append(out, publicKey...)
	out = append(out, random...)
	return out, nil
}

// ChallengeBuilder builds and signs challenges for due devices.
type ChallengeBuilder struct {
	Signers signer.Resolver
	// Entropy defaults to crypto/rand.Reader.
	Entropy io.Reader
}

// SignedResult carries the signed challenge plus what was mixed into it.
type SignedResult struct {
	Signed model.SignedChallenge
	Random []byte
}

// BuildAndSign builds the challenge for record at reported and has it
// signed with the private key of that version.
func (b *ChallengeBuilder) BuildAndSign(ctx context.Context, record *model.DeviceRecord, reported model.Version, nonceB64 string) (*SignedResult, error) {
	nonce, err := DecodeNonce(nonceB64)
	if err != nil {
		return nil, err
	}
	payload, ok := record.Payload(reported)
	if !ok {
		return nil, fmt.Errorf("%w: no payload for version %s", domain.ErrArtifactUnavailable, reported)
	}

	random := make([]byte, RandomSize)
	entropy := b.Entropy
	if entropy == nil {
		entropy = rand.Reader
	}
	if _, err := io.ReadFull(entropy, random); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEntropyUnavailable, err)
	}

	challenge, err := BuildChallenge(nonce, reported, record.CurrentVersion, payload.PublicKey, random)
	if err != nil {
		return nil, err
	}

	s, err := b.Signers.Resolve(record.SignUtilRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSigningFailure, err)
	}
	sig, err := s.Sign(ctx, challenge, payload.PrivateKeyRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSigningFailure, err)
	}

	signed := make(model.SignedChallenge, 0, len(sig)+RandomSize)
	signed = append(signed, sig...)
	signed = append(signed, random...)
	return &SignedResult{Signed: signed, Random: random}, nil
}
