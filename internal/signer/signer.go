/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package signer provides the signing capability used to answer device
// challenges. A signer receives the challenge bytes and a reference to the
// private key of the requested version, and returns a raw signature.
package signer

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kentakayama/zeus-over-http/internal/domain"
)

// BuiltinCOSE is the sign_util value selecting the in-process signer.
const BuiltinCOSE = "builtin:cose"

const defaultTimeout = 10 * time.Second

// Signer signs a challenge with the key at keyRef.
type Signer interface {
	Sign(ctx context.Context, message []byte, keyRef string) ([]byte, error)
}

// SignerFunc adapts a function to the Signer interface.
type SignerFunc func(ctx context.Context, message []byte, keyRef string) ([]byte, error)

func (f SignerFunc) Sign(ctx context.Context, message []byte, keyRef string) ([]byte, error) {
	return f(ctx, message, keyRef)
}

// Resolver returns the Signer for a device's sign_util reference.
type Resolver interface {
	Resolve(signUtilRef string) (Signer, error)
}

// DefaultResolver maps BuiltinCOSE to an in-process COSE signer, http and
// https URLs to a signing service and any other reference to the external
// signing utility at that path.
type DefaultResolver struct {
	// Timeout bounds each external signing call. Zero means 10s.
	Timeout time.Duration
	// HTTPClient is used for signing services. Nil means http.DefaultClient.
	HTTPClient *http.Client
}

func (r DefaultResolver) Resolve(signUtilRef string) (Signer, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	switch {
	case signUtilRef == BuiltinCOSE:
		return COSE{}, nil
	case strings.HasPrefix(signUtilRef, "http://"), strings.HasPrefix(signUtilRef, "https://"):
		u, err := url.Parse(signUtilRef)
		if err != nil {
			return nil, fmt.Errorf("%w: parse signing service URL: %v", domain.ErrSigningFailure, err)
		}
		return &Remote{URL: u, Client: r.HTTPClient, Timeout: timeout}, nil
	case signUtilRef == "":
		return nil, fmt.Errorf("%w: no signing utility configured", domain.ErrSigningFailure)
	}
	return &Subprocess{Path: signUtilRef, Timeout: timeout}, nil
}

// Static resolves every reference to the same signer.
type Static struct {
	Signer Signer
}

func (s Static) Resolve(string) (Signer, error) {
	return s.Signer, nil
}
