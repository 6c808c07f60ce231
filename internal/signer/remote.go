/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package signer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/kentakayama/zeus-over-http/internal/domain"
)

const (
	remoteContentType = "application/cbor"
	remoteUserAgent   = "zeus/signer-client"
	maxRemoteResponse = 1 << 16
)

// Remote asks a signing service over HTTP. The request and response
// bodies are CBOR maps:
//
//	request:  {"key": tstr, "msg": bstr}
//	response: {"sig": bstr}
type Remote struct {
	URL     *url.URL
	Client  *http.Client
	Timeout time.Duration
}

type remoteRequest struct {
	KeyRef  string `cbor:"key"`
	Message []byte `cbor:"msg"`
}

type remoteResponse struct {
	Signature []byte `cbor:"sig"`
}

// NewHTTPClient builds the client shared by Remote signers.
func NewHTTPClient(insecureTLS bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{Transport: transport}
}

func (r *Remote) Sign(ctx context.Context, message []byte, keyRef string) ([]byte, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := cbor.Marshal(remoteRequest{KeyRef: keyRef, Message: message})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", domain.ErrSigningFailure, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", domain.ErrSigningFailure, err)
	}
	req.Header.Set("Content-Type", remoteContentType)
	req.Header.Set("Accept", remoteContentType)
	req.Header.Set("User-Agent", remoteUserAgent)

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrSigningFailure, r.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteResponse))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrSigningFailure, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %s: %s", domain.ErrSigningFailure, resp.Status, truncate(string(bytes.TrimSpace(data)), 64))
	}

	var out remoteResponse
	if err := cbor.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrSigningFailure, err)
	}
	if len(out.Signature) == 0 {
		return nil, fmt.Errorf("%w: empty signature", domain.ErrSigningFailure)
	}
	return out.Signature, nil
}
