/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package signer

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/kentakayama/zeus-over-http/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func remoteFor(t *testing.T, h http.HandlerFunc) *Remote {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL + "/v1/sign")
	require.NoError(t, err)
	return &Remote{URL: u, Client: srv.Client(), Timeout: time.Second}
}

func TestRemote_Sign(t *testing.T) {
	r := remoteFor(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, http.MethodPost, req.Method)
		assert.Equal(t, "/v1/sign", req.URL.Path)
		assert.Equal(t, remoteContentType, req.Header.Get("Content-Type"))

		body, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		var in remoteRequest
		require.NoError(t, cbor.Unmarshal(body, &in))
		assert.Equal(t, "priv_3", in.KeyRef)

		out, err := cbor.Marshal(remoteResponse{Signature: append([]byte("sig:"), in.Message...)})
		require.NoError(t, err)
		w.Header().Set("Content-Type", remoteContentType)
		w.Write(out)
	})

	sig, err := r.Sign(context.Background(), []byte{0x01, 0x02}, "priv_3")
	require.NoError(t, err)
	assert.Equal(t, []byte("sig:\x01\x02"), sig)
}

func TestRemote_Failures(t *testing.T) {
	tests := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "key not found", http.StatusNotFound)
		},
		"garbage": func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("not cbor"))
		},
		"empty signature": func(w http.ResponseWriter, _ *http.Request) {
			out, _ := cbor.Marshal(remoteResponse{})
			w.Write(out)
		},
		"timeout": func(w http.ResponseWriter, req *http.Request) {
			select {
			case <-req.Context().Done():
			case <-time.After(2 * time.Second):
			}
		},
	}
	for name, h := range tests {
		t.Run(name, func(t *testing.T) {
			r := remoteFor(t, h)
			r.Timeout = 100 * time.Millisecond
			_, err := r.Sign(context.Background(), []byte{0x01}, "k")
			assert.True(t, errors.Is(err, domain.ErrSigningFailure), "got %v", err)
		})
	}
}
