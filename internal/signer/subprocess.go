/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package signer

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/kentakayama/zeus-over-http/internal/domain"
)

const signatureMarker = "Signature:"

// Subprocess runs the external signing utility:
//
//	<Path> crypto --signString <hex message> <keyRef>
//
// which prints "Signature: <hex signature>" on success.
type Subprocess struct {
	Path    string
	Timeout time.Duration
}

func (s *Subprocess) Sign(ctx context.Context, message []byte, keyRef string) ([]byte, error) {
	if s.Path == "" {
		return nil, fmt.Errorf("%w: no signing utility configured", domain.ErrSigningFailure)
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.Path, "crypto", "--signString", hex.EncodeToString(message), keyRef)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s timed out after %s", domain.ErrSigningFailure, s.Path, timeout)
		}
		return nil, fmt.Errorf("%w: %s: %v: %s", domain.ErrSigningFailure, s.Path, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return ParseSignatureOutput(stdout.String())
}

// ParseSignatureOutput extracts the signature from the utility's output.
// Exactly two tokens are expected: the marker and the hex signature.
func ParseSignatureOutput(out string) ([]byte, error) {
	fields := strings.Fields(out)
	if len(fields) != 2 || fields[0] != signatureMarker {
		return nil, fmt.Errorf("%w: unexpected signing output %q", domain.ErrSigningFailure, truncate(out, 64))
	}
	sig, err := hex.DecodeString(fields[1])
	if err != nil || len(sig) == 0 {
		return nil, fmt.Errorf("%w: signature is not hex", domain.ErrSigningFailure)
	}
	return sig, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
