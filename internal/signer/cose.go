/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package signer

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/kentakayama/zeus-over-http/internal/domain"
	"github.com/veraison/go-cose"
)

// COSE signs in-process with the ECDSA key stored at keyRef (PEM, PKCS#8
// or SEC 1). The COSE algorithm follows the curve: P-256 → ES256,
// P-384 → ES384, P-521 → ES512. The result is the raw r||s signature.
type COSE struct {
	// Rand defaults to crypto/rand.Reader.
	Rand io.Reader
}

func (c COSE) Sign(ctx context.Context, message []byte, keyRef string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSigningFailure, err)
	}
	key, err := LoadPrivateKey(keyRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSigningFailure, err)
	}
	alg, err := AlgorithmFor(key.Public())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSigningFailure, err)
	}
	s, err := cose.NewSigner(alg, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSigningFailure, err)
	}
	r := c.Rand
	if r == nil {
		r = rand.Reader
	}
	sig, err := s.Sign(r, message)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSigningFailure, err)
	}
	return sig, nil
}

// Verify checks a signature produced by COSE against pub.
func Verify(pub crypto.PublicKey, message, sig []byte) error {
	alg, err := AlgorithmFor(pub)
	if err != nil {
		return err
	}
	v, err := cose.NewVerifier(alg, pub)
	if err != nil {
		return err
	}
	return v.Verify(message, sig)
}

// AlgorithmFor picks the COSE algorithm matching an ECDSA public key.
func AlgorithmFor(pub crypto.PublicKey) (cose.Algorithm, error) {
	ec, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return 0, fmt.Errorf("unsupported key type %T", pub)
	}
	switch ec.Curve {
	case elliptic.P256():
		return cose.AlgorithmES256, nil
	case elliptic.P384():
		return cose.AlgorithmES384, nil
	case elliptic.P521():
		return cose.AlgorithmES512, nil
	default:
		return 0, errors.New("unsupported curve")
	}
}

// LoadPrivateKey reads a PEM encoded ECDSA private key.
func LoadPrivateKey(path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	return ParsePrivateKey(data)
}

func ParsePrivateKey(data []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("private key is not PEM")
	}
	switch block.Type {
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		ec, ok := k.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("unsupported private key type %T", k)
		}
		return ec, nil
	default:
		return nil, fmt.Errorf("unexpected PEM block %q", block.Type)
	}
}
