/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package signer

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	cose "github.com/veraison/go-cose"
)

// KeyPair is a signing key for the built-in signer in the forms an import
// document needs.
type KeyPair struct {
	// PrivatePEM is the PKCS#8 private key, stored as the version's key file.
	PrivatePEM []byte
	// PublicKey is the CBOR encoded COSE_Key, sent to devices inside challenges.
	PublicKey []byte
	// KID is the SHA-256 COSE_Key thumbprint.
	KID []byte
}

// ParseCurve accepts P-256, P-384 and P-521.
func ParseCurve(name string) (elliptic.Curve, error) {
	switch name {
	case "P-256", "P256":
		return elliptic.P256(), nil
	case "P-384", "P384":
		return elliptic.P384(), nil
	case "P-521", "P521":
		return elliptic.P521(), nil
	}
	return nil, fmt.Errorf("unsupported curve %q", name)
}

// GenerateKeyPair creates a new ECDSA key on curve.
func GenerateKeyPair(curve elliptic.Curve) (*KeyPair, error) {
	key, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return nil, err
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	pub, kid, err := EncodePublicKey(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	return &KeyPair{
		PrivatePEM: pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}),
		PublicKey:  pub,
		KID:        kid,
	}, nil
}

// EncodePublicKey returns pub as a CBOR COSE_Key together with its thumbprint.
func EncodePublicKey(pub *ecdsa.PublicKey) ([]byte, []byte, error) {
	k, err := cose.NewKeyFromPublic(pub)
	if err != nil {
		return nil, nil, err
	}
	kid, err := thumbprint(pub)
	if err != nil {
		return nil, nil, err
	}
	data, err := cbor.Marshal(k)
	if err != nil {
		return nil, nil, err
	}
	return data, kid, nil
}

// thumbprint hashes the required EC2 parameters {kty, crv, x, y} in
// deterministic CBOR, as RFC 9679 describes.
func thumbprint(pub *ecdsa.PublicKey) ([]byte, error) {
	var crv int
	switch pub.Curve {
	case elliptic.P256():
		crv = 1
	case elliptic.P384():
		crv = 2
	case elliptic.P521():
		crv = 3
	default:
		return nil, errors.New("unsupported curve")
	}
	ecdhPub, err := pub.ECDH()
	if err != nil {
		return nil, err
	}
	point := ecdhPub.Bytes() // 0x04 || x || y
	size := (len(point) - 1) / 2

	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	data, err := em.Marshal(map[int]any{
		1:  2, // EC2
		-1: crv,
		-2: point[1 : 1+size],
		-3: point[1+size:],
	})
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	return sum[:], nil
}

// DecodePublicKey parses a CBOR COSE_Key back into an ECDSA public key.
func DecodePublicKey(data []byte) (*ecdsa.PublicKey, error) {
	var k cose.Key
	if err := cbor.Unmarshal(data, &k); err != nil {
		return nil, err
	}
	pub, err := k.PublicKey()
	if err != nil {
		return nil, err
	}
	ec, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("not an EC2 key")
	}
	return ec, nil
}
