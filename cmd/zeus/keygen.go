/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"io"

	"github.com/kentakayama/zeus-over-http/internal/signer"
)

// keygenOutput is a payload fragment ready to paste into an import document.
type keygenOutput struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
	KID        string `json:"kid"`
}

func runKeygen(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	curveName := fs.String("curve", "P-256", "curve: P-256, P-384 or P-521")
	if err := fs.Parse(args); err != nil {
		return err
	}
	curve, err := signer.ParseCurve(*curveName)
	if err != nil {
		return err
	}
	kp, err := signer.GenerateKeyPair(curve)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "    ")
	return enc.Encode(keygenOutput{
		PublicKey:  hex.EncodeToString(kp.PublicKey),
		PrivateKey: string(kp.PrivatePEM),
		KID:        hex.EncodeToString(kp.KID),
	})
}
