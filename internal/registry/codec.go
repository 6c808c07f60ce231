/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package registry

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/kentakayama/zeus-over-http/internal/domain/model"
)

// Codec turns a whole registry into bytes and back.
type Codec interface {
	Encode(model.Registry) ([]byte, error)
	Decode([]byte) (model.Registry, error)
}

// CodecFor picks the codec from the registry file extension.
func CodecFor(path string) Codec {
	if strings.EqualFold(filepath.Ext(path), ".cbor") {
		return cborCodec{}
	}
	return jsonCodec{}
}

// jsonCodec keeps the layout of existing update.json files.
type jsonCodec struct{}

func (jsonCodec) Encode(r model.Registry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (jsonCodec) Decode(data []byte) (model.Registry, error) {
	var r model.Registry
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return r, nil
}

type cborCodec struct{}

var cborEncMode = func() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

func (cborCodec) Encode(r model.Registry) ([]byte, error) {
	return cborEncMode.Marshal(r)
}

func (cborCodec) Decode(data []byte) (model.Registry, error) {
	var r model.Registry
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return r, nil
}
