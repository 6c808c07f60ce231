/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package importer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"github.com/kentakayama/zeus-over-http/internal/domain"
	"github.com/kentakayama/zeus-over-http/internal/domain/model"
)

// Spec is the update document a firmware build hands over for import.
// Paths are relative to the directory it was read from.
type Spec struct {
	CurrentVersion *model.Version          `json:"currentVersion" cbor:"currentVersion"`
	Payload        map[string]*SpecPayload `json:"payload" cbor:"payload"`
}

// SpecPayload describes one older version in a Spec.
type SpecPayload struct {
	Manifest1       string         `json:"manifest1" cbor:"manifest1"`
	Manifest2       string         `json:"manifest2" cbor:"manifest2"`
	PublicKey       model.HexBytes `json:"publicKey" cbor:"publicKey"`
	PrivateKey      string         `json:"privateKey" cbor:"privateKey"` // key material, not a path
	Validation      []string       `json:"validation,omitempty" cbor:"validation,omitempty"`
	ValidationIndex *int64         `json:"validationIndex,omitempty" cbor:"validationIndex,omitempty"`
}

var specFiles = []string{"update.json", "update.cbor"}

// ReadSpec reads update.json, or update.cbor when there is no JSON
// document, from dir.
func ReadSpec(dir string) (*Spec, error) {
	for _, name := range specFiles {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidImportFormat, err)
		}

		var spec Spec
		if filepath.Ext(name) == ".cbor" {
			err = cbor.Unmarshal(data, &spec)
		} else {
			err = json.Unmarshal(data, &spec)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidImportFormat, path, err)
		}
		return &spec, nil
	}
	return nil, fmt.Errorf("%w: no update document in %s", domain.ErrInvalidImportFormat, dir)
}

// check validates the document shape: both top-level fields present and
// every payload key a version number.
func (s *Spec) check() (map[model.Version]*SpecPayload, error) {
	if s == nil || s.CurrentVersion == nil || s.Payload == nil {
		return nil, fmt.Errorf("%w: currentVersion and payload are required", domain.ErrInvalidImportFormat)
	}
	out := make(map[model.Version]*SpecPayload, len(s.Payload))
	for key, p := range s.Payload {
		v, err := model.ParseVersion(key)
		if err != nil {
			return nil, fmt.Errorf("%w: payload key %q: %v", domain.ErrInvalidImportFormat, key, err)
		}
		if p == nil {
			return nil, fmt.Errorf("%w: payload %s is empty", domain.ErrInvalidImportFormat, key)
		}
		if _, dup := out[v]; dup {
			return nil, fmt.Errorf("%w: version %s listed twice", domain.ErrInvalidImportFormat, v)
		}
		out[v] = p
	}
	return out, nil
}
