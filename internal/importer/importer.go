/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package importer installs the update set of one device into the registry.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kentakayama/zeus-over-http/internal/domain"
	"github.com/kentakayama/zeus-over-http/internal/domain/model"
	"github.com/kentakayama/zeus-over-http/internal/registry"
	"github.com/kentakayama/zeus-over-http/internal/util"
)

const archiveSuffix = ".old"

// State is where an import ended.
type State string

const (
	// StateUnchanged means a precondition failed before anything was touched.
	StateUnchanged  State = "unchanged"
	StateImported   State = "imported"
	StateRolledBack State = "rolled-back"
)

// Request describes one import.
type Request struct {
	Device     string
	SourceDir  string // directory the Spec paths are relative to
	Spec       *Spec
	OutputRoot string // directory holding one subdirectory per device
	SignUtil   string // required when the device is new
}

// Result reports the outcome of Import. It is returned on failure too.
type Result struct {
	Device         string          `json:"device"`
	State          State           `json:"state"`
	CurrentVersion model.Version   `json:"currentVersion"`
	Versions       []model.Version `json:"versions,omitempty"`
}

// Importer copies update material into the output root and records it in
// the registry. Any failure after the device directory has been set aside
// puts the directory and the registry back as they were.
type Importer struct {
	Store *registry.Store
	// Confirm asks the operator before something destructive or new
	// happens. A nil Confirm refuses.
	Confirm func(prompt string) bool
	Logger  *slog.Logger
}

func (im *Importer) logger() *slog.Logger {
	if im.Logger == nil {
		return slog.Default()
	}
	return im.Logger
}

func (im *Importer) confirm(prompt string) bool {
	return im.Confirm != nil && im.Confirm(prompt)
}

// workspace tracks what Import changed on disk so it can be undone.
type workspace struct {
	dir      string
	archive  string
	archived bool
	created  bool
}

func (w *workspace) rollback() error {
	var errs []error
	if w.created {
		if err := os.RemoveAll(w.dir); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", w.dir, err))
		}
	}
	if w.archived {
		if err := os.Rename(w.archive, w.dir); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", w.archive, err))
		}
	}
	return errors.Join(errs...)
}

// Import installs req.Spec for req.Device. The registry is locked for the
// whole operation, in this process and through the lock file, so
// concurrent deliveries see either the old or the new state of the device.
func (im *Importer) Import(ctx context.Context, req Request) (*Result, error) {
	log := im.logger().With("device", req.Device)
	res := &Result{Device: req.Device, State: StateUnchanged}

	if req.Device == "" || req.OutputRoot == "" {
		return res, fmt.Errorf("%w: device name and output root are required", domain.ErrInvalidImportFormat)
	}
	if filepath.Base(req.Device) != req.Device || req.Device == "." || req.Device == ".." {
		return res, fmt.Errorf("%w: device name %q is not a plain name", domain.ErrInvalidImportFormat, req.Device)
	}
	payloads, err := req.Spec.check()
	if err != nil {
		return res, err
	}
	current := *req.Spec.CurrentVersion
	res.CurrentVersion = current

	if err := im.Store.Lock(ctx); err != nil {
		return res, err
	}
	defer func() {
		if err := im.Store.Unlock(); err != nil {
			log.Warn("failed to release registry lock", "err", err)
		}
	}()

	reg, err := im.Store.Load(ctx)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if !im.confirm(fmt.Sprintf("Registry %s does not exist. Create?", im.Store.Path())) {
			return res, fmt.Errorf("%w: registry not created", domain.ErrImportAborted)
		}
		if err := os.MkdirAll(filepath.Dir(im.Store.Path()), 0o755); err != nil {
			return res, fmt.Errorf("%w: %w", domain.ErrRegistryWriteFailed, err)
		}
		reg = model.Registry{}
	case err != nil:
		return res, err
	}

	existing, known := reg[req.Device]
	if !known && req.SignUtil == "" {
		return res, domain.ErrSignUtilRequired
	}

	root, err := filepath.Abs(req.OutputRoot)
	if err != nil {
		return res, fmt.Errorf("%w: %v", domain.ErrCopyFailed, err)
	}
	ws := &workspace{dir: filepath.Join(root, req.Device)}
	ws.archive = ws.dir + archiveSuffix

	if _, err := os.Lstat(ws.archive); err == nil {
		if !im.confirm(fmt.Sprintf("Existing archive at %s must be deleted to proceed. Confirm?", ws.archive)) {
			return res, fmt.Errorf("%w: archive %s kept", domain.ErrImportAborted, ws.archive)
		}
		if err := os.RemoveAll(ws.archive); err != nil {
			return res, fmt.Errorf("%w: remove archive: %v", domain.ErrCopyFailed, err)
		}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return res, fmt.Errorf("%w: %v", domain.ErrCopyFailed, err)
	}
	if _, err := os.Lstat(ws.dir); err == nil {
		log.Info("archiving device directory", "from", ws.dir, "to", ws.archive)
		if err := os.Rename(ws.dir, ws.archive); err != nil {
			return res, fmt.Errorf("%w: archive device directory: %v", domain.ErrCopyFailed, err)
		}
		ws.archived = true
	}

	fail := func(err error) (*Result, error) {
		res.State = StateRolledBack
		res.Versions = nil
		if rbErr := ws.rollback(); rbErr != nil {
			log.Error("rollback incomplete", "err", rbErr)
			return res, errors.Join(err, rbErr)
		}
		log.Warn("import rolled back", "err", err)
		return res, err
	}

	if err := os.Mkdir(ws.dir, 0o755); err != nil {
		return fail(fmt.Errorf("%w: create device directory: %v", domain.ErrCopyFailed, err))
	}
	ws.created = true

	versions := util.NewSet[model.Version]()
	for v := range payloads {
		versions.Add(v)
	}
	imported := make(map[model.Version]model.VersionPayload, len(payloads))
	for _, v := range versions.Sorted() {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		p, err := installVersion(ws.dir, req.SourceDir, v, current, payloads[v])
		if err != nil {
			return fail(err)
		}
		imported[v] = p
		res.Versions = append(res.Versions, v)
		log.Debug("installed version", "version", v)
	}

	next := reg.Clone()
	entry := &model.DeviceRecord{SignUtilRef: req.SignUtil}
	if known {
		entry.SignUtilRef = existing.SignUtilRef
		if req.SignUtil != "" && req.SignUtil != existing.SignUtilRef {
			log.Info("keeping registered signing utility", "registered", existing.SignUtilRef, "ignored", req.SignUtil)
		}
	}
	entry.CurrentVersion = current
	entry.Payloads = imported
	next[req.Device] = entry

	backup, err := im.Store.Backup()
	if err != nil {
		return fail(fmt.Errorf("%w: %v", domain.ErrRegistryWriteFailed, err))
	}
	if err := im.Store.Save(ctx, next); err != nil {
		if rErr := backup.Restore(); rErr != nil {
			err = errors.Join(err, rErr)
		}
		return fail(err)
	}
	if err := backup.Discard(); err != nil {
		log.Warn("failed to remove registry backup", "err", err)
	}

	res.State = StateImported
	log.Info("imported update set", "current_version", current, "versions", len(res.Versions))
	return res, nil
}

// installVersion copies the artifacts of version v into dir and returns
// the registry entry pointing at the copies.
func installVersion(dir, src string, v, current model.Version, sp *SpecPayload) (model.VersionPayload, error) {
	if v >= current {
		return model.VersionPayload{}, fmt.Errorf("%w: version %s is not below the active version %s", domain.ErrInvalidImportFormat, v, current)
	}
	if sp.Validation != nil && sp.ValidationIndex == nil {
		return model.VersionPayload{}, fmt.Errorf("%w: version %s has validation without validationIndex", domain.ErrInvalidImportFormat, v)
	}
	if sp.Manifest1 == "" || sp.Manifest2 == "" {
		return model.VersionPayload{}, fmt.Errorf("%w: version %s is missing a manifest", domain.ErrInvalidImportFormat, v)
	}

	p := model.VersionPayload{
		PublicKey:         sp.PublicKey,
		PrivateKeyRef:     filepath.Join(dir, "priv_"+v.String()),
		DeltaManifestPath: filepath.Join(dir, "manifest1_"+v.String()),
		FullManifestPath:  filepath.Join(dir, "manifest2_"+v.String()),
	}
	if err := util.CopyFile(filepath.Join(src, sp.Manifest1), p.DeltaManifestPath, 0o644); err != nil {
		return p, fmt.Errorf("%w: version %s: %v", domain.ErrCopyFailed, v, err)
	}
	if err := util.CopyFile(filepath.Join(src, sp.Manifest2), p.FullManifestPath, 0o644); err != nil {
		return p, fmt.Errorf("%w: version %s: %v", domain.ErrCopyFailed, v, err)
	}
	if err := os.WriteFile(p.PrivateKeyRef, []byte(sp.PrivateKey), 0o600); err != nil {
		return p, fmt.Errorf("%w: version %s: %v", domain.ErrKeyWriteFailed, v, err)
	}

	if sp.Validation != nil {
		p.VerificationHashes = sp.Validation
		off := *sp.ValidationIndex
		p.VerificationSpliceOffset = &off
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("%w: version %s: %v", domain.ErrInvalidImportFormat, v, err)
	}
	return p, nil
}
