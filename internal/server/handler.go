/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package server

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kentakayama/zeus-over-http/internal/domain"
	"github.com/kentakayama/zeus-over-http/internal/domain/model"
	"github.com/kentakayama/zeus-over-http/internal/domain/service"
	"github.com/kentakayama/zeus-over-http/internal/importer"
	"github.com/kentakayama/zeus-over-http/internal/signer"
	"github.com/kentakayama/zeus-over-http/internal/update"
	"github.com/kentakayama/zeus-over-http/internal/util"
)

const (
	challengeHeader     = "X-Update-Challenge"
	maxAdminBodyBytes   = 1 << 16
	octetStream         = "application/octet-stream"
	defaultSummaryLimit = 20
)

type handler struct {
	svc           *update.Service
	audit         *service.AuditLog // nil without an audit database
	maxProofBytes int64
	metrics       *Metrics
	logger        *slog.Logger

	// admin API, set only when it is enabled
	importer   *importer.Importer
	importRoot string
	outputRoot string
	signUtils  util.Set[string]
	token      string
}

type responseSpec struct {
	status      int
	body        []byte
	contentType string
}

// deviceRoutes is what the device listener serves.
func (h *handler) deviceRoutes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /manifest", h.manifest)
	mux.HandleFunc("POST /payload", h.payload)
	mux.Handle("GET /metrics", h.metrics.Handler())
	mux.HandleFunc("GET /healthz", h.healthz)
	return mux
}

// adminRoutes is what the admin listener serves.
func (h *handler) adminRoutes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/manage/import", h.importDevice)
	mux.HandleFunc("GET /api/manage/devices/{device}", h.deviceSummary)
	mux.HandleFunc("GET /healthz", h.healthz)
	return mux
}

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	h.writeResponse(w, responseSpec{status: http.StatusOK, body: []byte("ok"), contentType: "text/plain"})
}

// requireToken refuses admin requests without the configured bearer token.
func (h *handler) requireToken(next http.Handler) http.Handler {
	if h.token == "" {
		return next
	}
	want := []byte("Bearer " + h.token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			h.logger.Warn("admin request without valid token", "id", requestID(r.Context()), "remote", r.RemoteAddr, "path", r.URL.Path)
			w.Header().Set("WWW-Authenticate", "Bearer")
			h.writeJSON(w, http.StatusUnauthorized, importResponse{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// parseUserAgent splits "<device>/<version>".
func parseUserAgent(ua string) (string, model.Version, error) {
	device, version, ok := strings.Cut(ua, "/")
	if !ok || device == "" {
		return "", 0, fmt.Errorf("malformed User-Agent %q", ua)
	}
	v, err := model.ParseVersion(version)
	if err != nil {
		return "", 0, err
	}
	return device, v, nil
}

func (h *handler) deviceRequest(r *http.Request) (update.Request, error) {
	req := update.Request{ID: requestID(r.Context())}
	device, v, err := parseUserAgent(r.Header.Get("User-Agent"))
	if err != nil {
		return req, err
	}
	req.Device = device
	req.Version = v
	return req, nil
}

func (h *handler) manifest(w http.ResponseWriter, r *http.Request) {
	req, err := h.deviceRequest(r)
	if err != nil {
		h.reject(w, r, req, model.DeliveryManifest, err)
		return
	}

	d, err := h.svc.PrepareManifest(r.Context(), req, r.Header.Get(challengeHeader))
	if err != nil {
		h.reject(w, r, req, model.DeliveryManifest, err)
		return
	}
	h.stream(w, r, req, model.DeliveryManifest, d)
}

func (h *handler) payload(w http.ResponseWriter, r *http.Request) {
	req, err := h.deviceRequest(r)
	if err != nil {
		h.reject(w, r, req, model.DeliveryPayload, err)
		return
	}

	// proofs are read in full before the registry is consulted
	proofs, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxProofBytes))
	if err != nil {
		h.reject(w, r, req, model.DeliveryPayload, fmt.Errorf("read proofs: %w", err))
		return
	}

	d, err := h.svc.PreparePayload(r.Context(), req, bytes.NewReader(proofs))
	if err != nil {
		h.reject(w, r, req, model.DeliveryPayload, err)
		return
	}
	h.stream(w, r, req, model.DeliveryPayload, d)
}

type delivery interface {
	io.WriterTo
	Size() int64
}

func (h *handler) stream(w http.ResponseWriter, r *http.Request, req update.Request, kind model.DeliveryKind, d delivery) {
	h.setHeaders(w)
	w.Header().Set("Content-Type", octetStream)
	w.Header().Set("Content-Length", strconv.FormatInt(d.Size(), 10))
	w.WriteHeader(http.StatusOK)

	n, err := d.WriteTo(w)
	if err != nil {
		// headers are gone; the device sees a truncated body
		h.logger.Warn("delivery interrupted", "id", req.ID, "device", req.Device, "kind", kind, "written", n, "err", err)
	}
	h.metrics.observeRequest(kind, outcomeOf(err), n)
	// the audit row is written even if the device went away
	h.svc.Finish(context.WithoutCancel(r.Context()), req, kind, n, err)
}

// reject answers 204 when there is nothing to send and a bare 403 for
// everything else. The cause only goes to the log.
func (h *handler) reject(w http.ResponseWriter, r *http.Request, req update.Request, kind model.DeliveryKind, err error) {
	status := http.StatusForbidden
	if errors.Is(err, domain.ErrNoUpdate) {
		status = http.StatusNoContent
	} else {
		h.logger.Info("request rejected", "id", req.ID, "device", req.Device, "version", req.Version, "kind", kind, "err", err)
	}
	h.writeResponse(w, responseSpec{status: status})
	h.metrics.observeRequest(kind, outcomeOf(err), 0)
	h.svc.Finish(context.WithoutCancel(r.Context()), req, kind, 0, err)
}

func outcomeOf(err error) model.DeliveryOutcome {
	switch {
	case err == nil:
		return model.OutcomeServed
	case errors.Is(err, domain.ErrNoUpdate):
		return model.OutcomeNoUpdate
	}
	return model.OutcomeRejected
}

type importRequest struct {
	Device string `json:"device"`
	// ImportPath is relative to the configured import root.
	ImportPath string `json:"importPath"`
	SignUtil   string `json:"signUtil"`
	// Overwrite answers yes to creating the registry and to deleting an
	// existing archive directory.
	Overwrite bool `json:"overwrite"`
}

type importResponse struct {
	Result *importer.Result `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

func (h *handler) importDevice(w http.ResponseWriter, r *http.Request) {
	var in importRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAdminBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		h.writeJSON(w, http.StatusBadRequest, importResponse{Error: "invalid request body"})
		return
	}

	if !filepath.IsLocal(in.ImportPath) {
		h.writeJSON(w, http.StatusBadRequest, importResponse{Error: "importPath must be a directory below the import root"})
		return
	}
	if in.SignUtil != "" && in.SignUtil != signer.BuiltinCOSE && !h.signUtils.Has(in.SignUtil) {
		h.logger.Warn("import rejected", "device", in.Device, "sign_util", in.SignUtil, "err", "signing utility not allowed")
		h.writeJSON(w, http.StatusBadRequest, importResponse{Error: "signing utility not allowed"})
		return
	}
	src := filepath.Join(h.importRoot, in.ImportPath)

	spec, err := importer.ReadSpec(src)
	if err != nil {
		h.logger.Warn("import rejected", "device", in.Device, "err", err)
		h.writeJSON(w, http.StatusBadRequest, importResponse{Error: err.Error()})
		return
	}

	im := *h.importer
	im.Confirm = func(prompt string) bool {
		h.logger.Info("import confirmation", "device", in.Device, "prompt", prompt, "answer", in.Overwrite)
		return in.Overwrite
	}
	res, err := im.Import(r.Context(), importer.Request{
		Device:     in.Device,
		SourceDir:  src,
		Spec:       spec,
		OutputRoot: h.outputRoot,
		SignUtil:   in.SignUtil,
	})
	if res != nil {
		h.metrics.imports.WithLabelValues(string(res.State)).Inc()
	}
	if err != nil {
		h.writeJSON(w, importStatus(err), importResponse{Result: res, Error: err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, importResponse{Result: res})
}

func importStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidImportFormat), errors.Is(err, domain.ErrSignUtilRequired):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrImportAborted):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *handler) deviceSummary(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		h.writeJSON(w, http.StatusNotFound, importResponse{Error: "audit log disabled"})
		return
	}
	limit := defaultSummaryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			h.writeJSON(w, http.StatusBadRequest, importResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}
	sum, err := h.audit.Summary(r.Context(), r.PathValue("device"), limit)
	if err != nil {
		h.logger.Error("audit summary failed", "err", err)
		h.writeJSON(w, http.StatusInternalServerError, importResponse{Error: "audit query failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, sum)
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("failed encoding response", "err", err)
		h.writeResponse(w, responseSpec{status: http.StatusInternalServerError})
		return
	}
	h.writeResponse(w, responseSpec{status: status, body: body, contentType: "application/json"})
}

// setHeaders applies what every response carries: the server name and no
// Date header, as devices expect.
func (h *handler) setHeaders(w http.ResponseWriter) {
	w.Header().Set("Server", "Odin")
	w.Header()["Date"] = nil
	for k, v := range defaultHeaders {
		w.Header().Set(k, v)
	}
}

func (h *handler) writeResponse(w http.ResponseWriter, spec responseSpec) {
	h.setHeaders(w)

	if len(spec.body) > 0 {
		w.Header().Set("Content-Type", spec.contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(spec.body)))
		w.WriteHeader(spec.status)
		if _, err := w.Write(spec.body); err != nil {
			h.logger.Warn("failed writing response body", "err", err)
		}
		return
	}

	w.WriteHeader(spec.status)
}

var defaultHeaders = map[string]string{
	"Cache-Control":           "no-store",
	"X-Content-Type-Options":  "nosniff",
	"Content-Security-Policy": "default-src 'none'",
	"Referrer-Policy":         "no-referrer",
}
