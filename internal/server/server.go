/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package server

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/justinas/alice"
	"github.com/kentakayama/zeus-over-http/internal/config"
	"github.com/kentakayama/zeus-over-http/internal/domain/service"
	"github.com/kentakayama/zeus-over-http/internal/importer"
	"github.com/kentakayama/zeus-over-http/internal/infra/sqlite"
	"github.com/kentakayama/zeus-over-http/internal/registry"
	"github.com/kentakayama/zeus-over-http/internal/signer"
	"github.com/kentakayama/zeus-over-http/internal/update"
	"github.com/kentakayama/zeus-over-http/internal/util"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Server wires the device listener, the optional admin listener and the
// request handling stack.
type Server struct {
	cfg     config.ServerConfig
	handler http.Handler
	http    *http.Server
	// admin side, nil when the admin API is off
	adminHandler http.Handler
	admin        *http.Server
	db           *sql.DB
	logger       *slog.Logger
}

// New constructs a Server using the provided configuration.
func New(cfg config.ServerConfig) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store := registry.NewStore(cfg.RegistryPath)
	if _, err := store.Load(context.Background()); err != nil {
		// devices are refused until an import creates or fixes the registry
		logger.Warn("registry not usable yet", "path", cfg.RegistryPath, "err", err)
	}

	var (
		db       *sql.DB
		audit    *service.AuditLog
		recorder update.Recorder
	)
	if cfg.DBPath != "" {
		var err error
		db, err = sqlite.InitDB(context.Background(), cfg.DBPath)
		if err != nil {
			return nil, err
		}
		audit = &service.AuditLog{
			Challenges: sqlite.NewChallengeRepository(db),
			Deliveries: sqlite.NewDeliveryRepository(db),
		}
		recorder = audit
	}

	metrics := NewMetrics()
	signers := metrics.Resolver(signer.DefaultResolver{
		Timeout:    cfg.SignTimeout,
		HTTPClient: signer.NewHTTPClient(cfg.SignerInsecureTLS),
	})

	h := &handler{
		svc:           update.NewService(store, signers, recorder, logger),
		audit:         audit,
		maxProofBytes: cfg.MaxProofBytes,
		metrics:       metrics,
		logger:        logger,
	}
	common := alice.New(withRequestID, accessLog(logger), recoverer(logger))
	chain := common.Then(h.deviceRoutes())

	srv := &Server{
		cfg:     cfg,
		handler: chain,
		http: &http.Server{
			Addr:              cfg.Addr,
			Handler:           chain,
			ReadHeaderTimeout: 5 * time.Second,
		},
		db:     db,
		logger: logger,
	}

	if cfg.Admin.Enabled {
		h.importer = &importer.Importer{Store: store, Logger: logger}
		h.importRoot = cfg.Admin.ImportRoot
		h.outputRoot = cfg.Admin.OutputRoot
		if h.outputRoot == "" {
			h.outputRoot = filepath.Dir(cfg.RegistryPath)
		}
		h.signUtils = util.NewSet(cfg.Admin.SignUtils...)
		h.token = cfg.Admin.Token

		srv.adminHandler = common.Append(h.requireToken).Then(h.adminRoutes())
		srv.admin = &http.Server{
			Addr:              cfg.Admin.Addr,
			Handler:           srv.adminHandler,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return srv, nil
}

// Handler returns the device-facing middleware chain, for embedding or tests.
func (s *Server) Handler() http.Handler { return s.handler }

// AdminHandler returns the admin chain, or nil when the admin API is off.
func (s *Server) AdminHandler() http.Handler { return s.adminHandler }

func (s *Server) serve(hs *http.Server, ln net.Listener, name string) error {
	s.logger.Info("zeus server listening", "listener", name, "addr", ln.Addr().String(), "registry", s.cfg.RegistryPath)

	err := hs.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Run serves devices on ln and, when the admin API is on, operators on
// adminLn, until ctx is done; then it shuts down gracefully.
func (s *Server) Run(ctx context.Context, ln, adminLn net.Listener) error {
	if s.admin != nil && adminLn == nil {
		return errors.New("admin API enabled but no admin listener given")
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.serve(s.http, ln, "device")
	})
	if s.admin != nil {
		g.Go(func() error {
			return s.serve(s.admin, adminLn, "admin")
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(sctx)
	})
	return g.Wait()
}

// Shutdown gracefully takes down both listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("zeus server stopping")
	err := s.http.Shutdown(ctx)
	if s.admin != nil {
		err = errors.Join(err, s.admin.Shutdown(ctx))
	}
	return err
}

// Close releases the audit database.
func (s *Server) Close() error {
	return sqlite.CloseDB(s.db)
}
