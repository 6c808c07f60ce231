/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultAddr          = ":8080"
	DefaultRegistryPath  = "update/update.json"
	DefaultDBPath        = "zeus.db"
	DefaultSignTimeout   = 10 * time.Second
	DefaultMaxProofBytes = 64 << 10
	DefaultAdminAddr     = "127.0.0.1:8081"
	DefaultImportRoot    = "import"
)

// ServerConfig captures the tunables required to start the update server.
type ServerConfig struct {
	Addr         string `yaml:"addr"`
	RegistryPath string `yaml:"registry"`
	// DBPath is the sqlite audit database. Empty disables the audit log.
	DBPath string `yaml:"db"`

	SignTimeout       time.Duration `yaml:"signTimeout"`
	SignerInsecureTLS bool          `yaml:"signerInsecureTLS"`

	// MaxProofBytes bounds the body of a payload request.
	MaxProofBytes int64 `yaml:"maxProofBytes"`

	Admin AdminConfig `yaml:"admin"`

	Logger *slog.Logger `yaml:"-"`
}

// AdminConfig controls the operator endpoints under /api/manage. They are
// served on their own listener, never on the device one.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	// Token is the bearer token operators present. Without one the admin
	// listener must be a loopback address.
	Token string `yaml:"token"`
	// ImportRoot holds the update sets; an import names a directory below it.
	ImportRoot string `yaml:"importRoot"`
	// SignUtils lists the signing utilities an import may register for a
	// new device, in addition to the built-in signer.
	SignUtils []string `yaml:"signUtils"`
	// OutputRoot is where imported device directories are created.
	// Empty means the directory of the registry.
	OutputRoot string `yaml:"outputRoot"`
}

// ImportConfig is what the import command needs.
type ImportConfig struct {
	Device       string
	ImportPath   string
	OutputRoot   string
	RegistryPath string
	SignUtil     string
	AssumeYes    bool
	Logger       *slog.Logger
}

// Default returns a ServerConfig with every field set to its default.
func Default() ServerConfig {
	return ServerConfig{
		Addr:          DefaultAddr,
		RegistryPath:  DefaultRegistryPath,
		DBPath:        DefaultDBPath,
		SignTimeout:   DefaultSignTimeout,
		MaxProofBytes: DefaultMaxProofBytes,
		Admin: AdminConfig{
			Addr:       DefaultAdminAddr,
			ImportRoot: DefaultImportRoot,
		},
	}
}

// Load reads a YAML file over the defaults and applies the ZEUS_*
// environment overrides. An empty path or a missing file leaves the
// defaults in place.
func Load(path string) (ServerConfig, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *ServerConfig) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("ZEUS_ADDR"); ok {
		c.Addr = v
	}
	if v, ok := lookup("ZEUS_REGISTRY"); ok {
		c.RegistryPath = v
	}
	if v, ok := lookup("ZEUS_DB"); ok {
		c.DBPath = v
	}
	if v, ok := lookup("ZEUS_ADMIN"); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ZEUS_ADMIN: %w", err)
		}
		c.Admin.Enabled = enabled
	}
	if v, ok := lookup("ZEUS_ADMIN_TOKEN"); ok {
		c.Admin.Token = v
	}
	return nil
}

// Validate rejects settings the server cannot run with.
func (c *ServerConfig) Validate() error {
	if c.Addr == "" {
		return errors.New("addr is required")
	}
	if c.RegistryPath == "" {
		return errors.New("registry path is required")
	}
	if c.SignTimeout <= 0 {
		return fmt.Errorf("signTimeout must be positive, got %s", c.SignTimeout)
	}
	if c.MaxProofBytes <= 0 {
		return fmt.Errorf("maxProofBytes must be positive, got %d", c.MaxProofBytes)
	}
	if c.Admin.Enabled {
		return c.Admin.validate(c.Addr)
	}
	return nil
}

func (a *AdminConfig) validate(deviceAddr string) error {
	if a.Addr == "" {
		return errors.New("admin.addr is required")
	}
	if a.Addr == deviceAddr {
		return errors.New("admin.addr must differ from addr")
	}
	if a.ImportRoot == "" {
		return errors.New("admin.importRoot is required")
	}
	if a.Token == "" && !isLoopback(a.Addr) {
		return fmt.Errorf("admin.addr %s is not a loopback address; set admin.token", a.Addr)
	}
	return nil
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
