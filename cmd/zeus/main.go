/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Command zeus runs the firmware update server and imports device update
// sets into its registry.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/kentakayama/zeus-over-http/internal/config"
	"github.com/kentakayama/zeus-over-http/internal/importer"
	"github.com/kentakayama/zeus-over-http/internal/registry"
	"github.com/kentakayama/zeus-over-http/internal/server"
	"github.com/kentakayama/zeus-over-http/resources"
	"hermannm.dev/devlog"
)

var level slog.LevelVar

func init() {
	slog.SetDefault(slog.New(devlog.NewHandler(os.Stderr, &devlog.Options{
		Level: &level,
	})))
}

func usage(w io.Writer) {
	fmt.Fprintf(w, `Usage: zeus <command> [flags]

Commands:
  server          run the update server
  import          import a device update set into the registry
  keygen          create a key pair for the built-in signer
  example-config  print a documented configuration file

Run "zeus <command> -h" for the flags of a command.
`)
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "server":
		err = runServer(os.Args[2:])
	case "import":
		err = runImport(os.Args[2:], os.Stdin, os.Stdout)
	case "keygen":
		err = runKeygen(os.Args[2:], os.Stdout)
	case "example-config":
		_, err = os.Stdout.Write(resources.ExampleConfig)
	case "-h", "-help", "--help", "help":
		usage(os.Stdout)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		slog.Error("zeus failed", "err", err)
		os.Exit(1)
	}
}

func runServer(args []string) error {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML configuration file")
	addr := fs.String("addr", "", "listen address (overrides the configuration)")
	registryPath := fs.String("registry", "", "registry file (overrides the configuration)")
	debug := fs.Bool("debug", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *debug {
		level.Set(slog.LevelDebug)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *registryPath != "" {
		cfg.RegistryPath = *registryPath
	}
	cfg.Logger = slog.Default()

	srv, err := server.New(cfg)
	if err != nil {
		return err
	}
	defer srv.Close()

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	var adminLn net.Listener
	if cfg.Admin.Enabled {
		adminLn, err = net.Listen("tcp", cfg.Admin.Addr)
		if err != nil {
			ln.Close()
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx, ln, adminLn)
}

func runImport(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	var cfg config.ImportConfig
	fs.StringVar(&cfg.Device, "d", "", "name of the device to import (shorthand)")
	fs.StringVar(&cfg.Device, "device", "", "name of the device to import")
	fs.StringVar(&cfg.ImportPath, "i", "", "directory containing the update.json to import (shorthand)")
	fs.StringVar(&cfg.ImportPath, "import", "", "directory containing the update.json to import")
	fs.StringVar(&cfg.OutputRoot, "o", ".", "server update directory (shorthand)")
	fs.StringVar(&cfg.OutputRoot, "output", ".", "server update directory")
	fs.StringVar(&cfg.SignUtil, "s", "", "signing utility for a new device (shorthand)")
	fs.StringVar(&cfg.SignUtil, "sign", "", "signing utility for a new device")
	fs.StringVar(&cfg.RegistryPath, "registry", "", "registry file (default <output>/update.json)")
	fs.BoolVar(&cfg.AssumeYes, "y", false, "answer yes to every confirmation")
	debug := fs.Bool("debug", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *debug {
		level.Set(slog.LevelDebug)
	}
	if cfg.Device == "" || cfg.ImportPath == "" || cfg.OutputRoot == "" {
		fs.Usage()
		return errors.New("-d and -i are required")
	}
	if cfg.RegistryPath == "" {
		cfg.RegistryPath = filepath.Join(cfg.OutputRoot, "update.json")
	}
	cfg.Logger = slog.Default()

	return importDevice(context.Background(), cfg, stdin, stdout)
}

func importDevice(ctx context.Context, cfg config.ImportConfig, stdin io.Reader, stdout io.Writer) error {
	spec, err := importer.ReadSpec(cfg.ImportPath)
	if err != nil {
		return err
	}

	confirm := newPrompter(stdin, stdout).confirm
	if cfg.AssumeYes {
		confirm = func(string) bool { return true }
	}
	im := &importer.Importer{
		Store:   registry.NewStore(cfg.RegistryPath),
		Confirm: confirm,
		Logger:  cfg.Logger,
	}
	res, err := im.Import(ctx, importer.Request{
		Device:     cfg.Device,
		SourceDir:  cfg.ImportPath,
		Spec:       spec,
		OutputRoot: cfg.OutputRoot,
		SignUtil:   cfg.SignUtil,
	})
	if err != nil {
		return fmt.Errorf("import %s (%s): %w", cfg.Device, res.State, err)
	}
	fmt.Fprintf(stdout, "Successfully imported update for version %s of %s!\n", res.CurrentVersion, res.Device)
	return nil
}
