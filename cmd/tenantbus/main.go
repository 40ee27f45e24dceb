// Command tenantbus runs the broker. Configuration comes from the environment
// (and a .env file when present). Every argument names a module descriptor
// file that is registered before the consumers start.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/drblury/tenantbus/internal/registry"
	"github.com/drblury/tenantbus/internal/runtime"
	configpkg "github.com/drblury/tenantbus/internal/runtime/config"
	loggingpkg "github.com/drblury/tenantbus/internal/runtime/logging"
	_ "github.com/drblury/tenantbus/transport/transports"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "tenantbus:", err)
		os.Exit(1)
	}
}

func run(descriptors []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	conf, err := configpkg.Load()
	if err != nil {
		return err
	}

	logger := loggingpkg.NewSlogServiceLogger(loggingpkg.New(os.Stdout, loggingpkg.Config{
		Level:  conf.LogLevel,
		Format: conf.LogFormat,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := runtime.NewService(ctx, conf, logger, runtime.ServiceDependencies{})
	if err != nil {
		return err
	}

	for _, path := range descriptors {
		if err := registerDescriptor(ctx, svc, path); err != nil {
			_ = svc.Stop(context.WithoutCancel(ctx))
			return err
		}
		logger.Info("Module descriptor registered", loggingpkg.LogFields{"file": path})
	}

	logger.Info("Broker starting", loggingpkg.LogFields{"config": conf.String()})
	if err := svc.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func registerDescriptor(ctx context.Context, svc *runtime.Service, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	d, err := registry.LoadDescriptor(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if _, err := svc.RegisterModule(ctx, d); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
