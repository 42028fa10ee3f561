package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/hpnt/matreq/internal/config"
	"github.com/hpnt/matreq/internal/db"
	"github.com/hpnt/matreq/internal/imagestore"
	"github.com/hpnt/matreq/internal/logging"
	"github.com/hpnt/matreq/internal/request"
)

// app is the set of resources shared by the commands.
type app struct {
	cfg     *config.Config
	env     config.Environment
	log     *logrus.Logger
	gdb     *gorm.DB
	dialect db.Dialect
	store   *request.Store
	images  *imagestore.Store

	closers []func() error
}

// loadConfig reads the .env file, the optional config file and the
// environment, then resolves data paths and creates their directories.
func loadConfig(cmd *cobra.Command) (*config.Config, config.Environment, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	configPath, _ := cmd.Flags().GetString("config")

	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, "", err
	}
	cfg, err := config.LoadOptional(configPath)
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}
	env, err := cfg.ResolveDataPaths(os.LookupEnv)
	if err != nil {
		return nil, "", err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, "", err
	}
	return cfg, env, nil
}

// openApp loads configuration and connects to storage. The caller must call
// Close.
func openApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, env, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, env: env, log: log}
	a.gdb, a.dialect, err = db.Open(cfg.Database, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { return db.Close(a.gdb) })

	policy, err := request.ParsePolicy(cfg.Requests.StatusPolicy)
	if err != nil {
		a.Close()
		return nil, err
	}
	var locker request.Locker
	if addr := cfg.Lock.RedisAddr; addr != "" {
		rl, closeRedis, err := request.DialRedisLocker(ctx, addr)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, closeRedis)
		locker = rl
		log.WithField("addr", addr).Info("using redis write lock")
	}

	a.store = request.NewStore(a.gdb, a.dialect, request.Options{Locker: locker, Policy: policy})
	a.images = imagestore.New(cfg.Images.Dir)

	log.WithFields(logrus.Fields{
		"environment": env,
		"database":    db.Describe(cfg.Database),
		"images":      cfg.Images.Dir,
		"policy":      policy,
	}).Debug("storage opened")
	return a, nil
}

// Close releases every resource opened by openApp, newest first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
