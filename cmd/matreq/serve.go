package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hpnt/matreq/internal/backup"
	"github.com/hpnt/matreq/internal/config"
	"github.com/hpnt/matreq/internal/db"
	"github.com/hpnt/matreq/internal/notify"
	"github.com/hpnt/matreq/internal/notify/discord"
	"github.com/hpnt/matreq/internal/notify/slack"
	"github.com/hpnt/matreq/internal/service"
	"github.com/hpnt/matreq/internal/web"
)

func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web server",
		Long: `Starts the material request web server.

Without a config file every setting has a default; DATABASE_URL, PORT and the
other environment variables override the file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, port)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config and PORT)")
	return cmd
}

func runServe(cmd *cobra.Command, port int) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	if port > 0 {
		a.cfg.Server.Port = port
	}

	seed, err := seedFor(a.cfg, a.env, a.dialect)
	if err != nil {
		return err
	}
	schema := &db.Schema{Seed: seed}
	if err := schema.Ensure(ctx, a.gdb); err != nil {
		// Requests retry through the schema middleware.
		a.log.WithError(err).Error("schema initialization failed at startup")
	}

	svc := service.New(a.store, a.images, buildNotifier(a.cfg.Notify, a.log), a.log)

	if a.cfg.Backup.Schedule != "" {
		sched := &backup.Scheduler{
			Spec: a.cfg.Backup.Schedule,
			Dir:  a.cfg.Backup.Dir,
			Keep: a.cfg.Backup.Keep,
			DB:   a.gdb,
			Log:  a.log,
		}
		if _, err := backup.ParseSchedule(sched.Spec); err != nil {
			return err
		}
		go sched.Run(ctx)
		a.log.WithFields(logrus.Fields{"schedule": sched.Spec, "dir": sched.Dir}).Info("scheduled backups enabled")
	}

	a.log.WithFields(logrus.Fields{
		"port":        a.cfg.Server.Port,
		"environment": a.env,
		"database":    db.Describe(a.cfg.Database),
	}).Info("starting server")

	return web.Start(ctx, web.StartOpts{
		Opts: web.Opts{
			Service:     svc,
			DB:          a.gdb,
			Schema:      schema,
			Log:         a.log,
			Environment: string(a.env),
			Storage:     db.Describe(a.cfg.Database),
			Version:     Version,
		},
		Port: a.cfg.Server.Port,
		Out:  cmd.OutOrStdout(),
	})
}

// seedFor picks the seed for an empty table: the DB_BACKUP_JSON snapshot in
// the cloud, otherwise the sample rows.
func seedFor(cfg *config.Config, env config.Environment, dialect db.Dialect) (db.SeedFunc, error) {
	if env != config.EnvCloud || cfg.Database.BackupJSON == "" {
		return db.SeedSamples, nil
	}
	snap, err := backup.Parse([]byte(cfg.Database.BackupJSON))
	if err != nil {
		return nil, fmt.Errorf("DB_BACKUP_JSON: %w", err)
	}
	return backup.SeedFrom(dialect, snap), nil
}

// buildNotifier returns a notifier for every configured webhook. Bad webhook
// settings are logged and skipped.
func buildNotifier(cfg config.NotifyConfig, log logrus.FieldLogger) notify.Notifier {
	var ns []notify.Notifier
	if cfg.SlackWebhookURL != "" {
		n, err := slack.New(slack.Opts{WebhookURL: cfg.SlackWebhookURL, Username: "matreq"})
		if err != nil {
			log.WithError(err).Warn("slack notifications disabled")
		} else {
			ns = append(ns, n)
		}
	}
	if cfg.DiscordWebhookURL != "" {
		n, err := discord.New(discord.Opts{WebhookURL: cfg.DiscordWebhookURL, Username: "matreq"})
		if err != nil {
			log.WithError(err).Warn("discord notifications disabled")
		} else {
			ns = append(ns, n)
		}
	}
	return notify.Combine(ns...)
}
