package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/textblast/internal/backup"
	"github.com/dukerupert/textblast/internal/config"
	"github.com/dukerupert/textblast/internal/database"
	"github.com/dukerupert/textblast/internal/logging"
	"github.com/dukerupert/textblast/internal/push"
	"github.com/dukerupert/textblast/internal/seed"
	"github.com/dukerupert/textblast/internal/server"
	"github.com/dukerupert/textblast/internal/store"
)

func main() {
	app := &cli.App{
		Name:  "textblast",
		Usage: "SMS and MMS messaging backend with credit billing",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "HTTP port", EnvVars: []string{"PORT"}},
			&cli.StringFlag{Name: "db", Aliases: []string{"d"}, Usage: "SQLite database path", EnvVars: []string{"DB_PATH"}},
			&cli.StringFlag{Name: "log-level", Aliases: []string{"l"}, Usage: "debug, info, warn or error", EnvVars: []string{"LOG_LEVEL"}},
		},
		Action: serve,
		Commands: []*cli.Command{
			{Name: "serve", Usage: "Run the HTTP server", Action: serve},
			{Name: "migrate", Usage: "Apply database migrations and exit", Action: migrate},
			{Name: "seed-plans", Usage: "Insert the default plans into an empty plans table", Action: seedPlans},
			{Name: "vapid-keys", Usage: "Generate a VAPID key pair for web push", Action: vapidKeys},
			{
				Name:  "backup",
				Usage: "Encrypted database snapshots in S3",
				Subcommands: []*cli.Command{
					{Name: "run", Usage: "Upload a snapshot now and prune old ones", Action: backupRun},
					{Name: "list", Usage: "List stored snapshots", Action: backupList},
					{
						Name:      "restore",
						Usage:     "Replace the database with a snapshot; stop the server first",
						ArgsUsage: "<key>",
						Action:    backupRestore,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(c *cli.Context) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	// Flags override the environment.
	if c.IsSet("port") {
		cfg.Port = c.Int("port")
	}
	if c.IsSet("db") {
		cfg.DBPath = c.String("db")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	return cfg, logger, nil
}

func serve(c *cli.Context) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if cfg.SeedPlans {
		if _, err := seed.Plans(c.Context, store.NewPlanStore(db), logger); err != nil {
			return fmt.Errorf("seed plans: %w", err)
		}
	}

	srv, err := server.New(db, cfg, logger)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("textblast starting", "addr", httpServer.Addr, "development", cfg.Development)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.Cleanup(ctx)
			case <-ctx.Done():
				return nil
			}
		}
	})
	if archiver := backup.NewArchiver(db, cfg.Backup, logger.With("component", "backup")); archiver.Enabled() && cfg.Backup.Interval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.Backup.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					snapshot(ctx, archiver, logger)
				case <-ctx.Done():
					return nil
				}
			}
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func migrate(c *cli.Context) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	logger.Info("migrations applied", "db", cfg.DBPath)
	return nil
}

func seedPlans(c *cli.Context) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	n, err := seed.Plans(c.Context, store.NewPlanStore(db), logger)
	if err != nil {
		return err
	}
	fmt.Printf("inserted %d plans\n", n)
	return nil
}

func vapidKeys(*cli.Context) error {
	pub, priv, err := push.GenerateVAPIDKeys()
	if err != nil {
		return err
	}
	fmt.Printf("VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", pub, priv)
	return nil
}

func snapshot(ctx context.Context, a *backup.Archiver, logger *slog.Logger) {
	if _, err := a.Run(ctx); err != nil {
		logger.Error("scheduled backup", "error", err)
		return
	}
	if n, err := a.Prune(ctx); err != nil {
		logger.Error("prune backups", "error", err)
	} else if n > 0 {
		logger.Info("pruned backups", "count", n)
	}
}

func openArchiver(c *cli.Context) (*backup.Archiver, *config.Config, func(), error) {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return nil, nil, nil, err
	}
	if !cfg.Backup.Enabled() {
		return nil, nil, nil, backup.ErrNotConfigured
	}
	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}
	return backup.NewArchiver(db, cfg.Backup, logger), cfg, func() { db.Close() }, nil
}

func backupRun(c *cli.Context) error {
	a, _, closeDB, err := openArchiver(c)
	if err != nil {
		return err
	}
	defer closeDB()

	snap, err := a.Run(c.Context)
	if err != nil {
		return err
	}
	if _, err := a.Prune(c.Context); err != nil {
		return err
	}
	fmt.Printf("%s\t%d bytes\n", snap.Key, snap.Size)
	return nil
}

func backupList(c *cli.Context) error {
	a, _, closeDB, err := openArchiver(c)
	if err != nil {
		return err
	}
	defer closeDB()

	snaps, err := a.List(c.Context)
	if err != nil {
		return err
	}
	for _, s := range snaps {
		fmt.Printf("%s\t%s\t%d\n", s.Key, s.CreatedAt.Format(time.RFC3339), s.Size)
	}
	return nil
}

func backupRestore(c *cli.Context) error {
	key := c.Args().First()
	if key == "" {
		return errors.New("usage: textblast backup restore <key>")
	}
	a, cfg, closeDB, err := openArchiver(c)
	if err != nil {
		return err
	}
	closeDB()
	return a.Restore(c.Context, key, cfg.DBPath)
}
