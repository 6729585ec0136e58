package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-marketplace-orders/internal/app"
	"github.com/ariefcatur/go-marketplace-orders/internal/clock"
	"github.com/ariefcatur/go-marketplace-orders/internal/config"
	"github.com/ariefcatur/go-marketplace-orders/internal/logx"
	"github.com/ariefcatur/go-marketplace-orders/internal/postgres"
)

func main() {
	cliApp := &cli.App{
		Name:  "order-api",
		Usage: "marketplace order, inventory and payment API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env-file", Usage: "load environment from `FILE` before reading config"},
			&cli.StringFlag{Name: "store", Usage: "backing store: postgres or memory (overrides STORE)"},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP API",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "sweep", Usage: "also run the expiry sweep in this process (always on for the memory store)"},
					&cli.StringFlag{Name: "seed", Usage: "load products and stock from a JSON `FILE` at startup"},
				},
				Action: serve,
			},
			{
				Name:  "migrate",
				Usage: "apply or roll back database migrations",
				Subcommands: []*cli.Command{
					{Name: "up", Action: migrateUp},
					{Name: "down", Action: migrateDown},
				},
			},
			{
				Name:  "seed",
				Usage: "load products and stock from a JSON file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Required: true, Usage: "JSON `FILE` with products and stock"},
				},
				Action: seed,
			},
		},
	}
	if err := cliApp.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("order-api")
	}
}

func load(c *cli.Context) (config.Config, *logrus.Entry, error) {
	if s := c.String("store"); s != "" {
		if err := os.Setenv("STORE", s); err != nil {
			return config.Config{}, nil, errors.Wrap(err, "set STORE")
		}
	}
	var files []string
	if f := c.String("env-file"); f != "" {
		files = append(files, f)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logx.New(cfg.ServiceName, cfg.LogLevel, cfg.LogFormat), nil
}

func serve(c *cli.Context) error {
	cfg, log, err := load(c)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	a := app.New(cfg, b, clock.NewSystem(), log)
	defer a.Close()

	if f := c.String("seed"); f != "" {
		if err := seedFile(ctx, b.Seeder, f, log); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithFields(logrus.Fields{"addr": cfg.HTTPAddr, "store": cfg.Store}).Info("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	if cfg.Store == "memory" || c.Bool("sweep") {
		g.Go(func() error { return a.Sweeper.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func migrateUp(c *cli.Context) error {
	cfg, log, err := load(c)
	if err != nil {
		return err
	}
	return postgres.Migrate(cfg.PostgresDSN, log)
}

func migrateDown(c *cli.Context) error {
	cfg, log, err := load(c)
	if err != nil {
		return err
	}
	return postgres.MigrateDown(cfg.PostgresDSN, log)
}

func seed(c *cli.Context) error {
	cfg, log, err := load(c)
	if err != nil {
		return err
	}
	if cfg.Store == "memory" {
		return errors.New("seed needs a persistent store; use serve --seed with the memory store")
	}
	b, err := app.Open(c.Context, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()
	return seedFile(c.Context, b.Seeder, c.String("file"), log)
}
