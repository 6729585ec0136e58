package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-marketplace-orders/internal/app"
	"github.com/ariefcatur/go-marketplace-orders/internal/clock"
	"github.com/ariefcatur/go-marketplace-orders/internal/config"
	"github.com/ariefcatur/go-marketplace-orders/internal/events"
	kafkax "github.com/ariefcatur/go-marketplace-orders/internal/kafka"
	"github.com/ariefcatur/go-marketplace-orders/internal/logx"
)

func main() {
	cliApp := &cli.App{
		Name:  "order-worker",
		Usage: "expiry sweep and refund retries",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env-file", Usage: "load environment from `FILE` before reading config"},
			&cli.BoolFlag{Name: "no-consumer", Usage: "only run the sweep; due refunds are still retried by it"},
		},
		Action: run,
	}
	if err := cliApp.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("order-worker")
	}
}

func run(c *cli.Context) error {
	var files []string
	if f := c.String("env-file"); f != "" {
		files = append(files, f)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return err
	}
	if cfg.Store != "postgres" {
		return errors.Errorf("worker needs STORE=postgres, got %q", cfg.Store)
	}
	log := logx.New(cfg.ServiceName+"-worker", cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := app.Postgres(ctx, cfg, log)
	if err != nil {
		return err
	}
	a := app.New(cfg, b, clock.NewSystem(), log)
	defer a.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("interval", cfg.SweepInterval).Info("sweep started")
		return a.Sweeper.Run(gctx)
	})
	if !c.Bool("no-consumer") {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.WorkerGroup, events.TypeRefundQueued, cfg.WorkerConcurrency, log)
		g.Go(func() error {
			log.WithFields(logrus.Fields{
				"group":   cfg.WorkerGroup,
				"topic":   events.TypeRefundQueued,
				"workers": cfg.WorkerConcurrency,
			}).Info("refund consumer started")
			return cons.Start(gctx, a.RefundQueue().Handle)
		})
	}

	err = g.Wait()
	log.Info("worker stopped")
	return err
}
