// Package app wires the stores, services and HTTP surface of the order
// engine. The API and worker processes and the HTTP tests all build on it.
package app

import (
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-marketplace-orders/internal/cart"
	"github.com/ariefcatur/go-marketplace-orders/internal/clock"
	"github.com/ariefcatur/go-marketplace-orders/internal/config"
	"github.com/ariefcatur/go-marketplace-orders/internal/httpx"
	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/payments"
	"github.com/ariefcatur/go-marketplace-orders/internal/refunds"
	"github.com/ariefcatur/go-marketplace-orders/internal/sweep"
)

type App struct {
	Config   config.Config
	Backends *Backends

	Ledger   *inventory.Ledger
	Carts    *cart.Aggregator
	Orders   *orders.Manager
	Payments *payments.Gateway
	Refunds  *refunds.Coordinator
	Sweeper  *sweep.Sweeper

	log logrus.FieldLogger
}

func New(cfg config.Config, b *Backends, clk clock.Clock, log logrus.FieldLogger) *App {
	a := &App{Config: cfg, Backends: b, log: log}

	a.Ledger = inventory.NewLedger(b.Stock, clk, log.WithField("component", "inventory"),
		inventory.WithMaxAttempts(cfg.ReserveMaxAttempts))
	a.Carts = cart.NewAggregator(b.Carts, b.Catalog, a.Ledger, clk, log.WithField("component", "cart"))

	a.Refunds = refunds.NewCoordinator(b.Refunds, b.Orders, b.Intents, b.Processor, clk,
		log.WithField("component", "refunds"),
		refunds.WithBackoff(cfg.RefundRetryBase, cfg.RefundRetryMax),
		refunds.WithEvents(b.Events),
		refunds.WithCache(b.Cache),
		refunds.WithProducer(cfg.ServiceName),
	)

	a.Orders = orders.NewManager(b.Orders, a.Ledger, orders.Pricing{
		TaxRate:                    cfg.TaxRate,
		DeliveryFeeMinor:           cfg.DeliveryFeeMinor,
		FreeDeliveryThresholdMinor: cfg.FreeDeliveryThresholdMinor,
	}, clk, log.WithField("component", "orders"),
		orders.WithCurrency(cfg.Currency),
		orders.WithProducer(cfg.ServiceName),
		orders.WithCaptureChecker(payments.CaptureLookup{Store: b.Intents}),
		orders.WithRefunder(a.Refunds),
		orders.WithPublisher(b.Events),
		orders.WithCache(b.Cache),
		orders.WithInFlightGuard(b.Guard),
	)

	a.Payments = payments.NewGateway(b.Intents, b.Processor, a.Orders, payments.GatewayConfig{
		WebhookSecret: cfg.Processor.WebhookSecret,
		KeyID:         cfg.Processor.KeyID,
		Producer:      cfg.ServiceName,
	}, clk, log.WithField("component", "payments"),
		payments.WithEvents(b.Events),
		payments.WithDeduper(b.Dedup),
	)

	a.Sweeper = sweep.New(a.Orders, a.Ledger, a.Refunds, b.Lease, sweep.Config{
		Expiry:   cfg.PaymentExpiry,
		Interval: cfg.SweepInterval,
		LeaseTTL: cfg.SweepLeaseTTL,
		Batch:    cfg.SweepBatch,
	}, clk, log.WithField("component", "sweep"))

	return a
}

// Router mounts the client-facing API.
func (a *App) Router() *chi.Mux {
	r := httpx.NewRouter(a.log)
	oh := &httpx.OrdersHandler{
		Orders:   a.Orders,
		Payments: a.Payments,
		Carts:    a.Carts,
		Log:      a.log,
	}
	if a.Backends.Cache != nil {
		oh.Cache = a.Backends.Cache
	}
	oh.Register(r)
	ch := &httpx.CartsHandler{Carts: a.Carts, Log: a.log}
	ch.Register(r)
	sh := &httpx.StockHandler{Stock: a.Ledger, Log: a.log}
	sh.Register(r)
	return r
}

// RefundQueue is the worker's handler for refund.queued events.
func (a *App) RefundQueue() *refunds.QueueHandler {
	return &refunds.QueueHandler{
		Coordinator: a.Refunds,
		Dedup:       a.Backends.Dedup,
		MaxWait:     a.Config.SweepInterval,
		Log:         a.log.WithField("component", "refund-queue"),
	}
}

func (a *App) Close() { a.Backends.Close() }
