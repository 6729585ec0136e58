package app

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-marketplace-orders/internal/cart"
	"github.com/ariefcatur/go-marketplace-orders/internal/catalog"
	"github.com/ariefcatur/go-marketplace-orders/internal/config"
	"github.com/ariefcatur/go-marketplace-orders/internal/events"
	"github.com/ariefcatur/go-marketplace-orders/internal/httpx"
	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-marketplace-orders/internal/kafka"
	"github.com/ariefcatur/go-marketplace-orders/internal/memstore"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/payments"
	"github.com/ariefcatur/go-marketplace-orders/internal/postgres"
	"github.com/ariefcatur/go-marketplace-orders/internal/redisx"
	"github.com/ariefcatur/go-marketplace-orders/internal/refunds"
	"github.com/ariefcatur/go-marketplace-orders/internal/sweep"
)

// OrderCache is the order read cache; handlers read through it and the
// domain services invalidate it.
type OrderCache interface {
	httpx.OrderCache
	orders.StatusCache
}

// Seeder loads catalog rows and stock levels.
type Seeder interface {
	UpsertProduct(ctx context.Context, p catalog.Product) error
	SetStock(ctx context.Context, productID string, available int) error
}

// Backends are the stores and adapters the services run on.
type Backends struct {
	Stock     inventory.Store
	Catalog   catalog.Reader
	Carts     cart.Store
	Orders    orders.Store
	Intents   payments.Store
	Refunds   refunds.Store
	Guard     orders.InFlightGuard
	Lease     sweep.Lease
	Dedup     refunds.Deduper
	Cache     OrderCache // nil disables caching
	Events    events.Publisher
	Processor payments.Processor
	Seeder    Seeder

	closers []func()
}

// Close releases connections in reverse order of acquisition.
func (b *Backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

func (b *Backends) onClose(fn func()) { b.closers = append(b.closers, fn) }

// Memory builds process-local backends. Events go to the log.
func Memory(cfg config.Config, log logrus.FieldLogger) *Backends {
	stock := memstore.NewStockStore()
	cat := memstore.NewCatalog()
	return &Backends{
		Stock:     stock,
		Catalog:   cat,
		Carts:     memstore.NewCartStore(),
		Orders:    memstore.NewOrderStore(),
		Intents:   memstore.NewIntentStore(),
		Refunds:   memstore.NewRefundStore(),
		Guard:     memstore.NewClaims(),
		Lease:     memstore.NewLease("sweep"),
		Dedup:     memstore.NewDedup(),
		Events:    events.LogPublisher{Log: log},
		Processor: NewProcessor(cfg.Processor, log),
		Seeder:    memorySeeder{catalog: cat, stock: stock},
	}
}

// Postgres connects to Postgres, Redis and Kafka. The Kafka producer runs
// until Close.
func Postgres(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*Backends, error) {
	b := &Backends{}

	pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	b.onClose(pool.Close)

	rdb, err := redisx.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.onClose(func() {
		if err := rdb.Close(); err != nil {
			log.WithError(err).Warn("close redis")
		}
	})

	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start(context.WithoutCancel(ctx))
	b.onClose(func() {
		prod.Close()
		prod.WaitClosed()
	})

	db := postgres.New(pool)
	stock := postgres.NewStockRepository(db)
	cat := postgres.NewCatalogRepository(db)

	b.Stock = stock
	b.Catalog = cat
	b.Carts = redisx.NewCartStore(rdb)
	b.Orders = postgres.NewOrderRepository(db)
	b.Intents = postgres.NewIntentRepository(db)
	b.Refunds = postgres.NewRefundRepository(db)
	b.Guard = redisx.NewClaims(rdb, redisx.TTLIdempotency)
	b.Lease = redisx.NewLease(rdb, "sweep")
	b.Dedup = redisx.NewDedup(rdb, cfg.WorkerGroup)
	b.Cache = redisx.NewOrderCache(rdb)
	b.Events = kafkax.EnvelopePublisher{Producer: prod}
	b.Processor = NewProcessor(cfg.Processor, log)
	b.Seeder = postgresSeeder{catalog: cat, stock: stock}
	return b, nil
}

// Open picks the backends named by cfg.Store.
func Open(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*Backends, error) {
	switch cfg.Store {
	case "memory":
		return Memory(cfg, log), nil
	case "postgres":
		return Postgres(ctx, cfg, log)
	default:
		return nil, errors.Errorf("unknown store %q", cfg.Store)
	}
}

// NewProcessor builds the payment processor client with retries and
// timeouts around it.
func NewProcessor(cfg config.Processor, log logrus.FieldLogger) payments.Processor {
	var p payments.Processor
	switch cfg.Mode {
	case "http":
		p = payments.NewHTTPProcessor(cfg.BaseURL, cfg.KeyID, cfg.KeySecret, &http.Client{})
	default:
		p = payments.NewSandbox(cfg.WebhookSecret)
	}
	return payments.WithRetry(p, payments.RetryPolicy{
		Timeout:     cfg.Timeout,
		MaxRetries:  cfg.MaxRetries,
		BackoffBase: cfg.BackoffBase,
		BackoffMax:  cfg.BackoffMax,
	}, log.WithField("component", "processor"))
}

type memorySeeder struct {
	catalog *memstore.Catalog
	stock   *memstore.StockStore
}

func (s memorySeeder) UpsertProduct(_ context.Context, p catalog.Product) error {
	s.catalog.Put(p)
	return nil
}

func (s memorySeeder) SetStock(_ context.Context, productID string, available int) error {
	s.stock.SetStock(productID, available)
	return nil
}

type postgresSeeder struct {
	catalog *postgres.CatalogRepository
	stock   *postgres.StockRepository
}

func (s postgresSeeder) UpsertProduct(ctx context.Context, p catalog.Product) error {
	return s.catalog.UpsertProduct(ctx, p)
}

func (s postgresSeeder) SetStock(ctx context.Context, productID string, available int) error {
	return s.stock.SetStock(ctx, productID, available)
}
