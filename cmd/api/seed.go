package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-marketplace-orders/internal/app"
	"github.com/ariefcatur/go-marketplace-orders/internal/catalog"
)

// seedRow is one product with its sellable stock:
//
//	[{"id":"p1","supplier_id":"s1","name":"Kettle","price_minor":25000,"active":true,"stock":10}]
type seedRow struct {
	catalog.Product
	Stock int `json:"stock"`
}

func seedFile(ctx context.Context, s app.Seeder, path string, log logrus.FieldLogger) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read seed file")
	}
	var rows []seedRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return errors.Wrapf(err, "decode %s", path)
	}
	for _, r := range rows {
		if r.ID == "" {
			return errors.Errorf("%s: product without id", path)
		}
		if err := s.UpsertProduct(ctx, r.Product); err != nil {
			return errors.Wrapf(err, "upsert product %s", r.ID)
		}
		if err := s.SetStock(ctx, r.ID, r.Stock); err != nil {
			return errors.Wrapf(err, "set stock %s", r.ID)
		}
	}
	log.WithField("products", len(rows)).Info("catalog seeded")
	return nil
}
