package postgres

import (
	"context"

	"github.com/pkg/errors"

	"github.com/ariefcatur/go-marketplace-orders/internal/catalog"
)

// CatalogRepository reads the local copy of the product catalog.
type CatalogRepository struct {
	db *DB
}

func NewCatalogRepository(db *DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

func (r *CatalogRepository) GetProduct(ctx context.Context, productID string) (catalog.Product, error) {
	var p catalog.Product
	err := r.db.queryRow(ctx, `
SELECT id, supplier_id, sku, name, price_minor, active
FROM products WHERE id = $1`, productID).
		Scan(&p.ID, &p.SupplierID, &p.SKU, &p.Name, &p.PriceMinor, &p.Active)
	if noRows(err) {
		return catalog.Product{}, catalog.ErrProductNotFound
	}
	if err != nil {
		return catalog.Product{}, errors.Wrap(err, "get product")
	}
	return p, nil
}

func (r *CatalogRepository) ListProducts(ctx context.Context) ([]catalog.Product, error) {
	rows, err := r.db.query(ctx, `
SELECT id, supplier_id, sku, name, price_minor, active
FROM products ORDER BY sku, id`)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	defer rows.Close()

	var out []catalog.Product
	for rows.Next() {
		var p catalog.Product
		if err := rows.Scan(&p.ID, &p.SupplierID, &p.SKU, &p.Name, &p.PriceMinor, &p.Active); err != nil {
			return nil, errors.Wrap(err, "scan product")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertProduct mirrors a catalog change into the local table.
func (r *CatalogRepository) UpsertProduct(ctx context.Context, p catalog.Product) error {
	_, err := r.db.exec(ctx, `
INSERT INTO products (id, supplier_id, sku, name, price_minor, active)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
	supplier_id = EXCLUDED.supplier_id, sku = EXCLUDED.sku, name = EXCLUDED.name,
	price_minor = EXCLUDED.price_minor, active = EXCLUDED.active, updated_at = NOW()`,
		p.ID, p.SupplierID, p.SKU, p.Name, p.PriceMinor, p.Active)
	return errors.Wrap(err, "upsert product")
}
