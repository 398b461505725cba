package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/go-shop-core/internal/database"
	"github.com/safar/go-shop-core/internal/models"
)

// The variant ledger is the authoritative stock count per (product, size).
// TryDecrement is the single atomic primitive: a conditional UPDATE that
// either applies in full or not at all, serialized by Postgres at row
// granularity. Multi-variant consistency is composed on top of it by the
// checkout service; nothing here takes a lock wider than one row.

func GetStock(ctx context.Context, db *sql.DB, productID int64, size int) (int, error) {
	var stock int

	err := db.QueryRowContext(ctx,
		`SELECT stock_quantity
		 FROM product_variants
		 WHERE product_id = $1 AND size = $2`,
		productID, size).Scan(&stock)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, database.ErrVariantNotFound
		}
		return 0, fmt.Errorf("get stock: %w", err)
	}

	return stock, nil
}

// TryDecrement atomically subtracts quantity from the variant's stock if and
// only if enough remains. On shortfall it returns InsufficientStockError
// with the current availability and leaves stock untouched.
func TryDecrement(ctx context.Context, db *sql.DB, productID int64, size, quantity int) error {
	result, err := db.ExecContext(ctx,
		`UPDATE product_variants
		 SET stock_quantity = stock_quantity - $1,
		     updated_at = NOW()
		 WHERE product_id = $2
		   AND size = $3
		   AND stock_quantity >= $1`,
		quantity, productID, size)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		available, err := GetStock(ctx, db, productID, size)
		if err != nil {
			return err
		}
		return &database.InsufficientStockError{
			ProductID: productID,
			Size:      size,
			Available: available,
		}
	}

	return nil
}

// Increment adds quantity back to a variant's stock. It is used for restock
// and for compensating a partially applied checkout, so it must always
// succeed: an unknown (product, size) row is created rather than rejected.
func Increment(ctx context.Context, db *sql.DB, productID int64, size, quantity int) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO product_variants (product_id, size, stock_quantity, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (product_id, size)
		 DO UPDATE SET stock_quantity = product_variants.stock_quantity + EXCLUDED.stock_quantity,
		               updated_at = NOW()`,
		productID, size, quantity)
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}

	return nil
}

func ListVariants(ctx context.Context, db *sql.DB, productID int64) ([]models.Variant, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT product_id, size, stock_quantity, updated_at
		 FROM product_variants
		 WHERE product_id = $1
		 ORDER BY size`,
		productID)
	if err != nil {
		return nil, fmt.Errorf("list variants: %w", err)
	}
	defer rows.Close()

	var variants []models.Variant
	for rows.Next() {
		var v models.Variant
		if err := rows.Scan(&v.ProductID, &v.Size, &v.StockQuantity, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan variant: %w", err)
		}
		variants = append(variants, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return variants, nil
}

// Ledger adapts the ledger functions to the checkout service's port.
type Ledger struct {
	DB *sql.DB
}

func (l Ledger) GetStock(ctx context.Context, productID int64, size int) (int, error) {
	return GetStock(ctx, l.DB, productID, size)
}

func (l Ledger) TryDecrement(ctx context.Context, productID int64, size, quantity int) error {
	return TryDecrement(ctx, l.DB, productID, size, quantity)
}

func (l Ledger) Increment(ctx context.Context, productID int64, size, quantity int) error {
	return Increment(ctx, l.DB, productID, size, quantity)
}
