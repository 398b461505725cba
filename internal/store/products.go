package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/go-shop-core/internal/database"
	"github.com/safar/go-shop-core/internal/models"
	"github.com/shopspring/decimal"
)

type SizeStock struct {
	Size  int `json:"size"`
	Stock int `json:"stock"`
}

func CreateProduct(ctx context.Context, db *sql.DB, sku, name, description string, price decimal.Decimal, sizes []SizeStock) (*models.Product, error) {
	product := &models.Product{}

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`INSERT INTO products (sku, name, description, price, created_at, updated_at, version)
			 VALUES ($1, $2, $3, $4, NOW(), NOW(), 1)
			 RETURNING id, sku, name, description, price, created_at, updated_at, version`,
			sku, name, description, price).Scan(
			&product.ID,
			&product.SKU,
			&product.Name,
			&product.Description,
			&product.Price,
			&product.CreatedAt,
			&product.UpdatedAt,
			&product.Version,
		)
		if err != nil {
			return fmt.Errorf("create product: %w", err)
		}

		for _, s := range sizes {
			var v models.Variant
			err := tx.QueryRowContext(ctx,
				`INSERT INTO product_variants (product_id, size, stock_quantity, updated_at)
				 VALUES ($1, $2, $3, NOW())
				 RETURNING product_id, size, stock_quantity, updated_at`,
				product.ID, s.Size, s.Stock).Scan(
				&v.ProductID, &v.Size, &v.StockQuantity, &v.UpdatedAt)
			if err != nil {
				return fmt.Errorf("create variant size %d: %w", s.Size, err)
			}
			product.Variants = append(product.Variants, v)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return product, nil
}

func GetProduct(ctx context.Context, db *sql.DB, id int64) (*models.Product, error) {
	product := &models.Product{}

	query := `
		SELECT id, sku, name, description, price, created_at, updated_at, version
		FROM products
		WHERE id = $1`

	err := db.QueryRowContext(ctx, query, id).Scan(
		&product.ID,
		&product.SKU,
		&product.Name,
		&product.Description,
		&product.Price,
		&product.CreatedAt,
		&product.UpdatedAt,
		&product.Version,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	variants, err := ListVariants(ctx, db, id)
	if err != nil {
		return nil, err
	}
	product.Variants = variants

	return product, nil
}

func ListProducts(ctx context.Context, db *sql.DB, page, pageSize int) (*OffsetPage, error) {
	var total int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT id, sku, name, description, price, created_at, updated_at, version
		FROM products
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := db.QueryContext(ctx, query, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var product models.Product
		err := rows.Scan(
			&product.ID,
			&product.SKU,
			&product.Name,
			&product.Description,
			&product.Price,
			&product.CreatedAt,
			&product.UpdatedAt,
			&product.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}

	return &OffsetPage{
		Items:      products,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

// DeleteProduct removes a product and fans out to its dependent records:
// every variant of the product and every cart line that references it, in
// one transaction. Order lines are historical snapshots and are kept.
func DeleteProduct(ctx context.Context, db *sql.DB, id int64) error {
	return database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM cart_lines WHERE product_id = $1`, id); err != nil {
			return fmt.Errorf("delete cart lines: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM product_variants WHERE product_id = $1`, id); err != nil {
			return fmt.Errorf("delete variants: %w", err)
		}

		result, err := tx.ExecContext(ctx,
			`DELETE FROM products WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete product: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return database.ErrProductNotFound
		}

		return nil
	})
}
