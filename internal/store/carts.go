package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/go-shop-core/internal/database"
	"github.com/safar/go-shop-core/internal/models"
)

// The cart is optimistic: adds and updates are validated against live stock
// but reserve nothing. Stock seen at add time may be gone by checkout time;
// checkout re-validates and is the only place stock is actually consumed.

// AddOrMergeLine creates a cart line for (user, product, size) or, if one
// already exists, merges the quantities. The merged total is checked against
// current stock before the upsert.
func AddOrMergeLine(ctx context.Context, db *sql.DB, userID, productID int64, size, quantity int) (*models.CartLine, error) {
	if quantity < 1 {
		return nil, database.ErrInvalidQuantity
	}

	line := &models.CartLine{}

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var stock int
		err := tx.QueryRowContext(ctx,
			`SELECT stock_quantity
			 FROM product_variants
			 WHERE product_id = $1 AND size = $2`,
			productID, size).Scan(&stock)
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrVariantNotFound
			}
			return fmt.Errorf("get stock: %w", err)
		}

		var existing int
		err = tx.QueryRowContext(ctx,
			`SELECT quantity
			 FROM cart_lines
			 WHERE user_id = $1 AND product_id = $2 AND size = $3`,
			userID, productID, size).Scan(&existing)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("get existing quantity: %w", err)
		}

		if existing+quantity > stock {
			return &database.InsufficientStockError{
				ProductID: productID,
				Size:      size,
				Available: stock,
			}
		}

		err = tx.QueryRowContext(ctx,
			`INSERT INTO cart_lines (user_id, product_id, size, quantity, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, NOW(), NOW())
			 ON CONFLICT (user_id, product_id, size)
			 DO UPDATE SET quantity = cart_lines.quantity + EXCLUDED.quantity,
			               updated_at = NOW()
			 RETURNING id, user_id, product_id, size, quantity, created_at, updated_at`,
			userID, productID, size, quantity).Scan(
			&line.ID,
			&line.UserID,
			&line.ProductID,
			&line.Size,
			&line.Quantity,
			&line.CreatedAt,
			&line.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert cart line: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return line, nil
}

// UpdateLineQuantity applies delta to an existing line. An increase beyond
// current stock fails; a result at or below zero deletes the line, in which
// case the returned line is nil.
func UpdateLineQuantity(ctx context.Context, db *sql.DB, userID, lineID int64, delta int) (*models.CartLine, error) {
	var updated *models.CartLine

	err := database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		line := models.CartLine{}
		err := tx.QueryRowContext(ctx,
			`SELECT id, user_id, product_id, size, quantity, created_at, updated_at
			 FROM cart_lines
			 WHERE id = $1
			 FOR UPDATE`,
			lineID).Scan(
			&line.ID,
			&line.UserID,
			&line.ProductID,
			&line.Size,
			&line.Quantity,
			&line.CreatedAt,
			&line.UpdatedAt,
		)
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrCartLineNotFound
			}
			return fmt.Errorf("lock cart line: %w", err)
		}

		if line.UserID != userID {
			return database.ErrForbidden
		}

		newQuantity := line.Quantity + delta
		if newQuantity <= 0 {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM cart_lines WHERE id = $1`, lineID); err != nil {
				return fmt.Errorf("delete cart line: %w", err)
			}
			return nil
		}

		if delta > 0 {
			var stock int
			err := tx.QueryRowContext(ctx,
				`SELECT stock_quantity
				 FROM product_variants
				 WHERE product_id = $1 AND size = $2`,
				line.ProductID, line.Size).Scan(&stock)
			if err != nil {
				if err == sql.ErrNoRows {
					return database.ErrVariantNotFound
				}
				return fmt.Errorf("get stock: %w", err)
			}

			if newQuantity > stock {
				return &database.InsufficientStockError{
					ProductID: line.ProductID,
					Size:      line.Size,
					Available: stock,
				}
			}
		}

		err = tx.QueryRowContext(ctx,
			`UPDATE cart_lines
			 SET quantity = $1, updated_at = NOW()
			 WHERE id = $2
			 RETURNING id, user_id, product_id, size, quantity, created_at, updated_at`,
			newQuantity, lineID).Scan(
			&line.ID,
			&line.UserID,
			&line.ProductID,
			&line.Size,
			&line.Quantity,
			&line.CreatedAt,
			&line.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update cart line: %w", err)
		}

		updated = &line
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// RemoveLine deletes a cart line. Removal is idempotent: a line that does
// not exist, or no longer exists, is a no-op success so a double submit
// never surfaces an error.
func RemoveLine(ctx context.Context, db *sql.DB, userID, lineID int64) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM cart_lines WHERE id = $1 AND user_id = $2`,
		lineID, userID)
	if err != nil {
		return fmt.Errorf("remove cart line: %w", err)
	}

	return nil
}

// ListLines returns the user's cart lines in insertion order, joined with
// the live product name and price.
func ListLines(ctx context.Context, db *sql.DB, userID int64) ([]models.CartLine, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT c.id, c.user_id, c.product_id, c.size, c.quantity,
		        c.created_at, c.updated_at, p.name, p.price
		 FROM cart_lines c
		 JOIN products p ON p.id = c.product_id
		 WHERE c.user_id = $1
		 ORDER BY c.id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list cart lines: %w", err)
	}
	defer rows.Close()

	var lines []models.CartLine
	for rows.Next() {
		var line models.CartLine
		err := rows.Scan(
			&line.ID,
			&line.UserID,
			&line.ProductID,
			&line.Size,
			&line.Quantity,
			&line.CreatedAt,
			&line.UpdatedAt,
			&line.ProductName,
			&line.UnitPrice,
		)
		if err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return lines, nil
}

// Carts adapts the cart functions to the checkout service's port.
type Carts struct {
	DB *sql.DB
}

func (c Carts) ListLines(ctx context.Context, userID int64) ([]models.CartLine, error) {
	return ListLines(ctx, c.DB, userID)
}

func (c Carts) RemoveLine(ctx context.Context, userID, lineID int64) error {
	return RemoveLine(ctx, c.DB, userID, lineID)
}
