package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/safar/go-shop-core/internal/database"
	"github.com/safar/go-shop-core/internal/models"
)

// SaveOrder persists an order and its lines as one transaction. It is
// create-only: a duplicate order number fails with ErrOrderExists and
// nothing is written. Line contents are immutable after this point.
func SaveOrder(ctx context.Context, db *sql.DB, order *models.Order) (*models.Order, error) {
	saved := &models.Order{}

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`INSERT INTO orders (user_id, order_number, status, total_amount,
			                     shipping_address, payment_method, created_at, updated_at, version)
			 VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW(), 1)
			 RETURNING id, user_id, order_number, status, total_amount,
			           shipping_address, payment_method, created_at, updated_at, version`,
			order.UserID, order.OrderNumber, order.Status, order.TotalAmount,
			order.ShippingAddress, order.PaymentMethod).Scan(
			&saved.ID,
			&saved.UserID,
			&saved.OrderNumber,
			&saved.Status,
			&saved.TotalAmount,
			&saved.ShippingAddress,
			&saved.PaymentMethod,
			&saved.CreatedAt,
			&saved.UpdatedAt,
			&saved.Version,
		)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return database.ErrOrderExists
			}
			return fmt.Errorf("create order: %w", err)
		}

		for i, line := range order.Lines {
			var row models.OrderLine
			err := tx.QueryRowContext(ctx,
				`INSERT INTO order_lines (order_id, product_id, size, quantity,
				                          unit_price, subtotal, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, NOW())
				 RETURNING id, order_id, product_id, size, quantity, unit_price, subtotal, created_at`,
				saved.ID, line.ProductID, line.Size, line.Quantity,
				line.UnitPrice, line.Subtotal).Scan(
				&row.ID,
				&row.OrderID,
				&row.ProductID,
				&row.Size,
				&row.Quantity,
				&row.UnitPrice,
				&row.Subtotal,
				&row.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("create order line %d: %w", i, err)
			}
			saved.Lines = append(saved.Lines, row)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return saved, nil
}

func GetOrder(ctx context.Context, db *sql.DB, id int64) (*models.Order, error) {
	order := &models.Order{}

	query := `
		SELECT id, user_id, order_number, status, total_amount,
		       shipping_address, payment_method, created_at, updated_at, version
		FROM orders
		WHERE id = $1`

	err := db.QueryRowContext(ctx, query, id).Scan(
		&order.ID,
		&order.UserID,
		&order.OrderNumber,
		&order.Status,
		&order.TotalAmount,
		&order.ShippingAddress,
		&order.PaymentMethod,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	linesQuery := `
		SELECT id, order_id, product_id, size, quantity, unit_price, subtotal, created_at
		FROM order_lines
		WHERE order_id = $1
		ORDER BY id`

	rows, err := db.QueryContext(ctx, linesQuery, id)
	if err != nil {
		return nil, fmt.Errorf("get order lines: %w", err)
	}
	defer rows.Close()

	var lines []models.OrderLine
	for rows.Next() {
		var line models.OrderLine
		err := rows.Scan(
			&line.ID,
			&line.OrderID,
			&line.ProductID,
			&line.Size,
			&line.Quantity,
			&line.UnitPrice,
			&line.Subtotal,
			&line.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		lines = append(lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	order.Lines = lines

	return order, nil
}

// ListOrdersCursor pages through a user's orders newest-first.
func ListOrdersCursor(ctx context.Context, db *sql.DB, userID int64, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	query := `
		SELECT id, user_id, order_number, status, total_amount,
		       shipping_address, payment_method, created_at, updated_at, version
		FROM orders
		WHERE user_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := db.QueryContext(ctx, query, userID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var order models.Order
		err := rows.Scan(
			&order.ID,
			&order.UserID,
			&order.OrderNumber,
			&order.Status,
			&order.TotalAmount,
			&order.ShippingAddress,
			&order.PaymentMethod,
			&order.CreatedAt,
			&order.UpdatedAt,
			&order.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// SetOrderStatus moves an order to newStatus if the lifecycle allows it.
// The current status is read under a row lock so concurrent administrative
// transitions serialize instead of clobbering each other.
func SetOrderStatus(ctx context.Context, db *sql.DB, orderID int64, newStatus models.OrderStatus) error {
	if !newStatus.Valid() {
		return database.ErrInvalidStatusTransition
	}

	return database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var current models.OrderStatus
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM orders WHERE id = $1 FOR UPDATE`,
			orderID).Scan(&current)
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrOrderNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}

		if !current.CanTransitionTo(newStatus) {
			return fmt.Errorf("%s -> %s: %w", current, newStatus, database.ErrInvalidStatusTransition)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE orders
			 SET status = $1, version = version + 1, updated_at = NOW()
			 WHERE id = $2`,
			newStatus, orderID)
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}

		return nil
	})
}

// Orders adapts the order functions to the checkout service's port.
type Orders struct {
	DB *sql.DB
}

func (o Orders) SaveOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	return SaveOrder(ctx, o.DB, order)
}
