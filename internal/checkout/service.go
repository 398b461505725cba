package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/safar/go-shop-core/internal/database"
	"github.com/safar/go-shop-core/internal/models"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Service converts a user's cart lines into a durable order, all or nothing.
//
// The cart holds no reservation, so the flow is optimistic: snapshot the
// cart, re-validate every line against current stock, then commit by
// composing the ledger's per-variant TryDecrement with compensating
// Increments on any failure. There is no global lock and no internal retry;
// a checkout that loses the race gets InsufficientStock and the caller
// decides whether to try again.
type Service struct {
	ledger StockLedger
	cart   CartReader
	orders OrderWriter
	log    *slog.Logger

	maxConcurrent int
}

func NewService(ledger StockLedger, cart CartReader, orders OrderWriter, log *slog.Logger) *Service {
	return &Service{
		ledger:        ledger,
		cart:          cart,
		orders:        orders,
		log:           log,
		maxConcurrent: 8,
	}
}

// PlaceOrder runs the checkout for userID. On any failure before the order
// is durable, no order exists, stock is unchanged, and the cart is left as
// it was so the user can adjust and retry.
func (s *Service) PlaceOrder(ctx context.Context, userID int64, shippingAddress, paymentMethod string) (*models.Order, error) {
	if strings.TrimSpace(shippingAddress) == "" {
		return nil, database.ErrInvalidAddress
	}
	if strings.TrimSpace(paymentMethod) == "" {
		paymentMethod = "unknown"
	}

	lines, err := s.cart.ListLines(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read cart: %w", err)
	}
	if len(lines) == 0 {
		return nil, database.ErrEmptyCart
	}

	if err := s.revalidate(ctx, lines); err != nil {
		return nil, err
	}

	// Past this point the operation runs to completion or full rollback;
	// caller cancellation must not strand a half-applied commit.
	commitCtx := context.WithoutCancel(ctx)

	applied, err := s.decrementAll(commitCtx, lines)
	if err != nil {
		s.compensate(commitCtx, applied)
		return nil, err
	}

	order := buildOrder(userID, shippingAddress, paymentMethod, lines)

	saved, err := s.orders.SaveOrder(commitCtx, order)
	if err != nil {
		s.compensate(commitCtx, applied)
		return nil, fmt.Errorf("save order %s: %w", order.OrderNumber, err)
	}

	s.finalize(commitCtx, userID, lines)

	s.log.InfoContext(ctx, "order placed",
		"order_number", saved.OrderNumber,
		"user_id", userID,
		"lines", len(saved.Lines),
		"total", saved.TotalAmount.String(),
	)

	return saved, nil
}

// revalidate re-reads current stock for every snapshotted line. Any
// shortfall aborts the whole checkout before anything is written.
func (s *Service) revalidate(ctx context.Context, lines []models.CartLine) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrent)

	for _, line := range lines {
		g.Go(func() error {
			available, err := s.ledger.GetStock(ctx, line.ProductID, line.Size)
			if err != nil {
				return fmt.Errorf("stock for product %d size %d: %w", line.ProductID, line.Size, err)
			}
			if available < line.Quantity {
				return &database.InsufficientStockError{
					ProductID: line.ProductID,
					Size:      line.Size,
					Available: available,
				}
			}
			return nil
		})
	}

	return g.Wait()
}

// decrementAll consumes stock line by line. It returns the lines whose
// decrement was applied so that the caller can reverse them; on error the
// failing line itself applied nothing.
func (s *Service) decrementAll(ctx context.Context, lines []models.CartLine) ([]models.CartLine, error) {
	applied := make([]models.CartLine, 0, len(lines))

	for _, line := range lines {
		// Another checkout may have won the stock since revalidation.
		if err := s.ledger.TryDecrement(ctx, line.ProductID, line.Size, line.Quantity); err != nil {
			return applied, err
		}
		applied = append(applied, line)
	}

	return applied, nil
}

// compensate reverses decrements already applied by a failed commit. A
// failure here leaves the ledger short and cannot be fixed automatically,
// so it is logged for manual reconciliation.
func (s *Service) compensate(ctx context.Context, applied []models.CartLine) {
	for _, line := range applied {
		if err := s.ledger.Increment(ctx, line.ProductID, line.Size, line.Quantity); err != nil {
			s.log.ErrorContext(ctx, "compensation failed, manual reconciliation required",
				"product_id", line.ProductID,
				"size", line.Size,
				"quantity", line.Quantity,
				"error", err,
			)
		}
	}
}

// finalize clears exactly the snapshotted lines. Lines added to the cart
// after the snapshot survive. The order is already durable, so a failure
// here is logged rather than surfaced.
func (s *Service) finalize(ctx context.Context, userID int64, lines []models.CartLine) {
	for _, line := range lines {
		if err := s.cart.RemoveLine(ctx, userID, line.ID); err != nil {
			s.log.WarnContext(ctx, "failed to clear cart line after checkout",
				"user_id", userID,
				"line_id", line.ID,
				"error", err,
			)
		}
	}
}

func buildOrder(userID int64, shippingAddress, paymentMethod string, lines []models.CartLine) *models.Order {
	order := &models.Order{
		UserID:          userID,
		OrderNumber:     "ORD-" + uuid.NewString(),
		Status:          models.OrderStatusPending,
		ShippingAddress: shippingAddress,
		PaymentMethod:   paymentMethod,
	}

	total := decimal.Zero
	for _, line := range lines {
		subtotal := line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		order.Lines = append(order.Lines, models.OrderLine{
			ProductID: line.ProductID,
			Size:      line.Size,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Subtotal:  subtotal,
		})
		total = total.Add(subtotal)
	}
	order.TotalAmount = total

	return order
}
