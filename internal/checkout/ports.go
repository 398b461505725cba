package checkout

import (
	"context"

	"github.com/safar/go-shop-core/internal/models"
)

// StockLedger is the authoritative per-variant stock count. TryDecrement and
// Increment must each be atomic for a single (productID, size) key under
// arbitrary concurrent callers.
type StockLedger interface {
	GetStock(ctx context.Context, productID int64, size int) (int, error)
	TryDecrement(ctx context.Context, productID int64, size, quantity int) error
	Increment(ctx context.Context, productID int64, size, quantity int) error
}

type CartReader interface {
	ListLines(ctx context.Context, userID int64) ([]models.CartLine, error)
	RemoveLine(ctx context.Context, userID, lineID int64) error
}

type OrderWriter interface {
	SaveOrder(ctx context.Context, order *models.Order) (*models.Order, error)
}
