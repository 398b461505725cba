package integration

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/safar/go-shop-core/internal/database"
	"github.com/safar/go-shop-core/internal/models"
	"github.com/safar/go-shop-core/internal/store"
	"github.com/shopspring/decimal"
)

func TestCheckoutSuccess(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := seedUser(t, db, "checkout@example.com")
	p1 := seedProduct(t, db, "CHK-001", 100, []store.SizeStock{{Size: 42, Stock: 10}})
	p2 := seedProduct(t, db, "CHK-002", 250, []store.SizeStock{{Size: 40, Stock: 5}})

	if _, err := store.AddOrMergeLine(ctx, db, user.ID, p1.ID, 42, 2); err != nil {
		t.Fatalf("Add p1: %v", err)
	}
	if _, err := store.AddOrMergeLine(ctx, db, user.ID, p2.ID, 40, 1); err != nil {
		t.Fatalf("Add p2: %v", err)
	}

	svc := newCheckoutService(db)
	order, err := svc.PlaceOrder(ctx, user.ID, "123 Main St", "card")
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	if order.Status != models.OrderStatusPending {
		t.Errorf("Expected status pending, got %s", order.Status)
	}
	expectedTotal := decimal.NewFromInt(450)
	if !order.TotalAmount.Equal(expectedTotal) {
		t.Errorf("Expected total %s, got %s", expectedTotal, order.TotalAmount)
	}
	if len(order.Lines) != 2 {
		t.Fatalf("Expected 2 order lines, got %d", len(order.Lines))
	}

	if got := mustStock(t, db, p1.ID, 42); got != 8 {
		t.Errorf("Expected p1 stock 8, got %d", got)
	}
	if got := mustStock(t, db, p2.ID, 40); got != 4 {
		t.Errorf("Expected p2 stock 4, got %d", got)
	}

	lines, err := store.ListLines(ctx, db, user.ID)
	if err != nil {
		t.Fatalf("List lines: %v", err)
	}
	if len(lines) != 0 {
		t.Errorf("Expected cart cleared, got %d lines", len(lines))
	}

	persisted, err := store.GetOrder(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if persisted.OrderNumber != order.OrderNumber {
		t.Errorf("Expected order number %s, got %s", order.OrderNumber, persisted.OrderNumber)
	}
}

func TestCheckoutFrozenPrices(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := seedUser(t, db, "frozen@example.com")
	product := seedProduct(t, db, "CHK-003", 100, []store.SizeStock{{Size: 42, Stock: 10}})

	if _, err := store.AddOrMergeLine(ctx, db, user.ID, product.ID, 42, 1); err != nil {
		t.Fatalf("Add: %v", err)
	}

	svc := newCheckoutService(db)
	order, err := svc.PlaceOrder(ctx, user.ID, "123 Main St", "card")
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	// a later price change must not affect the placed order
	if _, err := db.ExecContext(ctx,
		`UPDATE products SET price = 999 WHERE id = $1`, product.ID); err != nil {
		t.Fatalf("Update price: %v", err)
	}

	persisted, err := store.GetOrder(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if !persisted.Lines[0].UnitPrice.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected frozen unit price 100, got %s", persisted.Lines[0].UnitPrice)
	}
}

func TestCheckoutValidation(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := seedUser(t, db, "empty@example.com")
	svc := newCheckoutService(db)

	if _, err := svc.PlaceOrder(ctx, user.ID, "123 Main St", "card"); !errors.Is(err, database.ErrEmptyCart) {
		t.Errorf("Expected empty cart error, got: %v", err)
	}

	product := seedProduct(t, db, "CHK-004", 100, []store.SizeStock{{Size: 42, Stock: 5}})
	if _, err := store.AddOrMergeLine(ctx, db, user.ID, product.ID, 42, 1); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if _, err := svc.PlaceOrder(ctx, user.ID, "", "card"); !errors.Is(err, database.ErrInvalidAddress) {
		t.Errorf("Expected invalid address error, got: %v", err)
	}

	// failed checkout leaves everything in place
	if got := mustStock(t, db, product.ID, 42); got != 5 {
		t.Errorf("Expected stock unchanged at 5, got %d", got)
	}
	lines, _ := store.ListLines(ctx, db, user.ID)
	if len(lines) != 1 {
		t.Errorf("Expected cart untouched, got %d lines", len(lines))
	}
}

func TestCheckoutInsufficientStockIsAtomic(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := seedUser(t, db, "atomic@example.com")
	p1 := seedProduct(t, db, "CHK-005", 100, []store.SizeStock{{Size: 42, Stock: 10}})
	p2 := seedProduct(t, db, "CHK-006", 100, []store.SizeStock{{Size: 40, Stock: 2}})

	if _, err := store.AddOrMergeLine(ctx, db, user.ID, p1.ID, 42, 2); err != nil {
		t.Fatalf("Add p1: %v", err)
	}
	if _, err := store.AddOrMergeLine(ctx, db, user.ID, p2.ID, 40, 2); err != nil {
		t.Fatalf("Add p2: %v", err)
	}

	// another buyer consumes p2's stock before this checkout runs
	if err := store.TryDecrement(ctx, db, p2.ID, 40, 2); err != nil {
		t.Fatalf("Drain stock: %v", err)
	}

	svc := newCheckoutService(db)
	_, err := svc.PlaceOrder(ctx, user.ID, "123 Main St", "card")

	var stockErr *database.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("Expected insufficient stock error, got: %v", err)
	}
	if stockErr.ProductID != p2.ID || stockErr.Size != 40 || stockErr.Available != 0 {
		t.Errorf("Unexpected error detail: %+v", stockErr)
	}

	// no partial effects: p1 stock untouched, cart intact, no order rows
	if got := mustStock(t, db, p1.ID, 42); got != 10 {
		t.Errorf("Expected p1 stock 10, got %d", got)
	}
	lines, _ := store.ListLines(ctx, db, user.ID)
	if len(lines) != 2 {
		t.Errorf("Expected cart untouched, got %d lines", len(lines))
	}

	var orderCount int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE user_id = $1`, user.ID).Scan(&orderCount); err != nil {
		t.Fatalf("Count orders: %v", err)
	}
	if orderCount != 0 {
		t.Errorf("Expected no order created, got %d", orderCount)
	}
}

func TestConcurrentCheckoutLastUnit(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	userX := seedUser(t, db, "racer-x@example.com")
	userY := seedUser(t, db, "racer-y@example.com")
	product := seedProduct(t, db, "CHK-007", 100, []store.SizeStock{{Size: 42, Stock: 1}})

	if _, err := store.AddOrMergeLine(ctx, db, userX.ID, product.ID, 42, 1); err != nil {
		t.Fatalf("Add for X: %v", err)
	}
	if _, err := store.AddOrMergeLine(ctx, db, userY.ID, product.ID, 42, 1); err != nil {
		t.Fatalf("Add for Y: %v", err)
	}

	svc := newCheckoutService(db)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, userID := range []int64{userX.ID, userY.ID} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, results[i] = svc.PlaceOrder(ctx, userID, "123 Main St", "card")
		}()
	}
	wg.Wait()

	var successes, shortfalls int
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, database.ErrInsufficientStock):
			shortfalls++
		default:
			t.Fatalf("Unexpected checkout error: %v", err)
		}
	}

	if successes != 1 || shortfalls != 1 {
		t.Fatalf("Expected exactly one winner, got %d successes and %d shortfalls",
			successes, shortfalls)
	}

	if got := mustStock(t, db, product.ID, 42); got != 0 {
		t.Errorf("Expected final stock 0, got %d", got)
	}

	var orderCount int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&orderCount); err != nil {
		t.Fatalf("Count orders: %v", err)
	}
	if orderCount != 1 {
		t.Errorf("Expected exactly 1 order, got %d", orderCount)
	}
}
