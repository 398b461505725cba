package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/safar/go-shop-core/internal/database"
	"github.com/safar/go-shop-core/internal/models"
	"github.com/safar/go-shop-core/internal/store"
)

func TestOrderStatusLifecycle(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := seedUser(t, db, "status@example.com")
	product := seedProduct(t, db, "ORD-001", 100, []store.SizeStock{{Size: 42, Stock: 5}})

	if _, err := store.AddOrMergeLine(ctx, db, user.ID, product.ID, 42, 1); err != nil {
		t.Fatalf("Add: %v", err)
	}
	svc := newCheckoutService(db)
	order, err := svc.PlaceOrder(ctx, user.ID, "123 Main St", "card")
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	// skipping straight to shipped is illegal
	err = store.SetOrderStatus(ctx, db, order.ID, models.OrderStatusShipped)
	if !errors.Is(err, database.ErrInvalidStatusTransition) {
		t.Errorf("Expected invalid transition pending -> shipped, got: %v", err)
	}

	for _, next := range []models.OrderStatus{
		models.OrderStatusProcessing,
		models.OrderStatusShipped,
		models.OrderStatusDelivered,
	} {
		if err := store.SetOrderStatus(ctx, db, order.ID, next); err != nil {
			t.Fatalf("Transition to %s: %v", next, err)
		}
	}

	// delivered is terminal
	err = store.SetOrderStatus(ctx, db, order.ID, models.OrderStatusCancelled)
	if !errors.Is(err, database.ErrInvalidStatusTransition) {
		t.Errorf("Expected delivered to be terminal, got: %v", err)
	}

	persisted, err := store.GetOrder(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if persisted.Status != models.OrderStatusDelivered {
		t.Errorf("Expected status delivered, got %s", persisted.Status)
	}
}

func TestOrderCancellation(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := seedUser(t, db, "cancel@example.com")
	product := seedProduct(t, db, "ORD-002", 100, []store.SizeStock{{Size: 42, Stock: 5}})

	if _, err := store.AddOrMergeLine(ctx, db, user.ID, product.ID, 42, 1); err != nil {
		t.Fatalf("Add: %v", err)
	}
	svc := newCheckoutService(db)
	order, err := svc.PlaceOrder(ctx, user.ID, "123 Main St", "card")
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	if err := store.SetOrderStatus(ctx, db, order.ID, models.OrderStatusCancelled); err != nil {
		t.Fatalf("Cancel from pending: %v", err)
	}

	err = store.SetOrderStatus(ctx, db, order.ID, models.OrderStatusProcessing)
	if !errors.Is(err, database.ErrInvalidStatusTransition) {
		t.Errorf("Expected cancelled to be terminal, got: %v", err)
	}
}

func TestSetStatusUnknownOrder(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	err := store.SetOrderStatus(context.Background(), db, 999999, models.OrderStatusProcessing)
	if !errors.Is(err, database.ErrOrderNotFound) {
		t.Errorf("Expected order not found, got: %v", err)
	}
}

func TestListOrdersNewestFirst(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := seedUser(t, db, "list@example.com")
	product := seedProduct(t, db, "ORD-003", 100, []store.SizeStock{{Size: 42, Stock: 10}})

	svc := newCheckoutService(db)
	var orderIDs []int64
	for i := 0; i < 3; i++ {
		if _, err := store.AddOrMergeLine(ctx, db, user.ID, product.ID, 42, 1); err != nil {
			t.Fatalf("Add: %v", err)
		}
		order, err := svc.PlaceOrder(ctx, user.ID, "123 Main St", "card")
		if err != nil {
			t.Fatalf("Checkout %d: %v", i, err)
		}
		orderIDs = append(orderIDs, order.ID)
	}

	page, err := store.ListOrdersCursor(ctx, db, user.ID, "", 2)
	if err != nil {
		t.Fatalf("List orders: %v", err)
	}

	orders, ok := page.Items.([]models.Order)
	if !ok {
		t.Fatalf("Unexpected items type %T", page.Items)
	}
	if len(orders) != 2 {
		t.Fatalf("Expected 2 orders on first page, got %d", len(orders))
	}
	if orders[0].ID != orderIDs[2] || orders[1].ID != orderIDs[1] {
		t.Errorf("Expected newest-first order [%d %d], got [%d %d]",
			orderIDs[2], orderIDs[1], orders[0].ID, orders[1].ID)
	}
	if !page.HasMore || page.NextCursor == "" {
		t.Fatalf("Expected a next page, got hasMore=%v cursor=%q", page.HasMore, page.NextCursor)
	}

	rest, err := store.ListOrdersCursor(ctx, db, user.ID, page.NextCursor, 2)
	if err != nil {
		t.Fatalf("List second page: %v", err)
	}
	restOrders := rest.Items.([]models.Order)
	if len(restOrders) != 1 || restOrders[0].ID != orderIDs[0] {
		t.Errorf("Expected second page with oldest order %d, got %+v", orderIDs[0], restOrders)
	}
}

func TestSaveOrderRejectsDuplicateNumber(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := seedUser(t, db, "dup@example.com")

	order := &models.Order{
		UserID:          user.ID,
		OrderNumber:     "ORD-fixed",
		Status:          models.OrderStatusPending,
		ShippingAddress: "123 Main St",
		PaymentMethod:   "card",
	}

	if _, err := store.SaveOrder(ctx, db, order); err != nil {
		t.Fatalf("First save: %v", err)
	}
	if _, err := store.SaveOrder(ctx, db, order); !errors.Is(err, database.ErrOrderExists) {
		t.Errorf("Expected duplicate order error, got: %v", err)
	}
}
