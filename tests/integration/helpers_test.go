package integration

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"

	"github.com/safar/go-shop-core/internal/checkout"
	"github.com/safar/go-shop-core/internal/models"
	"github.com/safar/go-shop-core/internal/store"
	"github.com/shopspring/decimal"
)

func newCheckoutService(db *sql.DB) *checkout.Service {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return checkout.NewService(
		store.Ledger{DB: db},
		store.Carts{DB: db},
		store.Orders{DB: db},
		log,
	)
}

func seedUser(t *testing.T, db *sql.DB, email string) *models.User {
	t.Helper()
	user, err := store.CreateUser(context.Background(), db, email, "Test User", false)
	if err != nil {
		t.Fatalf("Create user: %v", err)
	}
	return user
}

func seedAdmin(t *testing.T, db *sql.DB, email string) *models.User {
	t.Helper()
	user, err := store.CreateUser(context.Background(), db, email, "Test Admin", true)
	if err != nil {
		t.Fatalf("Create admin: %v", err)
	}
	return user
}

func seedProduct(t *testing.T, db *sql.DB, sku string, price int64, sizes []store.SizeStock) *models.Product {
	t.Helper()
	product, err := store.CreateProduct(context.Background(), db, sku, "Test Shoe", "Test",
		decimal.NewFromInt(price), sizes)
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}
	return product
}

func mustStock(t *testing.T, db *sql.DB, productID int64, size int) int {
	t.Helper()
	stock, err := store.GetStock(context.Background(), db, productID, size)
	if err != nil {
		t.Fatalf("Get stock: %v", err)
	}
	return stock
}
