package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/safar/go-shop-core/internal/checkout"
	"github.com/safar/go-shop-core/internal/config"
	"github.com/safar/go-shop-core/internal/database"
	"github.com/safar/go-shop-core/internal/logger"
	"github.com/safar/go-shop-core/internal/models"
	"github.com/safar/go-shop-core/internal/store"
	"github.com/shopspring/decimal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		Service: "shop-core-api",
		Env:     cfg.App.Env,
		Level:   cfg.App.LogLevel,
	})

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Error("connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	log.Info("connected to database")

	checkoutSvc := checkout.NewService(
		store.Ledger{DB: db},
		store.Carts{DB: db},
		store.Orders{DB: db},
		log,
	)

	api := &apiServer{db: db, checkout: checkoutSvc, log: log}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /users", api.handleCreateUser)
	mux.HandleFunc("GET /users/{id}", api.handleGetUser)

	mux.HandleFunc("POST /products", api.handleCreateProduct)
	mux.HandleFunc("GET /products", api.handleListProducts)
	mux.HandleFunc("GET /products/{id}", api.handleGetProduct)
	mux.HandleFunc("DELETE /products/{id}", api.handleDeleteProduct)
	mux.HandleFunc("POST /products/{id}/restock", api.handleRestock)

	mux.HandleFunc("GET /cart", api.handleGetCart)
	mux.HandleFunc("POST /cart/items", api.handleAddToCart)
	mux.HandleFunc("POST /cart/items/{id}", api.handleUpdateCartLine)
	mux.HandleFunc("DELETE /cart/items/{id}", api.handleRemoveCartLine)

	mux.HandleFunc("POST /checkout", api.handleCheckout)

	mux.HandleFunc("GET /orders", api.handleListOrders)
	mux.HandleFunc("GET /orders/{id}", api.handleGetOrder)
	mux.HandleFunc("POST /orders/{id}/status", api.handleSetOrderStatus)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Info("server starting", "port", cfg.Server.Port)
	if err := server.ListenAndServe(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

type apiServer struct {
	db       *sql.DB
	checkout *checkout.Service
	log      *slog.Logger
}

// actor resolves the requester from the X-User-ID header. The real session
// layer lives outside this core; the header stands in for it.
func (s *apiServer) actor(r *http.Request) (*models.User, error) {
	id, err := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
	if err != nil {
		return nil, database.ErrUserNotFound
	}
	return store.GetUser(r.Context(), s.db, id)
}

func (s *apiServer) admin(r *http.Request) (*models.User, error) {
	user, err := s.actor(r)
	if err != nil {
		return nil, err
	}
	if !user.IsAdmin {
		return nil, database.ErrForbidden
	}
	return user, nil
}

func (s *apiServer) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email   string `json:"email"`
		Name    string `json:"name"`
		IsAdmin bool   `json:"is_admin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := store.CreateUser(r.Context(), s.db, req.Email, req.Name, req.IsAdmin)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, user)
}

func (s *apiServer) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user ID")
		return
	}

	user, err := store.GetUser(r.Context(), s.db, id)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, user)
}

func (s *apiServer) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	if _, err := s.admin(r); err != nil {
		s.respondFailure(w, r, err)
		return
	}

	var req struct {
		SKU         string            `json:"sku"`
		Name        string            `json:"name"`
		Description string            `json:"description"`
		Price       float64           `json:"price"`
		Sizes       []store.SizeStock `json:"sizes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	product, err := store.CreateProduct(r.Context(), s.db, req.SKU, req.Name,
		req.Description, decimal.NewFromFloat(req.Price), req.Sizes)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, product)
}

func (s *apiServer) handleListProducts(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	result, err := store.ListProducts(r.Context(), s.db, page, pageSize)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (s *apiServer) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid product ID")
		return
	}

	product, err := store.GetProduct(r.Context(), s.db, id)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, product)
}

func (s *apiServer) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if _, err := s.admin(r); err != nil {
		s.respondFailure(w, r, err)
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid product ID")
		return
	}

	if err := store.DeleteProduct(r.Context(), s.db, id); err != nil {
		s.respondFailure(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleRestock(w http.ResponseWriter, r *http.Request) {
	if _, err := s.admin(r); err != nil {
		s.respondFailure(w, r, err)
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid product ID")
		return
	}

	var req struct {
		Size     int `json:"size"`
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Quantity < 1 {
		s.respondFailure(w, r, database.ErrInvalidQuantity)
		return
	}

	if err := store.Increment(r.Context(), s.db, id, req.Size, req.Quantity); err != nil {
		s.respondFailure(w, r, err)
		return
	}

	stock, err := store.GetStock(r.Context(), s.db, id, req.Size)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]int{"stock_quantity": stock})
}

func (s *apiServer) handleGetCart(w http.ResponseWriter, r *http.Request) {
	user, err := s.actor(r)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}

	lines, err := store.ListLines(r.Context(), s.db, user.ID)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}

	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"lines": lines,
		"total": total,
	})
}

func (s *apiServer) handleAddToCart(w http.ResponseWriter, r *http.Request) {
	user, err := s.actor(r)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}

	var req struct {
		ProductID int64 `json:"product_id"`
		Size      int   `json:"size"`
		Quantity  int   `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	line, err := store.AddOrMergeLine(r.Context(), s.db, user.ID, req.ProductID, req.Size, req.Quantity)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, line)
}

func (s *apiServer) handleUpdateCartLine(w http.ResponseWriter, r *http.Request) {
	user, err := s.actor(r)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}

	lineID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid cart line ID")
		return
	}

	var req struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var delta int
	switch req.Action {
	case "increase":
		delta = 1
	case "decrease":
		delta = -1
	default:
		respondError(w, http.StatusBadRequest, "action must be increase or decrease")
		return
	}

	line, err := store.UpdateLineQuantity(r.Context(), s.db, user.ID, lineID, delta)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	if line == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	respondJSON(w, http.StatusOK, line)
}

func (s *apiServer) handleRemoveCartLine(w http.ResponseWriter, r *http.Request) {
	user, err := s.actor(r)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}

	lineID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid cart line ID")
		return
	}

	if err := store.RemoveLine(r.Context(), s.db, user.ID, lineID); err != nil {
		s.respondFailure(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleCheckout(w http.ResponseWriter, r *http.Request) {
	user, err := s.actor(r)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}

	var req struct {
		ShippingAddress string `json:"shipping_address"`
		PaymentMethod   string `json:"payment_method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := s.checkout.PlaceOrder(r.Context(), user.ID, req.ShippingAddress, req.PaymentMethod)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, order)
}

func (s *apiServer) handleListOrders(w http.ResponseWriter, r *http.Request) {
	user, err := s.actor(r)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	result, err := store.ListOrdersCursor(r.Context(), s.db, user.ID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (s *apiServer) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	user, err := s.actor(r)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order ID")
		return
	}

	order, err := store.GetOrder(r.Context(), s.db, id)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}

	if !order.AccessibleBy(user) {
		s.respondFailure(w, r, database.ErrForbidden)
		return
	}

	respondJSON(w, http.StatusOK, order)
}

func (s *apiServer) handleSetOrderStatus(w http.ResponseWriter, r *http.Request) {
	if _, err := s.admin(r); err != nil {
		s.respondFailure(w, r, err)
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order ID")
		return
	}

	var req struct {
		Status models.OrderStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := store.SetOrderStatus(r.Context(), s.db, id, req.Status); err != nil {
		s.respondFailure(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) respondFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		s.log.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		respondError(w, status, "internal error")
		return
	}

	var stockErr *database.InsufficientStockError
	if errors.As(err, &stockErr) {
		respondJSON(w, status, map[string]interface{}{
			"error":      "insufficient stock",
			"product_id": stockErr.ProductID,
			"size":       stockErr.Size,
			"available":  stockErr.Available,
		})
		return
	}

	respondError(w, status, err.Error())
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, database.ErrInvalidQuantity),
		errors.Is(err, database.ErrInvalidAddress):
		return http.StatusBadRequest
	case errors.Is(err, database.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, database.ErrUserNotFound),
		errors.Is(err, database.ErrProductNotFound),
		errors.Is(err, database.ErrVariantNotFound),
		errors.Is(err, database.ErrCartLineNotFound),
		errors.Is(err, database.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, database.ErrInsufficientStock),
		errors.Is(err, database.ErrInvalidStatusTransition),
		errors.Is(err, database.ErrOrderExists):
		return http.StatusConflict
	case errors.Is(err, database.ErrEmptyCart):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encode JSON response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
