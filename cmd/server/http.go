package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"caravan/internal/observability"
	"caravan/internal/orders"
	"caravan/internal/realtime"
)

type api struct {
	orders   *orders.Service
	hub      *realtime.Hub
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
	logf     func(format string, args ...any)
}

func newAPI(orderSvc *orders.Service, hub *realtime.Hub, metrics *observability.Metrics) *api {
	return &api{
		orders:  orderSvc,
		hub:     hub,
		metrics: metrics,
		logf:    log.Printf,
	}
}

func (a *api) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/orders", a.handleCreateOrder)
	mux.HandleFunc("GET /api/v1/orders/{id}", a.handleGetOrder)
	mux.HandleFunc("GET /healthz", a.handleHealthz)
	mux.Handle("GET /metrics", observability.Handler(a.metrics))
	mux.HandleFunc("GET /ws/events", a.handleEventFeed)
	return mux
}

type createOrderRequest struct {
	SKU      string  `json:"sku"`
	Quantity int     `json:"quantity"`
	Amount   float64 `json:"amount"`
}

type orderResponse struct {
	ID        string    `json:"id"`
	SKU       string    `json:"sku"`
	Quantity  int       `json:"quantity"`
	Amount    float64   `json:"amount"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toOrderResponse(o orders.Order) orderResponse {
	return orderResponse{
		ID:        o.ID,
		SKU:       o.SKU,
		Quantity:  o.Quantity,
		Amount:    o.Amount,
		Status:    string(o.Status),
		Reason:    o.Reason,
		CreatedAt: o.CreatedAt,
	}
}

func (a *api) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	order, err := a.orders.CreateOrder(r.Context(), orders.CreateOrderRequest{
		SKU:            req.SKU,
		Quantity:       req.Quantity,
		Amount:         req.Amount,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	switch {
	case errors.Is(err, orders.ErrIdempotencyKeyRequired),
		errors.Is(err, orders.ErrSKURequired),
		errors.Is(err, orders.ErrInvalidQuantity),
		errors.Is(err, orders.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		a.logf("http: create order: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (a *api) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := a.orders.GetOrder(r.Context(), r.PathValue("id"))
	if errors.Is(err, orders.ErrNotFound) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		a.logf("http: get order: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (a *api) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleEventFeed upgrades to a WebSocket and streams every published
// saga event to the client until it disconnects.
func (a *api) handleEventFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logf("http: ws upgrade: %v", err)
		return
	}
	a.hub.Attach(conn)

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				a.hub.Detach(conn)
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
