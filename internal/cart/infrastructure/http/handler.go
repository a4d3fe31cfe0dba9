package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/cart-service/internal/cart/application"
	"github.com/dmehra2102/cart-service/internal/cart/domain"
	"github.com/dmehra2102/cart-service/pkg/idempotency"
)

const idempotencyHeader = "Idempotency-Key"

// Deduper claims idempotency keys. It is optional; a nil Deduper disables
// Idempotency-Key handling.
type Deduper interface {
	Key(parts ...string) string
	Begin(ctx context.Context, key string) (idempotency.Entry, bool, error)
	Complete(ctx context.Context, key string, response []byte) error
	Forget(ctx context.Context, key string) error
}

type Handler struct {
	log     *slog.Logger
	service *application.Service
	idem    Deduper
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service, idem Deduper) *Handler {
	return &Handler{
		log:     log,
		service: service,
		idem:    idem,
		tracer:  otel.Tracer("cart-http"),
	}
}

type quantityReq struct {
	Quantity *int `json:"quantity"`
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.index)
	r.Get("/health", h.health)
	r.Route("/cart", func(r chi.Router) {
		r.Get("/", h.listCarts)
		r.Post("/", h.createCart)
		r.Get("/{customerId}", h.getCart)
		r.Post("/{customerId}/items", h.addItem)
		r.Delete("/{customerId}/items", h.clearCart)
		r.Put("/{customerId}/items/{productId}", h.updateQuantity)
		r.Delete("/{customerId}/items/{productId}", h.removeItem)
	})

	return r
}

func (h *Handler) index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"name": "Cart API", "version": "1.0.0"})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	res := h.service.Health(r.Context())
	status := http.StatusOK
	if !res.Up() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

func (h *Handler) listCarts(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListCarts")
	defer span.End()

	carts := []*domain.Cart{}
	for c, err := range h.service.List(ctx) {
		if err != nil {
			h.fail(w, "list carts", err)
			return
		}
		carts = append(carts, c)
	}
	writeJSON(w, http.StatusOK, carts)
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerId")
	ctx, span := h.tracer.Start(r.Context(), "GetCart", trace.WithAttributes(attribute.String("customer.id", customerID)))
	defer span.End()

	cart, err := h.service.Get(ctx, customerID)
	if errors.Is(err, application.ErrNotFound) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		h.fail(w, "get cart", err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (h *Handler) createCart(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateCart")
	defer span.End()

	var req application.CartPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid body: "+err.Error())
		return
	}
	span.SetAttributes(attribute.String("customer.id", req.CustomerID))

	if _, err := h.service.CreateOrReplace(ctx, req); err != nil {
		h.fail(w, "create cart", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerId")
	ctx, span := h.tracer.Start(r.Context(), "AddCartItem", trace.WithAttributes(attribute.String("customer.id", customerID)))
	defer span.End()

	var item domain.CartItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid body: "+err.Error())
		return
	}
	span.SetAttributes(attribute.String("product.id", item.ProductID))
	h.log.Info("adding item to cart", "customer_id", customerID, "product_id", item.ProductID, "quantity", item.Quantity)

	if key := r.Header.Get(idempotencyHeader); key != "" && h.idem != nil {
		h.addItemOnce(ctx, w, customerID, key, item)
		return
	}

	h.mutate(ctx, w, "add item", customerID, application.AddItem(item))
}

func (h *Handler) updateQuantity(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerId")
	productID := chi.URLParam(r, "productId")
	ctx, span := h.tracer.Start(r.Context(), "UpdateCartItemQuantity", trace.WithAttributes(
		attribute.String("customer.id", customerID),
		attribute.String("product.id", productID),
	))
	defer span.End()

	var req quantityReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Quantity == nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "body must be {\"quantity\": n}")
		return
	}
	h.log.Info("updating cart item quantity", "customer_id", customerID, "product_id", productID, "quantity", *req.Quantity)
	h.mutate(ctx, w, "update quantity", customerID, application.UpdateItemQuantity(productID, *req.Quantity))
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerId")
	productID := chi.URLParam(r, "productId")
	ctx, span := h.tracer.Start(r.Context(), "RemoveCartItem", trace.WithAttributes(
		attribute.String("customer.id", customerID),
		attribute.String("product.id", productID),
	))
	defer span.End()

	h.log.Info("removing item from cart", "customer_id", customerID, "product_id", productID)
	h.mutate(ctx, w, "remove item", customerID, application.RemoveItem(productID))
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerId")
	ctx, span := h.tracer.Start(r.Context(), "ClearCart", trace.WithAttributes(attribute.String("customer.id", customerID)))
	defer span.End()

	h.log.Info("clearing cart", "customer_id", customerID)
	h.mutate(ctx, w, "clear cart", customerID, application.Clear())
}

func (h *Handler) mutate(ctx context.Context, w http.ResponseWriter, op, customerID string, fn application.Mutation) {
	cart, err := h.service.ApplyMutation(ctx, customerID, fn)
	if err != nil {
		h.fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

// addItemOnce applies an add at most once per Idempotency-Key. A duplicate
// gets the stored response of the first request, or 409 while it is running.
func (h *Handler) addItemOnce(ctx context.Context, w http.ResponseWriter, customerID, key string, item domain.CartItem) {
	claim := h.idem.Key("cart-add", customerID, key)
	entry, claimed, err := h.idem.Begin(ctx, claim)
	if err != nil {
		h.fail(w, "idempotency check", errors.Join(application.ErrStoreUnavailable, err))
		return
	}
	if !claimed {
		if entry.State == idempotency.StateDone && len(entry.Response) > 0 {
			h.log.Info("duplicate add item replayed", "customer_id", customerID, "key", key)
			w.Header().Set("Idempotent-Replayed", "true")
			writeRaw(w, http.StatusOK, entry.Response)
			return
		}
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusConflict, "IN_PROGRESS", "a request with this idempotency key is still in progress")
		return
	}

	// the claim must be settled even if the client has gone away
	settleCtx := context.WithoutCancel(ctx)
	cart, err := h.service.ApplyMutation(ctx, customerID, application.AddItem(item))
	if err == nil {
		var body []byte
		if body, err = json.Marshal(cart); err == nil {
			if cerr := h.idem.Complete(settleCtx, claim, body); cerr != nil {
				h.log.Warn("idempotency completion failed", "key", claim, "err", cerr)
			}
			writeRaw(w, http.StatusOK, body)
			return
		}
	}
	if ferr := h.idem.Forget(settleCtx, claim); ferr != nil {
		h.log.Warn("idempotency release failed", "key", claim, "err", ferr)
	}
	h.fail(w, "add item", err)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status, code := httpStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error(op+" failed", "err", err, "status", status)
	} else {
		h.log.Info(op+" rejected", "err", err, "status", status)
	}
	writeError(w, status, code, err.Error())
}
