package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/go-retail-orders/internal/orders"
	"github.com/ariefcatur/go-retail-orders/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderService is the part of orders.Service the handlers call.
type OrderService interface {
	CreateOrder(ctx context.Context, in orders.CreateOrderInput) (*orders.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*orders.Order, error)
	ListOrders(ctx context.Context, f orders.ListFilter) ([]*orders.Order, error)
	UpdateOrder(ctx context.Context, id uuid.UUID, in orders.UpdateOrderInput) (*orders.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, to orders.Status) (*orders.Order, error)
	DeleteOrders(ctx context.Context, ids []uuid.UUID) error
	MarkReceiptReceived(ctx context.Context, id uuid.UUID) (*orders.Order, error)
	SetArchived(ctx context.Context, id uuid.UUID, archived bool) (*orders.Order, error)
}

type StatusReader interface {
	Get(ctx context.Context, orderID uuid.UUID) (redisx.CachedStatus, bool, error)
}

type OrdersHandler struct {
	Svc   OrderService
	Cache StatusReader // optional
	Log   *zap.Logger
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

type statusReq struct {
	Status string `json:"status" validate:"required"`
}

type deleteReq struct {
	IDs []uuid.UUID `json:"ids" validate:"required,min=1"`
}

type archiveReq struct {
	Archived bool `json:"archived"`
}

const HeaderIdempotencyKey = "Idempotency-Key"

func (h *OrdersHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(WithPrincipal)
		r.Post("/orders", h.createOrder)
		r.Get("/orders", h.listOrders)
		r.Delete("/orders", h.deleteOrders)
		r.Get("/orders/{id}", h.getOrder)
		r.Get("/orders/{id}/status", h.getStatus)
		r.Patch("/orders/{id}", h.updateOrder)
		r.Patch("/orders/{id}/status", h.updateStatus)
		r.Post("/orders/{id}/receipt", h.markReceipt)
		r.Patch("/orders/{id}/archive", h.setArchived)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the order error taxonomy onto HTTP status codes.
func (h *OrdersHandler) writeError(w http.ResponseWriter, err error) {
	var (
		ve  *orders.ValidationError
		ise *orders.InsufficientStockError
		te  *orders.InvalidStateTransitionError
		nd  *orders.NotDeletableError
		fe  *orders.ForbiddenError
		pe  *orders.PersistenceError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Field: ve.Field})
	case errors.As(err, &ise):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, orders.ErrStatusChanged), errors.Is(err, orders.ErrRequestInFlight):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.As(err, &te), errors.As(err, &nd):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error()})
	case errors.As(err, &fe):
		writeJSON(w, http.StatusForbidden, errorBody{Error: err.Error()})
	case errors.Is(err, orders.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	case errors.As(err, &pe):
		h.log().Error("order persistence failed", zap.String("op", pe.Op), zap.Error(pe.Err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "could not save order, stock was released"})
	default:
		h.log().Error("order request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func (h *OrdersHandler) log() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	return v
}()

// decode reads a JSON body into v and checks its validate tags.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return false
	}
	var verrs validator.ValidationErrors
	if err := validate.Struct(v); errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		writeJSON(w, http.StatusBadRequest, errorBody{Error: fe.Field() + " failed " + fe.Tag(), Field: fe.Field()})
		return false
	}
	return true
}

func orderID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid order id", Field: "id"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var in orders.CreateOrderInput
	if !decode(w, r, &in) {
		return
	}
	if p, ok := PrincipalFrom(r.Context()); ok {
		in.CreatedBy = p.UserID
	}
	in.IdempotencyKey = r.Header.Get(HeaderIdempotencyKey)

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	o, err := h.Svc.CreateOrder(ctx, in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := orders.ListFilter{Status: orders.Status(q.Get("status"))}
	if v := q.Get("archived"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid archived flag", Field: "archived"})
			return
		}
		f.Archived = &b
	}
	if q.Get("mine") == "true" {
		if p, ok := PrincipalFrom(r.Context()); ok {
			f.CreatedBy = &p.UserID
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid limit", Field: "limit"})
			return
		}
		f.Limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Svc.ListOrders(ctx, f)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if list == nil {
		list = []*orders.Order{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Svc.GetOrder(ctx, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// getStatus serves from the status cache and falls back to the store.
func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.Cache != nil {
		cs, hit, err := h.Cache.Get(ctx, id)
		if err != nil {
			h.log().Warn("status cache read failed", zap.Stringer("order_id", id), zap.Error(err))
		}
		if hit {
			writeJSON(w, http.StatusOK, cs)
			return
		}
	}
	o, err := h.Svc.GetOrder(ctx, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, redisx.CachedStatus{
		Status:              o.Status,
		IsArchived:          o.IsArchived,
		NeedsReconciliation: o.NeedsReconciliation,
		UpdatedAt:           o.UpdatedAt,
	})
}

func (h *OrdersHandler) updateOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var in orders.UpdateOrderInput
	if !decode(w, r, &in) {
		return
	}
	o, err := h.Svc.UpdateOrder(r.Context(), id, in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var req statusReq
	if !decode(w, r, &req) {
		return
	}
	to, err := orders.ParseStatus(req.Status)
	if err != nil {
		h.writeError(w, err)
		return
	}
	o, err := h.Svc.UpdateStatus(r.Context(), id, to)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) deleteOrders(w http.ResponseWriter, r *http.Request) {
	var req deleteReq
	if !decode(w, r, &req) {
		return
	}
	if err := h.Svc.DeleteOrders(r.Context(), req.IDs); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrdersHandler) markReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	o, err := h.Svc.MarkReceiptReceived(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) setArchived(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var req archiveReq
	if !decode(w, r, &req) {
		return
	}
	o, err := h.Svc.SetArchived(r.Context(), id, req.Archived)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
