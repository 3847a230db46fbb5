package procurement

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Handler exposes purchase order endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a procurement handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers purchase order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Post("/submit", h.submit)
		r.Post("/approve", h.approve)
		r.Post("/order", h.act(h.service.MarkOrdered))
		r.Post("/receive", h.act(h.service.Receive))
		r.Post("/cancel", h.act(h.service.Cancel))
	})
}

type itemRequest struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	VariantID int64           `json:"variant_id" validate:"gte=0"`
	Quantity  int64           `json:"quantity" validate:"required,gt=0"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

type createRequest struct {
	Number     string        `json:"number" validate:"max=64"`
	SupplierID int64         `json:"supplier_id" validate:"required,gt=0"`
	LocationID int64         `json:"location_id" validate:"required,gt=0"`
	Note       string        `json:"note" validate:"max=500"`
	Items      []itemRequest `json:"items" validate:"required,min=1,dive"`
}

type noteRequest struct {
	Note string `json:"note" validate:"max=500"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{Status: POStatus(r.URL.Query().Get("status"))}
	var err error
	if filter.SupplierID, err = httpx.QueryInt64(r, "supplier_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.LocationID, err = httpx.QueryInt64(r, "location_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, _ := httpx.QueryInt64(r, "page")
	perPage, _ := httpx.QueryInt64(r, "per_page")
	filter.Page, filter.PerPage = int(page), int(perPage)
	orders, pagination, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if orders == nil {
		orders = []PurchaseOrder{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": orders, "pagination": pagination})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := CreateInput{
		Number:         req.Number,
		SupplierID:     req.SupplierID,
		LocationID:     req.LocationID,
		Note:           req.Note,
		ActorID:        shared.ActorFromContext(r.Context()),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, ItemInput{ProductID: it.ProductID, VariantID: it.VariantID, Quantity: it.Quantity, UnitCost: it.UnitCost})
	}
	po, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	po, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	h.withNote(w, r, h.service.Submit)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.withNote(w, r, h.service.Approve)
}

func (h *Handler) withNote(w http.ResponseWriter, r *http.Request, fn func(context.Context, int64, int64, string) (PurchaseOrder, error)) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req noteRequest
	if err := httpx.BindOptional(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := fn(r.Context(), id, shared.ActorFromContext(r.Context()), req.Note)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) act(fn func(context.Context, int64, int64) (PurchaseOrder, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.pathID(w, r)
		if !ok {
			return
		}
		po, err := fn(r.Context(), id, shared.ActorFromContext(r.Context()))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, po)
	}
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: invalid purchase order id", shared.ErrValidation))
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if shared.KindOf(err) == shared.KindUnknown {
		h.logger.Error("procurement request", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
