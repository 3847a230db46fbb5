package returns

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Handler exposes return and exchange endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a returns handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers return routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Post("/approve", h.approve)
		r.Post("/reject", h.reject)
		r.Post("/process", h.process)
	})
}

type createRequest struct {
	Number       string           `json:"number" validate:"max=64"`
	Type         Type             `json:"type" validate:"required,oneof=RETURN EXCHANGE"`
	LocationID   int64            `json:"location_id" validate:"required,gt=0"`
	Reason       string           `json:"reason" validate:"required,max=500"`
	RefundAmount *decimal.Decimal `json:"refund_amount"`
	RefundMethod RefundMethod     `json:"refund_method" validate:"omitempty,oneof=CASH CARD STORE_CREDIT ORIGINAL_PAYMENT"`
	Items        []struct {
		ProductID int64           `json:"product_id" validate:"required,gt=0"`
		VariantID int64           `json:"variant_id" validate:"gte=0"`
		Quantity  int64           `json:"quantity" validate:"required,gt=0"`
		UnitPrice decimal.Decimal `json:"unit_price"`
		Condition Condition       `json:"condition" validate:"required,oneof=NEW USED DAMAGED DEFECTIVE"`
	} `json:"items" validate:"required,min=1,dive"`
	Replacements []struct {
		ProductID int64 `json:"product_id" validate:"required,gt=0"`
		VariantID int64 `json:"variant_id" validate:"gte=0"`
		Quantity  int64 `json:"quantity" validate:"required,gt=0"`
	} `json:"replacements" validate:"dive"`
}

type decisionRequest struct {
	Note string `json:"note" validate:"max=500"`
}

type processRequest struct {
	ReturnToStock bool `json:"return_to_stock"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Status: Status(q.Get("status")), Type: Type(q.Get("type"))}
	var err error
	if filter.LocationID, err = httpx.QueryInt64(r, "location_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, _ := httpx.QueryInt64(r, "page")
	perPage, _ := httpx.QueryInt64(r, "per_page")
	filter.Page, filter.PerPage = int(page), int(perPage)
	out, pagination, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if out == nil {
		out = []Return{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": out, "pagination": pagination})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := CreateInput{
		Number:         req.Number,
		Type:           req.Type,
		LocationID:     req.LocationID,
		Reason:         req.Reason,
		RefundAmount:   req.RefundAmount,
		RefundMethod:   req.RefundMethod,
		ActorID:        shared.ActorFromContext(r.Context()),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, ItemInput{ProductID: it.ProductID, VariantID: it.VariantID, Quantity: it.Quantity,
			UnitPrice: it.UnitPrice, Condition: it.Condition})
	}
	for _, rp := range req.Replacements {
		in.Replacements = append(in.Replacements, ReplacementInput{ProductID: rp.ProductID, VariantID: rp.VariantID, Quantity: rp.Quantity})
	}
	ret, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ret)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	ret, err := h.service.Get(r.Context(), id)
	h.respond(w, r, ret, err)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req decisionRequest
	if err := httpx.BindOptional(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ret, err := h.service.Approve(r.Context(), id, shared.ActorFromContext(r.Context()), req.Note)
	h.respond(w, r, ret, err)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req decisionRequest
	if err := httpx.BindOptional(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ret, err := h.service.Reject(r.Context(), id, shared.ActorFromContext(r.Context()), req.Note)
	h.respond(w, r, ret, err)
}

func (h *Handler) process(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req processRequest
	if err := httpx.BindOptional(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ret, err := h.service.Process(r.Context(), id, shared.ActorFromContext(r.Context()), req.ReturnToStock)
	h.respond(w, r, ret, err)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, ret Return, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ret)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: invalid return id", shared.ErrValidation))
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if shared.KindOf(err) == shared.KindUnknown {
		h.logger.Error("return request", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
