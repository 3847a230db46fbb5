package transfers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Handler exposes transfer endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a transfer handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers transfer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Post("/approve", h.approve)
		r.Post("/unapprove", h.unapprove)
		r.Post("/ship", h.ship)
		r.Post("/receive", h.receive)
		r.Post("/cancel", h.cancel)
	})
}

type createRequest struct {
	Number         string `json:"number" validate:"max=64"`
	FromLocationID int64  `json:"from_location_id" validate:"required,gt=0"`
	ToLocationID   int64  `json:"to_location_id" validate:"required,gt=0"`
	Note           string `json:"note" validate:"max=500"`
	Items          []struct {
		ProductID int64 `json:"product_id" validate:"required,gt=0"`
		VariantID int64 `json:"variant_id" validate:"gte=0"`
		Quantity  int64 `json:"quantity" validate:"required,gt=0"`
	} `json:"items" validate:"required,min=1,dive"`
}

type noteRequest struct {
	Note string `json:"note" validate:"max=500"`
}

type linesRequest struct {
	Lines []Line `json:"lines" validate:"dive"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{Status: Status(r.URL.Query().Get("status"))}
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
		out = []Transfer{}
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
		FromLocationID: req.FromLocationID,
		ToLocationID:   req.ToLocationID,
		Note:           req.Note,
		ActorID:        shared.ActorFromContext(r.Context()),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, ItemInput{ProductID: it.ProductID, VariantID: it.VariantID, Quantity: it.Quantity})
	}
	t, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, t)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	t, err := h.service.Get(r.Context(), id)
	h.respond(w, r, t, err)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req noteRequest
	if err := httpx.BindOptional(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	t, err := h.service.Approve(r.Context(), id, shared.ActorFromContext(r.Context()), req.Note)
	h.respond(w, r, t, err)
}

func (h *Handler) unapprove(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req noteRequest
	if err := httpx.BindOptional(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	t, err := h.service.Unapprove(r.Context(), id, shared.ActorFromContext(r.Context()), req.Note)
	h.respond(w, r, t, err)
}

func (h *Handler) ship(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req linesRequest
	if err := httpx.BindOptional(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	t, err := h.service.Ship(r.Context(), id, shared.ActorFromContext(r.Context()), req.Lines)
	h.respond(w, r, t, err)
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req linesRequest
	if err := httpx.BindOptional(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	t, err := h.service.Receive(r.Context(), id, shared.ActorFromContext(r.Context()), req.Lines)
	h.respond(w, r, t, err)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	t, err := h.service.Cancel(r.Context(), id, shared.ActorFromContext(r.Context()))
	h.respond(w, r, t, err)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, t Transfer, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: invalid transfer id", shared.ErrValidation))
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if shared.KindOf(err) == shared.KindUnknown {
		h.logger.Error("transfer request", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
