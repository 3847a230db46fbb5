package inventory

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/stock", h.handleGetStock)
	r.Put("/stock/thresholds", h.handleThresholds)
	r.Get("/products/{productID}/stock", h.handleProductStock)
	r.Get("/entries", h.handleEntries)
	r.Get("/verify", h.handleVerify)
	r.Post("/adjustments", h.handleAdjustment)
	r.Post("/counts", h.handleCount)
}

type keyRequest struct {
	LocationID int64 `json:"location_id" validate:"required,gt=0"`
	ProductID  int64 `json:"product_id" validate:"required,gt=0"`
	VariantID  int64 `json:"variant_id" validate:"gte=0"`
}

func (k keyRequest) key() StockKey {
	return StockKey{LocationID: k.LocationID, ProductID: k.ProductID, VariantID: k.VariantID}
}

type adjustmentRequest struct {
	keyRequest
	Quantity int64  `json:"quantity" validate:"required"`
	Reason   Reason `json:"reason" validate:"omitempty,oneof=DAMAGE CORRECTION"`
	Note     string `json:"note" validate:"max=500"`
}

type countRequest struct {
	keyRequest
	Counted int64  `json:"counted" validate:"gte=0"`
	Note    string `json:"note" validate:"max=500"`
}

type thresholdRequest struct {
	keyRequest
	MinStock int64 `json:"min_stock" validate:"gte=0"`
	MaxStock int64 `json:"max_stock" validate:"gte=0"`
}

type stockView struct {
	LocationStock
	Available int64 `json:"available"`
	BelowMin  bool  `json:"below_min"`
}

func viewOf(s LocationStock) stockView {
	return stockView{LocationStock: s, Available: s.Available(), BelowMin: s.BelowMin()}
}

func queryKey(r *http.Request) (StockKey, error) {
	var key StockKey
	var err error
	if key.LocationID, err = httpx.QueryInt64(r, "location_id"); err != nil {
		return key, err
	}
	if key.ProductID, err = httpx.QueryInt64(r, "product_id"); err != nil {
		return key, err
	}
	if key.VariantID, err = httpx.QueryInt64(r, "variant_id"); err != nil {
		return key, err
	}
	return key, nil
}

func (h *Handler) handleGetStock(w http.ResponseWriter, r *http.Request) {
	key, err := queryKey(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	stock, err := h.service.Get(r.Context(), key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, viewOf(stock))
}

func (h *Handler) handleProductStock(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid product id", shared.ErrValidation))
		return
	}
	agg, err := h.service.ProductStock(r.Context(), productID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, agg)
}

func (h *Handler) handleEntries(w http.ResponseWriter, r *http.Request) {
	key, err := queryKey(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := EntryFilter{Key: key}
	q := r.URL.Query()
	if from := q.Get("from"); from != "" {
		if filter.From, err = time.Parse("2006-01-02", from); err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: from must be YYYY-MM-DD", shared.ErrValidation))
			return
		}
	}
	if to := q.Get("to"); to != "" {
		parsed, err := time.Parse("2006-01-02", to)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: to must be YYYY-MM-DD", shared.ErrValidation))
			return
		}
		filter.To = parsed.Add(24*time.Hour - time.Nanosecond)
	}
	if limit, err := httpx.QueryInt64(r, "limit"); err == nil {
		filter.Limit = int(limit)
	}
	entries, err := h.service.Entries(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []LedgerEntry{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": entries})
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	key, err := queryKey(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Verify(r.Context(), key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"result": result, "ok": result.OK()})
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.Adjust(r.Context(), AdjustInput{
		Key:      req.key(),
		Quantity: req.Quantity,
		Reason:   req.Reason,
		ActorID:  shared.ActorFromContext(r.Context()),
		Note:     req.Note,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) handleCount(w http.ResponseWriter, r *http.Request) {
	var req countRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, recorded, err := h.service.Count(r.Context(), CountInput{
		Key:     req.key(),
		Counted: req.Counted,
		ActorID: shared.ActorFromContext(r.Context()),
		Note:    req.Note,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !recorded {
		httpx.JSON(w, http.StatusOK, map[string]any{"recorded": false})
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"recorded": true, "entry": entry})
}

func (h *Handler) handleThresholds(w http.ResponseWriter, r *http.Request) {
	var req thresholdRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	stock, err := h.service.SetThresholds(r.Context(), req.key(), req.MinStock, req.MaxStock)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, viewOf(stock))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if shared.KindOf(err) == shared.KindUnknown {
		h.logger.Error("inventory request", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
