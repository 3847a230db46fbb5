package app

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// ApprovalLister is satisfied by *shared.ApprovalRecorder.
type ApprovalLister interface {
	List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error)
}

// approvalModules maps URL segments to the module names workflows record under.
var approvalModules = map[string]string{
	"purchase-orders": "procurement",
	"transfers":       "transfers",
	"returns":         "returns",
}

// ApprovalsHandler serves the approval history of workflow orders.
type ApprovalsHandler struct {
	lister ApprovalLister
	logger *slog.Logger
}

// NewApprovalsHandler builds the handler.
func NewApprovalsHandler(lister ApprovalLister, logger *slog.Logger) *ApprovalsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApprovalsHandler{lister: lister, logger: logger}
}

// MountRoutes registers GET /{workflow}/{id}.
func (h *ApprovalsHandler) MountRoutes(r chi.Router) {
	r.Get("/{workflow}/{id}", h.list)
}

type approvalResponse struct {
	ActorID int64     `json:"actor_id"`
	Action  string    `json:"action"`
	Note    string    `json:"note,omitempty"`
	At      time.Time `json:"at"`
}

func (h *ApprovalsHandler) list(w http.ResponseWriter, r *http.Request) {
	module, ok := approvalModules[chi.URLParam(r, "workflow")]
	if !ok {
		httpx.ProblemKind(w, http.StatusNotFound, "Not Found", "unknown workflow", shared.KindNotFound)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.ProblemKind(w, http.StatusBadRequest, "Validation Failed", "id must be a positive integer", shared.KindValidation)
		return
	}
	logs, err := h.lister.List(r.Context(), module, shared.ApprovalRef(module, id))
	if err != nil {
		h.logger.Error("list approvals", slog.String("module", module), slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]approvalResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, approvalResponse{ActorID: l.ActorID, Action: string(l.Action), Note: l.Note, At: l.At})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"approvals": out})
}
