package handler

import (
	"net/http"

	"github.com/medflow/pharmacy-inventory/internal/inventory/repository"
	"github.com/medflow/pharmacy-inventory/internal/inventory/service"
	"github.com/medflow/pharmacy-inventory/pkg/httputil"
	"github.com/medflow/pharmacy-inventory/pkg/logger"
)

// AdjustmentHandler handles stock adjustment endpoints
type AdjustmentHandler struct {
	service *service.AdjustmentService
	logger  *logger.Logger
}

// NewAdjustmentHandler creates a new adjustment handler
func NewAdjustmentHandler(svc *service.AdjustmentService, log *logger.Logger) *AdjustmentHandler {
	return &AdjustmentHandler{
		service: svc,
		logger:  log,
	}
}

type adjustmentRequest struct {
	Type       string `json:"type" validate:"required,oneof=damaged expired waste correction returned"`
	MedicineID string `json:"medicine_id" validate:"required,uuid"`
	Quantity   int    `json:"quantity" validate:"required"`
	Reason     string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

// Create applies an adjustment to a batch
func (h *AdjustmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	batchID, err := idParam(r, "id")
	if err != nil {
		httputil.Error(w, err)
		return
	}
	staff, err := staffID(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var req adjustmentRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	adj, err := h.service.Adjust(r.Context(), repository.AdjustmentType(req.Type), service.AdjustmentInput{
		MedicineID: req.MedicineID,
		BatchID:    batchID,
		Quantity:   req.Quantity,
		StaffID:    staff,
		Reason:     req.Reason,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, adj)
}

// List returns adjustment history filtered by medicine_id, batch_id, type and since
func (h *AdjustmentHandler) List(w http.ResponseWriter, r *http.Request) {
	since, err := timeQuery(r, "since")
	if err != nil {
		httputil.Error(w, err)
		return
	}
	page, perPage := pagination(r)

	q := r.URL.Query()
	adjustments, err := h.service.GetAdjustmentHistory(r.Context(), repository.AdjustmentFilter{
		MedicineID: q.Get("medicine_id"),
		BatchID:    q.Get("batch_id"),
		Type:       repository.AdjustmentType(q.Get("type")),
		Since:      since,
		Limit:      perPage,
		Offset:     (page - 1) * perPage,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, adjustments, &httputil.Meta{
		Page:    page,
		PerPage: perPage,
	})
}

// Approve records the caller as approver of an adjustment
func (h *AdjustmentHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		httputil.Error(w, err)
		return
	}
	staff, err := staffID(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	adj, err := h.service.ApproveAdjustment(r.Context(), id, staff)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, adj)
}
