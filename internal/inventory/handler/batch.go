package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/medflow/pharmacy-inventory/internal/inventory/service"
	"github.com/medflow/pharmacy-inventory/pkg/errors"
	"github.com/medflow/pharmacy-inventory/pkg/httputil"
	"github.com/medflow/pharmacy-inventory/pkg/logger"
)

// BatchHandler handles batch registry endpoints
type BatchHandler struct {
	service *service.BatchService
	logger  *logger.Logger
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(svc *service.BatchService, log *logger.Logger) *BatchHandler {
	return &BatchHandler{
		service: svc,
		logger:  log,
	}
}

// ListByMedicine lists the batches of a medicine
func (h *BatchHandler) ListByMedicine(w http.ResponseWriter, r *http.Request) {
	medicineID, err := idParam(r, "id")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	includeExpired := r.URL.Query().Get("include_expired") == "true"
	batches, err := h.service.GetBatchesForMedicine(r.Context(), medicineID, includeExpired)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, batches)
}

// Create receives a new batch for a medicine
func (h *BatchHandler) Create(w http.ResponseWriter, r *http.Request) {
	medicineID, err := idParam(r, "id")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	staff, err := optionalStaffID(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var req service.CreateBatchInput
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	req.MedicineID = medicineID
	req.StaffID = staff

	batch, err := h.service.CreateBatch(r.Context(), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, batch)
}

// Get returns a batch with its inventory record
func (h *BatchHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	details, err := h.service.GetBatch(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, details)
}

// GetByNumber looks a batch up by lot number, optionally scoped with ?medicine_id=
func (h *BatchHandler) GetByNumber(w http.ResponseWriter, r *http.Request) {
	medicineID := r.URL.Query().Get("medicine_id")
	if medicineID != "" {
		if _, err := uuid.Parse(medicineID); err != nil {
			httputil.Error(w, errors.InvalidArgument("medicine_id", "must be a valid UUID"))
			return
		}
	}

	details, err := h.service.GetBatchByNumber(r.Context(), chi.URLParam(r, "number"), medicineID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, details)
}

type deactivateRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// Deactivate withdraws a batch from dispensing
func (h *BatchHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var req deactivateRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	batch, err := h.service.Deactivate(r.Context(), id, req.Reason)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, batch)
}

// Expiring lists batches expiring within ?days= (default 30)
func (h *BatchHandler) Expiring(w http.ResponseWriter, r *http.Request) {
	days, err := intQuery(r, "days", 30)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	batches, err := h.service.GetExpiringSoon(r.Context(), days)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, batches)
}

// ExpireScan runs the expiry scan now. Per-batch failures are logged by the
// service and reported here only as an incomplete scan.
func (h *BatchHandler) ExpireScan(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.ScanExpiredNow(r.Context())
	if err != nil {
		h.logger.Warn().Err(err).Int("expired", count).Msg("manual expiry scan incomplete")
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{
		"expired":  count,
		"complete": err == nil,
	})
}
