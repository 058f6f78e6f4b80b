package handler

import (
	"net/http"

	"github.com/medflow/pharmacy-inventory/internal/inventory/repository"
	"github.com/medflow/pharmacy-inventory/internal/inventory/service"
	"github.com/medflow/pharmacy-inventory/pkg/httputil"
	"github.com/medflow/pharmacy-inventory/pkg/logger"
)

// AlertHandler handles alert endpoints
type AlertHandler struct {
	evaluator *service.AlertEvaluator
	logger    *logger.Logger
}

// NewAlertHandler creates a new alert handler
func NewAlertHandler(evaluator *service.AlertEvaluator, log *logger.Logger) *AlertHandler {
	return &AlertHandler{
		evaluator: evaluator,
		logger:    log,
	}
}

// List lists alerts. Only active ones unless include_resolved=true.
func (h *AlertHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	alerts, err := h.evaluator.ListAlerts(r.Context(), repository.AlertFilter{
		MedicineID:      q.Get("medicine_id"),
		AlertType:       repository.AlertType(q.Get("type")),
		Acknowledged:    boolQuery(r, "acknowledged"),
		IncludeResolved: q.Get("include_resolved") == "true",
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, alerts)
}

// Check runs an alert sweep and returns the alerts it created
func (h *AlertHandler) Check(w http.ResponseWriter, r *http.Request) {
	created, err := h.evaluator.CheckAllAlerts(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}
	if created == nil {
		created = []*repository.StockAlert{}
	}

	httputil.JSON(w, http.StatusOK, created)
}

// Acknowledge acknowledges an alert
func (h *AlertHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
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

	alert, err := h.evaluator.AcknowledgeAlert(r.Context(), id, staff)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, alert)
}

// Resolve closes an alert
func (h *AlertHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	alert, err := h.evaluator.ResolveAlert(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, alert)
}
