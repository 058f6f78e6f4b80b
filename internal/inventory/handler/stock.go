package handler

import (
	"net/http"

	"github.com/medflow/pharmacy-inventory/internal/inventory/service"
	"github.com/medflow/pharmacy-inventory/pkg/errors"
	"github.com/medflow/pharmacy-inventory/pkg/httputil"
	"github.com/medflow/pharmacy-inventory/pkg/logger"
)

// StockHandler handles deduction, availability and analytics endpoints
type StockHandler struct {
	engine    *service.FEFOEngine
	analytics *service.AnalyticsService
	logger    *logger.Logger
}

// NewStockHandler creates a new stock handler
func NewStockHandler(engine *service.FEFOEngine, analytics *service.AnalyticsService, log *logger.Logger) *StockHandler {
	return &StockHandler{
		engine:    engine,
		analytics: analytics,
		logger:    log,
	}
}

// DeductResponse is the body returned by a successful deduction
type DeductResponse struct {
	MedicineID string                   `json:"medicine_id"`
	Quantity   int                      `json:"quantity"`
	Batches    []service.BatchDeduction `json:"batches"`
}

// Deduct dispenses stock using FEFO
func (h *StockHandler) Deduct(w http.ResponseWriter, r *http.Request) {
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

	var req service.DeductRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	req.MedicineID = medicineID
	req.StaffID = staff

	trail, err := h.engine.DeductFEFO(r.Context(), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, DeductResponse{
		MedicineID: medicineID,
		Quantity:   req.Quantity,
		Batches:    trail,
	})
}

// Availability answers whether ?quantity= units could be dispensed now
func (h *StockHandler) Availability(w http.ResponseWriter, r *http.Request) {
	medicineID, err := idParam(r, "id")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	quantity, err := intQuery(r, "quantity", 0)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	if quantity <= 0 {
		httputil.Error(w, errors.InvalidArgument("quantity", "must be positive"))
		return
	}

	ok, err := h.engine.ValidateAvailability(r.Context(), medicineID, quantity)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{
		"medicine_id": medicineID,
		"quantity":    quantity,
		"available":   ok,
	})
}

// Consumption returns daily sold quantities and the daily average over ?days=
func (h *StockHandler) Consumption(w http.ResponseWriter, r *http.Request) {
	medicineID, err := idParam(r, "id")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	days, err := intQuery(r, "days", 30)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	history, err := h.analytics.ConsumptionHistory(r.Context(), medicineID, days)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	average, err := h.analytics.DailyAverageConsumption(r.Context(), medicineID, days)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{
		"medicine_id":   medicineID,
		"days":          days,
		"history":       history,
		"daily_average": average,
	})
}

// ReorderRecommendations lists medicines that should be restocked
func (h *StockHandler) ReorderRecommendations(w http.ResponseWriter, r *http.Request) {
	recs, err := h.analytics.ReorderRecommendations(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, recs)
}

// HighDemand ranks medicines by units sold over the last 30 days, top ?limit= (default 10)
func (h *StockHandler) HighDemand(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", 0)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	sales, err := h.analytics.HighDemandMedicines(r.Context(), limit)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, sales)
}

// SlowMoving lists medicines with little or no demand over ?days= (default 90)
func (h *StockHandler) SlowMoving(w http.ResponseWriter, r *http.Request) {
	days, err := intQuery(r, "days", 0)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	movers, err := h.analytics.SlowMovingMedicines(r.Context(), days)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, movers)
}

// Stockouts counts sell-outs per medicine over ?days= (default 90)
func (h *StockHandler) Stockouts(w http.ResponseWriter, r *http.Request) {
	days, err := intQuery(r, "days", 0)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	summaries, err := h.analytics.StockoutAnalysis(r.Context(), days)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, summaries)
}

// Turnover returns the medicine's yearly turnover ratio
func (h *StockHandler) Turnover(w http.ResponseWriter, r *http.Request) {
	medicineID, err := idParam(r, "id")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	ratio, err := h.analytics.InventoryTurnoverRatio(r.Context(), medicineID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{
		"medicine_id":    medicineID,
		"turnover_ratio": ratio,
	})
}

// MonthlyConsumption returns sold units per month over ?months= (default 6)
func (h *StockHandler) MonthlyConsumption(w http.ResponseWriter, r *http.Request) {
	medicineID, err := idParam(r, "id")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	months, err := intQuery(r, "months", 0)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	trend, err := h.analytics.MonthlyConsumptionTrend(r.Context(), medicineID, months)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{
		"medicine_id": medicineID,
		"trend":       trend,
	})
}

// Analytics exports every consumption figure for one medicine
func (h *StockHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	medicineID, err := idParam(r, "id")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	report, err := h.analytics.ExportMedicine(r.Context(), medicineID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, report)
}
