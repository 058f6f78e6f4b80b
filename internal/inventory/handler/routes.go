package handler

import (
	"github.com/go-chi/chi/v5"
)

// Handlers groups every inventory handler for route registration
type Handlers struct {
	Batches     *BatchHandler
	Stock       *StockHandler
	Adjustments *AdjustmentHandler
	Alerts      *AlertHandler
}

// Routes mounts the inventory API under /api/v1/inventory
func (h *Handlers) Routes(r chi.Router) {
	r.Route("/api/v1/inventory", func(r chi.Router) {
		r.Route("/medicines/{id}", func(r chi.Router) {
			r.Get("/batches", h.Batches.ListByMedicine)
			r.Post("/batches", h.Batches.Create)
			r.Post("/deduct", h.Stock.Deduct)
			r.Get("/availability", h.Stock.Availability)
			r.Get("/consumption", h.Stock.Consumption)
			r.Get("/consumption/monthly", h.Stock.MonthlyConsumption)
			r.Get("/turnover", h.Stock.Turnover)
			r.Get("/analytics", h.Stock.Analytics)
		})

		r.Route("/batches", func(r chi.Router) {
			r.Get("/expiring", h.Batches.Expiring)
			r.Post("/expire-scan", h.Batches.ExpireScan)
			r.Get("/by-number/{number}", h.Batches.GetByNumber)
			r.Get("/{id}", h.Batches.Get)
			r.Post("/{id}/deactivate", h.Batches.Deactivate)
			r.Post("/{id}/adjustments", h.Adjustments.Create)
		})

		r.Get("/adjustments", h.Adjustments.List)
		r.Post("/adjustments/{id}/approve", h.Adjustments.Approve)

		r.Get("/alerts", h.Alerts.List)
		r.Post("/alerts/check", h.Alerts.Check)
		r.Put("/alerts/{id}/acknowledge", h.Alerts.Acknowledge)
		r.Put("/alerts/{id}/resolve", h.Alerts.Resolve)

		r.Get("/reorder-recommendations", h.Stock.ReorderRecommendations)
		r.Route("/analytics", func(r chi.Router) {
			r.Get("/high-demand", h.Stock.HighDemand)
			r.Get("/slow-moving", h.Stock.SlowMoving)
			r.Get("/stockouts", h.Stock.Stockouts)
		})
	})
}
