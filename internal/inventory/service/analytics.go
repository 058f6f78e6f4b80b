package service

import (
	"context"
	"fmt"

	"github.com/medflow/pharmacy-inventory/internal/inventory/repository"
	"github.com/medflow/pharmacy-inventory/pkg/errors"
	"github.com/medflow/pharmacy-inventory/pkg/logger"
	"github.com/shopspring/decimal"
)

const (
	defaultHistoryDays = 90
	averageWindowDays  = 30
	reorderMultiplier  = 3

	defaultDemandLimit = 10
	maxDemandLimit     = 100
	// a medicine selling fewer units than this over the window is slow moving
	slowMovingBelow    = 5
	turnoverWindowDays = 365
	defaultTrendMonths = 6
	maxTrendMonths     = 60
)

// ReorderRecommendation suggests restocking a medicine that is about to run out
type ReorderRecommendation struct {
	MedicineID       string          `json:"medicine_id"`
	MedicineName     string          `json:"medicine_name"`
	CurrentStock     int             `json:"current_stock"`
	DailyAverage     decimal.Decimal `json:"daily_average"`
	DaysRemaining    decimal.Decimal `json:"days_remaining"`
	ReorderQuantity  int             `json:"reorder_quantity"`
	MinimumThreshold int             `json:"minimum_threshold"`
}

// MedicineAnalytics bundles the per-medicine figures for export
type MedicineAnalytics struct {
	MedicineID    string                          `json:"medicine_id"`
	MedicineName  string                          `json:"medicine_name"`
	CurrentStock  int                             `json:"current_stock"`
	DailyAverage  decimal.Decimal                 `json:"daily_average"`
	TurnoverRatio decimal.Decimal                 `json:"turnover_ratio"`
	MonthlyTrend  []repository.MonthlyConsumption `json:"monthly_trend"`
}

// AnalyticsService derives consumption figures from the stock log
type AnalyticsService struct {
	repos  *repository.Repositories
	opts   Options
	now    Clock
	logger *logger.Logger
}

// NewAnalyticsService creates a new analytics service
func NewAnalyticsService(repos *repository.Repositories, opts Options, log *logger.Logger) *AnalyticsService {
	return &AnalyticsService{
		repos:  repos,
		opts:   opts,
		now:    systemClock,
		logger: log.WithComponent("analytics-service"),
	}
}

// SetClock replaces the time source
func (s *AnalyticsService) SetClock(c Clock) {
	s.now = c
}

// ConsumptionHistory returns daily sold quantities over the last days (90 when zero)
func (s *AnalyticsService) ConsumptionHistory(ctx context.Context, medicineID string, days int) ([]repository.DailyConsumption, error) {
	days, err := windowDays(days, defaultHistoryDays)
	if err != nil {
		return nil, err
	}
	return s.repos.StockLogs.DailySold(ctx, medicineID, s.now().AddDate(0, 0, -days))
}

// DailyAverageConsumption is sold units over the last days (30 when zero) divided by days, to 2 places
func (s *AnalyticsService) DailyAverageConsumption(ctx context.Context, medicineID string, days int) (decimal.Decimal, error) {
	days, err := windowDays(days, averageWindowDays)
	if err != nil {
		return decimal.Zero, err
	}
	total, err := s.repos.StockLogs.TotalSold(ctx, medicineID, s.now().AddDate(0, 0, -days))
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromInt(int64(total)).Div(decimal.NewFromInt(int64(days))).Round(2), nil
}

// ReorderRecommendations lists active medicines whose eligible stock covers
// fewer than the configured number of days at the 30 day average rate
func (s *AnalyticsService) ReorderRecommendations(ctx context.Context) ([]ReorderRecommendation, error) {
	medicines, err := s.repos.Medicines.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	cover := decimal.NewFromInt(int64(s.opts.ReorderCoverDays))
	recs := []ReorderRecommendation{}

	for _, m := range medicines {
		avg, err := s.DailyAverageConsumption(ctx, m.ID, averageWindowDays)
		if err != nil {
			return nil, err
		}
		// no recent demand means unbounded cover
		if !avg.IsPositive() {
			continue
		}

		stock, err := s.repos.Inventory.GetEligibleAvailable(ctx, m.ID, now)
		if err != nil {
			return nil, err
		}

		remaining := decimal.NewFromInt(int64(stock)).Div(avg)
		if remaining.GreaterThanOrEqual(cover) {
			continue
		}

		recs = append(recs, ReorderRecommendation{
			MedicineID:       m.ID,
			MedicineName:     m.Name,
			CurrentStock:     stock,
			DailyAverage:     avg,
			DaysRemaining:    remaining.Round(1),
			ReorderQuantity:  m.MinimumStockThreshold * reorderMultiplier,
			MinimumThreshold: m.MinimumStockThreshold,
		})
	}

	return recs, nil
}

// HighDemandMedicines ranks medicines by units sold over the last 30 days.
// A zero limit means 10; limits above 100 are capped.
func (s *AnalyticsService) HighDemandMedicines(ctx context.Context, limit int) ([]repository.MedicineSales, error) {
	switch {
	case limit < 0:
		return nil, errors.InvalidArgument("limit", "must not be negative")
	case limit == 0:
		limit = defaultDemandLimit
	case limit > maxDemandLimit:
		limit = maxDemandLimit
	}
	return s.repos.StockLogs.TopSold(ctx, s.now().AddDate(0, 0, -averageWindowDays), limit)
}

// SlowMovingMedicines lists active medicines that sold fewer than 5 units over
// the last days (90 when zero), including medicines that sold nothing
func (s *AnalyticsService) SlowMovingMedicines(ctx context.Context, days int) ([]repository.SlowMover, error) {
	days, err := windowDays(days, defaultHistoryDays)
	if err != nil {
		return nil, err
	}
	return s.repos.StockLogs.SlowMovers(ctx, s.now().AddDate(0, 0, -days), slowMovingBelow)
}

// StockoutAnalysis counts, per medicine, the sales that sold out its eligible
// stock over the last days (90 when zero)
func (s *AnalyticsService) StockoutAnalysis(ctx context.Context, days int) ([]repository.StockoutSummary, error) {
	days, err := windowDays(days, defaultHistoryDays)
	if err != nil {
		return nil, err
	}
	return s.repos.StockLogs.Stockouts(ctx, s.now().AddDate(0, 0, -days))
}

// InventoryTurnoverRatio is units sold over the last year divided by the
// eligible available stock, to 2 places. It is 0 when nothing is available.
func (s *AnalyticsService) InventoryTurnoverRatio(ctx context.Context, medicineID string) (decimal.Decimal, error) {
	now := s.now()
	available, err := s.repos.Inventory.GetEligibleAvailable(ctx, medicineID, now)
	if err != nil {
		return decimal.Zero, err
	}
	if available == 0 {
		return decimal.Zero, nil
	}
	sold, err := s.repos.StockLogs.TotalSold(ctx, medicineID, now.AddDate(0, 0, -turnoverWindowDays))
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromInt(int64(sold)).Div(decimal.NewFromInt(int64(available))).Round(2), nil
}

// MonthlyConsumptionTrend sums units sold per calendar month over the last
// months (6 when zero), each month counted as 30 days
func (s *AnalyticsService) MonthlyConsumptionTrend(ctx context.Context, medicineID string, months int) ([]repository.MonthlyConsumption, error) {
	switch {
	case months < 0:
		return nil, errors.InvalidArgument("months", "must not be negative")
	case months == 0:
		months = defaultTrendMonths
	case months > maxTrendMonths:
		return nil, errors.InvalidArgument("months", fmt.Sprintf("must be at most %d", maxTrendMonths))
	}
	return s.repos.StockLogs.MonthlySold(ctx, medicineID, s.now().AddDate(0, 0, -30*months))
}

// ExportMedicine gathers the consumption figures of one medicine
func (s *AnalyticsService) ExportMedicine(ctx context.Context, medicineID string) (*MedicineAnalytics, error) {
	m, err := s.repos.Medicines.GetByID(ctx, medicineID)
	if err != nil {
		return nil, err
	}

	out := &MedicineAnalytics{MedicineID: m.ID, MedicineName: m.Name}
	if out.CurrentStock, err = s.repos.Inventory.GetEligibleAvailable(ctx, m.ID, s.now()); err != nil {
		return nil, err
	}
	if out.DailyAverage, err = s.DailyAverageConsumption(ctx, m.ID, averageWindowDays); err != nil {
		return nil, err
	}
	if out.TurnoverRatio, err = s.InventoryTurnoverRatio(ctx, m.ID); err != nil {
		return nil, err
	}
	if out.MonthlyTrend, err = s.MonthlyConsumptionTrend(ctx, m.ID, defaultTrendMonths); err != nil {
		return nil, err
	}
	return out, nil
}

func windowDays(days, fallback int) (int, error) {
	if days < 0 {
		return 0, errors.InvalidArgument("days", "must not be negative")
	}
	if days == 0 {
		return fallback, nil
	}
	return days, nil
}
