package repository

import "github.com/medflow/pharmacy-inventory/pkg/database"

// Repositories bundles every repository of the inventory schema over one DB
type Repositories struct {
	Medicines   *MedicineRepository
	Batches     *BatchRepository
	Inventory   *InventoryRepository
	StockLogs   *StockLogRepository
	Adjustments *AdjustmentRepository
	Alerts      *AlertRepository
}

// NewRepositories creates all repositories
func NewRepositories(db *database.DB) *Repositories {
	return &Repositories{
		Medicines:   NewMedicineRepository(db),
		Batches:     NewBatchRepository(db),
		Inventory:   NewInventoryRepository(db),
		StockLogs:   NewStockLogRepository(db),
		Adjustments: NewAdjustmentRepository(db),
		Alerts:      NewAlertRepository(db),
	}
}
