package service

import (
	"context"
	"fmt"

	"github.com/rl1809/shoe-store/internal/core/domain"
	"github.com/rl1809/shoe-store/internal/port"
)

// StockValidator checks requested lines against live inventory. It never
// writes.
type StockValidator struct {
	inventory port.InventoryRepository
}

func NewStockValidator(inventory port.InventoryRepository) *StockValidator {
	return &StockValidator{inventory: inventory}
}

// Validate returns one Decrement per line when every line can be served,
// otherwise an *domain.InsufficientStockError listing all failing lines.
// Lines naming the same variant draw from the same quantity.
func (v *StockValidator) Validate(ctx context.Context, lines []domain.CheckoutLine) (domain.DecrementPlan, error) {
	plan := make(domain.DecrementPlan, 0, len(lines))
	var shortages []domain.StockShortage

	records := make(map[domain.Variant]*domain.InventoryRecord)
	claimed := make(map[domain.Variant]int)

	for _, line := range lines {
		variant := line.Variant()

		record, seen := records[variant]
		if !seen {
			var err error
			record, err = v.inventory.FindInventory(ctx, variant)
			if err != nil {
				return nil, fmt.Errorf("find inventory %s/%s/%s: %w", variant.ProductID, variant.Size, variant.Color, err)
			}
			records[variant] = record
		}

		if record == nil {
			shortages = append(shortages, domain.StockShortage{
				ProductID: line.ProductID,
				Size:      line.Size,
				Color:     line.Color,
				Requested: line.Quantity,
				Available: 0,
				Reason:    domain.ReasonVariantNotFound,
			})
			continue
		}

		available := record.Quantity - claimed[variant]
		if available < line.Quantity {
			shortages = append(shortages, domain.StockShortage{
				ProductID: line.ProductID,
				Size:      line.Size,
				Color:     line.Color,
				Requested: line.Quantity,
				Available: available,
				Reason:    domain.ReasonInsufficientStock,
			})
			continue
		}

		claimed[variant] += line.Quantity
		plan = append(plan, domain.Decrement{
			InventoryID: record.ID,
			Variant:     variant,
			Requested:   line.Quantity,
			Remaining:   available - line.Quantity,
		})
	}

	if len(shortages) > 0 {
		return nil, &domain.InsufficientStockError{Items: shortages}
	}
	return plan, nil
}
