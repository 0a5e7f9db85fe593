package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/attarhouse/storefront/internal/repositories"
)

const (
	eventStockReserved = "stock.reserved"
	eventStockRestored = "stock.restored"
)

var (
	// ErrInventoryInvalidInput signals the caller provided invalid arguments.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInsufficientStock indicates a line asked for more units than are available.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrProductNotFound indicates a line referenced a missing product or variant.
	ErrProductNotFound = errors.New("inventory: product not found")
)

// StockShortageError identifies the line that could not be reserved.
type StockShortageError struct {
	ProductID string
	VariantID string
	Err       error
}

func (e *StockShortageError) Error() string {
	if e.VariantID != "" {
		return fmt.Sprintf("%v: product %s variant %s", e.Err, e.ProductID, e.VariantID)
	}
	return fmt.Sprintf("%v: product %s", e.Err, e.ProductID)
}

func (e *StockShortageError) Unwrap() error { return e.Err }

// InventoryServiceDeps bundles the collaborators required to construct an inventory service.
type InventoryServiceDeps struct {
	Products repositories.ProductRepository
	Metrics  CheckoutMetrics
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	products repositories.ProductRepository
	metrics  CheckoutMetrics
	clock    func() time.Time
	logger   logFunc
}

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Products == nil {
		return nil, errors.New("inventory service: product repository is required")
	}
	return &inventoryService{
		products: deps.Products,
		metrics:  deps.Metrics,
		clock:    utcClock(deps.Clock),
		logger:   loggerOrNoop(deps.Logger),
	}, nil
}

func (s *inventoryService) Reserve(ctx context.Context, cmd ReserveStockCommand) error {
	lines, err := normalizeStockLines(cmd.Lines)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return fmt.Errorf("%w: at least one line is required", ErrInventoryInvalidInput)
	}

	if err := s.products.ReserveStock(ctx, lines); err != nil {
		mapped := s.mapStockError(err)
		if errors.Is(mapped, ErrInsufficientStock) && s.metrics != nil {
			s.metrics.StockRejected(ctx)
		}
		s.logger(ctx, "inventory.reserve.rejected", map[string]any{
			"orderId": cmd.OrderID,
			"error":   err.Error(),
		})
		return mapped
	}

	s.logger(ctx, eventStockReserved, map[string]any{
		"orderId": cmd.OrderID,
		"lines":   len(lines),
	})
	return nil
}

// Restore adds each line back independently. A product deleted since the reservation is skipped.
func (s *inventoryService) Restore(ctx context.Context, cmd RestoreStockCommand) RestoreResult {
	var result RestoreResult
	lines, err := normalizeStockLines(cmd.Lines)
	if err != nil {
		s.logger(ctx, "inventory.restore.invalid", map[string]any{
			"orderId": cmd.OrderID,
			"error":   err.Error(),
		})
		return result
	}

	for _, line := range lines {
		if err := s.products.RestoreStock(ctx, line); err != nil {
			result.Skipped = append(result.Skipped, toServiceStockLine(line))
			s.logger(ctx, "inventory.restore.skipped", map[string]any{
				"orderId":   cmd.OrderID,
				"productId": line.ProductID,
				"variantId": line.VariantID,
				"quantity":  line.Quantity,
				"error":     err.Error(),
			})
			continue
		}
		result.Restored = append(result.Restored, toServiceStockLine(line))
	}

	s.logger(ctx, eventStockRestored, map[string]any{
		"orderId":  cmd.OrderID,
		"reason":   cmd.Reason,
		"restored": len(result.Restored),
		"skipped":  len(result.Skipped),
	})
	return result
}

func (s *inventoryService) SetStock(ctx context.Context, cmd SetStockCommand) (Product, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	if cmd.Stock < 0 {
		return Product{}, fmt.Errorf("%w: stock must be non-negative", ErrInventoryInvalidInput)
	}
	product, err := s.products.SetStock(ctx, repositories.StockLine{
		ProductID: productID,
		VariantID: strings.TrimSpace(cmd.VariantID),
		Quantity:  cmd.Stock,
	}, s.clock())
	if err != nil {
		return Product{}, s.mapStockError(err)
	}
	s.logger(ctx, "inventory.stock.set", map[string]any{
		"productId": productID,
		"variantId": cmd.VariantID,
		"stock":     cmd.Stock,
		"actor":     cmd.ActorID,
	})
	return product, nil
}

func (s *inventoryService) ListLowStock(ctx context.Context, threshold int) ([]Product, error) {
	if threshold < 0 {
		return nil, fmt.Errorf("%w: threshold must be non-negative", ErrInventoryInvalidInput)
	}
	products, err := s.products.ListLowStock(ctx, threshold)
	if err != nil {
		return nil, s.mapStockError(err)
	}
	return products, nil
}

func (s *inventoryService) mapStockError(err error) error {
	if err == nil {
		return nil
	}

	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient:
			return &StockShortageError{ProductID: stockErr.ProductID, VariantID: stockErr.VariantID, Err: ErrInsufficientStock}
		case repositories.StockErrorProductNotFound:
			return &StockShortageError{ProductID: stockErr.ProductID, VariantID: stockErr.VariantID, Err: ErrProductNotFound}
		case repositories.StockErrorInvalidInput:
			return fmt.Errorf("%w: %s", ErrInventoryInvalidInput, stockErr.Message)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrProductNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("inventory: repository unavailable: %w", err)
		}
	}
	return err
}

func normalizeStockLines(lines []StockLine) ([]repositories.StockLine, error) {
	out := make([]repositories.StockLine, 0, len(lines))
	for i, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: line %d product id is required", ErrInventoryInvalidInput, i)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: line %d quantity must be positive", ErrInventoryInvalidInput, i)
		}
		out = append(out, repositories.StockLine{
			ProductID: productID,
			VariantID: strings.TrimSpace(line.VariantID),
			Quantity:  line.Quantity,
		})
	}
	return repositories.MergeStockLines(out), nil
}

func toServiceStockLine(line repositories.StockLine) StockLine {
	return StockLine{ProductID: line.ProductID, VariantID: line.VariantID, Quantity: line.Quantity}
}

// StockLinesFromItems converts order line items into stock lines.
func StockLinesFromItems(items []LineItem) []StockLine {
	lines := make([]StockLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, StockLine{
			ProductID: item.ProductID,
			VariantID: derefString(item.VariantID),
			Quantity:  item.Quantity,
		})
	}
	return lines
}
