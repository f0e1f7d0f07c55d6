package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/repositories"
)

const (
	auditActionInventoryRestock = "inventory.restock"
	auditEntityProduct          = "product"
	maxRestockQuantity          = 1_000_000
)

// InventoryServiceDeps bundles the collaborators required to construct an inventory service.
type InventoryServiceDeps struct {
	Inventory repositories.InventoryRepository
	Audit     AuditLogService
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	repo   repositories.InventoryRepository
	audit  AuditLogService
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Inventory == nil {
		return nil, errors.New("inventory service: inventory repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &inventoryService{
		repo:   deps.Inventory,
		audit:  deps.Audit,
		clock:  func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

func (s *inventoryService) TryDecrement(ctx context.Context, productID string, quantity int) (domain.InventoryDecrement, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.InventoryDecrement{}, validationError("product id is required")
	}
	if quantity <= 0 {
		return domain.InventoryDecrement{}, validationError("quantity must be positive")
	}
	result, err := s.repo.TryDecrement(ctx, productID, quantity)
	if err != nil {
		return domain.InventoryDecrement{}, mapRepositoryError("inventory.decrement", err)
	}
	if !result.OK {
		s.logger(ctx, "inventory.decrement.rejected", map[string]any{
			"productId": productID,
			"requested": quantity,
			"available": result.Remaining,
		})
	}
	return result, nil
}

func (s *inventoryService) GetStock(ctx context.Context, actor Actor, productID string) (ProductStock, error) {
	if err := requireOperator(actor); err != nil {
		return ProductStock{}, err
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return ProductStock{}, validationError("product id is required")
	}
	stock, err := s.repo.Get(ctx, productID)
	if err != nil {
		return ProductStock{}, mapRepositoryError("inventory.get", err)
	}
	return stock, nil
}

func (s *inventoryService) Restock(ctx context.Context, cmd RestockCommand) (ProductStock, error) {
	if err := requireOperator(cmd.Actor); err != nil {
		return ProductStock{}, err
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return ProductStock{}, validationError("product id is required")
	}
	if cmd.Quantity <= 0 || cmd.Quantity > maxRestockQuantity {
		return ProductStock{}, validationError("quantity must be between 1 and %d", maxRestockQuantity)
	}

	before, err := s.repo.Get(ctx, productID)
	if err != nil {
		return ProductStock{}, mapRepositoryError("inventory.get", err)
	}
	after, err := s.repo.Restock(ctx, productID, cmd.Quantity, s.clock())
	if err != nil {
		return ProductStock{}, mapRepositoryError("inventory.restock", err)
	}

	s.logger(ctx, "inventory.restocked", map[string]any{
		"productId": productID,
		"added":     cmd.Quantity,
		"stock":     after.Stock,
		"actor":     cmd.Actor.ID,
	})
	if s.audit != nil {
		s.audit.Record(ctx, AuditLogRecord{
			Actor:      cmd.Actor,
			Action:     auditActionInventoryRestock,
			EntityType: auditEntityProduct,
			EntityID:   productID,
			EntityName: after.Name,
			Before:     map[string]any{"stock": before.Stock},
			After:      map[string]any{"stock": after.Stock},
		})
	}
	return after, nil
}
