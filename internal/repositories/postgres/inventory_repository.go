package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/repositories"
)

// InventoryRepository maintains product stock counters in Postgres.
type InventoryRepository struct {
	db *sql.DB
}

var _ repositories.InventoryRepository = (*InventoryRepository)(nil)

// NewInventoryRepository constructs an InventoryRepository.
func NewInventoryRepository(db *sql.DB) *InventoryRepository {
	return &InventoryRepository{db: db}
}

// TryDecrement applies the decrement as one guarded UPDATE so concurrent orders for the same
// product can never oversell. When no row matches, a follow-up read distinguishes an unknown
// product from insufficient stock.
func (r *InventoryRepository) TryDecrement(ctx context.Context, productID string, quantity int) (domain.InventoryDecrement, error) {
	if quantity <= 0 {
		return domain.InventoryDecrement{}, repositories.NewError("inventory.decrement", repositories.ErrorKindConflict, "quantity must be positive", nil)
	}

	q := conn(ctx, r.db)
	const query = `UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2
		RETURNING stock`

	var remaining int
	err := q.QueryRowContext(ctx, query, productID, quantity).Scan(&remaining)
	if err == nil {
		return domain.InventoryDecrement{OK: true, Remaining: remaining}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.InventoryDecrement{}, WrapError("inventory.decrement", err)
	}

	var current int
	if err := q.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&current); err != nil {
		return domain.InventoryDecrement{}, WrapError("inventory.decrement", err)
	}
	return domain.InventoryDecrement{OK: false, Remaining: current}, nil
}

func (r *InventoryRepository) Get(ctx context.Context, productID string) (domain.ProductStock, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx, `SELECT id, name, stock, updated_at FROM products WHERE id = $1`, productID)
	var stock domain.ProductStock
	if err := row.Scan(&stock.ProductID, &stock.Name, &stock.Stock, &stock.UpdatedAt); err != nil {
		return domain.ProductStock{}, WrapError("inventory.get", err)
	}
	stock.UpdatedAt = stock.UpdatedAt.UTC()
	return stock, nil
}

func (r *InventoryRepository) Restock(ctx context.Context, productID string, quantity int, at time.Time) (domain.ProductStock, error) {
	const query = `UPDATE products SET stock = stock + $2, updated_at = $3
		WHERE id = $1
		RETURNING id, name, stock, updated_at`
	var stock domain.ProductStock
	err := conn(ctx, r.db).QueryRowContext(ctx, query, productID, quantity, at.UTC()).
		Scan(&stock.ProductID, &stock.Name, &stock.Stock, &stock.UpdatedAt)
	if err != nil {
		return domain.ProductStock{}, WrapError("inventory.restock", err)
	}
	stock.UpdatedAt = stock.UpdatedAt.UTC()
	return stock, nil
}
