package inventory

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads inventory balances from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListBalances returns the balance rows of the given items at one warehouse.
// Items without a row are simply absent from the result.
func (r *Repository) ListBalances(ctx context.Context, warehouseID int64, itemIDs []int64) ([]Balance, error) {
	rows, err := r.pool.Query(ctx, `SELECT warehouse_id, item_id, qty, reserved_qty, updated_at
FROM inventory_balances
WHERE warehouse_id = $1 AND item_id = ANY($2)`, warehouseID, itemIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []Balance
	for rows.Next() {
		var bal Balance
		if err := rows.Scan(&bal.WarehouseID, &bal.ItemID, &bal.OnHand, &bal.Reserved, &bal.UpdatedAt); err != nil {
			return nil, err
		}
		balances = append(balances, bal)
	}
	return balances, rows.Err()
}
