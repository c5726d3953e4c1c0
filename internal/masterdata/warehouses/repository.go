package warehouses

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads warehouses.
type Repository interface {
	Get(ctx context.Context, id int64) (Warehouse, error)
	ListByIDs(ctx context.Context, ids []int64) ([]Warehouse, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) Get(ctx context.Context, id int64) (Warehouse, error) {
	var w Warehouse
	err := r.pool.QueryRow(ctx, `SELECT id, business_unit_id, code, name, COALESCE(address, '')
FROM warehouses WHERE id = $1`, id).Scan(&w.ID, &w.BusinessUnitID, &w.Code, &w.Name, &w.Address)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Warehouse{}, ErrWarehouseNotFound
		}
		return Warehouse{}, err
	}
	return w, nil
}

func (r *repository) ListByIDs(ctx context.Context, ids []int64) ([]Warehouse, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, business_unit_id, code, name, COALESCE(address, '')
FROM warehouses WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Warehouse
	for rows.Next() {
		var w Warehouse
		if err := rows.Scan(&w.ID, &w.BusinessUnitID, &w.Code, &w.Name, &w.Address); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
