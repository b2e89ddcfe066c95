package livestock

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads vehicle balances from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LatestPositiveStock lists products with positive balance on the
// vehicle as of strictly before the given date, most recent first.
func (r *Repository) LatestPositiveStock(ctx context.Context, vehicleID int64, before time.Time) ([]Entry, error) {
	if r == nil {
		return nil, errors.New("livestock repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT vehicle_id, product_id, qty, unit, as_of
FROM vehicle_balances
WHERE vehicle_id=$1 AND qty > 0 AND as_of < $2
ORDER BY as_of DESC, product_id ASC`, vehicleID, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.VehicleID, &e.ProductID, &e.Qty, &e.Unit, &e.AsOf); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
