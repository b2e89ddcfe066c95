package vanstock

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vanroute/vanroute/internal/platform/db"
	"github.com/vanroute/vanroute/internal/unit"
)

// Repository persists stock days and lines in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations used by the service.
type TxRepository interface {
	GetDayForUpdate(ctx context.Context, dayID int64) (StockDay, error)
	InsertDay(ctx context.Context, day StockDay) (StockDay, error)
	LinesByDay(ctx context.Context, dayID int64) ([]StockLine, error)
	UpsertLine(ctx context.Context, line StockLine) error
	UpsertOrderedQty(ctx context.Context, dayID, productID int64, qty float64) error
	UpdateDayStatus(ctx context.Context, dayID int64, status DayStatus) error
	SetStartOdometer(ctx context.Context, dayID int64, odometer float64) error
	SetEndOdometer(ctx context.Context, dayID int64, odometer float64) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("vanstock repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const dayColumns = `id, vehicle_id, operator_id, stock_date, status, start_odometer, end_odometer, created_at, updated_at`

// GetDay loads the stock day for a (vehicle, date, operator) triple.
func (r *Repository) GetDay(ctx context.Context, vehicleID int64, date time.Time, operatorID int64) (StockDay, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+dayColumns+` FROM van_stock_days
WHERE vehicle_id=$1 AND stock_date=$2 AND operator_id=$3`, vehicleID, date, operatorID)
	return scanDay(row)
}

// GetDayByID loads a stock day by identifier.
func (r *Repository) GetDayByID(ctx context.Context, dayID int64) (StockDay, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+dayColumns+` FROM van_stock_days WHERE id=$1`, dayID)
	return scanDay(row)
}

// DaysBefore lists the vehicle's stock days dated strictly before target,
// most recent first. Feeds the carry-forward backward scan.
func (r *Repository) DaysBefore(ctx context.Context, vehicleID int64, target time.Time) ([]StockDay, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+dayColumns+` FROM van_stock_days
WHERE vehicle_id=$1 AND stock_date < $2
ORDER BY stock_date DESC, id DESC`, vehicleID, target)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	days := []StockDay{}
	for rows.Next() {
		day, err := scanDay(rows)
		if err != nil {
			return nil, err
		}
		days = append(days, day)
	}
	return days, rows.Err()
}

// DaysOn lists every stock day open for the vehicle on the date. The
// order-sync merge targets all of them, whichever operator owns each.
func (r *Repository) DaysOn(ctx context.Context, vehicleID int64, date time.Time) ([]StockDay, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+dayColumns+` FROM van_stock_days
WHERE vehicle_id=$1 AND stock_date=$2
ORDER BY id ASC`, vehicleID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	days := []StockDay{}
	for rows.Next() {
		day, err := scanDay(rows)
		if err != nil {
			return nil, err
		}
		days = append(days, day)
	}
	return days, rows.Err()
}

// LinesByDay returns all committed lines for a day, order-insensitive.
func (r *Repository) LinesByDay(ctx context.Context, dayID int64) ([]StockLine, error) {
	return queryLines(ctx, r.pool, dayID)
}

func (r *txRepository) GetDayForUpdate(ctx context.Context, dayID int64) (StockDay, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+dayColumns+` FROM van_stock_days WHERE id=$1 FOR UPDATE`, dayID)
	return scanDay(row)
}

func (r *txRepository) InsertDay(ctx context.Context, day StockDay) (StockDay, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO van_stock_days (vehicle_id, operator_id, stock_date, status, start_odometer, end_odometer, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW(),NOW())
ON CONFLICT (vehicle_id, stock_date, operator_id) DO UPDATE SET updated_at=NOW()
RETURNING `+dayColumns, day.VehicleID, day.OperatorID, day.Date, string(day.Status), day.StartOdometer, day.EndOdometer)
	return scanDay(row)
}

func (r *txRepository) LinesByDay(ctx context.Context, dayID int64) ([]StockLine, error) {
	return queryLines(ctx, r.tx, dayID)
}

// UpsertLine writes a draft line. One line per (day, product) by unique
// constraint; ordered_qty is owned by the sync path, so a conflicting
// draft write leaves it untouched.
func (r *txRepository) UpsertLine(ctx context.Context, line StockLine) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO van_stock_lines (stock_day_id, product_id, unit, start_qty, ordered_qty, returned_qty, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW())
ON CONFLICT (stock_day_id, product_id) DO UPDATE
SET unit=EXCLUDED.unit, start_qty=EXCLUDED.start_qty, returned_qty=EXCLUDED.returned_qty, updated_at=NOW()`,
		line.StockDayID, line.ProductID, string(line.Unit), line.StartQty, line.OrderedQty, line.ReturnedQty)
	return err
}

// UpsertOrderedQty sets the ordered quantity for a product, creating the
// line with zero start and returned when it does not exist. Setting the
// absolute value (never adding) keeps repeated deliveries of the same
// sync batch idempotent.
func (r *txRepository) UpsertOrderedQty(ctx context.Context, dayID, productID int64, qty float64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO van_stock_lines (stock_day_id, product_id, unit, start_qty, ordered_qty, returned_qty, updated_at)
VALUES ($1,$2,'',0,$3,0,NOW())
ON CONFLICT (stock_day_id, product_id) DO UPDATE
SET ordered_qty=EXCLUDED.ordered_qty, updated_at=NOW()`, dayID, productID, qty)
	return err
}

func (r *txRepository) UpdateDayStatus(ctx context.Context, dayID int64, status DayStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE van_stock_days SET status=$2, updated_at=NOW() WHERE id=$1`, dayID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDayNotFound
	}
	return nil
}

func (r *txRepository) SetStartOdometer(ctx context.Context, dayID int64, odometer float64) error {
	_, err := r.tx.Exec(ctx, `UPDATE van_stock_days SET start_odometer=$2, updated_at=NOW() WHERE id=$1`, dayID, odometer)
	return err
}

func (r *txRepository) SetEndOdometer(ctx context.Context, dayID int64, odometer float64) error {
	_, err := r.tx.Exec(ctx, `UPDATE van_stock_days SET end_odometer=$2, updated_at=NOW() WHERE id=$1`, dayID, odometer)
	return err
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryLines(ctx context.Context, q queryer, dayID int64) ([]StockLine, error) {
	rows, err := q.Query(ctx, `SELECT id, stock_day_id, product_id, unit, start_qty, ordered_qty, returned_qty
FROM van_stock_lines WHERE stock_day_id=$1`, dayID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []StockLine{}
	for rows.Next() {
		var line StockLine
		var u string
		if err := rows.Scan(&line.ID, &line.StockDayID, &line.ProductID, &u, &line.StartQty, &line.OrderedQty, &line.ReturnedQty); err != nil {
			return nil, err
		}
		line.Unit = unit.Unit(u)
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func scanDay(row pgx.Row) (StockDay, error) {
	var day StockDay
	var status string
	err := row.Scan(&day.ID, &day.VehicleID, &day.OperatorID, &day.Date, &status, &day.StartOdometer, &day.EndOdometer, &day.CreatedAt, &day.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockDay{}, ErrDayNotFound
		}
		return StockDay{}, err
	}
	day.Status = DayStatus(status)
	return day, nil
}
