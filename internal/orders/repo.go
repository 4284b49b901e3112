package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the Postgres implementation of Store and ProfitStore.
type Repo struct{ DB *pgxpool.Pool }

var ErrDuplicateOrderNumber = errors.New("order number already exists")

const orderColumns = `id, order_number, customer_name, customer_phone, customer_address, customer_city,
	status, tracking_number, delivery_partner, subtotal, discount, delivery_fee, final_amount,
	created_by, notes, is_archived, receipt_received, needs_reconciliation, created_at, updated_at`

func (r *Repo) NextOrderNumber(ctx context.Context) (string, error) {
	var n string
	if err := r.DB.QueryRow(ctx, `SELECT generate_order_number()`).Scan(&n); err != nil {
		return "", fmt.Errorf("generate order number: %w", err)
	}
	return n, nil
}

func (r *Repo) InsertOrder(ctx context.Context, o *Order) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO orders(`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		o.ID, o.OrderNumber, o.Customer.Name, o.Customer.Phone, o.Customer.Address, o.Customer.City,
		string(o.Status), o.TrackingNumber, o.DeliveryPartner, o.Subtotal, o.Discount, o.DeliveryFee, o.FinalAmount,
		o.CreatedBy, o.Notes, o.IsArchived, o.ReceiptReceived, o.NeedsReconciliation, o.CreatedAt, o.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicateOrderNumber, o.OrderNumber)
	}
	return err
}

func (r *Repo) InsertItems(ctx context.Context, orderID uuid.UUID, items []OrderItem) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b := &pgx.Batch{}
	for _, it := range items {
		b.Queue(`
			INSERT INTO order_items(id, order_id, product_id, variant_id, quantity, unit_price, cost_price, line_total)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			it.ID, orderID, it.ProductID, it.VariantID, it.Quantity, it.UnitPrice, it.CostPrice, it.LineTotal)
	}
	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("insert order items: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *Repo) GetOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	items, err := r.itemsFor(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	o.Items = items[id]
	return o, nil
}

func (r *Repo) ListOrders(ctx context.Context, f ListFilter) ([]*Order, error) {
	var (
		where []string
		args  []any
	)
	if f.Archived != nil {
		args = append(args, *f.Archived)
		where = append(where, fmt.Sprintf("is_archived = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.CreatedBy != nil {
		args = append(args, *f.CreatedBy)
		where = append(where, fmt.Sprintf("created_by = $%d", len(args)))
	}
	q := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		out []*Order
		ids []uuid.UUID
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}
	items, err := r.itemsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, o := range out {
		o.Items = items[o.ID]
	}
	return out, nil
}

func (r *Repo) itemsFor(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]OrderItem, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, product_id, variant_id, quantity, unit_price, cost_price, line_total
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]OrderItem, len(ids))
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.VariantID, &it.Quantity,
			&it.UnitPrice, &it.CostPrice, &it.LineTotal); err != nil {
			return nil, err
		}
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	return out, rows.Err()
}

func (r *Repo) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	tag, err := r.DB.Exec(ctx, `DELETE FROM orders WHERE id=$1 AND status=$2`, id, string(StatusPending))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missOrChanged(ctx, id)
	}
	return nil
}

func (r *Repo) UpdateOrderFields(ctx context.Context, o *Order) error {
	tag, err := r.DB.Exec(ctx, `
		UPDATE orders SET customer_name=$3, customer_phone=$4, customer_address=$5, customer_city=$6,
			notes=$7, tracking_number=$8, discount=$9, delivery_fee=$10, final_amount=$11, updated_at=$12
		WHERE id=$1 AND status=$2`,
		o.ID, string(StatusPending), o.Customer.Name, o.Customer.Phone, o.Customer.Address, o.Customer.City,
		o.Notes, o.TrackingNumber, o.Discount, o.DeliveryFee, o.FinalAmount, o.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missOrChanged(ctx, o.ID)
	}
	return nil
}

func (r *Repo) TransitionStatus(ctx context.Context, id uuid.UUID, from, to Status, archive bool) error {
	tag, err := r.DB.Exec(ctx, `
		UPDATE orders SET status=$3, is_archived = is_archived OR $4, updated_at=now()
		WHERE id=$1 AND status=$2`, id, string(from), string(to), archive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missOrChanged(ctx, id)
	}
	return nil
}

func (r *Repo) SetReconciliation(ctx context.Context, id uuid.UUID, needed bool) error {
	return r.setFlag(ctx, `UPDATE orders SET needs_reconciliation=$2, updated_at=now() WHERE id=$1`, id, needed)
}

func (r *Repo) SetReceiptReceived(ctx context.Context, id uuid.UUID) error {
	return r.setFlag(ctx, `UPDATE orders SET receipt_received=$2, updated_at=now() WHERE id=$1`, id, true)
}

func (r *Repo) SetArchived(ctx context.Context, id uuid.UUID, archived bool) error {
	return r.setFlag(ctx, `UPDATE orders SET is_archived=$2, updated_at=now() WHERE id=$1`, id, archived)
}

func (r *Repo) setFlag(ctx context.Context, q string, id uuid.UUID, v bool) error {
	tag, err := r.DB.Exec(ctx, q, id, v)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) InsertDiscount(ctx context.Context, d Discount) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO order_discounts(id, order_id, amount, applied_by, created_at)
		VALUES ($1,$2,$3,$4,$5)`, d.ID, d.OrderID, d.Amount, d.AppliedBy, d.CreatedAt)
	return err
}

func (r *Repo) InsertProfit(ctx context.Context, p Profit) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO profits(id, order_id, employee_id, revenue, cost, profit, employee_profit, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (order_id) DO NOTHING`,
		p.ID, p.OrderID, p.EmployeeID, p.Revenue, p.Cost, p.Profit, p.EmployeeProfit, string(p.Status), p.CreatedAt)
	return err
}

func (r *Repo) UpdateProfitStatus(ctx context.Context, orderID uuid.UUID, status ProfitStatus) error {
	tag, err := r.DB.Exec(ctx, `UPDATE profits SET status=$2 WHERE order_id=$1`, orderID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("profit for order %s: %w", orderID, ErrNotFound)
	}
	return nil
}

func (r *Repo) DeleteProfit(ctx context.Context, orderID uuid.UUID) error {
	_, err := r.DB.Exec(ctx, `DELETE FROM profits WHERE order_id=$1`, orderID)
	return err
}

func (r *Repo) missOrChanged(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStatusChanged
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o      Order
		status string
	)
	err := row.Scan(&o.ID, &o.OrderNumber, &o.Customer.Name, &o.Customer.Phone, &o.Customer.Address, &o.Customer.City,
		&status, &o.TrackingNumber, &o.DeliveryPartner, &o.Subtotal, &o.Discount, &o.DeliveryFee, &o.FinalAmount,
		&o.CreatedBy, &o.Notes, &o.IsArchived, &o.ReceiptReceived, &o.NeedsReconciliation, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = Status(status)
	return &o, nil
}
