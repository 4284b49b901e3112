package inventory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StockRepo keeps variant counters in the inventory table. Every operation
// is a single guarded UPDATE so the row lock taken by Postgres is the only
// serialization point.
type StockRepo struct{ DB *pgxpool.Pool }

func (r *StockRepo) Reserve(ctx context.Context, l Line) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE inventory
		SET reserved_quantity = reserved_quantity + $3, updated_at = now()
		WHERE product_id = $1 AND variant_id = $2
		  AND quantity - reserved_quantity >= $3`,
		l.ProductID, l.VariantID, l.Quantity)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 1 {
		return nil
	}

	// nothing updated: missing row or not enough available stock
	lvl, err := r.Level(ctx, l.ProductID, l.VariantID)
	if err != nil {
		return err
	}
	return &InsufficientStockError{
		ProductID: l.ProductID,
		VariantID: l.VariantID,
		Requested: l.Quantity,
		Available: lvl.Available(),
	}
}

func (r *StockRepo) Release(ctx context.Context, l Line) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE inventory
		SET reserved_quantity = GREATEST(reserved_quantity - $3, 0), updated_at = now()
		WHERE product_id = $1 AND variant_id = $2`,
		l.ProductID, l.VariantID, l.Quantity)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrVariantNotFound
	}
	return nil
}

func (r *StockRepo) Finalize(ctx context.Context, l Line) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE inventory
		SET quantity = quantity - $3,
		    reserved_quantity = GREATEST(reserved_quantity - $3, 0),
		    updated_at = now()
		WHERE product_id = $1 AND variant_id = $2 AND quantity >= $3`,
		l.ProductID, l.VariantID, l.Quantity)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	if _, err := r.Level(ctx, l.ProductID, l.VariantID); err != nil {
		return err
	}
	return ErrOnHandShort
}

func (r *StockRepo) Level(ctx context.Context, productID, variantID uuid.UUID) (StockLevel, error) {
	lvl := StockLevel{ProductID: productID, VariantID: variantID}
	err := r.DB.QueryRow(ctx, `
		SELECT quantity, reserved_quantity FROM inventory
		WHERE product_id = $1 AND variant_id = $2`, productID, variantID).
		Scan(&lvl.OnHand, &lvl.Reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return lvl, ErrVariantNotFound
	}
	return lvl, err
}
