package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Amdecodes/DocServe-sub001/model"
	"github.com/Amdecodes/DocServe-sub001/pkg/apperr"
)

// OrderRepository is the Postgres order store.
type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

const orderColumns = `id, user_id, service_type, status, form_data, amount, currency,
	ai_generated, ai_generated_at, pdf_url, expires_at, paid_at, chapa_ref, created_at, updated_at`

func (r *OrderRepository) Create(ctx context.Context, o *model.Order) error {
	createdAt := o.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO orders (id, user_id, service_type, status, form_data, amount, currency, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		o.ID, o.UserID, o.ServiceType, string(o.Status), []byte(o.FormData), o.Amount, o.Currency, createdAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: order %s already exists", apperr.ErrValidation, o.ID)
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("order %s: %w", id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("select order: %w", err)
	}
	return o, nil
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]*model.Order, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return collectOrders(rows)
}

// MarkPaid is safe to repeat: paid_at keeps its first value and an empty
// reference does not overwrite a stored one.
func (r *OrderRepository) MarkPaid(ctx context.Context, id, chapaRef string, paidAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE orders
		SET status = 'PAID',
			paid_at = COALESCE(paid_at, $2),
			chapa_ref = CASE WHEN $3 = '' THEN chapa_ref ELSE $3 END,
			updated_at = now()
		WHERE id = $1`, id, paidAt, chapaRef)
	return affectedOne(tag.RowsAffected(), err, id, "mark paid")
}

func (r *OrderRepository) SaveEnrichment(ctx context.Context, id string, formData json.RawMessage, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE orders
		SET form_data = $2, ai_generated = TRUE, ai_generated_at = $3, updated_at = now()
		WHERE id = $1`, id, []byte(formData), at)
	return affectedOne(tag.RowsAffected(), err, id, "save enrichment")
}

// SetArtifact locks the row so the PAID check and the write see the same state.
func (r *OrderRepository) SetArtifact(ctx context.Context, id, url string, expiresAt time.Time) error {
	_, err := withTx(ctx, r.pool, func(tx pgx.Tx) (struct{}, error) {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return struct{}{}, fmt.Errorf("order %s: %w", id, apperr.ErrNotFound)
		}
		if err != nil {
			return struct{}{}, fmt.Errorf("lock order: %w", err)
		}
		if model.Status(status) != model.StatusPaid {
			return struct{}{}, fmt.Errorf("order %s: %w", id, apperr.ErrPaymentRequired)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE orders SET pdf_url = $2, expires_at = $3, updated_at = now() WHERE id = $1`,
			id, url, expiresAt); err != nil {
			return struct{}{}, fmt.Errorf("set artifact: %w", err)
		}
		return struct{}{}, nil
	})
	return err
}

func (r *OrderRepository) ClearArtifact(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE orders SET pdf_url = NULL, expires_at = NULL, updated_at = now() WHERE id = $1`, id)
	return affectedOne(tag.RowsAffected(), err, id, "clear artifact")
}

func (r *OrderRepository) ListExpiredArtifacts(ctx context.Context, now time.Time, limit int) ([]*model.Order, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE pdf_url IS NOT NULL AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	return collectOrders(rows)
}

func collectOrders(rows pgx.Rows) ([]*model.Order, error) {
	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.Order, error) {
		return scanOrder(row)
	})
	if err != nil {
		return nil, fmt.Errorf("collect orders: %w", err)
	}
	return orders, nil
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o      model.Order
		status string
		form   []byte
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.ServiceType, &status, &form, &o.Amount, &o.Currency,
		&o.AIGenerated, &o.AIGeneratedAt, &o.PDFURL, &o.ExpiresAt, &o.PaidAt, &o.ChapaRef,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Status, err = model.ToStatus(status)
	if err != nil {
		return nil, err
	}
	o.FormData = form
	return &o, nil
}

func affectedOne(n int64, err error, id, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("order %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}
