package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/sharepool/pkg/pg"
	"github.com/dmitrymomot/sharepool/svc/orders"
	"github.com/dmitrymomot/sharepool/svc/validation"
)

// OrderStore implements orders.Store.
type OrderStore struct {
	db *pgxpool.Pool
}

var _ orders.Store = (*OrderStore)(nil)

// NewOrderStore panics if db is nil.
func NewOrderStore(db *pgxpool.Pool) *OrderStore {
	if db == nil {
		panic("pgstore: pool is required")
	}
	return &OrderStore{db: db}
}

const orderColumns = `id, owner_id, service, profiles, months, price::text, currency, state,
	created_at, approved_at, expires_at, admin_comment, fulfilled_at, version`

func scanOrder(row pgx.CollectableRow) (orders.Order, error) {
	var (
		o     orders.Order
		price string
	)
	err := row.Scan(&o.ID, &o.OwnerID, &o.Service, &o.Profiles, &o.Months, &price, &o.Currency, &o.State,
		&o.CreatedAt, &o.ApprovedAt, &o.ExpiresAt, &o.AdminComment, &o.FulfilledAt, &o.Version)
	if err != nil {
		return orders.Order{}, err
	}
	if o.Price, err = decimal.NewFromString(price); err != nil {
		return orders.Order{}, fmt.Errorf("parse price %q: %w", price, err)
	}
	return o, nil
}

func (s *OrderStore) CreateOrder(ctx context.Context, o orders.Order) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO orders (id, owner_id, service, profiles, months, price, currency, state, created_at, version)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10)`,
		o.ID, o.OwnerID, o.Service, o.Profiles, o.Months, o.Price.String(), o.Currency, string(o.State), o.CreatedAt, o.Version)
	if pg.IsDuplicateKeyError(err) {
		return fmt.Errorf("order %s already exists: %w", o.ID, err)
	}
	return err
}

func (s *OrderStore) GetOrder(ctx context.Context, id uuid.UUID) (orders.Order, error) {
	rows, _ := s.db.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if pg.IsNotFoundError(err) {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return o, err
}

func (s *OrderStore) GetProof(ctx context.Context, orderID uuid.UUID) (orders.PaymentProof, error) {
	var (
		p          orders.PaymentProof
		extraction []byte
	)
	err := s.db.QueryRow(ctx, `
		SELECT order_id, ref, extraction, confidence, auto_validated, manual_validated, state,
			submitted_at, validated_at, version
		FROM payment_proofs WHERE order_id = $1`, orderID).
		Scan(&p.OrderID, &p.Ref, &extraction, &p.Confidence, &p.AutoValidated, &p.ManualValidated, &p.State,
			&p.SubmittedAt, &p.ValidatedAt, &p.Version)
	if pg.IsNotFoundError(err) {
		return orders.PaymentProof{}, orders.ErrProofNotFound
	}
	if err != nil {
		return orders.PaymentProof{}, err
	}
	if len(extraction) > 0 {
		p.Extraction = &validation.Extraction{}
		if err := json.Unmarshal(extraction, p.Extraction); err != nil {
			return orders.PaymentProof{}, fmt.Errorf("decode extraction: %w", err)
		}
	}
	return p, nil
}

// Apply runs the guarded update and the proof upsert in one transaction.
func (s *OrderStore) Apply(ctx context.Context, c orders.Change) (orders.Order, error) {
	var updated orders.Order
	err := pg.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		rows, _ := tx.Query(ctx, `
			UPDATE orders SET
				state = $3,
				version = version + 1,
				approved_at = COALESCE($4::timestamptz, approved_at),
				expires_at = COALESCE($5::timestamptz, expires_at),
				admin_comment = COALESCE(NULLIF($6::text, ''), admin_comment)
			WHERE id = $1 AND state = $2 AND version = $7
			RETURNING `+orderColumns,
			c.OrderID, string(c.FromState), string(c.ToState), c.ApprovedAt, c.ExpiresAt, c.Comment, c.FromVersion)
		o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
		if pg.IsNotFoundError(err) {
			return s.missOrConflict(ctx, tx, c.OrderID)
		}
		if err != nil {
			return err
		}
		updated = o

		if c.Proof == nil {
			return nil
		}
		return upsertProof(ctx, tx, o.ID, *c.Proof)
	})
	if err != nil {
		return orders.Order{}, err
	}
	return updated, nil
}

func (s *OrderStore) missOrConflict(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return orders.ErrOrderNotFound
	}
	return orders.ErrConcurrencyConflict
}

func upsertProof(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, p orders.PaymentProof) error {
	var extraction []byte
	if p.Extraction != nil {
		var err error
		if extraction, err = json.Marshal(p.Extraction); err != nil {
			return fmt.Errorf("encode extraction: %w", err)
		}
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO payment_proofs (order_id, ref, extraction, confidence, auto_validated, manual_validated,
			state, submitted_at, validated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1)
		ON CONFLICT (order_id) DO UPDATE SET
			ref = EXCLUDED.ref,
			extraction = EXCLUDED.extraction,
			confidence = EXCLUDED.confidence,
			auto_validated = EXCLUDED.auto_validated,
			manual_validated = EXCLUDED.manual_validated,
			state = EXCLUDED.state,
			validated_at = EXCLUDED.validated_at,
			version = payment_proofs.version + 1`,
		orderID, p.Ref, extraction, p.Confidence, p.AutoValidated, p.ManualValidated,
		string(p.State), p.SubmittedAt, p.ValidatedAt)
	return err
}

func (s *OrderStore) MarkFulfilled(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders SET fulfilled_at = $2, version = version + 1
		WHERE id = $1 AND fulfilled_at IS NULL`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return orders.ErrOrderNotFound
	}
	return nil
}

func (s *OrderStore) ListUnfulfilled(ctx context.Context) ([]orders.Order, error) {
	return s.list(ctx, `WHERE state = 'approved' AND fulfilled_at IS NULL ORDER BY approved_at, id`)
}

func (s *OrderStore) ListExpiring(ctx context.Context, after, before time.Time) ([]orders.Order, error) {
	return s.list(ctx, `WHERE state = 'approved' AND expires_at > $1 AND expires_at <= $2 ORDER BY expires_at, id`, after, before)
}

func (s *OrderStore) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]orders.Order, error) {
	return s.list(ctx, `WHERE owner_id = $1 ORDER BY created_at, id`, ownerID)
}

func (s *OrderStore) ListByState(ctx context.Context, state orders.State) ([]orders.Order, error) {
	return s.list(ctx, `WHERE state = $1 ORDER BY created_at, id`, string(state))
}

func (s *OrderStore) list(ctx context.Context, where string, args ...any) ([]orders.Order, error) {
	rows, err := s.db.Query(ctx, `SELECT `+orderColumns+` FROM orders `+where, args...)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, errors.Join(errors.New("list orders"), err)
	}
	return out, nil
}
