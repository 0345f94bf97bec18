package pgstore

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/sharepool/pkg/pg"
	"github.com/dmitrymomot/sharepool/svc/notify"
)

// ContactStore keeps owner email addresses for notifications.
type ContactStore struct {
	db *pgxpool.Pool
}

var _ notify.Contacts = (*ContactStore)(nil)

func NewContactStore(db *pgxpool.Pool) *ContactStore {
	if db == nil {
		panic("pgstore: pool is required")
	}
	return &ContactStore{db: db}
}

func (s *ContactStore) Email(ctx context.Context, ownerID uuid.UUID) (string, error) {
	var email string
	err := s.db.QueryRow(ctx, `SELECT email FROM owner_contacts WHERE owner_id = $1`, ownerID).Scan(&email)
	if pg.IsNotFoundError(err) {
		return "", notify.ErrContactNotFound
	}
	return email, err
}

func (s *ContactStore) SetEmail(ctx context.Context, ownerID uuid.UUID, email string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO owner_contacts (owner_id, email, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (owner_id) DO UPDATE SET email = EXCLUDED.email, updated_at = now()`,
		ownerID, email)
	return err
}
