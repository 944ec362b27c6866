package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound reports an unknown top-up code or guardian id.
var ErrNotFound = errors.New("ledger: not found")

// TopUp is a guardian's request to load money onto the prepaid account. Its
// code is the correlation key the payment side carries as request code.
type TopUp struct {
	ID          string
	Code        string
	GuardianID  string
	Amount      int64
	Currency    string
	Method      string
	Description string
	SessionID   string
	CreatedAt   time.Time
}

// Guardian is the prepaid account holder. Balance only moves through the
// payment engine's transactional credit.
type Guardian struct {
	ID        string
	Name      string
	Email     string
	Balance   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PGStore is the PostgreSQL-backed ledger store.
type PGStore struct {
	Pool *pgxpool.Pool
}

// NewPGStore wraps the pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{Pool: pool}
}

const topupColumns = `id, code, guardian_id, amount, currency, method, description, COALESCE(session_id, ''), created_at`

func scanTopUp(row pgx.Row) (TopUp, error) {
	var t TopUp
	err := row.Scan(&t.ID, &t.Code, &t.GuardianID, &t.Amount, &t.Currency, &t.Method, &t.Description, &t.SessionID, &t.CreatedAt)
	return t, err
}

// CreateTopUp inserts the top-up row.
func (s *PGStore) CreateTopUp(ctx context.Context, t TopUp) (TopUp, error) {
	row := s.Pool.QueryRow(ctx, `
		INSERT INTO topups (code, guardian_id, amount, currency, method, description)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+topupColumns,
		t.Code, t.GuardianID, t.Amount, t.Currency, t.Method, t.Description,
	)
	created, err := scanTopUp(row)
	if err != nil {
		return TopUp{}, fmt.Errorf("insert topup: %w", err)
	}
	return created, nil
}

// GetTopUp loads a top-up by its code.
func (s *PGStore) GetTopUp(ctx context.Context, code string) (TopUp, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+topupColumns+` FROM topups WHERE code = $1`, code)
	t, err := scanTopUp(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return TopUp{}, fmt.Errorf("topup %s: %w", code, ErrNotFound)
	}
	if err != nil {
		return TopUp{}, fmt.Errorf("load topup: %w", err)
	}
	return t, nil
}

// AttachSession records the checkout session opened for the top-up.
func (s *PGStore) AttachSession(ctx context.Context, code, sessionID string) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE topups SET session_id = $2 WHERE code = $1`, code, sessionID)
	if err != nil {
		return fmt.Errorf("attach session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("topup %s: %w", code, ErrNotFound)
	}
	return nil
}

// GetGuardian loads a guardian account.
func (s *PGStore) GetGuardian(ctx context.Context, id string) (Guardian, error) {
	var g Guardian
	err := s.Pool.QueryRow(ctx, `
		SELECT id, name, email, balance, created_at, updated_at
		FROM guardians WHERE id = $1`, id).
		Scan(&g.ID, &g.Name, &g.Email, &g.Balance, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Guardian{}, fmt.Errorf("guardian %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Guardian{}, fmt.Errorf("load guardian: %w", err)
	}
	return g, nil
}
