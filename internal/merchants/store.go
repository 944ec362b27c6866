package merchants

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// PGStore is the PostgreSQL-backed Store. WithPaymentLock takes a row lock on
// the payment inside a transaction, so concurrent transitions on the same
// session serialise at the database.
type PGStore struct {
	Pool *pgxpool.Pool
}

// NewPGStore wraps the pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{Pool: pool}
}

const paymentColumns = `id, session_id, provider_key, amount, currency, state, metadata, created_at, updated_at`

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	var state string
	err := row.Scan(&p.ID, &p.SessionID, &p.ProviderKey, &p.Amount, &p.Currency, &state, &p.Metadata, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Payment{}, err
	}
	p.State = State(state)
	return p, nil
}

// CreatePayment inserts the payment. A session id collision maps to
// ErrDuplicateSession so the checkout layer can treat it as a replay.
func (s *PGStore) CreatePayment(ctx context.Context, p Payment) (Payment, error) {
	if p.Metadata == nil {
		p.Metadata = map[string]string{}
	}
	row := s.Pool.QueryRow(ctx, `
		INSERT INTO payments (session_id, provider_key, amount, currency, state, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+paymentColumns,
		p.SessionID, p.ProviderKey, p.Amount, p.Currency, string(p.State), p.Metadata,
	)
	created, err := scanPayment(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Payment{}, fmt.Errorf("session %s: %w", p.SessionID, ErrDuplicateSession)
		}
		return Payment{}, fmt.Errorf("insert payment: %w", err)
	}
	return created, nil
}

// GetPayment loads a payment by session id.
func (s *PGStore) GetPayment(ctx context.Context, sessionID string) (Payment, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE session_id = $1`, sessionID)
	p, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, fmt.Errorf("payment %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return Payment{}, fmt.Errorf("load payment: %w", err)
	}
	return p, nil
}

// ListOpenPayments returns non-terminal gateway payments last touched more
// than olderThanSeconds ago, oldest first. The reconciler polls these.
func (s *PGStore) ListOpenPayments(ctx context.Context, olderThanSeconds int64, limit int32) ([]Payment, error) {
	cutoff := time.Now().Add(-time.Duration(olderThanSeconds) * time.Second)
	rows, err := s.Pool.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE state IN ($1, $2) AND updated_at < $3
		ORDER BY updated_at ASC
		LIMIT $4`,
		string(StatePending), string(StateProcessing), cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list open payments: %w", err)
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan open payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// WithPaymentLock runs fn against the payment row locked with
// SELECT ... FOR UPDATE. fn's mutations commit as one unit; any error from fn
// rolls the whole transaction back.
func (s *PGStore) WithPaymentLock(ctx context.Context, sessionID string, fn func(ctx context.Context, tx Tx, p Payment) error) error {
	return pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT `+paymentColumns+` FROM payments WHERE session_id = $1 FOR UPDATE`, sessionID)
		p, err := scanPayment(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("payment %s: %w", sessionID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock payment: %w", err)
		}
		return fn(ctx, pgTx{tx: tx}, p)
	})
}

type pgTx struct {
	tx pgx.Tx
}

func (t pgTx) SetState(ctx context.Context, paymentID string, state State) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE payments SET state = $2, updated_at = now() WHERE id = $1`,
		paymentID, string(state))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment %s: %w", paymentID, ErrNotFound)
	}
	return nil
}

func (t pgTx) AppendEvent(ctx context.Context, paymentID string, state State, source string, payload []byte) error {
	if payload == nil {
		payload = []byte("{}")
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO payment_events (payment_id, state, source, payload)
		VALUES ($1, $2, $3, $4)`,
		paymentID, string(state), source, payload)
	return err
}

func (t pgTx) LedgerRequest(ctx context.Context, code string) (LedgerRequest, error) {
	var req LedgerRequest
	err := t.tx.QueryRow(ctx,
		`SELECT code, guardian_id, amount, currency FROM topups WHERE code = $1`, code).
		Scan(&req.Code, &req.GuardianID, &req.Amount, &req.Currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return LedgerRequest{}, fmt.Errorf("ledger request %s: %w", code, ErrNotFound)
	}
	if err != nil {
		return LedgerRequest{}, err
	}
	return req, nil
}

func (t pgTx) CreditGuardian(ctx context.Context, guardianID string, amount int64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE guardians SET balance = balance + $2, updated_at = now() WHERE id = $1`,
		guardianID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("guardian %s: %w", guardianID, ErrNotFound)
	}
	return nil
}
