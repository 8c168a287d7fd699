package repository

import (
	"context"
	"encoding/json"
	"time"

	"payments_core/internal/domain"
	"payments_core/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const transactionColumns = `id, user_id, direction, provider, COALESCE(external_transaction_id, ''), amount::text,
	settled_amount::text, currency, status, payment_code, payee_key, raw_external_payload, meta, created_at, dispatched_at, settled_at`

type TransactionRepository struct {
	db *pgxpool.Pool
}

func NewTransactionRepository(db *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// GetByID returns store.ErrNotFound when the row does not exist.
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return getTransaction(ctx, r.db, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
}

func (r *TransactionRepository) GetByExternalID(ctx context.Context, provider, externalID string) (*domain.Transaction, error) {
	return getTransaction(ctx, r.db,
		`SELECT `+transactionColumns+` FROM transactions WHERE provider = $1 AND external_transaction_id = $2`,
		provider, externalID,
	)
}

// LockWithTx loads the row with FOR UPDATE.
func (r *TransactionRepository) LockWithTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Transaction, error) {
	return getTransaction(ctx, tx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id)
}

// CreateWithTx inserts a transaction using an existing database transaction
func (r *TransactionRepository) CreateWithTx(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	return insertTransaction(ctx, tx, t)
}

func (r *TransactionRepository) Create(ctx context.Context, t *domain.Transaction) error {
	return insertTransaction(ctx, r.db, t)
}

func insertTransaction(ctx context.Context, q DBTX, t *domain.Transaction) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	metaJSON, err := json.Marshal(t.Meta)
	if err != nil || t.Meta == nil {
		metaJSON = []byte("{}")
	}
	var payload []byte
	if len(t.RawPayload) > 0 {
		payload = t.RawPayload
	}

	err = q.QueryRow(ctx,
		`INSERT INTO transactions (id, user_id, direction, provider, external_transaction_id, amount, currency,
		                           status, payment_code, payee_key, raw_external_payload, meta, settled_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5::text, ''), $6::numeric, $7, $8::text, $9, $10, $11, $12,
		         CASE WHEN $8::text = 'pending' THEN NULL ELSE NOW() END)
		 RETURNING created_at, settled_at`,
		t.ID, t.UserID, string(t.Kind), t.Provider, t.ExternalID, t.Amount.String(), t.Currency,
		string(t.Status), t.PaymentCode, t.PayeeKey, payload, metaJSON,
	).Scan(&t.CreatedAt, &t.SettledAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicateEntry
	}
	return err
}

// SettleWithTx moves a pending row to a terminal status.
func (r *TransactionRepository) SettleWithTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.Status, externalID string, settled *decimal.Decimal, payload json.RawMessage) error {
	var raw []byte
	if len(payload) > 0 {
		raw = payload
	}
	var amount *string
	if settled != nil {
		v := settled.String()
		amount = &v
	}
	tag, err := tx.Exec(ctx,
		`UPDATE transactions
		 SET status = $2,
		     settled_at = NOW(),
		     external_transaction_id = COALESCE(external_transaction_id, NULLIF($3::text, '')),
		     raw_external_payload = COALESCE($4::jsonb, raw_external_payload),
		     settled_amount = $5::numeric
		 WHERE id = $1 AND status = 'pending'`,
		id, string(status), externalID, raw, amount,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateEntry
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotPending
	}
	return nil
}

// AttachExternalID records the provider id and payment code returned by a gateway call.
func (r *TransactionRepository) AttachExternalID(ctx context.Context, id uuid.UUID, externalID, paymentCode string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE transactions
		 SET external_transaction_id = COALESCE(external_transaction_id, NULLIF($2::text, '')),
		     payment_code = CASE WHEN $3::text = '' THEN payment_code ELSE $3::text END
		 WHERE id = $1`,
		id, externalID, paymentCode,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateEntry
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *TransactionRepository) ClaimDispatch(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE transactions SET dispatched_at = NOW()
		 WHERE id = $1 AND status = 'pending' AND direction = 'withdrawal' AND dispatched_at IS NULL`,
		id,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *TransactionRepository) HasApprovedWithTx(ctx context.Context, tx pgx.Tx, userID int64, kind domain.Kind, excluding uuid.UUID) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM transactions
		               WHERE user_id = $1 AND direction = $2 AND status = 'approved' AND id <> $3)`,
		userID, string(kind), excluding,
	).Scan(&exists)
	return exists, err
}

// ListPending returns pending rows created before olderThan, oldest first.
func (r *TransactionRepository) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+transactionColumns+`
		 FROM transactions
		 WHERE status = 'pending' AND created_at < $1
		 ORDER BY created_at
		 LIMIT $2`,
		olderThan, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// GetByUserID returns recent transactions for a user
func (r *TransactionRepository) GetByUserID(ctx context.Context, userID int64, limit int) ([]*domain.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+transactionColumns+`
		 FROM transactions
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func getTransaction(ctx context.Context, q DBTX, sql string, args ...any) (*domain.Transaction, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list, err := scanTransactions(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, store.ErrNotFound
	}
	return list[0], nil
}

func scanTransactions(rows pgx.Rows) ([]*domain.Transaction, error) {
	var result []*domain.Transaction

	for rows.Next() {
		var (
			t        domain.Transaction
			kind     string
			status   string
			amount   string
			settled  *string
			payload  []byte
			metaJSON []byte
		)

		if err := rows.Scan(&t.ID, &t.UserID, &kind, &t.Provider, &t.ExternalID, &amount, &settled,
			&t.Currency, &status, &t.PaymentCode, &t.PayeeKey, &payload, &metaJSON,
			&t.CreatedAt, &t.DispatchedAt, &t.SettledAt); err != nil {
			return nil, err
		}

		t.Kind = domain.Kind(kind)
		t.Status = domain.Status(status)
		d, err := parseNumeric(amount)
		if err != nil {
			return nil, err
		}
		t.Amount = d
		if settled != nil {
			v, err := parseNumeric(*settled)
			if err != nil {
				return nil, err
			}
			t.SettledAmount = &v
		}
		if len(payload) > 0 {
			t.RawPayload = json.RawMessage(payload)
		}
		if len(metaJSON) > 0 {
			_ = json.Unmarshal(metaJSON, &t.Meta)
		}

		result = append(result, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
