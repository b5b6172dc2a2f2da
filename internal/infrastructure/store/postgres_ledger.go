package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/example/curio-shop/internal/domain/ledger"
)

// PostgresLedgerStore implements ledger.Store on PostgreSQL. Update is a
// conditional UPDATE on the expected payment status, so concurrent
// verify/reject/expire attempts resolve to exactly one winner.
type PostgresLedgerStore struct {
	db *sql.DB
}

func NewPostgresLedgerStore(db *sql.DB) *PostgresLedgerStore {
	return &PostgresLedgerStore{db: db}
}

const paymentColumns = `order_ref, buyer_id, items, amount, reservation_token,
	status, order_status, payment_method, payment_proof, reserved_until,
	admin_note, verified_by, verified_at, created_at, updated_at`

func (s *PostgresLedgerStore) Insert(ctx context.Context, e *ledger.Entry) error {
	itemsJSON, err := json.Marshal(e.Items)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO payments (order_ref, buyer_id, items, amount, reservation_token,
			status, order_status, payment_method, payment_proof, reserved_until,
			admin_note, verified_by, verified_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, e.OrderRef, e.BuyerID, itemsJSON, e.Amount, e.Token,
		e.Status, e.OrderStatus, nullString(string(e.Method)), nullString(e.Proof),
		e.ReservedUntil, nullString(e.AdminNote), nullString(e.VerifiedBy),
		nullTime(e.VerifiedAt), e.CreatedAt, e.UpdatedAt)
	return err
}

func (s *PostgresLedgerStore) GetByRef(ctx context.Context, orderRef string) (*ledger.Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+` FROM payments WHERE order_ref = $1
	`, orderRef)
	return scanEntryRow(row)
}

func (s *PostgresLedgerStore) GetByToken(ctx context.Context, token string) (*ledger.Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments WHERE reservation_token = $1
		ORDER BY created_at DESC LIMIT 1
	`, token)
	return scanEntryRow(row)
}

// Update writes the entry's current state only if the stored payment status
// still matches expect.
func (s *PostgresLedgerStore) Update(ctx context.Context, e *ledger.Entry, expect ledger.Status) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payments
		SET status = $1, order_status = $2, payment_method = $3, payment_proof = $4,
			admin_note = $5, verified_by = $6, verified_at = $7, updated_at = $8
		WHERE order_ref = $9 AND status = $10
	`, e.Status, e.OrderStatus, nullString(string(e.Method)), nullString(e.Proof),
		nullString(e.AdminNote), nullString(e.VerifiedBy), nullTime(e.VerifiedAt),
		e.UpdatedAt, e.OrderRef, expect)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PostgresLedgerStore) ListPendingExpired(ctx context.Context, now time.Time) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE status = $1 AND reserved_until <= $2
	`, ledger.StatusPending, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *PostgresLedgerStore) ListByBuyer(ctx context.Context, buyerID string) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments WHERE buyer_id = $1
		ORDER BY created_at DESC
	`, buyerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntryRow(row rowScanner) (*ledger.Entry, bool, error) {
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

func scanEntries(rows *sql.Rows) ([]ledger.Entry, error) {
	var entries []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func scanEntry(row rowScanner) (*ledger.Entry, error) {
	var e ledger.Entry
	var itemsJSON []byte
	var method, proof, note, verifiedBy sql.NullString
	var verifiedAt sql.NullTime
	err := row.Scan(&e.OrderRef, &e.BuyerID, &itemsJSON, &e.Amount, &e.Token,
		&e.Status, &e.OrderStatus, &method, &proof, &e.ReservedUntil,
		&note, &verifiedBy, &verifiedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	json.Unmarshal(itemsJSON, &e.Items)
	e.Method = ledger.Method(method.String)
	e.Proof = proof.String
	e.AdminNote = note.String
	e.VerifiedBy = verifiedBy.String
	if verifiedAt.Valid {
		t := verifiedAt.Time
		e.VerifiedAt = &t
	}
	return &e, nil
}
