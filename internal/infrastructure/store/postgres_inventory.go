package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"github.com/example/curio-shop/internal/domain/inventory"
)

// PostgresInventoryStore implements inventory.Store on PostgreSQL. The
// compare-and-set contract maps to a conditional UPDATE: the WHERE clause
// carries the expected status (and token), and RowsAffected decides whether
// the write landed.
type PostgresInventoryStore struct {
	db *sql.DB
}

func NewPostgresInventoryStore(db *sql.DB) *PostgresInventoryStore {
	return &PostgresInventoryStore{db: db}
}

const itemColumns = `id, item_key, name, description, price, category, images,
	status, holder_id, reservation_token, reserved_until, created_at, updated_at`

// FindItem resolves either the external item key or the internal id.
func (s *PostgresInventoryStore) FindItem(ctx context.Context, key string) (*inventory.Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM items WHERE item_key = $1 OR id = $1
	`, key)
	rec, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (s *PostgresInventoryStore) InsertItem(ctx context.Context, rec *inventory.Record) error {
	imagesJSON, err := json.Marshal(rec.Images)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO items (id, item_key, name, description, price, category, images,
			status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rec.ID, rec.ItemKey, rec.Name, rec.Description, rec.Price, rec.Category,
		imagesJSON, rec.Status, rec.CreatedAt, rec.UpdatedAt)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return inventory.ErrItemExists
	}
	return err
}

func (s *PostgresInventoryStore) ListItems(ctx context.Context, category string) ([]inventory.Record, error) {
	query := `SELECT ` + itemColumns + ` FROM items`
	var args []any
	if category != "" {
		query += ` WHERE category = $1`
		args = append(args, category)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []inventory.Record
	for rows.Next() {
		rec, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// CompareAndSetState applies update only if the row still carries the
// expected status and, when expected, the token.
func (s *PostgresInventoryStore) CompareAndSetState(ctx context.Context, id string, expect inventory.Expectation, update inventory.Update) (bool, error) {
	query := `
		UPDATE items
		SET status = $1, holder_id = $2, reservation_token = $3,
			reserved_until = $4, updated_at = NOW()
		WHERE id = $5 AND status = $6`
	args := []any{
		update.Status,
		nullString(update.HolderID),
		nullString(update.Token),
		nullTime(update.Deadline),
		id,
		expect.Status,
	}
	if expect.Token != "" {
		query += ` AND reservation_token = $7`
		args = append(args, expect.Token)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PostgresInventoryStore) ListExpiredReservations(ctx context.Context, now time.Time) ([]inventory.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE status = $1 AND reserved_until IS NOT NULL AND reserved_until <= $2
	`, inventory.StatusReserved, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []inventory.Record
	for rows.Next() {
		rec, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*inventory.Record, error) {
	var rec inventory.Record
	var imagesJSON []byte
	var holder, token sql.NullString
	var deadline sql.NullTime
	err := row.Scan(&rec.ID, &rec.ItemKey, &rec.Name, &rec.Description, &rec.Price,
		&rec.Category, &imagesJSON, &rec.Status, &holder, &token, &deadline,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(imagesJSON) > 0 {
		json.Unmarshal(imagesJSON, &rec.Images)
	}
	rec.HolderID = holder.String
	rec.Token = token.String
	if deadline.Valid {
		t := deadline.Time
		rec.Deadline = &t
	}
	return &rec, nil
}
