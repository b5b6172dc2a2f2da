package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/example/curio-shop/internal/domain/cart"
)

// PostgresCartStore implements cart.Store on PostgreSQL. Carts are
// last-write-wins; the reservation machinery, not the cart, guards against
// double-selling.
type PostgresCartStore struct {
	db *sql.DB
}

func NewPostgresCartStore(db *sql.DB) *PostgresCartStore {
	return &PostgresCartStore{db: db}
}

func (s *PostgresCartStore) Get(ctx context.Context, id string) (*cart.Cart, bool, error) {
	var c cart.Cart
	var linesJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, buyer_id, lines, subtotal, updated_at
		FROM carts WHERE id = $1
	`, id).Scan(&c.ID, &c.BuyerID, &linesJSON, &c.Subtotal, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	json.Unmarshal(linesJSON, &c.Lines)
	return &c, true, nil
}

func (s *PostgresCartStore) Save(ctx context.Context, c *cart.Cart) error {
	linesJSON, err := json.Marshal(c.Lines)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO carts (id, buyer_id, lines, subtotal, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			lines = EXCLUDED.lines,
			subtotal = EXCLUDED.subtotal,
			updated_at = EXCLUDED.updated_at
	`, c.ID, c.BuyerID, linesJSON, c.Subtotal, c.UpdatedAt)
	return err
}

func (s *PostgresCartStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM carts WHERE id = $1`, id)
	return err
}
