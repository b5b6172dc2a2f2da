package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/curio-shop/internal/clock"
)

var (
	ErrEmptyCart     = errors.New("cart is empty")
	ErrAlreadyInCart = errors.New("item is already in the cart")
	ErrLineNotFound  = errors.New("item is not in the cart")
)

// Line is one unique item in a cart. Items are one-of-a-kind, so a cart
// holds at most one line per item key and lines carry no quantity.
type Line struct {
	ItemKey string `json:"item_key"`
	Name    string `json:"name"`
	Price   int    `json:"price"`
}

type Cart struct {
	ID        string    `json:"id"`
	BuyerID   string    `json:"buyer_id"`
	Lines     []Line    `json:"lines"`
	Subtotal  int       `json:"subtotal"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CartID derives the storage id for a buyer's cart.
func CartID(buyerID string) string {
	return "cart:" + buyerID
}

// Store persists carts keyed by CartID.
type Store interface {
	Get(ctx context.Context, id string) (*Cart, bool, error)
	Save(ctx context.Context, c *Cart) error
	Delete(ctx context.Context, id string) error
}

type Service struct {
	store Store
	clock clock.Clock
}

func NewService(store Store, clk clock.Clock) *Service {
	return &Service{store: store, clock: clk}
}

// Get returns the buyer's cart, empty if none exists yet.
func (s *Service) Get(ctx context.Context, buyerID string) (*Cart, error) {
	c, found, err := s.store.Get(ctx, CartID(buyerID))
	if err != nil {
		return nil, err
	}
	if !found {
		return &Cart{ID: CartID(buyerID), BuyerID: buyerID}, nil
	}
	return c, nil
}

func (s *Service) AddItem(ctx context.Context, buyerID string, line Line) (*Cart, error) {
	c, err := s.Get(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	for _, l := range c.Lines {
		if l.ItemKey == line.ItemKey {
			return nil, fmt.Errorf("%s: %w", line.ItemKey, ErrAlreadyInCart)
		}
	}
	c.Lines = append(c.Lines, line)
	c.Subtotal += line.Price
	c.UpdatedAt = s.clock.Now()
	if err := s.store.Save(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) RemoveItem(ctx context.Context, buyerID, itemKey string) (*Cart, error) {
	c, err := s.Get(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	for i, l := range c.Lines {
		if l.ItemKey == itemKey {
			c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
			c.Subtotal -= l.Price
			c.UpdatedAt = s.clock.Now()
			if err := s.store.Save(ctx, c); err != nil {
				return nil, err
			}
			return c, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", itemKey, ErrLineNotFound)
}

func (s *Service) Clear(ctx context.Context, buyerID string) error {
	return s.store.Delete(ctx, CartID(buyerID))
}
