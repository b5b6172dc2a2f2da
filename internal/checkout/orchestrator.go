package checkout

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/example/curio-shop/internal/clock"
	"github.com/example/curio-shop/internal/domain/cart"
	"github.com/example/curio-shop/internal/domain/inventory"
	"github.com/example/curio-shop/internal/domain/ledger"
)

// Result is what the buyer gets back from a successful checkout.
type Result struct {
	OrderRef      string        `json:"order_ref"`
	Items         []ledger.Item `json:"items"`
	Subtotal      int           `json:"subtotal"`
	Shipping      int           `json:"shipping,omitempty"`
	Tax           int           `json:"tax,omitempty"`
	Amount        int           `json:"amount"`
	ReservedUntil time.Time     `json:"reserved_until"`
}

// Orchestrator coordinates claim, ledger entry and cart for single-item
// and cart checkout. Atomicity of a cart checkout rests on the Manager's
// all-or-nothing claim contract, not on any storage transaction.
type Orchestrator struct {
	inv    *inventory.Manager
	ledger *ledger.Service
	carts  *cart.Service
	clock  clock.Clock
	ttl    time.Duration
}

func NewOrchestrator(inv *inventory.Manager, led *ledger.Service, carts *cart.Service, clk clock.Clock, ttl time.Duration) *Orchestrator {
	return &Orchestrator{inv: inv, ledger: led, carts: carts, clock: clk, ttl: ttl}
}

// BuyNow reserves a single item and opens a ledger entry for it. The
// availability pre-check fails fast for the buyer; the authoritative check
// happens inside Claim.
func (o *Orchestrator) BuyNow(ctx context.Context, itemKey, buyerID string) (*Result, error) {
	rec, err := o.inv.Availability(ctx, itemKey)
	if err != nil {
		return nil, err
	}
	now := o.clock.Now()
	if rec.Status == inventory.StatusSold {
		return nil, fmt.Errorf("%s: %w", rec.ItemKey, inventory.ErrItemSold)
	}
	if rec.Status == inventory.StatusReserved && rec.HolderID != buyerID {
		return nil, &inventory.ReservedByOtherError{
			ItemKey:       rec.ItemKey,
			ReservedUntil: *rec.Deadline,
			TimeLeft:      rec.Deadline.Sub(now),
		}
	}

	claim, err := o.inv.Claim(ctx, []string{itemKey}, buyerID, o.ttl)
	if err != nil {
		return nil, err
	}
	return o.openEntry(ctx, claim, buyerID, claim.Records[0].Price, 0, 0)
}

// CheckoutCart claims every line of the buyer's cart as one batch, opens a
// single ledger entry spanning the cart, and clears the cart only after the
// claim held. A partial claim never survives: the Manager unwinds it before
// the per-item error reaches us.
func (o *Orchestrator) CheckoutCart(ctx context.Context, buyerID string) (*Result, error) {
	c, err := o.carts.Get(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	if len(c.Lines) == 0 {
		return nil, cart.ErrEmptyCart
	}

	keys := make([]string, len(c.Lines))
	for i, l := range c.Lines {
		keys[i] = l.ItemKey
	}

	claim, err := o.inv.Claim(ctx, keys, buyerID, o.ttl)
	if err != nil {
		return nil, err
	}

	subtotal := 0
	for _, rec := range claim.Records {
		subtotal += rec.Price
	}
	shipping, tax, grand := Totals(subtotal)

	res, err := o.openEntry(ctx, claim, buyerID, grand, shipping, tax)
	if err != nil {
		return nil, err
	}

	if err := o.carts.Clear(ctx, buyerID); err != nil {
		log.Printf("[Checkout] Failed to clear cart for %s: %v", buyerID, err)
	}
	return res, nil
}

// openEntry creates the ledger entry for a claim, resurfacing the existing
// entry when the claim was an idempotent resubmission. A resurfaced entry
// may span more items than the request (a buy-now for an item already held
// inside a cart order), so its breakdown is recomputed from the entry
// rather than taken from the caller.
func (o *Orchestrator) openEntry(ctx context.Context, claim *inventory.Claim, buyerID string, amount, shipping, tax int) (*Result, error) {
	if claim.Reused {
		if existing, found, err := o.ledger.EntryForToken(ctx, claim.Token); err != nil {
			return nil, err
		} else if found && existing.Status == ledger.StatusPending {
			return entryResult(existing), nil
		}
	}

	ref := ledger.NewOrderRef(o.clock.Now())
	entry, err := o.ledger.CreateEntry(ctx, ref, claim, buyerID, amount)
	if err != nil {
		return nil, err
	}
	return &Result{
		OrderRef:      entry.OrderRef,
		Items:         entry.Items,
		Subtotal:      entry.Amount - shipping - tax,
		Shipping:      shipping,
		Tax:           tax,
		Amount:        entry.Amount,
		ReservedUntil: entry.ReservedUntil,
	}, nil
}

// entryResult rebuilds the charge breakdown of an existing entry: the item
// prices are the subtotal, and anything above it is the shipping-and-tax
// leg added at cart checkout.
func entryResult(entry *ledger.Entry) *Result {
	subtotal := 0
	for _, it := range entry.Items {
		subtotal += it.Price
	}
	shipping, tax := 0, 0
	if extra := entry.Amount - subtotal; extra > 0 {
		shipping = ShippingFlat
		tax = extra - ShippingFlat
	}
	return &Result{
		OrderRef:      entry.OrderRef,
		Items:         entry.Items,
		Subtotal:      subtotal,
		Shipping:      shipping,
		Tax:           tax,
		Amount:        entry.Amount,
		ReservedUntil: entry.ReservedUntil,
	}
}
