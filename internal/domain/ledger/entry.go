package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"time"
)

// Status tracks the manual-payment lifecycle of an entry.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusFailed   Status = "failed"
	StatusExpired  Status = "expired"
)

// OrderStatus tracks the higher-level order lifecycle. It stays consistent
// with the inventory state: SOLD implies items sold, CANCELLED/EXPIRED
// imply items released.
type OrderStatus string

const (
	OrderReserved  OrderStatus = "reserved"
	OrderSold      OrderStatus = "sold"
	OrderCancelled OrderStatus = "cancelled"
	OrderExpired   OrderStatus = "expired"
)

// Method is a manual payment channel.
type Method string

const (
	MethodUPI          Method = "upi"
	MethodBankTransfer Method = "bank_transfer"
)

var (
	ErrEntryNotFound    = errors.New("order not found")
	ErrConflictingState = errors.New("order is not pending")
	ErrInvalidProof     = errors.New("invalid payment proof")
)

var (
	upiProofPattern  = regexp.MustCompile(`^[A-Za-z0-9]{8,20}$`)
	bankProofPattern = regexp.MustCompile(`^[A-Za-z0-9]{6,30}$`)
)

// ValidateProof checks the method-specific reference format.
func ValidateProof(method Method, proof string) error {
	proof = strings.TrimSpace(proof)
	switch method {
	case MethodUPI:
		if !upiProofPattern.MatchString(proof) {
			return fmt.Errorf("%w: UPI transaction id must be 8-20 alphanumeric characters", ErrInvalidProof)
		}
	case MethodBankTransfer:
		if !bankProofPattern.MatchString(proof) {
			return fmt.Errorf("%w: bank reference must be 6-30 alphanumeric characters", ErrInvalidProof)
		}
	default:
		return fmt.Errorf("%w: unknown payment method %q", ErrInvalidProof, method)
	}
	return nil
}

// Item is one claimed inventory record referenced by an entry.
type Item struct {
	ItemKey string `json:"item_key"`
	Name    string `json:"name"`
	Price   int    `json:"price"`
}

// Entry is the ledger row for one checkout attempt. Entries are an audit
// trail: they are never deleted, only advanced. The inventory record, not
// the entry, is authoritative for whether an item is still sellable.
type Entry struct {
	OrderRef      string      `json:"order_ref"`
	BuyerID       string      `json:"buyer_id"`
	Items         []Item      `json:"items"`
	Amount        int         `json:"amount"`
	Token         string      `json:"reservation_token"`
	Status        Status      `json:"status"`
	OrderStatus   OrderStatus `json:"order_status"`
	Method        Method      `json:"payment_method,omitempty"`
	Proof         string      `json:"payment_proof,omitempty"`
	ReservedUntil time.Time   `json:"reserved_until"`
	AdminNote     string      `json:"admin_note,omitempty"`
	VerifiedBy    string      `json:"verified_by,omitempty"`
	VerifiedAt    *time.Time  `json:"verified_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// ItemKeys returns the inventory keys referenced by the entry.
func (e *Entry) ItemKeys() []string {
	keys := make([]string, len(e.Items))
	for i, it := range e.Items {
		keys[i] = it.ItemKey
	}
	return keys
}

// Store is the durable ledger store. Update applies the new row state only
// if the entry's current payment status still matches expect, so concurrent
// verify/reject/expire attempts resolve to exactly one winner.
type Store interface {
	Insert(ctx context.Context, e *Entry) error
	GetByRef(ctx context.Context, orderRef string) (*Entry, bool, error)
	GetByToken(ctx context.Context, token string) (*Entry, bool, error)
	Update(ctx context.Context, e *Entry, expect Status) (bool, error)
	ListPendingExpired(ctx context.Context, now time.Time) ([]Entry, error)
	ListByBuyer(ctx context.Context, buyerID string) ([]Entry, error)
}

const orderRefAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewOrderRef generates an externally visible order reference:
// "GZ" + millisecond timestamp + 5 random characters.
func NewOrderRef(now time.Time) string {
	var b strings.Builder
	b.WriteString("GZ")
	fmt.Fprintf(&b, "%d", now.UnixMilli())
	for i := 0; i < 5; i++ {
		b.WriteByte(orderRefAlphabet[rand.Intn(len(orderRefAlphabet))])
	}
	return b.String()
}
