package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the availability state of a unique item.
type Status string

const (
	StatusAvailable Status = "available"
	StatusReserved  Status = "reserved"
	StatusSold      Status = "sold"
)

var (
	ErrItemExists          = errors.New("item already exists")
	ErrItemNotFound        = errors.New("item not found")
	ErrItemSold            = errors.New("item is already sold")
	ErrClaimConflict       = errors.New("claim conflict, please try again")
	ErrReservationExpired  = errors.New("reservation expired")
	ErrReservationMismatch = errors.New("reservation does not match")
)

// ReservedByOtherError reports that another buyer currently holds the item.
type ReservedByOtherError struct {
	ItemKey       string
	ReservedUntil time.Time
	TimeLeft      time.Duration
}

func (e *ReservedByOtherError) Error() string {
	return fmt.Sprintf("item %s is reserved by another buyer, available in %s", e.ItemKey, e.TimeLeft.Round(time.Second))
}

// Record is the durable state of one unique sellable item. It is the single
// source of truth for saleability; every mutation goes through the Manager's
// compare-and-set contract. Records are never deleted, only transitioned.
type Record struct {
	ID          string     `json:"id"`       // internal storage identity
	ItemKey     string     `json:"item_key"` // external, human-assignable key
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Price       int        `json:"price"`
	Category    string     `json:"category"`
	Images      []string   `json:"images,omitempty"`
	Status      Status     `json:"status"`
	HolderID    string     `json:"holder_id,omitempty"`
	Token       string     `json:"reservation_token,omitempty"`
	Deadline    *time.Time `json:"reservation_deadline,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Expired reports whether the record carries a reservation whose deadline
// has passed. Such a record is logically available even before the sweeper
// physically releases it.
func (r *Record) Expired(now time.Time) bool {
	return r.Status == StatusReserved && r.Deadline != nil && !now.Before(*r.Deadline)
}

// HeldBy reports whether holder owns an unexpired reservation on the record.
func (r *Record) HeldBy(holder string, now time.Time) bool {
	return r.Status == StatusReserved && r.HolderID == holder && !r.Expired(now)
}

// EffectiveStatus applies lazy expiry to the stored status: a reservation
// past its deadline reads as available.
func (r *Record) EffectiveStatus(now time.Time) Status {
	if r.Expired(now) {
		return StatusAvailable
	}
	return r.Status
}

// Expectation is the state a compare-and-set write is conditioned on.
// Token is checked only when non-empty.
type Expectation struct {
	Status Status
	Token  string
}

// Update is the target state of a compare-and-set write. Holder, Token and
// Deadline are cleared in the store when empty/nil.
type Update struct {
	Status   Status
	HolderID string
	Token    string
	Deadline *time.Time
}

// Store is the durable inventory record store consumed by the Manager.
// CompareAndSetState must apply the update only if the record's current
// status (and token, when expected) still match, and report whether the
// write landed. Implementations must support concurrent compare-and-set
// on the same record.
type Store interface {
	// FindItem resolves either the external item key or the internal id.
	FindItem(ctx context.Context, key string) (*Record, bool, error)
	// InsertItem adds a new record; ErrItemExists when the key is taken.
	InsertItem(ctx context.Context, rec *Record) error
	// ListItems returns all records, optionally filtered by category.
	ListItems(ctx context.Context, category string) ([]Record, error)
	CompareAndSetState(ctx context.Context, id string, expect Expectation, update Update) (bool, error)
	ListExpiredReservations(ctx context.Context, now time.Time) ([]Record, error)
}
