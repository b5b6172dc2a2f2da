package inventory

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/example/curio-shop/internal/clock"
	"github.com/google/uuid"
)

// EventPublisher publishes domain events. Publishing is best-effort; the
// Manager logs failures and never fails a transition because of one.
type EventPublisher interface {
	Publish(ctx context.Context, key, eventType string, data any) error
}

// Claim is a successful exclusive hold on one or more items, grouped under
// a single token with one shared deadline.
type Claim struct {
	Token    string
	HolderID string
	Deadline time.Time
	Records  []Record
	Reused   bool // true when an existing claim by the same holder was returned
}

// ItemKeys returns the external keys of the claimed records.
func (c *Claim) ItemKeys() []string {
	keys := make([]string, len(c.Records))
	for i, r := range c.Records {
		keys[i] = r.ItemKey
	}
	return keys
}

// Manager owns the reservation state machine for unique-inventory items:
// AVAILABLE -> RESERVED -> SOLD (terminal), RESERVED -> AVAILABLE on
// release or expiry. Correctness rests on the store's compare-and-set;
// the Manager holds no lock across store calls.
type Manager struct {
	store  Store
	clock  clock.Clock
	events EventPublisher // may be nil
}

func NewManager(store Store, clk clock.Clock, events EventPublisher) *Manager {
	return &Manager{store: store, clock: clk, events: events}
}

// AddItem registers a new unique item as AVAILABLE.
func (m *Manager) AddItem(ctx context.Context, rec *Record) (*Record, error) {
	if rec.ItemKey == "" || rec.Name == "" || rec.Price <= 0 {
		return nil, fmt.Errorf("add item: key, name and a positive price are required")
	}
	now := m.clock.Now()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.Status = StatusAvailable
	rec.HolderID = ""
	rec.Token = ""
	rec.Deadline = nil
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if err := m.store.InsertItem(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns the catalog with lazy expiry applied, optionally filtered by
// category.
func (m *Manager) List(ctx context.Context, category string) ([]Record, error) {
	recs, err := m.store.ListItems(ctx, category)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	for i := range recs {
		if recs[i].Expired(now) {
			recs[i].Status = StatusAvailable
			recs[i].HolderID = ""
			recs[i].Token = ""
			recs[i].Deadline = nil
		}
	}
	return recs, nil
}

// Availability returns the record for either key with lazy expiry applied:
// a reservation past its deadline reads as available. It never mutates.
func (m *Manager) Availability(ctx context.Context, key string) (*Record, error) {
	rec, found, err := m.store.FindItem(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%s: %w", key, ErrItemNotFound)
	}
	if rec.Expired(m.clock.Now()) {
		rec.Status = StatusAvailable
		rec.HolderID = ""
		rec.Token = ""
		rec.Deadline = nil
	}
	return rec, nil
}

// Claim acquires an exclusive hold on every listed item, or on none of them.
// If any item fails after earlier ones were claimed, the earlier claims in
// this batch are released before the error is returned. A resubmission by a
// holder who already holds all listed items under one unexpired token gets
// that same claim back.
func (m *Manager) Claim(ctx context.Context, itemKeys []string, holderID string, ttl time.Duration) (*Claim, error) {
	if len(itemKeys) == 0 {
		return nil, fmt.Errorf("claim: no items")
	}

	if c, ok, err := m.existingClaim(ctx, itemKeys, holderID); err != nil {
		return nil, err
	} else if ok {
		return c, nil
	}

	now := m.clock.Now()
	token := uuid.New().String()
	deadline := now.Add(ttl)

	claimed := make([]Record, 0, len(itemKeys))
	for _, key := range itemKeys {
		rec, err := m.claimOne(ctx, key, holderID, token, deadline)
		if err != nil {
			m.unwind(ctx, claimed, token)
			return nil, err
		}
		claimed = append(claimed, *rec)
	}

	claim := &Claim{Token: token, HolderID: holderID, Deadline: deadline, Records: claimed}
	m.publish(ctx, token, EventItemReserved, ItemReserved{
		ItemKeys:      claim.ItemKeys(),
		HolderID:      holderID,
		Token:         token,
		ReservedUntil: deadline,
		ReservedAt:    now,
	})
	return claim, nil
}

// existingClaim detects an idempotent resubmission: every requested item is
// already held by this buyer under one shared, unexpired token.
func (m *Manager) existingClaim(ctx context.Context, itemKeys []string, holderID string) (*Claim, bool, error) {
	now := m.clock.Now()
	var token string
	records := make([]Record, 0, len(itemKeys))
	for _, key := range itemKeys {
		rec, found, err := m.store.FindItem(ctx, key)
		if err != nil {
			return nil, false, err
		}
		if !found || !rec.HeldBy(holderID, now) {
			return nil, false, nil
		}
		if token == "" {
			token = rec.Token
		} else if rec.Token != token {
			return nil, false, nil
		}
		records = append(records, *rec)
	}
	if token == "" {
		return nil, false, nil
	}
	return &Claim{
		Token:    token,
		HolderID: holderID,
		Deadline: *records[0].Deadline,
		Records:  records,
		Reused:   true,
	}, true, nil
}

// claimOne runs the per-item claim algorithm: normalize an expired
// reservation first, then evaluate state, then compare-and-set to RESERVED.
// A lost compare-and-set is re-read and re-evaluated once before surfacing
// a claim conflict.
func (m *Manager) claimOne(ctx context.Context, key, holderID, token string, deadline time.Time) (*Record, error) {
	for attempt := 0; attempt < 2; attempt++ {
		rec, found, err := m.store.FindItem(ctx, key)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("%s: %w", key, ErrItemNotFound)
		}

		now := m.clock.Now()
		if rec.Expired(now) {
			// Lazy expiry: normalize to AVAILABLE before the state checks.
			ok, err := m.store.CompareAndSetState(ctx, rec.ID,
				Expectation{Status: StatusReserved, Token: rec.Token},
				Update{Status: StatusAvailable})
			if err != nil {
				return nil, err
			}
			if !ok {
				continue // raced; re-read and re-evaluate
			}
			rec.Status = StatusAvailable
			rec.HolderID = ""
			rec.Token = ""
			rec.Deadline = nil
		}

		if rec.Status == StatusSold {
			return nil, fmt.Errorf("%s: %w", rec.ItemKey, ErrItemSold)
		}
		if rec.Status == StatusReserved && rec.HolderID != holderID {
			return nil, &ReservedByOtherError{
				ItemKey:       rec.ItemKey,
				ReservedUntil: *rec.Deadline,
				TimeLeft:      rec.Deadline.Sub(now),
			}
		}

		// AVAILABLE, or RESERVED by this holder (restamped onto the new
		// batch token). Condition the write on the state just observed.
		expect := Expectation{Status: rec.Status}
		if rec.Status == StatusReserved {
			expect.Token = rec.Token
		}
		ok, err := m.store.CompareAndSetState(ctx, rec.ID, expect, Update{
			Status:   StatusReserved,
			HolderID: holderID,
			Token:    token,
			Deadline: &deadline,
		})
		if err != nil {
			return nil, err
		}
		if ok {
			rec.Status = StatusReserved
			rec.HolderID = holderID
			rec.Token = token
			rec.Deadline = &deadline
			return rec, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", key, ErrClaimConflict)
}

// unwind releases the items claimed so far in a failed batch. Errors are
// logged; the caller surfaces the original per-item failure.
func (m *Manager) unwind(ctx context.Context, claimed []Record, token string) {
	for _, rec := range claimed {
		ok, err := m.store.CompareAndSetState(ctx, rec.ID,
			Expectation{Status: StatusReserved, Token: token},
			Update{Status: StatusAvailable})
		if err != nil {
			log.Printf("[Inventory] Unwind failed for item %s: %v", rec.ItemKey, err)
			continue
		}
		if !ok {
			log.Printf("[Inventory] Unwind no-op for item %s (state moved)", rec.ItemKey)
		}
	}
}

// Commit transitions every listed item from RESERVED under token to SOLD.
// A lapsed hold is never sold: commit fails with ErrReservationExpired even
// if no sweeper has run yet, and the buyer must re-claim.
func (m *Manager) Commit(ctx context.Context, itemKeys []string, token string) error {
	for _, key := range itemKeys {
		if err := m.commitOne(ctx, key, token); err != nil {
			return err
		}
	}
	m.publish(ctx, token, EventItemSold, ItemSold{
		ItemKeys: itemKeys,
		Token:    token,
		SoldAt:   m.clock.Now(),
	})
	return nil
}

func (m *Manager) commitOne(ctx context.Context, key, token string) error {
	for attempt := 0; attempt < 2; attempt++ {
		rec, found, err := m.store.FindItem(ctx, key)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%s: %w", key, ErrItemNotFound)
		}

		switch {
		case rec.Status == StatusAvailable:
			// The hold is gone (released or swept); the buyer must re-claim.
			return fmt.Errorf("%s: %w", rec.ItemKey, ErrReservationExpired)
		case rec.Status != StatusReserved || rec.Token != token:
			return fmt.Errorf("%s: %w", rec.ItemKey, ErrReservationMismatch)
		case rec.Expired(m.clock.Now()):
			return fmt.Errorf("%s: %w", rec.ItemKey, ErrReservationExpired)
		}

		ok, err := m.store.CompareAndSetState(ctx, rec.ID,
			Expectation{Status: StatusReserved, Token: token},
			Update{Status: StatusSold})
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		// Lost to a concurrent release/sweep; re-read decides the outcome.
	}
	return fmt.Errorf("%s: %w", key, ErrClaimConflict)
}

// Release returns RESERVED items held under token to AVAILABLE. Items
// already AVAILABLE, SOLD, or reserved under a different token are left
// alone; that is a no-op, not an error.
func (m *Manager) Release(ctx context.Context, itemKeys []string, token string) error {
	released := false
	for _, key := range itemKeys {
		rec, found, err := m.store.FindItem(ctx, key)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%s: %w", key, ErrItemNotFound)
		}
		if rec.Status != StatusReserved || rec.Token != token {
			continue // nothing to release
		}
		ok, err := m.store.CompareAndSetState(ctx, rec.ID,
			Expectation{Status: StatusReserved, Token: token},
			Update{Status: StatusAvailable})
		if err != nil {
			return err
		}
		released = released || ok
	}
	if released {
		m.publish(ctx, token, EventItemReleased, ItemReleased{
			ItemKeys:   itemKeys,
			Token:      token,
			ReleasedAt: m.clock.Now(),
		})
	}
	return nil
}

// ReleaseExpired scans for reservations past their deadline and returns
// them to AVAILABLE, conditioned on the state observed so a concurrent
// commit safely wins or loses the race. One item's failure does not stop
// the sweep. Returns the number of reservations released.
func (m *Manager) ReleaseExpired(ctx context.Context) (int, error) {
	now := m.clock.Now()
	expired, err := m.store.ListExpiredReservations(ctx, now)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, rec := range expired {
		if !rec.Expired(now) {
			continue // the deadline check is ours, not the store listing's
		}
		ok, err := m.store.CompareAndSetState(ctx, rec.ID,
			Expectation{Status: StatusReserved, Token: rec.Token},
			Update{Status: StatusAvailable})
		if err != nil {
			log.Printf("[Inventory] Sweep failed for item %s: %v", rec.ItemKey, err)
			continue
		}
		if !ok {
			continue // a concurrent commit or release got there first
		}
		released++
		m.publish(ctx, rec.Token, EventReservationExpired, ReservationExpired{
			ItemKey:   rec.ItemKey,
			Token:     rec.Token,
			ExpiredAt: now,
		})
	}
	return released, nil
}

func (m *Manager) publish(ctx context.Context, key, eventType string, data any) {
	if m.events == nil {
		return
	}
	if err := m.events.Publish(ctx, key, eventType, data); err != nil {
		log.Printf("[Inventory] Failed to publish %s: %v", eventType, err)
	}
}
