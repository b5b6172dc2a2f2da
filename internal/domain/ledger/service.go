package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/example/curio-shop/internal/clock"
	"github.com/example/curio-shop/internal/domain/inventory"
)

const (
	EventOrderPlaced      = "OrderPlaced"
	EventPaymentSubmitted = "PaymentSubmitted"
	EventPaymentVerified  = "PaymentVerified"
	EventPaymentRejected  = "PaymentRejected"
	EventOrderCancelled   = "OrderCancelled"
	EventOrderExpired     = "OrderExpired"
)

// PaymentEvent is the payload published for every ledger transition.
type PaymentEvent struct {
	OrderRef string    `json:"order_ref"`
	BuyerID  string    `json:"buyer_id"`
	ItemKeys []string  `json:"item_keys"`
	Amount   int       `json:"amount"`
	Method   Method    `json:"payment_method,omitempty"`
	At       time.Time `json:"at"`
}

// Service owns the payment/order lifecycle of checkout attempts and its
// coupling to the reservation state machine. Every commit or release goes
// through the inventory Manager; the stored deadline copy on an entry is
// advisory only.
type Service struct {
	store  Store
	inv    *inventory.Manager
	clock  clock.Clock
	events inventory.EventPublisher // may be nil
}

func NewService(store Store, inv *inventory.Manager, clk clock.Clock, events inventory.EventPublisher) *Service {
	return &Service{store: store, inv: inv, clock: clk, events: events}
}

// CreateEntry records a successful claim under orderRef. If the insert
// fails and an entry for orderRef already exists, that entry is returned
// (idempotent retry after a partial failure between claim and write).
// Otherwise the just-acquired claim is released before the error is
// surfaced, so no reservation survives without a ledger trail.
func (s *Service) CreateEntry(ctx context.Context, orderRef string, claim *inventory.Claim, buyerID string, amount int) (*Entry, error) {
	now := s.clock.Now()
	items := make([]Item, len(claim.Records))
	for i, rec := range claim.Records {
		items[i] = Item{ItemKey: rec.ItemKey, Name: rec.Name, Price: rec.Price}
	}

	entry := &Entry{
		OrderRef:      orderRef,
		BuyerID:       buyerID,
		Items:         items,
		Amount:        amount,
		Token:         claim.Token,
		Status:        StatusPending,
		OrderStatus:   OrderReserved,
		ReservedUntil: claim.Deadline,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.Insert(ctx, entry); err != nil {
		if existing, found, lookupErr := s.store.GetByRef(ctx, orderRef); lookupErr == nil && found {
			return existing, nil
		}
		if relErr := s.inv.Release(ctx, claim.ItemKeys(), claim.Token); relErr != nil {
			log.Printf("[Ledger] Failed to release claim %s after entry failure: %v", claim.Token, relErr)
		}
		return nil, fmt.Errorf("create ledger entry: %w", err)
	}

	s.publish(ctx, orderRef, EventOrderPlaced, s.eventFor(entry))
	return entry, nil
}

// SubmitProof records the buyer's payment reference and, under the
// trust-on-submit policy, commits the reservation: items go to SOLD and
// the entry to VERIFIED, with admin review able to reject only entries
// that never left PENDING. An entry whose hold has lapsed is expired and
// its items released.
func (s *Service) SubmitProof(ctx context.Context, orderRef, buyerID string, method Method, proof string) (*Entry, error) {
	entry, err := s.ownedPending(ctx, orderRef, buyerID)
	if err != nil {
		return nil, err
	}
	if err := ValidateProof(method, proof); err != nil {
		return nil, err
	}

	if err := s.commitOrExpire(ctx, entry); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	entry.Method = method
	entry.Proof = proof
	entry.Status = StatusVerified
	entry.OrderStatus = OrderSold
	entry.VerifiedAt = &now
	entry.UpdatedAt = now
	if ok, err := s.store.Update(ctx, entry, StatusPending); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w: order %s was resolved concurrently", ErrConflictingState, orderRef)
	}

	s.publish(ctx, orderRef, EventPaymentSubmitted, s.eventFor(entry))
	s.publish(ctx, orderRef, EventPaymentVerified, s.eventFor(entry))
	return entry, nil
}

// Verify is the admin confirmation of an off-band payment on a still
// PENDING entry. It commits the reservation and marks the entry VERIFIED.
func (s *Service) Verify(ctx context.Context, orderRef, adminID, note string) (*Entry, error) {
	entry, found, err := s.store.GetByRef(ctx, orderRef)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%s: %w", orderRef, ErrEntryNotFound)
	}
	if entry.Status != StatusPending {
		return nil, fmt.Errorf("%w: order %s is already %s", ErrConflictingState, orderRef, entry.Status)
	}

	if err := s.commitOrExpire(ctx, entry); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	entry.Status = StatusVerified
	entry.OrderStatus = OrderSold
	entry.AdminNote = note
	entry.VerifiedBy = adminID
	entry.VerifiedAt = &now
	entry.UpdatedAt = now
	if ok, err := s.store.Update(ctx, entry, StatusPending); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w: order %s was resolved concurrently", ErrConflictingState, orderRef)
	}

	s.publish(ctx, orderRef, EventPaymentVerified, s.eventFor(entry))
	return entry, nil
}

// Reject is the admin refusal of a PENDING entry: the entry fails and the
// items return to AVAILABLE.
func (s *Service) Reject(ctx context.Context, orderRef, adminID, note string) (*Entry, error) {
	entry, found, err := s.store.GetByRef(ctx, orderRef)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%s: %w", orderRef, ErrEntryNotFound)
	}
	if entry.Status != StatusPending {
		return nil, fmt.Errorf("%w: order %s is already %s", ErrConflictingState, orderRef, entry.Status)
	}

	now := s.clock.Now()
	entry.Status = StatusFailed
	entry.OrderStatus = OrderCancelled
	entry.AdminNote = note
	entry.VerifiedBy = adminID
	entry.UpdatedAt = now
	if ok, err := s.store.Update(ctx, entry, StatusPending); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w: order %s was resolved concurrently", ErrConflictingState, orderRef)
	}

	if err := s.inv.Release(ctx, entry.ItemKeys(), entry.Token); err != nil {
		log.Printf("[Ledger] Release after reject of %s: %v", orderRef, err)
	}

	s.publish(ctx, orderRef, EventPaymentRejected, s.eventFor(entry))
	return entry, nil
}

// Cancel is the buyer backing out of a still-reserved order: items return
// to AVAILABLE, the order is CANCELLED and its payment leg EXPIRED.
func (s *Service) Cancel(ctx context.Context, orderRef, buyerID string) (*Entry, error) {
	entry, err := s.ownedPending(ctx, orderRef, buyerID)
	if err != nil {
		return nil, err
	}
	if entry.OrderStatus != OrderReserved {
		return nil, fmt.Errorf("%w: order %s is %s", ErrConflictingState, orderRef, entry.OrderStatus)
	}

	entry.Status = StatusExpired
	entry.OrderStatus = OrderCancelled
	entry.UpdatedAt = s.clock.Now()
	if ok, err := s.store.Update(ctx, entry, StatusPending); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w: order %s was resolved concurrently", ErrConflictingState, orderRef)
	}

	if err := s.inv.Release(ctx, entry.ItemKeys(), entry.Token); err != nil {
		log.Printf("[Ledger] Release after cancel of %s: %v", orderRef, err)
	}

	s.publish(ctx, orderRef, EventOrderCancelled, s.eventFor(entry))
	return entry, nil
}

// Get returns the entry for orderRef, restricted to its buyer unless
// buyerID is empty (admin access).
func (s *Service) Get(ctx context.Context, orderRef, buyerID string) (*Entry, error) {
	entry, found, err := s.store.GetByRef(ctx, orderRef)
	if err != nil {
		return nil, err
	}
	if !found || (buyerID != "" && entry.BuyerID != buyerID) {
		return nil, fmt.Errorf("%s: %w", orderRef, ErrEntryNotFound)
	}
	return entry, nil
}

// EntryForToken finds the entry created for a reservation token, used to
// resurface the original order on an idempotent re-claim.
func (s *Service) EntryForToken(ctx context.Context, token string) (*Entry, bool, error) {
	return s.store.GetByToken(ctx, token)
}

// ListByBuyer returns the buyer's checkout history.
func (s *Service) ListByBuyer(ctx context.Context, buyerID string) ([]Entry, error) {
	return s.store.ListByBuyer(ctx, buyerID)
}

// SweepExpired expires PENDING entries whose hold deadline has passed and
// releases their items. The release is idempotent when the inventory
// sweep already returned the item. One entry's failure does not stop the
// sweep. Returns the number of entries expired.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	now := s.clock.Now()
	stuck, err := s.store.ListPendingExpired(ctx, now)
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range stuck {
		entry := &stuck[i]
		entry.Status = StatusExpired
		entry.OrderStatus = OrderExpired
		entry.UpdatedAt = now
		ok, err := s.store.Update(ctx, entry, StatusPending)
		if err != nil {
			log.Printf("[Ledger] Sweep failed for order %s: %v", entry.OrderRef, err)
			continue
		}
		if !ok {
			continue // resolved concurrently
		}
		expired++
		if err := s.inv.Release(ctx, entry.ItemKeys(), entry.Token); err != nil {
			log.Printf("[Ledger] Release after expiry of %s: %v", entry.OrderRef, err)
		}
		s.publish(ctx, entry.OrderRef, EventOrderExpired, s.eventFor(entry))
	}
	return expired, nil
}

// ownedPending loads an entry owned by buyerID that is still PENDING.
func (s *Service) ownedPending(ctx context.Context, orderRef, buyerID string) (*Entry, error) {
	entry, found, err := s.store.GetByRef(ctx, orderRef)
	if err != nil {
		return nil, err
	}
	if !found || entry.BuyerID != buyerID {
		return nil, fmt.Errorf("%s: %w", orderRef, ErrEntryNotFound)
	}
	if entry.Status != StatusPending {
		return nil, fmt.Errorf("%w: order %s is already %s", ErrConflictingState, orderRef, entry.Status)
	}
	return entry, nil
}

// commitOrExpire commits the entry's reservation; if the hold lapsed, the
// entry is expired, its items released and ErrReservationExpired returned.
func (s *Service) commitOrExpire(ctx context.Context, entry *Entry) error {
	err := s.inv.Commit(ctx, entry.ItemKeys(), entry.Token)
	if err == nil {
		return nil
	}
	if errors.Is(err, inventory.ErrReservationExpired) {
		now := s.clock.Now()
		entry.Status = StatusExpired
		entry.OrderStatus = OrderExpired
		entry.UpdatedAt = now
		if ok, updErr := s.store.Update(ctx, entry, StatusPending); updErr != nil {
			log.Printf("[Ledger] Failed to expire order %s: %v", entry.OrderRef, updErr)
		} else if ok {
			if relErr := s.inv.Release(ctx, entry.ItemKeys(), entry.Token); relErr != nil {
				log.Printf("[Ledger] Release after expiry of %s: %v", entry.OrderRef, relErr)
			}
		}
	}
	return err
}

func (s *Service) eventFor(entry *Entry) PaymentEvent {
	return PaymentEvent{
		OrderRef: entry.OrderRef,
		BuyerID:  entry.BuyerID,
		ItemKeys: entry.ItemKeys(),
		Amount:   entry.Amount,
		Method:   entry.Method,
		At:       s.clock.Now(),
	}
}

func (s *Service) publish(ctx context.Context, key, eventType string, data any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, key, eventType, data); err != nil {
		log.Printf("[Ledger] Failed to publish %s: %v", eventType, err)
	}
}
