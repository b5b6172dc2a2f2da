package sweeper

import (
	"context"
	"log"
	"time"

	"github.com/example/curio-shop/internal/domain/inventory"
	"github.com/example/curio-shop/internal/domain/ledger"
)

// Sweeper periodically releases lapsed reservations and expires their
// pending ledger entries. Expiry stays correct without it thanks to lazy
// expiry on the read and write paths; the sweeper just reclaims state
// eagerly so listings and admin views stay tidy.
type Sweeper struct {
	inv      *inventory.Manager
	ledger   *ledger.Service
	interval time.Duration
}

func New(inv *inventory.Manager, led *ledger.Service, interval time.Duration) *Sweeper {
	return &Sweeper{inv: inv, ledger: led, interval: interval}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	log.Printf("[Sweeper] Running every %s", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[Sweeper] Stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep pass. Ledger entries are swept first so
// their releases reach the inventory before the inventory pass counts what
// is left over (holds whose entry was already resolved or never existed).
func (s *Sweeper) RunOnce(ctx context.Context) (entriesExpired, itemsReleased int) {
	entriesExpired, err := s.ledger.SweepExpired(ctx)
	if err != nil {
		log.Printf("[Sweeper] Ledger sweep failed: %v", err)
	}

	itemsReleased, err = s.inv.ReleaseExpired(ctx)
	if err != nil {
		log.Printf("[Sweeper] Inventory sweep failed: %v", err)
	}

	if entriesExpired > 0 || itemsReleased > 0 {
		log.Printf("[Sweeper] Expired %d orders, released %d items", entriesExpired, itemsReleased)
	}
	return entriesExpired, itemsReleased
}
