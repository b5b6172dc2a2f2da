package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/curio-shop/internal/clock"
	"github.com/example/curio-shop/internal/domain/inventory"
	"github.com/example/curio-shop/internal/domain/ledger"
	"github.com/example/curio-shop/internal/infrastructure/store/mocks"
)

const sweepTTL = 15 * time.Minute

type testSweep struct {
	sweeper  *Sweeper
	inv      *inventory.Manager
	led      *ledger.Service
	invStore *mocks.MockInventoryStore
	ledStore *mocks.MockLedgerStore
	events   *mocks.MockPublisher
	clk      *clock.Fake
}

func newTestSweeper() *testSweep {
	invStore := mocks.NewMockInventoryStore()
	ledStore := mocks.NewMockLedgerStore()
	events := mocks.NewMockPublisher()
	clk := clock.NewFake(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	inv := inventory.NewManager(invStore, clk, events)
	led := ledger.NewService(ledStore, inv, clk, events)
	return &testSweep{
		sweeper:  New(inv, led, time.Minute),
		inv:      inv,
		led:      led,
		invStore: invStore,
		ledStore: ledStore,
		events:   events,
		clk:      clk,
	}
}

// placeOrder seeds the item, claims it and opens a ledger entry, mirroring
// a buy-now checkout.
func (ts *testSweep) placeOrder(t *testing.T, orderRef, buyerID, key string) {
	t.Helper()
	ts.invStore.SeedItem(inventory.Record{
		ID:      "id-" + key,
		ItemKey: key,
		Name:    "Item " + key,
		Price:   1000,
		Status:  inventory.StatusAvailable,
	})
	claim, err := ts.inv.Claim(context.Background(), []string{key}, buyerID, sweepTTL)
	require.NoError(t, err)
	_, err = ts.led.CreateEntry(context.Background(), orderRef, claim, buyerID, 1000)
	require.NoError(t, err)
}

func TestSweeper_RunOnce(t *testing.T) {
	ts := newTestSweeper()
	ts.placeOrder(t, "GZ100", "buyer-1", "vase-01")

	ts.clk.Advance(sweepTTL + time.Minute)
	entriesExpired, itemsReleased := ts.sweeper.RunOnce(context.Background())

	assert.Equal(t, 1, entriesExpired)
	// The ledger sweep released the item, so the inventory pass had nothing
	// left to reclaim.
	assert.Equal(t, 0, itemsReleased)

	entry, _ := ts.ledStore.Snapshot("GZ100")
	assert.Equal(t, ledger.StatusExpired, entry.Status)
	assert.Equal(t, ledger.OrderExpired, entry.OrderStatus)

	rec, _ := ts.invStore.Snapshot("vase-01")
	assert.Equal(t, inventory.StatusAvailable, rec.Status)
	assert.Empty(t, rec.HolderID)

	assert.Contains(t, ts.events.TypesPublished(), ledger.EventOrderExpired)
}

func TestSweeper_RunOnce_NothingToSweep(t *testing.T) {
	ts := newTestSweeper()
	ts.placeOrder(t, "GZ100", "buyer-1", "vase-01")

	entriesExpired, itemsReleased := ts.sweeper.RunOnce(context.Background())

	assert.Equal(t, 0, entriesExpired)
	assert.Equal(t, 0, itemsReleased)

	entry, _ := ts.ledStore.Snapshot("GZ100")
	assert.Equal(t, ledger.StatusPending, entry.Status)
	rec, _ := ts.invStore.Snapshot("vase-01")
	assert.Equal(t, inventory.StatusReserved, rec.Status)
}

func TestSweeper_RunOnce_OrphanedHold(t *testing.T) {
	ts := newTestSweeper()

	// A reservation with no ledger entry (a crash between claim and entry
	// write) is reclaimed by the inventory pass.
	deadline := ts.clk.Now().Add(-time.Minute)
	ts.invStore.SeedItem(inventory.Record{
		ID:       "id-vase-01",
		ItemKey:  "vase-01",
		Name:     "Item vase-01",
		Price:    1000,
		Status:   inventory.StatusReserved,
		HolderID: "buyer-1",
		Token:    "tok-orphan",
		Deadline: &deadline,
	})

	entriesExpired, itemsReleased := ts.sweeper.RunOnce(context.Background())

	assert.Equal(t, 0, entriesExpired)
	assert.Equal(t, 1, itemsReleased)
	rec, _ := ts.invStore.Snapshot("vase-01")
	assert.Equal(t, inventory.StatusAvailable, rec.Status)
}

func TestSweeper_RunOnce_SoldOrderSurvives(t *testing.T) {
	ts := newTestSweeper()
	ts.placeOrder(t, "GZ100", "buyer-1", "vase-01")
	_, err := ts.led.SubmitProof(context.Background(), "GZ100", "buyer-1", ledger.MethodUPI, "TXN12345678")
	require.NoError(t, err)

	ts.clk.Advance(sweepTTL + time.Minute)
	entriesExpired, itemsReleased := ts.sweeper.RunOnce(context.Background())

	assert.Equal(t, 0, entriesExpired)
	assert.Equal(t, 0, itemsReleased)
	entry, _ := ts.ledStore.Snapshot("GZ100")
	assert.Equal(t, ledger.StatusVerified, entry.Status)
	rec, _ := ts.invStore.Snapshot("vase-01")
	assert.Equal(t, inventory.StatusSold, rec.Status)
}
