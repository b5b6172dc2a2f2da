package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/curio-shop/internal/clock"
	"github.com/example/curio-shop/internal/domain/cart"
	"github.com/example/curio-shop/internal/domain/inventory"
	"github.com/example/curio-shop/internal/domain/ledger"
	"github.com/example/curio-shop/internal/infrastructure/store/mocks"
)

const checkoutTTL = 15 * time.Minute

type testCheckout struct {
	orch      *Orchestrator
	invStore  *mocks.MockInventoryStore
	ledStore  *mocks.MockLedgerStore
	cartStore *mocks.MockCartStore
	carts     *cart.Service
	clk       *clock.Fake
}

func newTestCheckout() *testCheckout {
	invStore := mocks.NewMockInventoryStore()
	ledStore := mocks.NewMockLedgerStore()
	cartStore := mocks.NewMockCartStore()
	clk := clock.NewFake(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	inv := inventory.NewManager(invStore, clk, nil)
	led := ledger.NewService(ledStore, inv, clk, nil)
	carts := cart.NewService(cartStore, clk)
	return &testCheckout{
		orch:      NewOrchestrator(inv, led, carts, clk, checkoutTTL),
		invStore:  invStore,
		ledStore:  ledStore,
		cartStore: cartStore,
		carts:     carts,
		clk:       clk,
	}
}

func (tc *testCheckout) seed(key string, price int, status inventory.Status) {
	tc.invStore.SeedItem(inventory.Record{
		ID:      "id-" + key,
		ItemKey: key,
		Name:    "Item " + key,
		Price:   price,
		Status:  status,
	})
}

func (tc *testCheckout) addToCart(t *testing.T, buyerID, key string, price int) {
	t.Helper()
	_, err := tc.carts.AddItem(context.Background(), buyerID, cart.Line{
		ItemKey: key,
		Name:    "Item " + key,
		Price:   price,
	})
	require.NoError(t, err)
}

// ============================================
// BuyNow Tests
// ============================================

func TestOrchestrator_BuyNow(t *testing.T) {
	tc := newTestCheckout()
	tc.seed("vase-01", 2500, inventory.StatusAvailable)

	res, err := tc.orch.BuyNow(context.Background(), "vase-01", "buyer-1")

	require.NoError(t, err)
	assert.NotEmpty(t, res.OrderRef)
	assert.Equal(t, 2500, res.Amount)
	assert.Equal(t, 2500, res.Subtotal)
	assert.Zero(t, res.Shipping)
	assert.Zero(t, res.Tax)
	assert.Equal(t, tc.clk.Now().Add(checkoutTTL), res.ReservedUntil)

	rec, _ := tc.invStore.Snapshot("vase-01")
	assert.Equal(t, inventory.StatusReserved, rec.Status)
	assert.Equal(t, "buyer-1", rec.HolderID)

	entry, ok := tc.ledStore.Snapshot(res.OrderRef)
	require.True(t, ok)
	assert.Equal(t, ledger.StatusPending, entry.Status)
	assert.Equal(t, 2500, entry.Amount)
}

func TestOrchestrator_BuyNow_SoldItem(t *testing.T) {
	tc := newTestCheckout()
	tc.seed("vase-01", 2500, inventory.StatusSold)

	_, err := tc.orch.BuyNow(context.Background(), "vase-01", "buyer-1")

	assert.ErrorIs(t, err, inventory.ErrItemSold)
}

func TestOrchestrator_BuyNow_ReservedByOther(t *testing.T) {
	tc := newTestCheckout()
	tc.seed("vase-01", 2500, inventory.StatusAvailable)
	_, err := tc.orch.BuyNow(context.Background(), "vase-01", "buyer-1")
	require.NoError(t, err)

	_, err = tc.orch.BuyNow(context.Background(), "vase-01", "buyer-2")

	var reserved *inventory.ReservedByOtherError
	require.ErrorAs(t, err, &reserved)
	assert.Equal(t, "vase-01", reserved.ItemKey)
	assert.Positive(t, reserved.TimeLeft)
}

func TestOrchestrator_BuyNow_UnknownItem(t *testing.T) {
	tc := newTestCheckout()

	_, err := tc.orch.BuyNow(context.Background(), "nope", "buyer-1")

	assert.ErrorIs(t, err, inventory.ErrItemNotFound)
}

func TestOrchestrator_BuyNow_ResubmissionKeepsOrderRef(t *testing.T) {
	tc := newTestCheckout()
	tc.seed("vase-01", 2500, inventory.StatusAvailable)

	first, err := tc.orch.BuyNow(context.Background(), "vase-01", "buyer-1")
	require.NoError(t, err)
	second, err := tc.orch.BuyNow(context.Background(), "vase-01", "buyer-1")
	require.NoError(t, err)

	// A double-click must not open a second order for the same hold.
	assert.Equal(t, first.OrderRef, second.OrderRef)
	assert.Equal(t, first.Amount, second.Amount)
}

func TestOrchestrator_BuyNow_ResurfacesCartOrderWithBreakdown(t *testing.T) {
	tc := newTestCheckout()
	tc.seed("vase-01", 2000, inventory.StatusAvailable)
	tc.seed("lamp-02", 1000, inventory.StatusAvailable)
	tc.addToCart(t, "buyer-1", "vase-01", 2000)
	tc.addToCart(t, "buyer-1", "lamp-02", 1000)
	cartRes, err := tc.orch.CheckoutCart(context.Background(), "buyer-1")
	require.NoError(t, err)

	// Buying a single item already held inside the cart order surfaces that
	// whole order, with the shipping-and-tax split intact.
	res, err := tc.orch.BuyNow(context.Background(), "vase-01", "buyer-1")

	require.NoError(t, err)
	assert.Equal(t, cartRes.OrderRef, res.OrderRef)
	assert.Len(t, res.Items, 2)
	assert.Equal(t, 3000, res.Subtotal)
	assert.Equal(t, 99, res.Shipping)
	assert.Equal(t, 540, res.Tax)
	assert.Equal(t, 3639, res.Amount)
}

func TestOrchestrator_BuyNow_AfterExpiryOpensFreshOrder(t *testing.T) {
	tc := newTestCheckout()
	tc.seed("vase-01", 2500, inventory.StatusAvailable)

	first, err := tc.orch.BuyNow(context.Background(), "vase-01", "buyer-1")
	require.NoError(t, err)

	tc.clk.Advance(checkoutTTL + time.Minute)
	second, err := tc.orch.BuyNow(context.Background(), "vase-01", "buyer-1")
	require.NoError(t, err)

	assert.NotEqual(t, first.OrderRef, second.OrderRef)
	assert.Equal(t, tc.clk.Now().Add(checkoutTTL), second.ReservedUntil)
}

// ============================================
// CheckoutCart Tests
// ============================================

func TestOrchestrator_CheckoutCart(t *testing.T) {
	tc := newTestCheckout()
	tc.seed("vase-01", 2000, inventory.StatusAvailable)
	tc.seed("lamp-02", 1000, inventory.StatusAvailable)
	tc.addToCart(t, "buyer-1", "vase-01", 2000)
	tc.addToCart(t, "buyer-1", "lamp-02", 1000)

	res, err := tc.orch.CheckoutCart(context.Background(), "buyer-1")

	require.NoError(t, err)
	assert.Equal(t, 3000, res.Subtotal)
	assert.Equal(t, 99, res.Shipping)
	assert.Equal(t, 540, res.Tax) // 18% of 3000
	assert.Equal(t, 3639, res.Amount)
	assert.Len(t, res.Items, 2)

	for _, key := range []string{"vase-01", "lamp-02"} {
		rec, _ := tc.invStore.Snapshot(key)
		assert.Equal(t, inventory.StatusReserved, rec.Status)
	}

	// Cart is cleared only after the claim and entry both held.
	c, err := tc.carts.Get(context.Background(), "buyer-1")
	require.NoError(t, err)
	assert.Empty(t, c.Lines)
}

func TestOrchestrator_CheckoutCart_Empty(t *testing.T) {
	tc := newTestCheckout()

	_, err := tc.orch.CheckoutCart(context.Background(), "buyer-1")

	assert.ErrorIs(t, err, cart.ErrEmptyCart)
}

func TestOrchestrator_CheckoutCart_PartialFailureKeepsCart(t *testing.T) {
	tc := newTestCheckout()
	tc.seed("vase-01", 2000, inventory.StatusAvailable)
	tc.seed("lamp-02", 1000, inventory.StatusSold)
	tc.addToCart(t, "buyer-1", "vase-01", 2000)
	tc.addToCart(t, "buyer-1", "lamp-02", 1000)

	_, err := tc.orch.CheckoutCart(context.Background(), "buyer-1")

	assert.ErrorIs(t, err, inventory.ErrItemSold)

	// The batch was unwound and the cart untouched, so the buyer can drop
	// the sold line and retry.
	rec, _ := tc.invStore.Snapshot("vase-01")
	assert.Equal(t, inventory.StatusAvailable, rec.Status)
	c, getErr := tc.carts.Get(context.Background(), "buyer-1")
	require.NoError(t, getErr)
	assert.Len(t, c.Lines, 2)
	assert.Empty(t, tc.cartStore.DeleteCalls)
}

func TestOrchestrator_CheckoutCart_EntryFailureKeepsCart(t *testing.T) {
	tc := newTestCheckout()
	tc.seed("vase-01", 2000, inventory.StatusAvailable)
	tc.addToCart(t, "buyer-1", "vase-01", 2000)
	tc.ledStore.FailNextInsert = true

	_, err := tc.orch.CheckoutCart(context.Background(), "buyer-1")

	require.Error(t, err)
	c, getErr := tc.carts.Get(context.Background(), "buyer-1")
	require.NoError(t, getErr)
	assert.Len(t, c.Lines, 1)
}

// ============================================
// Pricing Tests
// ============================================

func TestTotals(t *testing.T) {
	tests := []struct {
		name     string
		subtotal int
		shipping int
		tax      int
		grand    int
	}{
		{"round subtotal", 1000, 99, 180, 1279},
		{"tax rounds down", 1005, 99, 180, 1284},
		{"single rupee", 1, 99, 0, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shipping, tax, grand := Totals(tt.subtotal)
			assert.Equal(t, tt.shipping, shipping)
			assert.Equal(t, tt.tax, tax)
			assert.Equal(t, tt.grand, grand)
		})
	}
}
