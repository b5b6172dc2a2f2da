package inventory_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/curio-shop/internal/clock"
	"github.com/example/curio-shop/internal/domain/inventory"
	"github.com/example/curio-shop/internal/infrastructure/store/mocks"
)

const claimTTL = 15 * time.Minute

func newTestManager() (*inventory.Manager, *mocks.MockInventoryStore, *mocks.MockPublisher, *clock.Fake) {
	invStore := mocks.NewMockInventoryStore()
	events := mocks.NewMockPublisher()
	clk := clock.NewFake(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	return inventory.NewManager(invStore, clk, events), invStore, events, clk
}

func seedAvailable(s *mocks.MockInventoryStore, id, key string, price int) {
	s.SeedItem(inventory.Record{
		ID:      id,
		ItemKey: key,
		Name:    "Item " + key,
		Price:   price,
		Status:  inventory.StatusAvailable,
	})
}

func seedReserved(s *mocks.MockInventoryStore, id, key, holder, token string, deadline time.Time) {
	s.SeedItem(inventory.Record{
		ID:       id,
		ItemKey:  key,
		Name:     "Item " + key,
		Price:    100,
		Status:   inventory.StatusReserved,
		HolderID: holder,
		Token:    token,
		Deadline: &deadline,
	})
}

// ============================================
// Claim Tests
// ============================================

func TestManager_Claim_AvailableItem(t *testing.T) {
	mgr, invStore, events, clk := newTestManager()
	seedAvailable(invStore, "id-1", "vase-01", 500)

	claim, err := mgr.Claim(context.Background(), []string{"vase-01"}, "buyer-1", claimTTL)

	require.NoError(t, err)
	assert.NotEmpty(t, claim.Token)
	assert.Equal(t, "buyer-1", claim.HolderID)
	assert.Equal(t, clk.Now().Add(claimTTL), claim.Deadline)
	assert.False(t, claim.Reused)
	require.Len(t, claim.Records, 1)

	rec, ok := invStore.Snapshot("vase-01")
	require.True(t, ok)
	assert.Equal(t, inventory.StatusReserved, rec.Status)
	assert.Equal(t, "buyer-1", rec.HolderID)
	assert.Equal(t, claim.Token, rec.Token)

	assert.Equal(t, []string{inventory.EventItemReserved}, events.TypesPublished())
}

func TestManager_Claim_ByInternalID(t *testing.T) {
	mgr, invStore, _, _ := newTestManager()
	seedAvailable(invStore, "id-1", "vase-01", 500)

	claim, err := mgr.Claim(context.Background(), []string{"id-1"}, "buyer-1", claimTTL)

	require.NoError(t, err)
	assert.Equal(t, "vase-01", claim.Records[0].ItemKey)
}

func TestManager_Claim_UnknownItem(t *testing.T) {
	mgr, _, _, _ := newTestManager()

	_, err := mgr.Claim(context.Background(), []string{"nope"}, "buyer-1", claimTTL)

	assert.ErrorIs(t, err, inventory.ErrItemNotFound)
}

func TestManager_Claim_SoldItem(t *testing.T) {
	mgr, invStore, _, _ := newTestManager()
	invStore.SeedItem(inventory.Record{ID: "id-1", ItemKey: "vase-01", Status: inventory.StatusSold})

	_, err := mgr.Claim(context.Background(), []string{"vase-01"}, "buyer-1", claimTTL)

	assert.ErrorIs(t, err, inventory.ErrItemSold)
}

func TestManager_Claim_ReservedByOther(t *testing.T) {
	mgr, invStore, _, clk := newTestManager()
	deadline := clk.Now().Add(10 * time.Minute)
	seedReserved(invStore, "id-1", "vase-01", "buyer-1", "tok-1", deadline)

	_, err := mgr.Claim(context.Background(), []string{"vase-01"}, "buyer-2", claimTTL)

	var reserved *inventory.ReservedByOtherError
	require.ErrorAs(t, err, &reserved)
	assert.Equal(t, "vase-01", reserved.ItemKey)
	assert.Equal(t, deadline, reserved.ReservedUntil)
	assert.Equal(t, 10*time.Minute, reserved.TimeLeft)
}

func TestManager_Claim_ExpiredReservationIsClaimable(t *testing.T) {
	mgr, invStore, _, clk := newTestManager()
	seedReserved(invStore, "id-1", "vase-01", "buyer-1", "tok-old", clk.Now().Add(-time.Second))

	claim, err := mgr.Claim(context.Background(), []string{"vase-01"}, "buyer-2", claimTTL)

	require.NoError(t, err)
	rec, _ := invStore.Snapshot("vase-01")
	assert.Equal(t, inventory.StatusReserved, rec.Status)
	assert.Equal(t, "buyer-2", rec.HolderID)
	assert.Equal(t, claim.Token, rec.Token)
	assert.NotEqual(t, "tok-old", rec.Token)
}

func TestManager_Claim_IdempotentResubmission(t *testing.T) {
	mgr, invStore, _, _ := newTestManager()
	seedAvailable(invStore, "id-1", "vase-01", 500)
	seedAvailable(invStore, "id-2", "lamp-02", 300)

	first, err := mgr.Claim(context.Background(), []string{"vase-01", "lamp-02"}, "buyer-1", claimTTL)
	require.NoError(t, err)

	second, err := mgr.Claim(context.Background(), []string{"vase-01", "lamp-02"}, "buyer-1", claimTTL)

	require.NoError(t, err)
	assert.True(t, second.Reused)
	assert.Equal(t, first.Token, second.Token)
	assert.Equal(t, first.Deadline, second.Deadline)
}

func TestManager_Claim_ExpiredOwnHoldGetsFreshToken(t *testing.T) {
	mgr, invStore, _, clk := newTestManager()
	seedReserved(invStore, "id-1", "vase-01", "buyer-1", "tok-old", clk.Now().Add(-time.Minute))

	claim, err := mgr.Claim(context.Background(), []string{"vase-01"}, "buyer-1", claimTTL)

	require.NoError(t, err)
	assert.False(t, claim.Reused)
	assert.NotEqual(t, "tok-old", claim.Token)
	assert.Equal(t, clk.Now().Add(claimTTL), claim.Deadline)
}

func TestManager_Claim_ExtendsOwnHoldIntoNewBatch(t *testing.T) {
	mgr, invStore, _, clk := newTestManager()
	seedReserved(invStore, "id-1", "vase-01", "buyer-1", "tok-old", clk.Now().Add(5*time.Minute))
	seedAvailable(invStore, "id-2", "lamp-02", 300)

	claim, err := mgr.Claim(context.Background(), []string{"vase-01", "lamp-02"}, "buyer-1", claimTTL)

	require.NoError(t, err)
	vase, _ := invStore.Snapshot("vase-01")
	lamp, _ := invStore.Snapshot("lamp-02")
	assert.Equal(t, claim.Token, vase.Token)
	assert.Equal(t, claim.Token, lamp.Token)
	assert.Equal(t, clk.Now().Add(claimTTL), *vase.Deadline)
}

func TestManager_Claim_BatchUnwindOnFailure(t *testing.T) {
	mgr, invStore, events, _ := newTestManager()
	seedAvailable(invStore, "id-1", "vase-01", 500)
	invStore.SeedItem(inventory.Record{ID: "id-2", ItemKey: "lamp-02", Status: inventory.StatusSold})

	_, err := mgr.Claim(context.Background(), []string{"vase-01", "lamp-02"}, "buyer-1", claimTTL)

	assert.ErrorIs(t, err, inventory.ErrItemSold)

	// The first item must not stay reserved after the batch failed.
	vase, _ := invStore.Snapshot("vase-01")
	assert.Equal(t, inventory.StatusAvailable, vase.Status)
	assert.Empty(t, vase.Token)
	assert.Empty(t, events.TypesPublished())
}

func TestManager_Claim_RetriesOnceAfterLostRace(t *testing.T) {
	mgr, invStore, _, clk := newTestManager()
	seedAvailable(invStore, "id-1", "vase-01", 500)

	// Between the read and the conditional write, another claim lands and
	// immediately expires. The first write must fail, the retry must win.
	past := clk.Now().Add(-time.Second)
	invStore.StealCAS = func(id string, rec *inventory.Record) {
		rec.Status = inventory.StatusReserved
		rec.Token = "tok-interloper"
		rec.Deadline = &past
	}

	claim, err := mgr.Claim(context.Background(), []string{"vase-01"}, "buyer-1", claimTTL)

	require.NoError(t, err)
	rec, _ := invStore.Snapshot("vase-01")
	assert.Equal(t, claim.Token, rec.Token)
	assert.Equal(t, "buyer-1", rec.HolderID)
}

func TestManager_Claim_ConflictAfterRepeatedRaces(t *testing.T) {
	mgr, invStore, _, clk := newTestManager()
	seedAvailable(invStore, "id-1", "vase-01", 500)

	// Every conditional write loses to a fresh expired hold under a new
	// token. After the single retry the claim surfaces a conflict.
	past := clk.Now().Add(-time.Second)
	n := 0
	var steal func(id string, rec *inventory.Record)
	steal = func(id string, rec *inventory.Record) {
		n++
		rec.Status = inventory.StatusReserved
		rec.Token = fmt.Sprintf("tok-race-%d", n)
		rec.Deadline = &past
		invStore.StealCAS = steal
	}
	invStore.StealCAS = steal

	_, err := mgr.Claim(context.Background(), []string{"vase-01"}, "buyer-1", claimTTL)

	assert.ErrorIs(t, err, inventory.ErrClaimConflict)
}

func TestManager_Claim_MutualExclusion(t *testing.T) {
	invStore := mocks.NewMockInventoryStore()
	mgr := inventory.NewManager(invStore, clock.Real{}, nil)
	seedAvailable(invStore, "id-1", "vase-01", 500)

	const buyers = 20
	var wg sync.WaitGroup
	results := make([]error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := mgr.Claim(context.Background(), []string{"vase-01"}, fmt.Sprintf("buyer-%d", i), claimTTL)
			results[i] = err
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
			continue
		}
		var reserved *inventory.ReservedByOtherError
		if !errors.As(err, &reserved) {
			assert.ErrorIs(t, err, inventory.ErrClaimConflict)
		}
	}
	assert.Equal(t, 1, winners)

	rec, _ := invStore.Snapshot("vase-01")
	assert.Equal(t, inventory.StatusReserved, rec.Status)
}

// ============================================
// Commit Tests
// ============================================

func TestManager_Commit_MarksSold(t *testing.T) {
	mgr, invStore, events, _ := newTestManager()
	seedAvailable(invStore, "id-1", "vase-01", 500)
	claim, err := mgr.Claim(context.Background(), []string{"vase-01"}, "buyer-1", claimTTL)
	require.NoError(t, err)

	err = mgr.Commit(context.Background(), claim.ItemKeys(), claim.Token)

	require.NoError(t, err)
	rec, _ := invStore.Snapshot("vase-01")
	assert.Equal(t, inventory.StatusSold, rec.Status)
	assert.Contains(t, events.TypesPublished(), inventory.EventItemSold)
}

func TestManager_Commit_AfterDeadline(t *testing.T) {
	mgr, invStore, _, clk := newTestManager()
	seedAvailable(invStore, "id-1", "vase-01", 500)
	claim, err := mgr.Claim(context.Background(), []string{"vase-01"}, "buyer-1", claimTTL)
	require.NoError(t, err)

	clk.Advance(claimTTL + time.Second)
	err = mgr.Commit(context.Background(), claim.ItemKeys(), claim.Token)

	assert.ErrorIs(t, err, inventory.ErrReservationExpired)
	rec, _ := invStore.Snapshot("vase-01")
	assert.NotEqual(t, inventory.StatusSold, rec.Status)
}

func TestManager_Commit_WrongToken(t *testing.T) {
	mgr, invStore, _, clk := newTestManager()
	seedReserved(invStore, "id-1", "vase-01", "buyer-1", "tok-1", clk.Now().Add(10*time.Minute))

	err := mgr.Commit(context.Background(), []string{"vase-01"}, "tok-other")

	assert.ErrorIs(t, err, inventory.ErrReservationMismatch)
}

func TestManager_Commit_AfterRelease(t *testing.T) {
	mgr, invStore, _, _ := newTestManager()
	seedAvailable(invStore, "id-1", "vase-01", 500)
	claim, err := mgr.Claim(context.Background(), []string{"vase-01"}, "buyer-1", claimTTL)
	require.NoError(t, err)
	require.NoError(t, mgr.Release(context.Background(), claim.ItemKeys(), claim.Token))

	err = mgr.Commit(context.Background(), claim.ItemKeys(), claim.Token)

	assert.ErrorIs(t, err, inventory.ErrReservationExpired)
}

func TestManager_Commit_SoldItemMismatches(t *testing.T) {
	mgr, invStore, _, _ := newTestManager()
	invStore.SeedItem(inventory.Record{ID: "id-1", ItemKey: "vase-01", Status: inventory.StatusSold})

	err := mgr.Commit(context.Background(), []string{"vase-01"}, "tok-1")

	assert.ErrorIs(t, err, inventory.ErrReservationMismatch)
}

// ============================================
// Release Tests
// ============================================

func TestManager_Release_ReturnsToAvailable(t *testing.T) {
	mgr, invStore, events, _ := newTestManager()
	seedAvailable(invStore, "id-1", "vase-01", 500)
	claim, err := mgr.Claim(context.Background(), []string{"vase-01"}, "buyer-1", claimTTL)
	require.NoError(t, err)

	err = mgr.Release(context.Background(), claim.ItemKeys(), claim.Token)

	require.NoError(t, err)
	rec, _ := invStore.Snapshot("vase-01")
	assert.Equal(t, inventory.StatusAvailable, rec.Status)
	assert.Empty(t, rec.HolderID)
	assert.Contains(t, events.TypesPublished(), inventory.EventItemReleased)
}

func TestManager_Release_ForeignTokenIsNoop(t *testing.T) {
	mgr, invStore, events, clk := newTestManager()
	seedReserved(invStore, "id-1", "vase-01", "buyer-1", "tok-1", clk.Now().Add(10*time.Minute))

	err := mgr.Release(context.Background(), []string{"vase-01"}, "tok-other")

	require.NoError(t, err)
	rec, _ := invStore.Snapshot("vase-01")
	assert.Equal(t, inventory.StatusReserved, rec.Status)
	assert.Equal(t, "tok-1", rec.Token)
	assert.Empty(t, events.TypesPublished())
}

func TestManager_Release_SoldItemIsNoop(t *testing.T) {
	mgr, invStore, _, _ := newTestManager()
	invStore.SeedItem(inventory.Record{ID: "id-1", ItemKey: "vase-01", Status: inventory.StatusSold, Token: "tok-1"})

	err := mgr.Release(context.Background(), []string{"vase-01"}, "tok-1")

	require.NoError(t, err)
	rec, _ := invStore.Snapshot("vase-01")
	assert.Equal(t, inventory.StatusSold, rec.Status)
}

// ============================================
// Expiry Tests
// ============================================

func TestManager_Availability_LazyExpiry(t *testing.T) {
	mgr, invStore, _, clk := newTestManager()
	seedReserved(invStore, "id-1", "vase-01", "buyer-1", "tok-1", clk.Now().Add(-time.Minute))

	rec, err := mgr.Availability(context.Background(), "vase-01")

	require.NoError(t, err)
	assert.Equal(t, inventory.StatusAvailable, rec.Status)
	assert.Empty(t, rec.HolderID)

	// The read must not have mutated the stored record.
	stored, _ := invStore.Snapshot("vase-01")
	assert.Equal(t, inventory.StatusReserved, stored.Status)
}

func TestManager_ReleaseExpired_SweepsOnlyLapsed(t *testing.T) {
	mgr, invStore, events, clk := newTestManager()
	seedReserved(invStore, "id-1", "vase-01", "buyer-1", "tok-1", clk.Now().Add(-time.Minute))
	seedReserved(invStore, "id-2", "lamp-02", "buyer-2", "tok-2", clk.Now().Add(10*time.Minute))

	released, err := mgr.ReleaseExpired(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, released)
	vase, _ := invStore.Snapshot("vase-01")
	lamp, _ := invStore.Snapshot("lamp-02")
	assert.Equal(t, inventory.StatusAvailable, vase.Status)
	assert.Equal(t, inventory.StatusReserved, lamp.Status)
	assert.Equal(t, []string{inventory.EventReservationExpired}, events.TypesPublished())
}

func TestManager_ReleaseExpired_SkipsLiveListings(t *testing.T) {
	mgr, invStore, events, clk := newTestManager()
	seedReserved(invStore, "id-1", "vase-01", "buyer-1", "tok-1", clk.Now().Add(10*time.Minute))

	// A store whose range filter is coarser than the clock may list holds
	// that are still live; the sweep must re-check the deadline itself.
	invStore.SweepListsAll = true

	released, err := mgr.ReleaseExpired(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, released)
	rec, _ := invStore.Snapshot("vase-01")
	assert.Equal(t, inventory.StatusReserved, rec.Status)
	assert.Equal(t, "tok-1", rec.Token)
	assert.Empty(t, events.TypesPublished())
}

func TestManager_ReleaseExpired_LosesToConcurrentCommit(t *testing.T) {
	mgr, invStore, _, clk := newTestManager()
	seedReserved(invStore, "id-1", "vase-01", "buyer-1", "tok-1", clk.Now().Add(-time.Minute))

	// A commit lands between the sweep's read and its conditional write.
	invStore.StealCAS = func(id string, rec *inventory.Record) {
		rec.Status = inventory.StatusSold
		rec.Token = ""
		rec.Deadline = nil
	}

	released, err := mgr.ReleaseExpired(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, released)
	rec, _ := invStore.Snapshot("vase-01")
	assert.Equal(t, inventory.StatusSold, rec.Status)
}

// ============================================
// Catalog Tests
// ============================================

func TestManager_AddItem(t *testing.T) {
	mgr, invStore, _, clk := newTestManager()

	rec, err := mgr.AddItem(context.Background(), &inventory.Record{
		ItemKey: "vase-01",
		Name:    "Ming vase",
		Price:   5000,
	})

	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, inventory.StatusAvailable, rec.Status)
	assert.Equal(t, clk.Now(), rec.CreatedAt)

	stored, ok := invStore.Snapshot("vase-01")
	require.True(t, ok)
	assert.Equal(t, "Ming vase", stored.Name)
}

func TestManager_AddItem_DuplicateKey(t *testing.T) {
	mgr, invStore, _, _ := newTestManager()
	seedAvailable(invStore, "id-1", "vase-01", 500)

	_, err := mgr.AddItem(context.Background(), &inventory.Record{ItemKey: "vase-01", Name: "Another", Price: 100})

	assert.ErrorIs(t, err, inventory.ErrItemExists)
}

func TestManager_AddItem_Validation(t *testing.T) {
	mgr, _, _, _ := newTestManager()

	_, err := mgr.AddItem(context.Background(), &inventory.Record{ItemKey: "vase-01", Name: "No price"})

	assert.Error(t, err)
}

func TestManager_List_AppliesLazyExpiry(t *testing.T) {
	mgr, invStore, _, clk := newTestManager()
	seedReserved(invStore, "id-1", "vase-01", "buyer-1", "tok-1", clk.Now().Add(-time.Minute))
	seedAvailable(invStore, "id-2", "lamp-02", 300)

	records, err := mgr.List(context.Background(), "")

	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, inventory.StatusAvailable, rec.Status)
	}
}
