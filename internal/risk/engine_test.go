package risk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreColdStartIsLow(t *testing.T) {
	engine := NewEngine(nil)

	a := engine.Score(context.Background(), &TransactionContext{
		BuyerID:   "user_new",
		SellerID:  "user_seller",
		OrderID:   "ord_1",
		Amount:    25.00,
		MaxAmount: 10000,
	})

	assert.Equal(t, LevelLow, a.Level)
	assert.Less(t, a.Score, DefaultMediumThreshold)
	assert.Equal(t, 0.0, a.Factors["velocity"])
	assert.Equal(t, 0.0, a.Factors["novelty"])
}

func TestAmountFactorScalesWithCeiling(t *testing.T) {
	engine := NewEngine(nil)
	ctx := context.Background()

	small := engine.Score(ctx, &TransactionContext{
		BuyerID: "user_a", SellerID: "user_s", OrderID: "ord_1",
		Amount: 10, MaxAmount: 10000,
	})
	atCeiling := engine.Score(ctx, &TransactionContext{
		BuyerID: "user_a", SellerID: "user_s", OrderID: "ord_2",
		Amount: 10000, MaxAmount: 10000,
	})

	assert.Less(t, small.Factors["amount_ratio"], 0.01)
	assert.Equal(t, 1.0, atCeiling.Factors["amount_ratio"])
	assert.Greater(t, atCeiling.Score, small.Score)
}

func TestNoveltyFactorFadesWithRepeatSellers(t *testing.T) {
	engine := NewEngine(nil)
	ctx := context.Background()

	engine.RecordPurchase("user_b", "user_known", 10)
	engine.RecordPurchase("user_b", "user_known", 10)
	engine.RecordPurchase("user_b", "user_known", 10)

	known := engine.Score(ctx, &TransactionContext{
		BuyerID: "user_b", SellerID: "user_known", OrderID: "ord_1",
		Amount: 10, MaxAmount: 10000,
	})
	stranger := engine.Score(ctx, &TransactionContext{
		BuyerID: "user_b", SellerID: "user_stranger", OrderID: "ord_2",
		Amount: 10, MaxAmount: 10000,
	})

	assert.Equal(t, 0.0, known.Factors["novelty"])
	assert.Equal(t, 0.6, stranger.Factors["novelty"])
}

func TestVelocitySpikeRaisesScore(t *testing.T) {
	engine := NewEngine(nil)
	ctx := context.Background()

	// Burst of spend inside the 5-minute window against itself produces a
	// spike relative to the 24h average rate.
	for i := 0; i < 20; i++ {
		engine.RecordPurchase("user_c", "user_s", 50)
	}

	a := engine.Score(ctx, &TransactionContext{
		BuyerID: "user_c", SellerID: "user_s", OrderID: "ord_1",
		Amount: 500, MaxAmount: 100000,
	})

	assert.Greater(t, a.Factors["velocity"], 0.5)
}

func TestDisputeHistoryRaisesScore(t *testing.T) {
	engine := NewEngine(nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		engine.RecordPurchase("user_d", "user_s", 10)
	}
	engine.RecordDispute("user_d", "user_s")
	engine.RecordDispute("user_d", "user_s")

	a := engine.Score(ctx, &TransactionContext{
		BuyerID: "user_d", SellerID: "user_s", OrderID: "ord_1",
		Amount: 10, MaxAmount: 10000,
	})

	assert.Equal(t, 1.0, a.Factors["dispute_history"])

	clean := engine.Score(ctx, &TransactionContext{
		BuyerID: "user_e", SellerID: "user_s", OrderID: "ord_2",
		Amount: 10, MaxAmount: 10000,
	})
	assert.Equal(t, 0.0, clean.Factors["dispute_history"])
}

func TestLevelThresholds(t *testing.T) {
	engine := NewEngine(nil)

	assert.Equal(t, LevelLow, engine.level(0.1))
	assert.Equal(t, LevelMedium, engine.level(0.3))
	assert.Equal(t, LevelHigh, engine.level(0.6))
	assert.Equal(t, LevelCritical, engine.level(0.9))
}

func TestScoreClampedToUnitInterval(t *testing.T) {
	engine := NewEngine(nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		engine.RecordPurchase("user_f", "user_s", 5)
	}
	for i := 0; i < 8; i++ {
		engine.RecordDispute("user_f", "user_s")
	}

	a := engine.Score(ctx, &TransactionContext{
		BuyerID: "user_f", SellerID: "user_other", OrderID: "ord_1",
		Amount: 99999, MaxAmount: 10000,
	})

	assert.GreaterOrEqual(t, a.Score, 0.0)
	assert.LessOrEqual(t, a.Score, 1.0)
	assert.Equal(t, LevelCritical, a.Level)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	engine := NewEngine(nil)
	ctx := context.Background()

	a := engine.Score(ctx, &TransactionContext{
		BuyerID: "user_g", SellerID: "user_s", OrderID: "ord_1",
		Amount: 10, MaxAmount: 10000,
	})
	require.NoError(t, store.Record(ctx, a))

	listed, err := store.ListByBuyer(ctx, "user_g", 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, a.ID, listed[0].ID)
	assert.Equal(t, a.Factors, listed[0].Factors)

	none, err := store.ListByBuyer(ctx, "user_unknown", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
