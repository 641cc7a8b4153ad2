package risk

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/playvault/playvault/internal/idgen"
)

// windowEntry records a single purchase for sliding-window analysis.
type windowEntry struct {
	SellerID string
	Amount   float64
	Disputed bool
	At       time.Time
}

const (
	maxWindowSize  = 1000
	windowDuration = 24 * time.Hour

	weightAmount   = 0.30
	weightVelocity = 0.30
	weightNovelty  = 0.20
	weightDisputes = 0.20
)

// Engine scores payments using in-memory sliding windows per buyer.
type Engine struct {
	windows           sync.Map // map[string]*buyerWindow
	store             Store
	criticalThreshold float64
	highThreshold     float64
	mediumThreshold   float64
}

type buyerWindow struct {
	mu      sync.Mutex
	entries []windowEntry
}

// NewEngine creates a risk scoring engine backed by the given audit store.
func NewEngine(store Store) *Engine {
	return &Engine{
		store:             store,
		criticalThreshold: DefaultCriticalThreshold,
		highThreshold:     DefaultHighThreshold,
		mediumThreshold:   DefaultMediumThreshold,
	}
}

// Score evaluates a payment and returns a risk assessment.
// Pure in-memory computation, fast enough to run inline with capture.
func (e *Engine) Score(ctx context.Context, tx *TransactionContext) *Assessment {
	w := e.getWindow(tx.BuyerID)
	w.mu.Lock()
	entries := e.snapshotEntries(w)
	w.mu.Unlock()

	factors := map[string]float64{
		"amount_ratio":    e.amountFactor(tx),
		"velocity":        e.velocityFactor(entries, tx.Amount),
		"novelty":         e.noveltyFactor(entries, tx.SellerID),
		"dispute_history": e.disputeFactor(entries),
	}

	score := factors["amount_ratio"]*weightAmount +
		factors["velocity"]*weightVelocity +
		factors["novelty"]*weightNovelty +
		factors["dispute_history"]*weightDisputes

	if score > 1.0 {
		score = 1.0
	}
	if score < 0.0 {
		score = 0.0
	}

	assessment := &Assessment{
		ID:          idgen.WithPrefix("risk_"),
		BuyerID:     tx.BuyerID,
		OrderID:     tx.OrderID,
		Score:       math.Round(score*1000) / 1000,
		Factors:     factors,
		Level:       e.level(score),
		EvaluatedAt: time.Now(),
	}

	// Persist asynchronously (best-effort audit trail)
	if e.store != nil {
		go func() {
			_ = e.store.Record(context.Background(), assessment)
		}()
	}

	return assessment
}

// RecordPurchase appends a completed capture to the buyer's sliding window.
func (e *Engine) RecordPurchase(buyerID, sellerID string, amount float64) {
	w := e.getWindow(buyerID)
	w.mu.Lock()
	defer w.mu.Unlock()

	w.entries = append(w.entries, windowEntry{
		SellerID: sellerID,
		Amount:   amount,
		At:       time.Now(),
	})
	e.pruneWindow(w)
}

// RecordDispute flags the buyer's most recent purchase from the seller as
// disputed, feeding the dispute-history factor.
func (e *Engine) RecordDispute(buyerID, sellerID string) {
	w := e.getWindow(buyerID)
	w.mu.Lock()
	defer w.mu.Unlock()

	for i := len(w.entries) - 1; i >= 0; i-- {
		if w.entries[i].SellerID == sellerID && !w.entries[i].Disputed {
			w.entries[i].Disputed = true
			return
		}
	}
}

func (e *Engine) level(score float64) Level {
	switch {
	case score >= e.criticalThreshold:
		return LevelCritical
	case score >= e.highThreshold:
		return LevelHigh
	case score >= e.mediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

// getWindow returns or creates the sliding window for a buyer.
func (e *Engine) getWindow(buyerID string) *buyerWindow {
	v, _ := e.windows.LoadOrStore(buyerID, &buyerWindow{})
	return v.(*buyerWindow)
}

// snapshotEntries returns a copy of non-expired entries (caller holds lock).
func (e *Engine) snapshotEntries(w *buyerWindow) []windowEntry {
	cutoff := time.Now().Add(-windowDuration)
	result := make([]windowEntry, 0, len(w.entries))
	for _, entry := range w.entries {
		if entry.At.After(cutoff) {
			result = append(result, entry)
		}
	}
	return result
}

// pruneWindow removes entries older than 24h and caps at maxWindowSize.
func (e *Engine) pruneWindow(w *buyerWindow) {
	cutoff := time.Now().Add(-windowDuration)
	start := 0
	for start < len(w.entries) && w.entries[start].At.Before(cutoff) {
		start++
	}
	if start > 0 {
		w.entries = w.entries[start:]
	}
	if len(w.entries) > maxWindowSize {
		w.entries = w.entries[len(w.entries)-maxWindowSize:]
	}
}

// amountFactor: how close the payment sits to the configured ceiling.
// 50% of the ceiling = 0.25, at the ceiling = 1.0, quadratic below that.
func (e *Engine) amountFactor(tx *TransactionContext) float64 {
	if tx.MaxAmount <= 0 || tx.Amount <= 0 {
		return 0.0
	}
	ratio := tx.Amount / tx.MaxAmount
	if ratio >= 1.0 {
		return 1.0
	}
	return math.Round(ratio*ratio*1000) / 1000
}

// velocityFactor: 5-min spend vs 24h average.
// 10x spike = 0.5, 100x spike = 1.0, uses log10 scaling.
func (e *Engine) velocityFactor(entries []windowEntry, currentAmount float64) float64 {
	if len(entries) < 2 {
		return 0.0 // not enough history
	}

	now := time.Now()
	fiveMinAgo := now.Add(-5 * time.Minute)

	var totalSpent24h, spent5min float64
	for _, entry := range entries {
		totalSpent24h += entry.Amount
		if entry.At.After(fiveMinAgo) {
			spent5min += entry.Amount
		}
	}
	spent5min += currentAmount // include the current payment

	// 24h = 288 five-minute windows
	avg5minRate := totalSpent24h / 288.0
	if avg5minRate <= 0 {
		return 0.0
	}

	ratio := spent5min / avg5minRate
	if ratio <= 1.0 {
		return 0.0
	}

	// log10(ratio) / 2: 10x→0.5, 100x→1.0
	score := math.Log10(ratio) / 2.0
	if score > 1.0 {
		score = 1.0
	}
	return math.Round(score*1000) / 1000
}

// noveltyFactor: score based on how many times the buyer has bought from
// this seller. Never seen = 0.6, seen 1-2x = 0.3, seen 3+ = 0.0.
func (e *Engine) noveltyFactor(entries []windowEntry, sellerID string) float64 {
	count := 0
	for _, entry := range entries {
		if entry.SellerID == sellerID {
			count++
		}
	}
	switch {
	case count >= 3:
		return 0.0
	case count >= 1:
		return 0.3
	default:
		if len(entries) == 0 {
			// No history at all: cold start, treat as safe
			return 0.0
		}
		return 0.6
	}
}

// disputeFactor: fraction of recent purchases the buyer has disputed.
// 1 in 4 disputed = 1.0; below 3 purchases there is too little signal.
func (e *Engine) disputeFactor(entries []windowEntry) float64 {
	if len(entries) < 3 {
		return 0.0
	}
	disputed := 0
	for _, entry := range entries {
		if entry.Disputed {
			disputed++
		}
	}
	fraction := float64(disputed) / float64(len(entries))
	score := fraction * 4.0
	if score > 1.0 {
		score = 1.0
	}
	return math.Round(score*1000) / 1000
}
