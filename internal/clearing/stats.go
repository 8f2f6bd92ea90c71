package clearing

import "github.com/alanyoungcy/auctionhouse/internal/domain"

// statsAccumulator builds CycleStats while a cycle is processed. Nothing is
// visible outside the manager until snapshot is written with the resolve.
type statsAccumulator struct {
	stats domain.CycleStats
}

func newStatsAccumulator() *statsAccumulator {
	return &statsAccumulator{stats: domain.CycleStats{WinnerAffiliations: map[string]int{}}}
}

func (a *statsAccumulator) listing(orders int) {
	a.stats.OrdersProcessed += orders
	if orders > 1 {
		a.stats.ContestedListings++
	}
}

func (a *statsAccumulator) settled(rec domain.TransactionRecord, winner domain.BuyerAttributes) {
	a.stats.TransactionsCompleted++
	a.stats.TotalValueTraded += rec.Price
	if winner.Profession != "" {
		a.stats.WinnerAffiliations[winner.Profession]++
	}
}

func (a *statsAccumulator) failed() {
	a.stats.FailedListings++
}

func (a *statsAccumulator) snapshot() domain.CycleStats {
	out := a.stats
	out.WinnerAffiliations = make(map[string]int, len(a.stats.WinnerAffiliations))
	for k, v := range a.stats.WinnerAffiliations {
		out.WinnerAffiliations[k] = v
	}
	return out
}
