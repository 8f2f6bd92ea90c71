package memory

import (
	"context"
	"sort"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// MarketStore implements domain.MarketStore.
type MarketStore struct {
	s *Store
}

// Markets returns the store's domain.MarketStore view.
func (s *Store) Markets() *MarketStore {
	return &MarketStore{s: s}
}

func (ms *MarketStore) Get(_ context.Context, id string) (domain.Market, error) {
	ms.s.mu.Lock()
	defer ms.s.mu.Unlock()
	m, ok := ms.s.st.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (ms *MarketStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	ms.s.mu.Lock()
	defer ms.s.mu.Unlock()
	out := make([]domain.Market, 0, len(ms.s.st.markets))
	for _, m := range ms.s.st.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	lo, hi := page(len(out), opts)
	return out[lo:hi], nil
}

func (ms *MarketStore) Upsert(_ context.Context, m domain.Market) error {
	ms.s.mu.Lock()
	defer ms.s.mu.Unlock()
	if cur, ok := ms.s.st.markets[m.ID]; ok {
		cur.Name = m.Name
		cur.TaxRate = m.TaxRate
		ms.s.st.markets[m.ID] = cur
		return nil
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = ms.s.now().UTC()
	}
	m.TreasuryGold = 0
	ms.s.st.markets[m.ID] = m
	return nil
}

var _ domain.MarketStore = (*MarketStore)(nil)
