package memory

import (
	"context"
	"sort"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// ListingStore implements domain.ListingStore.
type ListingStore struct {
	s *Store
}

// Listings returns the store's domain.ListingStore view.
func (s *Store) Listings() *ListingStore {
	return &ListingStore{s: s}
}

func (ls *ListingStore) ListContested(_ context.Context, marketID string) ([]domain.ContestedListing, error) {
	ls.s.mu.Lock()
	defer ls.s.mu.Unlock()
	if err := ls.s.fault("ListContested"); err != nil {
		return nil, err
	}

	byListing := make(map[string][]domain.BuyOrder)
	for _, o := range ls.s.st.orders {
		if o.Status == domain.OrderPending {
			byListing[o.ListingID] = append(byListing[o.ListingID], o)
		}
	}

	var out []domain.ContestedListing
	for id, orders := range byListing {
		l, ok := ls.s.st.listings[id]
		if !ok || l.MarketID != marketID || l.Status != domain.ListingActive {
			continue
		}
		sortOrders(orders)
		out = append(out, domain.ContestedListing{Listing: l, Orders: orders})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Listing, out[j].Listing
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out, nil
}

func sortOrders(orders []domain.BuyOrder) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].PlacedAt.Equal(orders[j].PlacedAt) {
			return orders[i].PlacedAt.Before(orders[j].PlacedAt)
		}
		return orders[i].ID < orders[j].ID
	})
}

var _ domain.ListingStore = (*ListingStore)(nil)
