package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// TransactionStore implements domain.TransactionStore.
type TransactionStore struct {
	s *Store
}

// Transactions returns the store's domain.TransactionStore view.
func (s *Store) Transactions() *TransactionStore {
	return &TransactionStore{s: s}
}

// ListByMarket returns a market's transactions, newest first.
func (ts *TransactionStore) ListByMarket(_ context.Context, marketID string, opts domain.ListOpts) ([]domain.TransactionRecord, error) {
	ts.s.mu.Lock()
	defer ts.s.mu.Unlock()
	var out []domain.TransactionRecord
	for i := len(ts.s.st.transactions) - 1; i >= 0; i-- {
		rec := ts.s.st.transactions[i]
		if rec.MarketID == marketID && inRange(rec.CreatedAt, opts) {
			out = append(out, rec)
		}
	}
	lo, hi := page(len(out), opts)
	return out[lo:hi], nil
}

// ListBefore returns every transaction created before the cutoff, oldest first.
func (ts *TransactionStore) ListBefore(_ context.Context, before time.Time) ([]domain.TransactionRecord, error) {
	ts.s.mu.Lock()
	defer ts.s.mu.Unlock()
	var out []domain.TransactionRecord
	for _, rec := range ts.s.st.transactions {
		if rec.CreatedAt.Before(before) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// PriceHistoryStore implements domain.PriceHistoryStore.
type PriceHistoryStore struct {
	s *Store
}

// Prices returns the store's domain.PriceHistoryStore view.
func (s *Store) Prices() *PriceHistoryStore {
	return &PriceHistoryStore{s: s}
}

// ListByMarket returns price rows for a market, newest day first. An empty
// itemRef matches every item.
func (ps *PriceHistoryStore) ListByMarket(_ context.Context, marketID, itemRef string, opts domain.ListOpts) ([]domain.PriceHistory, error) {
	ps.s.mu.Lock()
	defer ps.s.mu.Unlock()
	var out []domain.PriceHistory
	for k, h := range ps.s.st.prices {
		if k.market != marketID || (itemRef != "" && k.item != itemRef) || !inRange(k.day, opts) {
			continue
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Day.Equal(out[j].Day) {
			return out[i].Day.After(out[j].Day)
		}
		return out[i].ItemRef < out[j].ItemRef
	})
	lo, hi := page(len(out), opts)
	return out[lo:hi], nil
}

// AuditStore implements domain.AuditStore.
type AuditStore struct {
	s *Store
}

// Audit returns the store's domain.AuditStore view.
func (s *Store) Audit() *AuditStore {
	return &AuditStore{s: s}
}

func (as *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	as.s.mu.Lock()
	defer as.s.mu.Unlock()
	if err := as.s.fault("Log"); err != nil {
		return err
	}
	as.s.st.audit = append(as.s.st.audit, domain.AuditEntry{
		ID:        int64(len(as.s.st.audit) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: as.s.now().UTC(),
	})
	return nil
}

func (as *AuditStore) List(_ context.Context, q domain.AuditQuery) ([]domain.AuditEntry, error) {
	as.s.mu.Lock()
	defer as.s.mu.Unlock()
	var out []domain.AuditEntry
	for i := len(as.s.st.audit) - 1; i >= 0; i-- {
		e := as.s.st.audit[i]
		if inRange(e.CreatedAt, q.ListOpts) && strings.HasPrefix(e.Event, q.EventPrefix) {
			out = append(out, e)
		}
	}
	lo, hi := page(len(out), q.ListOpts)
	return out[lo:hi], nil
}

// Attributes implements domain.BuyerDirectory. Unknown participants are
// omitted from the result.
func (s *Store) Attributes(_ context.Context, participantIDs []string) (map[string]domain.BuyerAttributes, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("Attributes"); err != nil {
		return nil, err
	}
	out := make(map[string]domain.BuyerAttributes, len(participantIDs))
	for _, id := range participantIDs {
		if a, ok := s.st.participants[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

// Blocked implements domain.TradeRestrictions.
func (s *Store) Blocked(_ context.Context, marketID, buyerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("Blocked"); err != nil {
		return false, err
	}
	return s.st.embargoes[marketID+"|"+buyerID], nil
}

// EffectiveTaxRate implements domain.TaxPolicy from the market's stored rate.
func (s *Store) EffectiveTaxRate(_ context.Context, marketID string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("EffectiveTaxRate"); err != nil {
		return 0, err
	}
	m, ok := s.st.markets[marketID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return m.TaxRate, nil
}

var (
	_ domain.TransactionStore  = (*TransactionStore)(nil)
	_ domain.PriceHistoryStore = (*PriceHistoryStore)(nil)
	_ domain.AuditStore        = (*AuditStore)(nil)
	_ domain.BuyerDirectory    = (*Store)(nil)
	_ domain.TradeRestrictions = (*Store)(nil)
	_ domain.TaxPolicy         = (*Store)(nil)
)
