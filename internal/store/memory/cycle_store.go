package memory

import (
	"context"
	"sort"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/google/uuid"
)

// CycleStore implements domain.CycleStore.
type CycleStore struct {
	s *Store
}

// Cycles returns the store's domain.CycleStore view.
func (s *Store) Cycles() *CycleStore {
	return &CycleStore{s: s}
}

// activeCycle returns the market's open or processing cycle. Callers hold s.mu.
func (st *state) activeCycle(marketID string) (domain.AuctionCycle, bool) {
	for _, c := range st.cycles {
		if c.MarketID == marketID && c.Status != domain.CycleResolved {
			return c, true
		}
	}
	return domain.AuctionCycle{}, false
}

func (st *state) nextCycleNumber(marketID string) int64 {
	var last int64
	for _, c := range st.cycles {
		if c.MarketID == marketID && c.CycleNumber > last {
			last = c.CycleNumber
		}
	}
	return last + 1
}

func (st *state) openCycle(marketID string, at time.Time) domain.AuctionCycle {
	c := domain.AuctionCycle{
		ID:          uuid.NewString(),
		MarketID:    marketID,
		CycleNumber: st.nextCycleNumber(marketID),
		Status:      domain.CycleOpen,
		StartedAt:   at,
	}
	st.cycles[c.ID] = c
	return c
}

func (cs *CycleStore) GetOpen(_ context.Context, marketID string) (domain.AuctionCycle, error) {
	cs.s.mu.Lock()
	defer cs.s.mu.Unlock()
	if err := cs.s.fault("GetOpen"); err != nil {
		return domain.AuctionCycle{}, err
	}
	c, ok := cs.s.st.activeCycle(marketID)
	if !ok || c.Status != domain.CycleOpen {
		return domain.AuctionCycle{}, domain.ErrNotFound
	}
	return c, nil
}

func (cs *CycleStore) Open(_ context.Context, marketID string, startedAt time.Time) (domain.AuctionCycle, error) {
	cs.s.mu.Lock()
	defer cs.s.mu.Unlock()
	if err := cs.s.fault("Open"); err != nil {
		return domain.AuctionCycle{}, err
	}
	if _, ok := cs.s.st.markets[marketID]; !ok {
		return domain.AuctionCycle{}, domain.ErrNotFound
	}
	if _, ok := cs.s.st.activeCycle(marketID); ok {
		return domain.AuctionCycle{}, domain.ErrAlreadyExists
	}
	return cs.s.st.openCycle(marketID, startedAt), nil
}

func (cs *CycleStore) BeginProcessing(_ context.Context, cycleID string, at, dueBy time.Time) error {
	cs.s.mu.Lock()
	defer cs.s.mu.Unlock()
	if err := cs.s.fault("BeginProcessing"); err != nil {
		return err
	}
	c, ok := cs.s.st.cycles[cycleID]
	if !ok {
		return domain.ErrNotFound
	}
	if !c.Status.CanTransition(domain.CycleProcessing) {
		return domain.ErrCycleBusy
	}
	if c.StartedAt.After(dueBy) {
		return domain.ErrCycleNotDue
	}
	c.Status = domain.CycleProcessing
	c.ProcessingAt = &at
	cs.s.st.cycles[cycleID] = c
	return nil
}

func (cs *CycleStore) RevertToOpen(_ context.Context, cycleID string) error {
	cs.s.mu.Lock()
	defer cs.s.mu.Unlock()
	if err := cs.s.fault("RevertToOpen"); err != nil {
		return err
	}
	c, ok := cs.s.st.cycles[cycleID]
	if !ok {
		return domain.ErrNotFound
	}
	if c.Status != domain.CycleProcessing {
		return domain.ErrInvalidTransition
	}
	c.Status = domain.CycleOpen
	c.ProcessingAt = nil
	cs.s.st.cycles[cycleID] = c
	return nil
}

func (cs *CycleStore) Resolve(_ context.Context, cycleID string, stats domain.CycleStats, resolvedAt time.Time) (domain.AuctionCycle, error) {
	cs.s.mu.Lock()
	defer cs.s.mu.Unlock()
	if err := cs.s.fault("Resolve"); err != nil {
		return domain.AuctionCycle{}, err
	}
	c, ok := cs.s.st.cycles[cycleID]
	if !ok {
		return domain.AuctionCycle{}, domain.ErrNotFound
	}
	if !c.Status.CanTransition(domain.CycleResolved) {
		return domain.AuctionCycle{}, domain.ErrInvalidTransition
	}
	c.Status = domain.CycleResolved
	c.Stats = stats
	c.ResolvedAt = &resolvedAt
	cs.s.st.cycles[cycleID] = c
	return cs.s.st.openCycle(c.MarketID, resolvedAt), nil
}

func (cs *CycleStore) RevertStuck(_ context.Context, processingBefore time.Time) ([]domain.AuctionCycle, error) {
	cs.s.mu.Lock()
	defer cs.s.mu.Unlock()
	if err := cs.s.fault("RevertStuck"); err != nil {
		return nil, err
	}
	var out []domain.AuctionCycle
	for id, c := range cs.s.st.cycles {
		if c.Status != domain.CycleProcessing || c.ProcessingAt == nil || !c.ProcessingAt.Before(processingBefore) {
			continue
		}
		c.Status = domain.CycleOpen
		c.ProcessingAt = nil
		cs.s.st.cycles[id] = c
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out, nil
}

func (cs *CycleStore) ListMarketsWithoutCycle(_ context.Context) ([]string, error) {
	cs.s.mu.Lock()
	defer cs.s.mu.Unlock()
	if err := cs.s.fault("ListMarketsWithoutCycle"); err != nil {
		return nil, err
	}
	var out []string
	for id := range cs.s.st.markets {
		if _, ok := cs.s.st.activeCycle(id); !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (cs *CycleStore) ListDueMarkets(_ context.Context, startedBefore time.Time) ([]string, error) {
	cs.s.mu.Lock()
	defer cs.s.mu.Unlock()
	if err := cs.s.fault("ListDueMarkets"); err != nil {
		return nil, err
	}
	pending := make(map[string]bool)
	for _, o := range cs.s.st.orders {
		if o.Status != domain.OrderPending {
			continue
		}
		if l, ok := cs.s.st.listings[o.ListingID]; ok && l.Status == domain.ListingActive {
			pending[l.MarketID] = true
		}
	}
	var out []string
	for _, c := range cs.s.st.cycles {
		if c.Status == domain.CycleOpen && !c.StartedAt.After(startedBefore) && pending[c.MarketID] {
			out = append(out, c.MarketID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (cs *CycleStore) ListByMarket(_ context.Context, marketID string, opts domain.ListOpts) ([]domain.AuctionCycle, error) {
	cs.s.mu.Lock()
	defer cs.s.mu.Unlock()
	var out []domain.AuctionCycle
	for _, c := range cs.s.st.cycles {
		if c.MarketID == marketID && inRange(c.StartedAt, opts) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CycleNumber > out[j].CycleNumber })
	lo, hi := page(len(out), opts)
	return out[lo:hi], nil
}

func (cs *CycleStore) ListResolvedBefore(_ context.Context, before time.Time) ([]domain.AuctionCycle, error) {
	cs.s.mu.Lock()
	defer cs.s.mu.Unlock()
	var out []domain.AuctionCycle
	for _, c := range cs.s.st.cycles {
		if c.Status == domain.CycleResolved && c.ResolvedAt != nil && c.ResolvedAt.Before(before) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResolvedAt.Before(*out[j].ResolvedAt) })
	return out, nil
}

var _ domain.CycleStore = (*CycleStore)(nil)
