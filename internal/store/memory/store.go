// Package memory implements the domain store interfaces in process memory.
// It backs the clearing tests and the store.backend = "memory" mode. Every
// method takes one mutex, and settlement transactions run against a private
// copy of the state that is swapped in only when the callback succeeds, so
// the semantics match a serializable database.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

type holdingKey struct {
	owner, item string
}

type priceKey struct {
	item, market string
	day          time.Time
}

type state struct {
	markets      map[string]domain.Market
	participants map[string]domain.BuyerAttributes
	balances     map[string]domain.Balance
	cycles       map[string]domain.AuctionCycle
	listings     map[string]domain.Listing
	orders       map[string]domain.BuyOrder
	holdings     map[holdingKey]int64
	prices       map[priceKey]domain.PriceHistory
	transactions []domain.TransactionRecord
	embargoes    map[string]bool
	audit        []domain.AuditEntry
}

func newState() *state {
	return &state{
		markets:      make(map[string]domain.Market),
		participants: make(map[string]domain.BuyerAttributes),
		balances:     make(map[string]domain.Balance),
		cycles:       make(map[string]domain.AuctionCycle),
		listings:     make(map[string]domain.Listing),
		orders:       make(map[string]domain.BuyOrder),
		holdings:     make(map[holdingKey]int64),
		prices:       make(map[priceKey]domain.PriceHistory),
		embargoes:    make(map[string]bool),
	}
}

func (st *state) clone() *state {
	c := &state{
		markets:      cloneMap(st.markets),
		participants: cloneMap(st.participants),
		balances:     cloneMap(st.balances),
		cycles:       cloneMap(st.cycles),
		listings:     cloneMap(st.listings),
		orders:       cloneMap(st.orders),
		holdings:     cloneMap(st.holdings),
		prices:       cloneMap(st.prices),
		transactions: append([]domain.TransactionRecord(nil), st.transactions...),
		embargoes:    cloneMap(st.embargoes),
		audit:        append([]domain.AuditEntry(nil), st.audit...),
	}
	return c
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Store is an in-memory implementation of every store interface the
// clearing engine consumes.
type Store struct {
	mu     sync.Mutex
	st     *state
	faults map[string][]error
	now    func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		st:     newState(),
		faults: make(map[string][]error),
		now:    time.Now,
	}
}

// FailNext makes the next call of op return err. Calls queue up, so
// FailNext twice fails the next two calls. op is the method name, for
// example "InsertTransaction" or "ListContested".
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = append(s.faults[op], err)
}

// fault pops a queued error for op. Callers hold s.mu.
func (s *Store) fault(op string) error {
	q := s.faults[op]
	if len(q) == 0 {
		return nil
	}
	s.faults[op] = q[1:]
	return q[0]
}

// ---------------------------------------------------------------------------
// Seeding helpers. They bypass the transactional API and are meant for tests
// and for loading fixtures into the memory backend.
// ---------------------------------------------------------------------------

// PutMarket creates or replaces a market.
func (s *Store) PutMarket(m domain.Market) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.markets[m.ID] = m
}

// PutParticipant creates or replaces a participant and their balance.
func (s *Store) PutParticipant(attrs domain.BuyerAttributes, available, escrowed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.participants[attrs.ParticipantID] = attrs
	s.st.balances[attrs.ParticipantID] = domain.Balance{
		ParticipantID: attrs.ParticipantID,
		AvailableGold: available,
		EscrowedGold:  escrowed,
	}
}

// PutBalance overwrites a participant's balance.
func (s *Store) PutBalance(b domain.Balance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.balances[b.ParticipantID] = b
}

// PutListing creates or replaces a listing.
func (s *Store) PutListing(l domain.Listing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.Status == "" {
		l.Status = domain.ListingActive
	}
	s.st.listings[l.ID] = l
}

// PutOrder creates or replaces a buy order.
func (s *Store) PutOrder(o domain.BuyOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.Status == "" {
		o.Status = domain.OrderPending
	}
	s.st.orders[o.ID] = o
}

// PutCycle creates or replaces a cycle.
func (s *Store) PutCycle(c domain.AuctionCycle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.cycles[c.ID] = c
}

// PutHolding overwrites a participant's stack of one item.
func (s *Store) PutHolding(h domain.Holding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.holdings[holdingKey{h.OwnerID, h.ItemRef}] = h.Quantity
}

// Embargo blocks buyerID from trading in marketID.
func (s *Store) Embargo(marketID, buyerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.embargoes[marketID+"|"+buyerID] = true
}

// ---------------------------------------------------------------------------
// Inspection helpers.
// ---------------------------------------------------------------------------

// Balance returns a participant's balance.
func (s *Store) Balance(participantID string) domain.Balance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.balances[participantID]
}

// Listing returns a listing by id.
func (s *Store) Listing(id string) (domain.Listing, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.st.listings[id]
	return l, ok
}

// Order returns a buy order by id.
func (s *Store) Order(id string) (domain.BuyOrder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.st.orders[id]
	return o, ok
}

// Cycle returns a cycle by id.
func (s *Store) Cycle(id string) (domain.AuctionCycle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.st.cycles[id]
	return c, ok
}

// Holding returns how many units of itemRef ownerID holds.
func (s *Store) Holding(ownerID, itemRef string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.holdings[holdingKey{ownerID, itemRef}]
}

// Treasury returns a market's treasury gold.
func (s *Store) Treasury(marketID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.markets[marketID].TreasuryGold
}

// PriceOn returns the price history row of an item on a day.
func (s *Store) PriceOn(itemRef, marketID string, day time.Time) (domain.PriceHistory, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.st.prices[priceKey{itemRef, marketID, domain.Day(day)}]
	return h, ok
}

// AllTransactions returns every transaction record in insertion order.
func (s *Store) AllTransactions() []domain.TransactionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.TransactionRecord(nil), s.st.transactions...)
}

// CyclesOf returns a market's cycles ordered by cycle number.
func (s *Store) CyclesOf(marketID string) []domain.AuctionCycle {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuctionCycle
	for _, c := range s.st.cycles {
		if c.MarketID == marketID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CycleNumber < out[j].CycleNumber })
	return out
}

// page applies ListOpts offset and limit to n items.
func page(n int, opts domain.ListOpts) (lo, hi int) {
	lo = opts.Offset
	if lo > n {
		lo = n
	}
	if lo < 0 {
		lo = 0
	}
	hi = n
	if opts.Limit > 0 && lo+opts.Limit < hi {
		hi = lo + opts.Limit
	}
	return lo, hi
}

func inRange(t time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && !t.Before(*opts.Until) {
		return false
	}
	return true
}
