package clearing

import (
	"sort"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// scoreEpsilon absorbs float noise when comparing score gaps to the threshold.
const scoreEpsilon = 1e-9

// TieBreakConfig controls the haggling pool.
type TieBreakConfig struct {
	// Threshold is the widest score gap still considered a tie.
	Threshold float64
	// RollDie is the number of faces on the haggling die (default 20).
	RollDie int
	// AffiliationRollBonus is added to the roll of bonus-profession buyers.
	AffiliationRollBonus int
	// BonusProfessions lists the professions that earn AffiliationRollBonus.
	BonusProfessions []string
}

// Scored is a pending order with its priority score.
type Scored struct {
	Order domain.BuyOrder
	Attrs domain.BuyerAttributes
	Score float64
}

// Ranked is a scored order placed in the final ranking. Roll is non-nil
// exactly when Basis is BasisRoll.
type Ranked struct {
	Scored
	Basis domain.ResolutionBasis
	Roll  *domain.RollDetail
}

// Ranking is the ordered outcome of a tie break; Orders[0] is the winner.
type Ranking struct {
	Orders []Ranked
	Pooled int
}

// Winner returns the first-ranked order.
func (r Ranking) Winner() Ranked {
	return r.Orders[0]
}

// Losers returns every order except the winner, in rank order.
func (r Ranking) Losers() []Ranked {
	return r.Orders[1:]
}

// TieBreaker ranks the scored orders of one listing.
type TieBreaker struct {
	cfg   TieBreakConfig
	bonus professionSet
}

// NewTieBreaker creates a TieBreaker from cfg.
func NewTieBreaker(cfg TieBreakConfig) *TieBreaker {
	if cfg.RollDie <= 0 {
		cfg.RollDie = 20
	}
	return &TieBreaker{cfg: cfg, bonus: newProfessionSet(cfg.BonusProfessions)}
}

// NeedsRoll reports whether the scored orders would enter a haggling pool.
func (t *TieBreaker) NeedsRoll(scored []Scored) bool {
	if len(scored) < 2 {
		return false
	}
	sorted := sortByScore(scored)
	return sorted[0].Score-sorted[1].Score <= t.cfg.Threshold+scoreEpsilon
}

// Resolve ranks scored orders. A single order wins outright with no
// randomness. Otherwise orders are sorted by score; if the top two are within
// the threshold, every order within the threshold of the top score rolls
// RollDie plus its modifiers and the pool is re-ordered by roll total, ties
// going to the earliest placed order. Orders outside the pool keep their
// score order. A nil rng falls back to crypto/rand.
func (t *TieBreaker) Resolve(scored []Scored, rng RandSource) (Ranking, error) {
	if len(scored) == 0 {
		return Ranking{}, domain.ErrNoOrders
	}

	sorted := sortByScore(scored)
	ranked := make([]Ranked, len(sorted))
	for i, s := range sorted {
		ranked[i] = Ranked{Scored: s, Basis: domain.BasisScore}
	}

	if len(ranked) == 1 {
		ranked[0].Basis = domain.BasisAuto
		return Ranking{Orders: ranked}, nil
	}

	top := sorted[0].Score
	if top-sorted[1].Score > t.cfg.Threshold+scoreEpsilon {
		return Ranking{Orders: ranked}, nil
	}

	pool := 0
	for pool < len(ranked) && top-ranked[pool].Score <= t.cfg.Threshold+scoreEpsilon {
		pool++
	}

	if rng == nil {
		rng = defaultRandSource
	}
	for i := 0; i < pool; i++ {
		ranked[i].Basis = domain.BasisRoll
		ranked[i].Roll = t.roll(ranked[i].Attrs, rng)
	}

	sort.SliceStable(ranked[:pool], func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Roll.Total != b.Roll.Total {
			return a.Roll.Total > b.Roll.Total
		}
		return placedBefore(a.Order, b.Order)
	})

	return Ranking{Orders: ranked, Pooled: pool}, nil
}

// RollModifier is the non-price bonus added to a haggling roll. It draws on
// the same attributes as Scorer.NonPriceModifier but in die units: the raw
// charisma modifier plus AffiliationRollBonus, unweighted and unclamped.
func (t *TieBreaker) RollModifier(attrs domain.BuyerAttributes) int {
	mod := attrs.CharismaModifier
	if t.bonus.has(attrs.Profession) {
		mod += t.cfg.AffiliationRollBonus
	}
	return mod
}

func (t *TieBreaker) roll(attrs domain.BuyerAttributes, rng RandSource) *domain.RollDetail {
	die := 1 + rng.Intn(t.cfg.RollDie)
	mod := t.RollModifier(attrs)
	return &domain.RollDetail{Die: die, Modifier: mod, Total: die + mod}
}

// sortByScore returns a copy sorted by exact score descending, then
// placement time, then order id, so the order is total and does not depend
// on the input order. scoreEpsilon applies only to the threshold checks.
func sortByScore(scored []Scored) []Scored {
	out := append([]Scored(nil), scored...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return placedBefore(out[i].Order, out[j].Order)
	})
	return out
}

func placedBefore(a, b domain.BuyOrder) bool {
	if !a.PlacedAt.Equal(b.PlacedAt) {
		return a.PlacedAt.Before(b.PlacedAt)
	}
	return a.ID < b.ID
}
