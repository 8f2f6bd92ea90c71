package clearing

import (
	"math"
	"strings"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// ScoringConfig weights the inputs of a priority score.
type ScoringConfig struct {
	// PriceWeight multiplies bid/ask so willingness to pay dominates.
	PriceWeight float64
	// AttributeWeight converts one point of charisma modifier into score.
	AttributeWeight float64
	// MaxAttributeBonus caps the absolute attribute contribution.
	MaxAttributeBonus float64
	// AffiliationBonus is added for buyers in a bonus profession.
	AffiliationBonus float64
	// BonusProfessions lists the professions that earn AffiliationBonus.
	BonusProfessions []string
}

// Scorer computes priority scores. It is pure and safe for concurrent use.
type Scorer struct {
	cfg   ScoringConfig
	bonus professionSet
}

// NewScorer creates a Scorer from cfg.
func NewScorer(cfg ScoringConfig) *Scorer {
	return &Scorer{cfg: cfg, bonus: newProfessionSet(cfg.BonusProfessions)}
}

// Score returns (bid/ask)*PriceWeight + NonPriceModifier(attrs). The result
// is monotonic in the bid price and the non-price part is bounded, so status
// can never fully override price.
func (s *Scorer) Score(order domain.BuyOrder, listing domain.Listing, attrs domain.BuyerAttributes) float64 {
	ask := float64(listing.AskPrice)
	if ask <= 0 {
		ask = 1
	}
	return float64(order.BidPrice)/ask*s.cfg.PriceWeight + s.NonPriceModifier(attrs)
}

// NonPriceModifier is the bounded status contribution to a score.
func (s *Scorer) NonPriceModifier(attrs domain.BuyerAttributes) float64 {
	mod := float64(attrs.CharismaModifier) * s.cfg.AttributeWeight
	if limit := s.cfg.MaxAttributeBonus; limit > 0 {
		mod = math.Max(-limit, math.Min(limit, mod))
	}
	if s.bonus.has(attrs.Profession) {
		mod += s.cfg.AffiliationBonus
	}
	return mod
}

// MaxNonPrice is the largest absolute non-price contribution a score can get.
func (s *Scorer) MaxNonPrice() float64 {
	return s.cfg.MaxAttributeBonus + math.Abs(s.cfg.AffiliationBonus)
}

type professionSet map[string]bool

func newProfessionSet(names []string) professionSet {
	set := make(professionSet, len(names))
	for _, n := range names {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			set[n] = true
		}
	}
	return set
}

func (p professionSet) has(profession string) bool {
	return p[strings.ToLower(strings.TrimSpace(profession))]
}
