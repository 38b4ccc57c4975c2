package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// IncrementTier applies Step to current prices in [From, To). A nil To is unbounded.
type IncrementTier struct {
	From decimal.Decimal
	To   *decimal.Decimal
	Step decimal.Decimal
}

// BidValidationRules is the stored form of the tier table, keyed by price
// band: "0-100", "100-500", "500+".
type BidValidationRules struct {
	Rules map[string]float64 `json:"rules" mapstructure:"rules"`
}

func DefaultBidValidationRules() *BidValidationRules {
	return &BidValidationRules{
		Rules: map[string]float64{
			"0-100":   5.0,
			"100-500": 10.0,
			"500+":    25.0,
		},
	}
}

// Tiers parses the band keys into tiers sorted by lower bound.
func (r *BidValidationRules) Tiers() ([]IncrementTier, error) {
	tiers := make([]IncrementTier, 0, len(r.Rules))
	for band, step := range r.Rules {
		if step < 0 {
			return nil, fmt.Errorf("rule %q: negative step", band)
		}
		tier := IncrementTier{Step: decimal.NewFromFloat(step)}
		if from, ok := strings.CutSuffix(band, "+"); ok {
			f, err := strconv.ParseFloat(from, 64)
			if err != nil {
				return nil, fmt.Errorf("rule %q: %w", band, err)
			}
			tier.From = decimal.NewFromFloat(f)
		} else {
			lo, hi, found := strings.Cut(band, "-")
			if !found {
				return nil, fmt.Errorf("rule %q: expected lo-hi or lo+", band)
			}
			f, err := strconv.ParseFloat(lo, 64)
			if err != nil {
				return nil, fmt.Errorf("rule %q: %w", band, err)
			}
			t, err := strconv.ParseFloat(hi, 64)
			if err != nil {
				return nil, fmt.Errorf("rule %q: %w", band, err)
			}
			to := decimal.NewFromFloat(t)
			tier.From = decimal.NewFromFloat(f)
			tier.To = &to
		}
		tiers = append(tiers, tier)
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].From.LessThan(tiers[j].From) })
	return tiers, nil
}
