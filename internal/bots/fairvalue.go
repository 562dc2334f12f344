package bots

import (
	"math"

	"github.com/shopspring/decimal"

	"sportfolio/internal/store"
)

// DefaultFairValue is used for players with no stat history: $10.00.
const DefaultFairValue = 1000

// Valuation is a player's modelled price and liquidity tier.
type Valuation struct {
	PlayerID  int64
	FairValue int64 // cents
	Tier      int   // 1 (best) .. 5
}

// fairValueFromStats prices a player from recent production: average
// fantasy points over the last ten games, half a dollar per point, scaled
// by short-term momentum.
func fairValueFromStats(recent []decimal.Decimal) int64 {
	if len(recent) == 0 {
		return DefaultFairValue
	}

	avg := meanDecimal(recent)

	// Momentum compares the last three games to the earlier ones and is
	// clamped so one hot week cannot triple a price.
	momentum := decimal.NewFromInt(1)
	if len(recent) > 3 {
		last3 := meanDecimal(recent[:3])
		prior := meanDecimal(recent[3:])
		if prior.IsPositive() {
			momentum = last3.DivRound(prior, 4)
			momentum = clampDecimal(momentum, decimal.NewFromFloat(0.7), decimal.NewFromFloat(1.3))
		}
	}

	cents := avg.
		Mul(decimal.NewFromFloat(0.5)).
		Mul(momentum).
		Mul(decimal.NewFromInt(100)).
		IntPart()
	if cents <= 0 {
		return DefaultFairValue
	}
	return cents
}

func meanDecimal(values []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.DivRound(decimal.NewFromInt(int64(len(values))), 4)
}

func clampDecimal(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

// Valuations prices every given player and assigns 1..5 tiers from the
// z-score of each fair value against the population.
func Valuations(st *store.Store, players []*store.Player) (map[int64]*Valuation, error) {
	ids := make([]int64, 0, len(players))
	for _, p := range players {
		ids = append(ids, p.ID)
	}
	recent, err := st.BatchRecentFantasyPoints(ids, 10)
	if err != nil {
		return nil, err
	}

	result := make(map[int64]*Valuation, len(players))
	values := make([]float64, 0, len(players))
	for _, p := range players {
		v := &Valuation{PlayerID: p.ID, FairValue: fairValueFromStats(recent[p.ID])}
		result[p.ID] = v
		values = append(values, float64(v.FairValue))
	}

	mean, stddev := meanStddev(values)
	for _, v := range result {
		v.Tier = tierFromZScore(float64(v.FairValue), mean, stddev)
	}
	return result, nil
}

func meanStddev(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(variance / float64(len(values)))
}

// tierFromZScore buckets a fair value into tiers 1..5. Higher value means
// lower tier number.
func tierFromZScore(value, mean, stddev float64) int {
	if stddev == 0 {
		return 3
	}
	z := (value - mean) / stddev
	switch {
	case z >= 1.5:
		return 1
	case z >= 0.5:
		return 2
	case z >= -0.5:
		return 3
	case z >= -1.5:
		return 4
	default:
		return 5
	}
}
