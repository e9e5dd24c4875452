package models

import "time"

// OptionType represents the kind of an option contract.
type OptionType string

const (
	OptionCall OptionType = "CALL"
	OptionPut  OptionType = "PUT"
)

// PricingParams holds the inputs of a single pricing call.
type PricingParams struct {
	Spot          float64    `json:"spot"`
	Strike        float64    `json:"strike"`
	TimeToExpiry  float64    `json:"time_to_expiry"` // years
	RiskFreeRate  float64    `json:"risk_free_rate"`
	DividendYield float64    `json:"dividend_yield"`
	Volatility    float64    `json:"volatility"`
	Type          OptionType `json:"type"`
}

// OptionGreeks represents option Greeks.
// Theta is per calendar day, Vega and Rho are per 1 percentage point.
type OptionGreeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
	Rho   float64 `json:"rho"`
	IV    float64 `json:"iv"`
}

// OptionContract is an immutable snapshot of a single option contract.
type OptionContract struct {
	Underlying     string       `json:"underlying"`
	Type           OptionType   `json:"type"`
	Strike         float64      `json:"strike"`
	Expiry         time.Time    `json:"expiry"`
	LTP            float64      `json:"ltp"`
	Bid            float64      `json:"bid"`
	Ask            float64      `json:"ask"`
	OI             int64        `json:"open_interest"`
	Volume         int64        `json:"volume"`
	Greeks         OptionGreeks `json:"greeks"`
	IntrinsicValue float64      `json:"intrinsic_value"`
	TimeValue      float64      `json:"time_value"`
	InTheMoney     bool         `json:"in_the_money"`
	// Synthetic is set when bid/ask/volume/OI were not supplied by a quote source.
	Synthetic bool `json:"synthetic"`
}

// OptionChain represents an option chain.
// Calls and Puts are ordered by expiry, then strike.
type OptionChain struct {
	Symbol    string           `json:"symbol"`
	SpotPrice float64          `json:"spot_price"`
	Calls     []OptionContract `json:"calls"`
	Puts      []OptionContract `json:"puts"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Find returns the contract of the given type at expiry and strike.
func (c *OptionChain) Find(typ OptionType, expiry time.Time, strike float64) (OptionContract, bool) {
	side := c.Calls
	if typ == OptionPut {
		side = c.Puts
	}
	for _, oc := range side {
		if oc.Strike == strike && oc.Expiry.Equal(expiry) {
			return oc, true
		}
	}
	return OptionContract{}, false
}

// StrategyKind identifies a multi-leg option strategy.
type StrategyKind string

const (
	StrategyStraddle       StrategyKind = "straddle"
	StrategyStrangle       StrategyKind = "strangle"
	StrategyButterfly      StrategyKind = "butterfly"
	StrategyBullCallSpread StrategyKind = "bull_call_spread"
	StrategyBearPutSpread  StrategyKind = "bear_put_spread"
	StrategyIronCondor     StrategyKind = "iron_condor"
)

// OptionStrategy represents an option strategy.
// A strategy is never modified after it is built; rebuild it instead.
type OptionStrategy struct {
	Name       string       `json:"name"`
	Kind       StrategyKind `json:"kind"`
	Underlying string       `json:"underlying"`
	Legs       []OptionLeg  `json:"legs"`
	// NetPremium is positive for a net debit and negative for a net credit.
	NetPremium          float64      `json:"net_premium"`
	MaxProfit           float64      `json:"max_profit"`
	MaxProfitUnbounded  bool         `json:"max_profit_unbounded"`
	MaxLoss             float64      `json:"max_loss"`
	Breakevens          []float64    `json:"breakevens"`
	Greeks              OptionGreeks `json:"greeks"`
	ProbabilityOfProfit float64      `json:"probability_of_profit"`
	// RiskRewardRatio is MaxProfit / MaxLoss; zero when profit is unbounded.
	RiskRewardRatio float64 `json:"risk_reward_ratio"`
}

// OptionLeg represents a leg of an option strategy.
type OptionLeg struct {
	Contract OptionContract `json:"contract"`
	Side     OrderSide      `json:"side"`
	Quantity int            `json:"quantity"`
	Ratio    int            `json:"ratio"`
}

// Premium returns the signed cash outlay of the leg (positive when paid).
func (l OptionLeg) Premium() float64 {
	return l.Side.Sign() * l.Contract.LTP * float64(l.Quantity*l.Ratio)
}
