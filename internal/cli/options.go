package cli

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"quantrisk/internal/models"
	"quantrisk/internal/options"
	"quantrisk/internal/pricing"
)

const dateLayout = "2006-01-02"

// parseExpiries turns YYYY-MM-DD dates and day offsets into expiry times.
func parseExpiries(dates []string, days []int, now time.Time) ([]time.Time, error) {
	var out []time.Time
	for _, d := range dates {
		t, err := time.Parse(dateLayout, d)
		if err != nil {
			return nil, fmt.Errorf("invalid expiry %q: want YYYY-MM-DD", d)
		}
		// Expire at the close of the day.
		out = append(out, t.Add(15*time.Hour+30*time.Minute))
	}
	for _, n := range days {
		if n < 0 {
			return nil, fmt.Errorf("invalid expiry offset %d days", n)
		}
		out = append(out, now.Add(time.Duration(n)*24*time.Hour))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one --expiry or --days is required")
	}
	return out, nil
}

// strikeGrid returns count strikes either side of the ATM strike spaced by step.
func strikeGrid(spot, step float64, count int) []float64 {
	if step <= 0 || count <= 0 {
		return nil
	}
	atm := math.Round(spot/step) * step
	strikes := make([]float64, 0, 2*count+1)
	for i := -count; i <= count; i++ {
		k := atm + float64(i)*step
		if k > 0 {
			strikes = append(strikes, k)
		}
	}
	return strikes
}

func newChainCmd(app *App) *cobra.Command {
	var (
		symbol  string
		spot    float64
		vol     float64
		dates   []string
		days    []int
		strikes []float64
		step    float64
		count   int
	)

	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Build a synthetic option chain",
		Example: `  quantrisk chain --symbol NIFTY --spot 22150 --vol 0.14 --days 7 --step 50 --count 5
  quantrisk chain --symbol INFY --spot 1500 --expiry 2026-12-31 --strikes 1400,1500,1600`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			now := time.Now()
			expiries, err := parseExpiries(dates, days, now)
			if err != nil {
				return err
			}
			if len(strikes) == 0 {
				strikes = strikeGrid(spot, step, count)
			}
			if len(strikes) == 0 {
				return fmt.Errorf("provide --strikes or a positive --step and --count")
			}

			pricer := pricing.NewPricer(app.Config.Pricing)
			builder := options.NewBuilder(pricer, app.Config.Pricing)
			chain, err := builder.BuildChain(options.ChainRequest{
				Symbol:        strings.ToUpper(symbol),
				Spot:          spot,
				Expiries:      expiries,
				Strikes:       strikes,
				Volatility:    vol,
				RiskFreeRate:  app.Config.Pricing.RiskFreeRate,
				DividendYield: app.Config.Pricing.DividendYield,
			})
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(chain)
			}
			renderChain(output, chain)
			return nil
		},
	}

	cmd.Flags().StringVarP(&symbol, "symbol", "s", "", "underlying symbol")
	cmd.Flags().Float64Var(&spot, "spot", 0, "underlying price")
	cmd.Flags().Float64Var(&vol, "vol", 0.2, "annual volatility applied to every strike")
	cmd.Flags().StringSliceVar(&dates, "expiry", nil, "expiry dates (YYYY-MM-DD)")
	cmd.Flags().IntSliceVar(&days, "days", nil, "expiries as calendar days from now")
	cmd.Flags().Float64SliceVar(&strikes, "strikes", nil, "explicit strikes")
	cmd.Flags().Float64Var(&step, "step", 0, "strike spacing around ATM")
	cmd.Flags().IntVar(&count, "count", 5, "strikes either side of ATM")
	_ = cmd.MarkFlagRequired("symbol")
	_ = cmd.MarkFlagRequired("spot")

	return cmd
}

func renderChain(output *Output, chain *models.OptionChain) {
	output.Bold("%s option chain  spot %s", chain.Symbol, FormatPrice(chain.SpotPrice))

	// Calls and puts share the expiry x strike grid and ordering.
	var expiry time.Time
	var table *Table
	for i, c := range chain.Calls {
		p := chain.Puts[i]
		if table == nil || !c.Expiry.Equal(expiry) {
			if table != nil {
				table.Render()
			}
			expiry = c.Expiry
			output.Println()
			output.Info("Expiry %s", expiry.Format(dateLayout))
			table = NewTable(output, "CE LTP", "CE Delta", "CE IV", "Strike", "PE LTP", "PE Delta", "PE IV")
		}
		strike := FormatPrice(c.Strike)
		if c.InTheMoney {
			strike = output.Yellow(strike)
		}
		table.AddRow(
			FormatPrice(c.LTP), fmt.Sprintf("%.3f", c.Greeks.Delta), FormatIV(c.Greeks.IV),
			strike,
			FormatPrice(p.LTP), fmt.Sprintf("%.3f", p.Greeks.Delta), FormatIV(p.Greeks.IV),
		)
	}
	if table != nil {
		table.Render()
	}
	if len(chain.Calls) > 0 && chain.Calls[0].Synthetic {
		output.Println()
		output.Dim("Bid/ask are synthetic; volume and open interest unavailable")
	}
}

func newStrategyCmd(app *App) *cobra.Command {
	var (
		symbol  string
		spot    float64
		vol     float64
		strikes []float64
		date    string
		days    int
		qty     int
		points  int
	)

	kinds := make([]string, 0)
	for _, k := range options.Kinds() {
		kinds = append(kinds, string(k))
	}

	cmd := &cobra.Command{
		Use:   "strategy <kind>",
		Short: "Build a multi-leg option strategy",
		Long:  "Build a multi-leg option strategy.\n\nKinds: " + strings.Join(kinds, ", "),
		Example: `  quantrisk strategy straddle --symbol NIFTY --spot 22000 --strikes 22000 --days 30 --vol 0.15
  quantrisk strategy butterfly --symbol INFY --spot 1500 --strikes 1450,1500,1550 --days 20`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: kinds,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			var dates []string
			var offsets []int
			if date != "" {
				dates = []string{date}
			} else {
				offsets = []int{days}
			}
			expiries, err := parseExpiries(dates, offsets, time.Now())
			if err != nil {
				return err
			}

			builder := options.NewBuilder(pricing.NewPricer(app.Config.Pricing), app.Config.Pricing)
			strategy, err := builder.BuildStrategy(options.StrategyRequest{
				Kind:       models.StrategyKind(strings.ToLower(args[0])),
				Symbol:     strings.ToUpper(symbol),
				Strikes:    strikes,
				Expiry:     expiries[0],
				Spot:       spot,
				Volatility: vol,
				Quantity:   qty,
			})
			if err != nil {
				return err
			}

			payoff := payoffTable(strategy, spot, points)
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"strategy": strategy,
					"payoff":   payoff,
				})
			}
			renderStrategy(output, strategy, payoff)
			return nil
		},
	}

	cmd.Flags().StringVarP(&symbol, "symbol", "s", "", "underlying symbol")
	cmd.Flags().Float64Var(&spot, "spot", 0, "underlying price")
	cmd.Flags().Float64Var(&vol, "vol", 0.2, "annual volatility")
	cmd.Flags().Float64SliceVar(&strikes, "strikes", nil, "strikes (count depends on kind)")
	cmd.Flags().StringVar(&date, "expiry", "", "expiry date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&days, "days", 30, "expiry as calendar days from now")
	cmd.Flags().IntVarP(&qty, "qty", "q", 1, "strategy units")
	cmd.Flags().IntVar(&points, "points", 9, "payoff table rows")
	_ = cmd.MarkFlagRequired("symbol")
	_ = cmd.MarkFlagRequired("spot")
	_ = cmd.MarkFlagRequired("strikes")

	return cmd
}

// PayoffPoint is the strategy's expiry profit at one underlying price.
type PayoffPoint struct {
	Price  float64 `json:"price"`
	Profit float64 `json:"profit"`
}

// payoffTable samples the expiry payoff over the strikes and breakevens,
// padded by 10% on each side.
func payoffTable(s *models.OptionStrategy, spot float64, points int) []PayoffPoint {
	if points < 2 {
		points = 2
	}
	lo, hi := spot, spot
	for _, leg := range s.Legs {
		lo = math.Min(lo, leg.Contract.Strike)
		hi = math.Max(hi, leg.Contract.Strike)
	}
	for _, be := range s.Breakevens {
		lo = math.Min(lo, be)
		hi = math.Max(hi, be)
	}
	lo *= 0.9
	hi *= 1.1

	out := make([]PayoffPoint, 0, points)
	step := (hi - lo) / float64(points-1)
	for i := 0; i < points; i++ {
		price := lo + float64(i)*step
		out = append(out, PayoffPoint{Price: price, Profit: options.Payoff(s, price)})
	}
	return out
}

func renderStrategy(output *Output, s *models.OptionStrategy, payoff []PayoffPoint) {
	output.Bold(s.Name)
	output.Println()

	legs := NewTable(output, "Side", "Type", "Strike", "Qty", "LTP", "Delta", "IV")
	for _, leg := range s.Legs {
		side := output.Green(string(leg.Side))
		if leg.Side == models.OrderSideSell {
			side = output.Red(string(leg.Side))
		}
		legs.AddRow(
			side, string(leg.Contract.Type), FormatPrice(leg.Contract.Strike),
			fmt.Sprintf("%d", leg.Quantity*leg.Ratio), FormatPrice(leg.Contract.LTP),
			fmt.Sprintf("%.3f", leg.Contract.Greeks.Delta), FormatIV(leg.Contract.Greeks.IV),
		)
	}
	legs.Render()
	output.Println()

	premium := "debit"
	if s.NetPremium < 0 {
		premium = "credit"
	}
	be := make([]string, 0, len(s.Breakevens))
	for _, b := range s.Breakevens {
		be = append(be, FormatPrice(b))
	}
	output.Printf("  Net premium:   %s (%s)\n", FormatAmount(math.Abs(s.NetPremium)), premium)
	output.Printf("  Max profit:    %s\n", FormatUnbounded(s.MaxProfit, s.MaxProfitUnbounded))
	output.Printf("  Max loss:      %s\n", FormatAmount(s.MaxLoss))
	output.Printf("  Breakevens:    %s\n", strings.Join(be, ", "))
	output.Printf("  Risk/reward:   %s\n", FormatRiskReward(s.RiskRewardRatio))
	output.Printf("  P(profit):     %s\n", FormatFraction(s.ProbabilityOfProfit))
	output.Printf("  Greeks:        %s\n", FormatGreeks(s.Greeks.Delta, s.Greeks.Gamma, s.Greeks.Theta, s.Greeks.Vega))
	output.Println()

	table := NewTable(output, "At expiry", "P&L")
	for _, p := range payoff {
		table.AddRow(FormatPrice(p.Price), output.PnL(p.Profit))
	}
	table.Render()
}
