package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"quantrisk/internal/models"
	"quantrisk/internal/pricing"
)

// pricingFlags are the inputs shared by price, greeks and iv.
type pricingFlags struct {
	spot     float64
	strike   float64
	years    float64
	days     float64
	rate     float64
	dividend float64
	vol      float64
	typ      string
}

func (f *pricingFlags) register(cmd *cobra.Command, app *App, withVol bool) {
	cmd.Flags().Float64Var(&f.spot, "spot", 0, "underlying price")
	cmd.Flags().Float64Var(&f.strike, "strike", 0, "strike price")
	cmd.Flags().Float64Var(&f.years, "years", 0, "time to expiry in years")
	cmd.Flags().Float64Var(&f.days, "days", 0, "time to expiry in calendar days (overrides --years)")
	cmd.Flags().Float64Var(&f.rate, "rate", app.Config.Pricing.RiskFreeRate, "annual risk-free rate")
	cmd.Flags().Float64Var(&f.dividend, "dividend", app.Config.Pricing.DividendYield, "annual dividend yield")
	cmd.Flags().StringVarP(&f.typ, "type", "t", "call", "option type: call, put")
	if withVol {
		cmd.Flags().Float64Var(&f.vol, "vol", 0.2, "annual volatility")
	}
	_ = cmd.MarkFlagRequired("spot")
	_ = cmd.MarkFlagRequired("strike")
}

// params assembles pricing inputs; rates not given on the command line come
// from the loaded configuration.
func (f *pricingFlags) params(cmd *cobra.Command, app *App) (models.PricingParams, error) {
	if !cmd.Flags().Changed("rate") {
		f.rate = app.Config.Pricing.RiskFreeRate
	}
	if !cmd.Flags().Changed("dividend") {
		f.dividend = app.Config.Pricing.DividendYield
	}
	typ, err := parseOptionType(f.typ)
	if err != nil {
		return models.PricingParams{}, err
	}
	years := f.years
	if f.days > 0 {
		years = f.days / 365
	}
	p := models.PricingParams{
		Spot:          f.spot,
		Strike:        f.strike,
		TimeToExpiry:  years,
		RiskFreeRate:  f.rate,
		DividendYield: f.dividend,
		Volatility:    f.vol,
		Type:          typ,
	}
	return p, pricing.Validate(p)
}

func parseOptionType(s string) (models.OptionType, error) {
	switch strings.ToLower(s) {
	case "call", "c", "ce":
		return models.OptionCall, nil
	case "put", "p", "pe":
		return models.OptionPut, nil
	}
	return "", fmt.Errorf("invalid option type %q: must be call or put", s)
}

func newPriceCmd(app *App) *cobra.Command {
	var f pricingFlags
	cmd := &cobra.Command{
		Use:   "price",
		Short: "Price a European option",
		Example: `  quantrisk price --spot 100 --strike 100 --years 1 --vol 0.2
  quantrisk price --spot 22000 --strike 22500 --days 30 --vol 0.14 --type put`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			params, err := f.params(cmd, app)
			if err != nil {
				return err
			}
			pricer := pricing.NewPricer(app.Config.Pricing)
			price := pricer.Price(params)
			intrinsic := pricing.IntrinsicValue(params.Spot, params.Strike, params.Type)

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"params":     params,
					"price":      price,
					"intrinsic":  intrinsic,
					"time_value": price - intrinsic,
				})
			}

			output.Bold("%s %s @ %s", params.Type, FormatPrice(params.Strike), FormatPrice(params.Spot))
			output.Printf("  Price:      %s\n", FormatPrice(price))
			output.Printf("  Intrinsic:  %s\n", FormatPrice(intrinsic))
			output.Printf("  Time value: %s\n", FormatPrice(price-intrinsic))
			return nil
		},
	}
	f.register(cmd, app, true)
	return cmd
}

func newGreeksCmd(app *App) *cobra.Command {
	var f pricingFlags
	cmd := &cobra.Command{
		Use:   "greeks",
		Short: "Compute option Greeks",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			params, err := f.params(cmd, app)
			if err != nil {
				return err
			}
			g := pricing.NewPricer(app.Config.Pricing).Greeks(params)

			if output.IsJSON() {
				return output.JSON(g)
			}

			table := NewTable(output, "Greek", "Value")
			table.AddRow("Delta", fmt.Sprintf("%.4f", g.Delta))
			table.AddRow("Gamma", fmt.Sprintf("%.6f", g.Gamma))
			table.AddRow("Theta /day", fmt.Sprintf("%.4f", g.Theta))
			table.AddRow("Vega /1%", fmt.Sprintf("%.4f", g.Vega))
			table.AddRow("Rho /1%", fmt.Sprintf("%.4f", g.Rho))
			table.AddRow("IV", FormatIV(g.IV))
			table.Render()
			return nil
		},
	}
	f.register(cmd, app, true)
	return cmd
}

func newIVCmd(app *App) *cobra.Command {
	var f pricingFlags
	var market float64
	cmd := &cobra.Command{
		Use:   "iv",
		Short: "Solve implied volatility from a market price",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			params, err := f.params(cmd, app)
			if err != nil {
				return err
			}
			if market <= 0 {
				return fmt.Errorf("--market must be positive")
			}
			res := pricing.NewPricer(app.Config.Pricing).ImpliedVolatility(market, params)
			app.Metrics.ObserveIV(res.Iterations)
			if !res.Converged {
				app.Logger.Debug().
					Int("iterations", res.Iterations).
					Float64("residual", res.Residual).
					Msg("Implied volatility did not converge")
			}

			if output.IsJSON() {
				return output.JSON(res)
			}

			output.Printf("Implied volatility: %s\n", output.BoldText(FormatIV(res.Volatility)))
			output.Dim("%d iterations, residual %.2e", res.Iterations, res.Residual)
			if !res.Converged {
				output.Warning("Solver did not converge; value is the best estimate")
			}
			return nil
		},
	}
	f.register(cmd, app, false)
	cmd.Flags().Float64Var(&market, "market", 0, "observed option price")
	_ = cmd.MarkFlagRequired("market")
	return cmd
}
