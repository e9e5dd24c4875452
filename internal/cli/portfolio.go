package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"quantrisk/internal/models"
)

// PortfolioInput is the JSON snapshot read by the analytics and risk
// commands. Positions are owned by the caller; nothing here is persisted.
type PortfolioInput struct {
	PortfolioID  string                           `json:"portfolio_id"`
	Positions    []models.PortfolioPosition       `json:"positions"`
	History      []models.HistoryPoint            `json:"history"`
	Transactions []models.Transaction             `json:"transactions"`
	Benchmark    []models.HistoryPoint            `json:"benchmark"`
	Prices       map[string]float64               `json:"prices"`
	Volatility   map[string]float64               `json:"volatility"`
	PriceHistory map[string][]models.HistoryPoint `json:"price_history"`
	Equity       float64                          `json:"equity"`
}

// readPortfolio decodes a PortfolioInput from path, or from stdin when
// path is "-".
func readPortfolio(path string, stdin io.Reader) (*PortfolioInput, error) {
	var r io.Reader
	if path == "-" {
		r = stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening portfolio file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var in PortfolioInput
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return nil, fmt.Errorf("decoding portfolio: %w", err)
	}
	return &in, nil
}
