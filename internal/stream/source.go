package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"quantrisk/internal/models"
)

// Publisher accepts ticks.
type Publisher interface {
	PublishContext(ctx context.Context, tick models.Tick) error
}

// PumpResult summarizes a Pump run.
type PumpResult struct {
	Published int
	Skipped   int
}

// Pump reads newline-delimited JSON ticks from r and publishes them until
// EOF or ctx is done. Blank lines are ignored; malformed lines and ticks
// the publisher rejects are logged and skipped.
func Pump(ctx context.Context, r io.Reader, p Publisher, logger zerolog.Logger) (PumpResult, error) {
	var res PumpResult
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var tick models.Tick
		if err := json.Unmarshal([]byte(text), &tick); err != nil {
			res.Skipped++
			logger.Warn().Err(err).Int("line", line).Msg("Skipping malformed tick")
			continue
		}
		if err := p.PublishContext(ctx, tick); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Skipped++
			logger.Warn().Err(err).Int("line", line).Msg("Skipping tick")
			continue
		}
		res.Published++
	}
	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("reading ticks: %w", err)
	}
	return res, nil
}
