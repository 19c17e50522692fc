package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Newcityvip/bdt-fraud-radar/configs"
	"github.com/Newcityvip/bdt-fraud-radar/internal/export"
	"github.com/Newcityvip/bdt-fraud-radar/internal/models"
	"github.com/Newcityvip/bdt-fraud-radar/internal/pager"
	"github.com/Newcityvip/bdt-fraud-radar/internal/source"
)

// radar pulls every page of the alert feed, applies cosmetic filters
// locally and writes the result as CSV.
func main() {
	_ = godotenv.Load()

	cfg := configs.Load()

	var (
		baseURL  = flag.String("url", cfg.Source.BaseURL, "alert feed base URL")
		token    = flag.String("token", os.Getenv("RADAR_TOKEN"), "bearer token for the feed")
		days     = flag.Int("days", models.DefaultDays, "lookback window in days")
		minScore = flag.Int("min-score", models.DefaultMinScore, "minimum risk score")
		limit    = flag.Int("limit", cfg.Source.PageLimit, "rows per page")
		search   = flag.String("search", "", "username substring filter (local only)")
		level    = flag.String("level", "", "risk level filter: LOW, MEDIUM or HIGH (local only)")
		outPath  = flag.String("out", "", "output file (default fraud_alerts_<date>.csv)")
		pretty   = flag.Bool("pretty", false, "human-readable log output")
	)
	flag.Parse()

	setupLogging(*pretty)

	client := source.NewClient(configs.SourceConfig{
		BaseURL:      *baseURL,
		PageLimit:    *limit,
		FetchTimeout: cfg.Source.FetchTimeout,
	})
	if *token != "" {
		client.SetAuthToken(*token)
	}

	controller := pager.NewController(client)

	ctx := context.Background()
	params := models.QueryParams{
		Days:     *days,
		MinScore: *minScore,
		Limit:    *limit,
	}.Normalized()

	log.Info().
		Str("url", *baseURL).
		Int("days", params.Days).
		Int("min_score", params.MinScore).
		Msg("Fetching alert feed")

	if err := controller.StartFresh(ctx, params); err != nil {
		log.Fatal().Err(err).Msg("Initial fetch failed")
	}
	if err := controller.LoadAll(ctx); err != nil {
		// Partial data is still worth exporting; say so and keep going.
		log.Warn().
			Err(err).
			Int("rows", len(controller.Rows())).
			Msg("Feed ended early, exporting what was merged")
	}

	rows := controller.FilteredView(pager.Filter{
		UsernameSearch: *search,
		Level:          *level,
	})

	path := *outPath
	if path == "" {
		path = export.FileName(time.Now())
	}

	f, err := os.Create(path)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("Failed to create output file")
	}
	defer f.Close()

	if err := export.WriteCSV(f, rows, export.DefaultColumns); err != nil {
		os.Remove(path)
		log.Fatal().Err(err).Msg("Export failed")
	}

	log.Info().
		Str("path", path).
		Int("rows", len(rows)).
		Int("total_matches", controller.Total()).
		Msg("Export complete")
}

func setupLogging(pretty bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}
