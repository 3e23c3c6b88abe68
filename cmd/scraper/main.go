// Command scraper extracts product media for a single pasted link and
// prints the result as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maltedev/pdd-media-scraper/internal/config"
	"github.com/maltedev/pdd-media-scraper/internal/copywriter"
	"github.com/maltedev/pdd-media-scraper/internal/dynamic"
	"github.com/maltedev/pdd-media-scraper/internal/fusion"
	"github.com/maltedev/pdd-media-scraper/internal/static"
	"github.com/maltedev/pdd-media-scraper/pkg/logger"
)

type output struct {
	Product    any                `json:"product"`
	Copy       *copywriter.Result `json:"copy,omitempty"`
	DurationMs int64              `json:"duration_ms"`
}

func main() {
	var (
		url        = flag.String("url", "", "product URL or pasted share text (required)")
		cookie     = flag.String("cookie", "", "raw Cookie header to send with requests")
		headless   = flag.Bool("headless", true, "run the browser headless")
		staticOnly = flag.Bool("static-only", false, "skip the browser tier entirely")
		withCopy   = flag.Bool("copy", false, "also generate marketing copy")
		outPath    = flag.String("output", "", "write JSON to file instead of stdout")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		os.Exit(1)
	}
	log := logger.New(cfg.Logging.Level, "text")

	if *url == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fetcher := static.NewFetcher(cfg.Fetch.Timeout, log)

	var extractor fusion.DynamicExtractor
	if !*staticOnly {
		extractor = dynamic.NewExtractor(dynamic.Config{
			Headless:           *headless,
			StorageStatePath:   cfg.Session.StorageStatePath,
			ClickProbe:         cfg.Dynamic.ClickProbe,
			NavigationTimeout:  cfg.Dynamic.NavigationTimeout,
			NetworkIdleTimeout: cfg.Dynamic.NetworkIdleTimeout,
			SettleDelay:        cfg.Dynamic.SettleDelay,
		}, log)
	}
	pipeline := fusion.NewPipeline(fetcher, extractor, log)

	start := time.Now()
	info, err := pipeline.ParseProduct(ctx, *url, *cookie, nil)
	if err != nil {
		log.Error("extraction failed", "error", err)
		os.Exit(1)
	}

	result := output{
		Product:    info,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if *withCopy {
		generator := copywriter.NewGenerator(copywriter.Config{
			BaseURL:     cfg.Copywriter.BaseURL,
			APIKey:      cfg.Copywriter.APIKey,
			Model:       cfg.Copywriter.Model,
			Temperature: cfg.Copywriter.Temperature,
			Timeout:     cfg.Copywriter.Timeout,
		}, log)
		copyResult := generator.Generate(ctx, info)
		result.Copy = &copyResult
	}

	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Error("failed to encode result", "error", err)
		os.Exit(1)
	}

	if *outPath != "" {
		if err := os.WriteFile(*outPath, append(encoded, '\n'), 0o644); err != nil {
			log.Error("failed to write output file", "error", err)
			os.Exit(1)
		}
		log.Info("result written", "path", *outPath)
		return
	}
	os.Stdout.Write(append(encoded, '\n'))
}
