// Command acquire runs the news-article corpus acquisition core end to
// end: seed candidate URLs from a GDELT CSV export, then claim, fetch,
// extract, and persist articles until the queue drains or the process
// receives a shutdown signal.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/corpuscore/acquire/internal/browserpool"
	"github.com/corpuscore/acquire/internal/config"
	"github.com/corpuscore/acquire/internal/extractor"
	"github.com/corpuscore/acquire/internal/log"
	"github.com/corpuscore/acquire/internal/orchestrator"
	"github.com/corpuscore/acquire/internal/proxypool"
	"github.com/corpuscore/acquire/internal/ratelimiter"
	"github.com/corpuscore/acquire/internal/source"
	"github.com/corpuscore/acquire/internal/stats"
	"github.com/corpuscore/acquire/internal/store"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "acquire",
		Short: "Acquire and extract news articles from an allowlisted set of publishers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v)
		},
	}

	config.BindFlags(cmd.Flags(), v)
	return cmd
}

func run(v *viper.Viper) error {
	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	var esCfg *log.ElasticsearchConfig
	if len(cfg.ElasticsearchURLs) > 0 {
		esCfg = &log.ElasticsearchConfig{
			Addresses: cfg.ElasticsearchURLs,
			Username:  cfg.ElasticsearchUsername,
			Password:  cfg.ElasticsearchPassword,
			IndexName: cfg.ElasticsearchIndex,
		}
	}
	if err := log.Start(log.Config{
		LogDir:        cfg.LogDir,
		FilePrefix:    "acquire",
		StdoutEnabled: !cfg.NoStdoutLog,
		Level:         logrus.InfoLevel,
		Elasticsearch: esCfg,
	}); err != nil {
		return fmt.Errorf("starting logger: %w", err)
	}
	defer log.Stop()

	if err := stats.Init(); err != nil {
		return fmt.Errorf("starting stats: %w", err)
	}

	logger := log.NewFieldedLogger(&log.Fields{"component": "main"})

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}

	ctx := context.Background()
	resetCount, err := st.ResetInFlight(ctx)
	if err != nil {
		return fmt.Errorf("resetting in-flight urls: %w", err)
	}
	if resetCount > 0 {
		logger.Info("reset abandoned in-flight urls from a prior run", "count", resetCount)
	}
	st.Start()
	defer st.Stop()

	records, err := source.NewCSVLoader().Load(cfg.InputPath)
	if err != nil {
		return fmt.Errorf("loading candidate URLs: %w", err)
	}
	if err := st.Seed(ctx, records); err != nil {
		return fmt.Errorf("seeding candidate urls: %w", err)
	}
	logger.Info("seeded candidate urls", "count", len(records))

	var proxies *proxypool.Pool
	if cfg.ProxyListPath != "" {
		proxies = proxypool.New(st, cfg.ProxyEchoURL)
		if err := proxies.Load(ctx, cfg.ProxyListPath); err != nil {
			return fmt.Errorf("loading proxy list: %w", err)
		}
		logger.Info("loaded proxy pool", "active", proxies.ActiveCount())
	}

	var browserRenderer extractor.BrowserRenderer
	if cfg.BrowserPoolSize > 0 {
		browsers, err := browserpool.New(cfg.BrowserPoolSize)
		if err != nil {
			return fmt.Errorf("starting browser pool: %w", err)
		}
		defer browsers.Stop()
		browserRenderer = browsers
	}

	cascade := extractor.New(cfg, browserRenderer)
	limiter := ratelimiter.New(cfg)
	orch := orchestrator.New(cfg, st, limiter, proxies, cascade)

	runCtx, cancel := orchestrator.WaitForSignal(ctx, cfg.GraceShutdownSeconds)
	defer cancel()

	start := time.Now()
	if err := orch.Run(runCtx); err != nil {
		return fmt.Errorf("orchestrator run: %w", err)
	}

	snap, err := orch.Summary(ctx, start)
	if err != nil {
		return fmt.Errorf("building summary: %w", err)
	}
	stats.Summary(os.Stdout, snap, time.Since(start))

	return nil
}
