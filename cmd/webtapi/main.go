package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/hyperifyio/webtapi/internal/app"
	"github.com/hyperifyio/webtapi/internal/fetch"
	"github.com/hyperifyio/webtapi/internal/planner"
	"github.com/hyperifyio/webtapi/internal/server"
	"github.com/hyperifyio/webtapi/internal/store"
	"github.com/hyperifyio/webtapi/internal/urlcheck"
)

const version = "1.0.0"

func main() {
	// Logging setup
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	var (
		listen        string
		dbPath        string
		freshness     time.Duration
		userAgent     string
		fetchTimeout  time.Duration
		maxAttempts   int
		ratePerSec    float64
		llmBaseURL    string
		llmModel      string
		llmKey        string
		probeCommand  string
		probeWordlist string
		configPath    string
		verbose       bool
	)

	flag.StringVar(&listen, "listen", envOr("WEBTAPI_LISTEN", ":8080"), "HTTP listen address")
	flag.StringVar(&dbPath, "db", envOr("WEBTAPI_DB", "webtapi.db"), "Path to the SQLite database file")
	flag.DurationVar(&freshness, "cache.freshness", store.DefaultFreshness, "How long stored results stay servable (e.g. 24h)")
	flag.StringVar(&userAgent, "fetch.ua", fetch.DefaultUserAgent, "User-Agent presented to target sites")
	flag.DurationVar(&fetchTimeout, "fetch.timeout", 20*time.Second, "Per-request fetch timeout")
	flag.IntVar(&maxAttempts, "fetch.attempts", 3, "Fetch attempts including the first")
	flag.Float64Var(&ratePerSec, "fetch.rate", 0, "Outbound requests per second across all conversions (0 disables pacing)")
	flag.StringVar(&llmBaseURL, "llm.base", os.Getenv("LLM_BASE_URL"), "OpenAI-compatible base URL for the plan resolver")
	flag.StringVar(&llmModel, "llm.model", os.Getenv("LLM_MODEL"), "Model name for the plan resolver (empty disables it)")
	flag.StringVar(&llmKey, "llm.key", os.Getenv("LLM_API_KEY"), "API key for the plan resolver endpoint")
	flag.StringVar(&probeCommand, "probe.cmd", os.Getenv("WEBTAPI_PROBE_CMD"), "Optional directory-brute-force tool for URL validation (empty disables)")
	flag.StringVar(&probeWordlist, "probe.wordlist", envOr("WEBTAPI_PROBE_WORDLIST", "common.txt"), "Wordlist passed to the probe tool")
	flag.StringVar(&configPath, "config", os.Getenv("WEBTAPI_CONFIG"), "Optional YAML config file; flags take precedence")
	flag.BoolVar(&verbose, "v", false, "Verbose logging")
	flag.Parse()

	// Track explicitly set flags so the config file only fills the gaps.
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if configPath != "" {
		fc, err := app.LoadConfigFile(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("load config file")
		}
		apply := func(name string, fn func()) {
			if !set[name] {
				fn()
			}
		}
		if fc.Listen != "" {
			apply("listen", func() { listen = fc.Listen })
		}
		if fc.DB != "" {
			apply("db", func() { dbPath = fc.DB })
		}
		if fc.Cache.Freshness > 0 {
			apply("cache.freshness", func() { freshness = time.Duration(fc.Cache.Freshness) })
		}
		if fc.Fetch.UserAgent != "" {
			apply("fetch.ua", func() { userAgent = fc.Fetch.UserAgent })
		}
		if fc.Fetch.Timeout > 0 {
			apply("fetch.timeout", func() { fetchTimeout = time.Duration(fc.Fetch.Timeout) })
		}
		if fc.Fetch.Attempts > 0 {
			apply("fetch.attempts", func() { maxAttempts = fc.Fetch.Attempts })
		}
		if fc.Fetch.RatePerSec > 0 {
			apply("fetch.rate", func() { ratePerSec = fc.Fetch.RatePerSec })
		}
		if fc.LLM.BaseURL != "" {
			apply("llm.base", func() { llmBaseURL = fc.LLM.BaseURL })
		}
		if fc.LLM.Model != "" {
			apply("llm.model", func() { llmModel = fc.LLM.Model })
		}
		if fc.LLM.APIKey != "" {
			apply("llm.key", func() { llmKey = fc.LLM.APIKey })
		}
		if fc.Probe.Command != "" {
			apply("probe.cmd", func() { probeCommand = fc.Probe.Command })
		}
		if fc.Probe.Wordlist != "" {
			apply("probe.wordlist", func() { probeWordlist = fc.Probe.Wordlist })
		}
		if fc.Verbose {
			apply("v", func() { verbose = true })
		}
	}

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	st, err := store.Open(dbPath, freshness)
	if err != nil {
		log.Fatal().Err(err).Str("db", dbPath).Msg("open store")
	}
	defer st.Close()

	fetcher := &fetch.Client{
		UserAgent:   userAgent,
		MaxAttempts: maxAttempts,
		Timeout:     fetchTimeout,
	}
	if ratePerSec > 0 {
		fetcher.Limiter = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	}

	var resolver planner.Resolver = planner.StaticResolver{}
	if llmModel != "" {
		cfg := openai.DefaultConfig(llmKey)
		if llmBaseURL != "" {
			cfg.BaseURL = llmBaseURL
		}
		resolver = &planner.LLMResolver{Client: openai.NewClientWithConfig(cfg), Model: llmModel}
		log.Info().Str("model", llmModel).Msg("plan resolver enabled")
	}

	a := app.New(fetcher, resolver, st)
	if probeCommand != "" {
		a.Guard.Prober = &urlcheck.CommandProber{
			Name:     probeCommand,
			Wordlist: probeWordlist,
			Timeout:  10 * time.Second,
		}
		log.Info().Str("tool", probeCommand).Msg("url probe enabled")
	}

	srv := &http.Server{
		Addr:              listen,
		Handler:           (&server.Server{App: a, Version: version}).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("listen", listen).Str("db", dbPath).Dur("freshness", freshness).Msg("webtapi listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
