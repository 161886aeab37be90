// Command parley is the main entry point for the Parley interview server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"golang.org/x/sync/errgroup"

	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/health"
	"github.com/parleyhq/parley/internal/httpapi"
	"github.com/parleyhq/parley/internal/interview"
	"github.com/parleyhq/parley/internal/observe"
	"github.com/parleyhq/parley/internal/report"
	"github.com/parleyhq/parley/internal/resilience"
	"github.com/parleyhq/parley/pkg/provider/llm"
	"github.com/parleyhq/parley/pkg/provider/llm/anyllm"
	"github.com/parleyhq/parley/pkg/provider/llm/gemini"
	llmopenai "github.com/parleyhq/parley/pkg/provider/llm/openai"
	"github.com/parleyhq/parley/pkg/provider/stt"
	"github.com/parleyhq/parley/pkg/provider/stt/whisper"
	"github.com/parleyhq/parley/pkg/provider/tts"
	"github.com/parleyhq/parley/pkg/provider/tts/coqui"
	"github.com/parleyhq/parley/pkg/provider/tts/elevenlabs"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", false, "reload log level and interview settings when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parley: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("parley starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	if cfg.Telemetry.Enabled {
		shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "parley"})
		if err != nil {
			slog.Error("failed to initialise telemetry", "err", err)
			return 1
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				slog.Warn("telemetry shutdown error", "err", err)
			}
		}()
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	if providers.llm == nil {
		slog.Error("no LLM provider configured — the interview generator requires one",
			"hint", "set providers.llm.name in "+*configPath)
		return 1
	}

	// ── Report store ──────────────────────────────────────────────────────────
	store, checkers, closeStore, err := buildReportStore(ctx, cfg.Report)
	if err != nil {
		slog.Error("failed to build report store", "err", err)
		return 1
	}
	defer closeStore()

	// ── Interview registry ────────────────────────────────────────────────────
	gen, err := interview.NewGenerator(providers.llm,
		interview.WithLogger(logger),
		interview.WithProviderName(cfg.Providers.LLM.Name),
	)
	if err != nil {
		slog.Error("failed to create generator", "err", err)
		return 1
	}
	registry, err := interview.NewRegistry(interview.RegistryConfig{
		Generator:   gen,
		Position:    cfg.Interview.Position,
		Difficulty:  string(cfg.Interview.Difficulty),
		StopPhrases: cfg.Interview.StopPhrases,
		Store:       store,
		Logger:      logger,
	})
	if err != nil {
		slog.Error("failed to create interview registry", "err", err)
		return 1
	}

	// ── Config watcher (optional) ─────────────────────────────────────────────
	if *watch {
		watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			diff := config.Diff(old, new)
			if diff.LogLevelChanged {
				level.Set(slogLevel(diff.NewLogLevel))
				slog.Info("log level updated", "level", diff.NewLogLevel)
			}
			if diff.InterviewChanged {
				registry.UpdateSettings(
					diff.NewInterview.Position,
					string(diff.NewInterview.Difficulty),
					diff.NewInterview.StopPhrases,
				)
			}
		})
		if err != nil {
			slog.Error("failed to start config watcher", "err", err)
			return 1
		}
		defer watcher.Stop()
		slog.Info("watching config file for changes", "path", *configPath)
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	api := httpapi.New(registry,
		httpapi.WithLLM(providers.llm),
		httpapi.WithSTT(cfg.Providers.STT.Name, providers.stt),
		httpapi.WithTTS(cfg.Providers.TTS.Name, providers.tts),
		httpapi.WithModels(optStringSlice(cfg.Providers.LLM.Options, "models")...),
		httpapi.WithHealth(health.New("parley", checkers...)),
		httpapi.WithLogger(logger),
	)

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server ready — press Ctrl+C to shut down", "addr", srv.Addr)
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server error", "err", err)
		return 1
	}
	active, completed := registry.Counts()
	slog.Info("goodbye", "active_sessions", active, "completed_sessions", completed)
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// providerSet holds one interface value per provider slot. Nil means the
// provider is not configured.
type providerSet struct {
	llm llm.Provider
	stt stt.Provider
	tts tts.Provider
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	// openai talks to the chat-completions API directly.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []llmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		return llmopenai.New(entry.APIKey, entry.Model, opts...)
	})

	// gemini probes its candidate model list in order until one answers.
	reg.RegisterLLM("gemini", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []gemini.Option
		if models := optStringSlice(entry.Options, "models"); len(models) > 0 {
			opts = append(opts, gemini.WithModels(models...))
		} else if entry.Model != "" {
			opts = append(opts, gemini.WithModels(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		return gemini.New(entry.APIKey, opts...)
	})

	// The remaining backends share the any-llm pattern: optional APIKey +
	// optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		return coqui.New(entry.BaseURL, opts...)
	})
}

// buildProviders instantiates all providers named in cfg using the registry.
func buildProviders(cfg *config.Config, reg *config.Registry) (*providerSet, error) {
	ps := &providerSet{}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		}
		ps.llm = p
		slog.Info("provider created", "kind", "llm", "name", name, "model", cfg.Providers.LLM.Model)
	}

	if len(cfg.Providers.LLMFallbacks) > 0 {
		fb := resilience.NewLLMFallback(ps.llm, cfg.Providers.LLM.Name, resilience.FallbackConfig{})
		for _, entry := range cfg.Providers.LLMFallbacks {
			p, err := reg.CreateLLM(entry)
			if err != nil {
				return nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
			}
			fb.AddFallback(entry.Name, p)
			slog.Info("llm fallback registered", "name", entry.Name, "model", entry.Model)
		}
		ps.llm = fb
	}

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		}
		ps.stt = p
		slog.Info("provider created", "kind", "stt", "name", name)
	}

	if len(cfg.Providers.STTFallbacks) > 0 {
		fb := resilience.NewSTTFallback(ps.stt, cfg.Providers.STT.Name, resilience.FallbackConfig{})
		for _, entry := range cfg.Providers.STTFallbacks {
			p, err := reg.CreateSTT(entry)
			if err != nil {
				return nil, fmt.Errorf("create stt fallback %q: %w", entry.Name, err)
			}
			fb.AddFallback(entry.Name, p)
			slog.Info("stt fallback registered", "name", entry.Name)
		}
		ps.stt = fb
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTS)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		}
		ps.tts = p
		slog.Info("provider created", "kind", "tts", "name", name)
	}

	if len(cfg.Providers.TTSFallbacks) > 0 {
		fb := resilience.NewTTSFallback(ps.tts, cfg.Providers.TTS.Name, resilience.FallbackConfig{})
		for _, entry := range cfg.Providers.TTSFallbacks {
			p, err := reg.CreateTTS(entry)
			if err != nil {
				return nil, fmt.Errorf("create tts fallback %q: %w", entry.Name, err)
			}
			fb.AddFallback(entry.Name, p)
			slog.Info("tts fallback registered", "name", entry.Name)
		}
		ps.tts = fb
	}

	return ps, nil
}

// buildReportStore selects the archive backend from config. Both a file path
// and a postgres DSN may be set; reports then go to both.
func buildReportStore(ctx context.Context, cfg config.ReportConfig) (report.Store, []health.Checker, func(), error) {
	var (
		stores   report.Multi
		checkers []health.Checker
		closers  []func()
	)

	if cfg.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect report database: %w", err)
		}
		pg := report.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		stores = append(stores, pg)
		closers = append(closers, pool.Close)
		checkers = append(checkers, health.Checker{Name: "report-store", Check: pool.Ping})
		slog.Info("report store enabled", "backend", "postgres")
	}

	if cfg.FilePath != "" {
		stores = append(stores, report.NewFileStore(cfg.FilePath))
		slog.Info("report store enabled", "backend", "file", "path", cfg.FilePath)
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	switch len(stores) {
	case 0:
		slog.Warn("no report store configured — completed interviews will not be archived")
		return nil, checkers, closeAll, nil
	case 1:
		return stores[0], checkers, closeAll, nil
	default:
		return stores, checkers, closeAll, nil
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// optStringSlice extracts a list of strings from a provider Options map.
// YAML sequences decode as []any, so each element is asserted individually.
func optStringSlice(opts map[string]any, key string) []string {
	if opts == nil {
		return nil
	}
	raw, ok := opts[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
