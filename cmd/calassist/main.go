// calassist is a natural-language calendar assistant: it turns free text into
// calendar events and todos, files events under categories, and serves the
// same operations over MCP.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/assistant"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/classify"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/config"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/extract"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/llm"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/model"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/store"
)

var version = "0.1.0-dev"

// defaultLLM is used when neither config nor flags name a model.
const defaultLLM = "google/gemini-2.5-flash"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalOpts are the persistent flags shared by every command.
type globalOpts struct {
	configPath string
	dbPath     string
	llm        string
	logLevel   string
	logFormat  string
	now        string
}

func newRootCmd() *cobra.Command {
	opts := &globalOpts{}

	root := &cobra.Command{
		Use:   "calassist",
		Short: "Natural-language calendar assistant",
		Long: `calassist turns free text such as "lunch with Sam every Tuesday at noon"
into calendar events and todos.

Events are extracted through an LLM provider with a deterministic fallback,
filed under a category (work, social, health, ...) and stored locally in
SQLite. The same operations are available to agents over MCP (calassist serve).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "config file (default ~/.calassist/config.yaml)")
	pf.StringVar(&opts.dbPath, "db", "", "database path (default ~/.calassist/calassist.db)")
	pf.StringVar(&opts.llm, "llm", "", "LLM provider/model, e.g. google/gemini-2.5-flash or openai/gpt-4o-mini")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&opts.logFormat, "log-format", "", "log format (text, json)")
	pf.StringVar(&opts.now, "now", "", `reference time for relative dates ("2006-01-02 15:04" or RFC 3339)`)

	root.AddCommand(
		newSayCmd(opts),
		newChatCmd(opts),
		newTodoCmd(opts),
		newClassifyCmd(opts),
		newOverrideCmd(opts),
		newEventsCmd(opts),
		newExportCmd(opts),
		newImportCmd(opts),
		newSyncCmd(opts),
		newServeCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "calassist %s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

// app holds everything a command needs once configuration is resolved.
type app struct {
	cfg        config.ResolvedConfig
	logger     *slog.Logger
	store      store.Store
	pipeline   *extract.Pipeline
	classifier *classify.Classifier
	engine     *assistant.Engine
	fixedNow   time.Time
}

func (o *globalOpts) resolve() (config.ResolvedConfig, error) {
	return config.ResolveConfig(config.ResolveOptions{
		ConfigPath:   o.configPath,
		CLILLM:       o.llm,
		CLIDBPath:    o.dbPath,
		CLILogLevel:  o.logLevel,
		CLILogFormat: o.logFormat,
	})
}

// open resolves configuration, opens the store and builds the providers,
// pipeline, classifier and engine. Missing API keys are not an error: the
// affected features report the setup hint when used.
func (o *globalOpts) open(ctx context.Context, stderr io.Writer) (*app, error) {
	cfg, err := o.resolve()
	if err != nil {
		return nil, err
	}
	logger := setupLogging(stderr, cfg.LogLevel.Value, cfg.LogFormat.Value)

	fixedNow, err := parseNow(o.now)
	if err != nil {
		return nil, err
	}

	s, err := store.NewStore(store.StoreConfig{DBPath: cfg.DBPath.Value})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	extractProvider, err := buildProvider(cfg, "extract", logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	classifyProvider, err := buildProvider(cfg, "classify", logger)
	if err != nil {
		s.Close()
		return nil, err
	}

	pipelineOpts := []extract.Option{
		extract.WithTimeout(cfg.ExtractTimeout()),
		extract.WithLogger(logger),
	}
	if !fixedNow.IsZero() {
		pipelineOpts = append(pipelineOpts, extract.WithClock(func() time.Time { return fixedNow }))
	}
	pipeline := extract.New(extractProvider, pipelineOpts...)

	classifier := classify.New(classifyProvider,
		classify.WithThreshold(cfg.Threshold()),
		classify.WithAutoDetect(cfg.AutoCategory()),
		classify.WithOverrideStore(s),
		classify.WithLogger(logger),
	)
	if err := classifier.LoadOverrides(ctx); err != nil {
		fmt.Fprintf(stderr, "Warning: could not load category overrides: %v\n", err)
	}

	a := &app{
		cfg:        cfg,
		logger:     logger,
		store:      s,
		pipeline:   pipeline,
		classifier: classifier,
		fixedNow:   fixedNow,
	}
	a.engine = assistant.New(assistant.Config{
		Provider:   extractProvider,
		Pipeline:   pipeline,
		Classifier: classifier,
		Store:      s,
		Logger:     logger,
	})
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// now returns the --now time when given, else the wall clock.
func (a *app) now() time.Time {
	if !a.fixedNow.IsZero() {
		return a.fixedNow
	}
	return time.Now()
}

// buildProvider creates the provider for one purpose ("extract" or
// "classify"). It returns nil without error when the API key is missing.
func buildProvider(cfg config.ResolvedConfig, purpose string, logger *slog.Logger) (llm.Provider, error) {
	m := cfg.EffectiveLLMModel(purpose, defaultLLM)
	lc, err := llm.ParseLLMFlag(m.Value)
	if err != nil {
		return nil, fmt.Errorf("%s model from %s: %w", purpose, m.Source, err)
	}
	lc.APIKey = cfg.APIKeyForProvider(lc.Provider).Value
	lc.BaseURL = cfg.LLMBaseURL.Value

	p, err := llm.NewProvider(lc)
	if errors.Is(err, llm.ErrAuthMissing) {
		logger.Debug("no API key, provider disabled", "purpose", purpose, "provider", lc.Provider)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s provider: %w", purpose, err)
	}
	logger.Debug("provider ready", "purpose", purpose, "provider", p.Name(), "source", m.Source)
	return p, nil
}

var nowLayouts = []string{time.RFC3339, model.DateTimeLayout, "2006-01-02"}

// parseNow reads the --now flag. An empty value returns the zero time.
func parseNow(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range nowLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid --now %q: want \"2006-01-02 15:04\" or RFC 3339", raw)
}

// parseDate reads a YYYY-MM-DD range bound. An empty value returns the zero
// time.
func parseDate(flag, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation("2006-01-02", raw, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s %q: want YYYY-MM-DD", flag, raw)
	}
	return t, nil
}

func setupLogging(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelWarn
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: lvl}

	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
