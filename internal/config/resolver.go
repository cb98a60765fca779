// Package config resolves calassist settings from the YAML config file,
// the environment and CLI flags, in that order of increasing precedence.
// Every value remembers where it came from.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/classify"
	"github.com/IdanShtepel/CalendarAssistV2-sub000/internal/extract"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

type ResolveOptions struct {
	ConfigPath   string
	CLILLM       string
	CLIDBPath    string
	CLILogLevel  string
	CLILogFormat string
}

type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	DBPath           ResolvedValue `json:"db_path"`
	LLMProvider      ResolvedValue `json:"llm_provider"`
	LLMExtractModel  ResolvedValue `json:"llm_extract_model"`
	LLMClassifyModel ResolvedValue `json:"llm_classify_model"`
	LLMBaseURL       ResolvedValue `json:"llm_base_url"`

	ClassifyThreshold ResolvedValue `json:"classify_threshold"`
	AutoCategoryRaw   ResolvedValue `json:"auto_category"`
	ExtractTimeoutRaw ResolvedValue `json:"extract_timeout"`

	LogLevel  ResolvedValue `json:"log_level"`
	LogFormat ResolvedValue `json:"log_format"`

	LLMKeys map[string]ResolvedValue `json:"llm_keys,omitempty"`
}

type fileConfig struct {
	DBPath string `yaml:"db_path"`
	LLM    struct {
		Provider         string `yaml:"provider"`
		APIKey           string `yaml:"api_key"`
		BaseURL          string `yaml:"base_url"`
		ExtractModel     string `yaml:"extract_model"`
		ExtractProvider  string `yaml:"extract_provider"`
		ClassifyModel    string `yaml:"classify_model"`
		ClassifyProvider string `yaml:"classify_provider"`
	} `yaml:"llm"`
	Classify struct {
		Threshold  string `yaml:"threshold"`
		AutoDetect string `yaml:"auto_detect"`
	} `yaml:"classify"`
	Extract struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"extract"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".calassist", "config.yaml")
}

func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{
		ConfigPath: path,
		LLMKeys:    map[string]ResolvedValue{},
	}

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
		apply(&out.LLMProvider, cfg.LLM.Provider, SourceConfig, path)
		apply(&out.LLMExtractModel, firstNonEmpty(cfg.LLM.ExtractModel, cfg.LLM.ExtractProvider), SourceConfig, path)
		apply(&out.LLMClassifyModel, firstNonEmpty(cfg.LLM.ClassifyModel, cfg.LLM.ClassifyProvider), SourceConfig, path)
		apply(&out.LLMBaseURL, cfg.LLM.BaseURL, SourceConfig, path)
		apply(&out.ClassifyThreshold, cfg.Classify.Threshold, SourceConfig, path)
		apply(&out.AutoCategoryRaw, cfg.Classify.AutoDetect, SourceConfig, path)
		apply(&out.ExtractTimeoutRaw, cfg.Extract.Timeout, SourceConfig, path)
		apply(&out.LogLevel, cfg.Log.Level, SourceConfig, path)
		apply(&out.LogFormat, cfg.Log.Format, SourceConfig, path)

		if key := strings.TrimSpace(cfg.LLM.APIKey); key != "" {
			providers := map[string]struct{}{}
			for _, v := range []string{cfg.LLM.Provider, cfg.LLM.ExtractModel, cfg.LLM.ClassifyModel} {
				p := providerOf(v)
				if p != "" {
					providers[p] = struct{}{}
				}
			}
			if len(providers) == 0 {
				providers["default"] = struct{}{}
			}
			for p := range providers {
				out.LLMKeys[p] = ResolvedValue{Value: key, Source: SourceConfig, From: path}
			}
		}
	}

	applyEnv(&out.DBPath, "CALASSIST_DB")
	applyEnv(&out.LLMProvider, "CALASSIST_LLM")
	applyEnv(&out.LLMExtractModel, "CALASSIST_LLM_EXTRACT")
	applyEnv(&out.LLMClassifyModel, "CALASSIST_LLM_CLASSIFY")
	applyEnv(&out.LLMBaseURL, "CALASSIST_LLM_BASE_URL")
	applyEnv(&out.ClassifyThreshold, "CALASSIST_CLASSIFY_THRESHOLD")
	applyEnv(&out.AutoCategoryRaw, "CALASSIST_AUTO_CATEGORY")
	applyEnv(&out.ExtractTimeoutRaw, "CALASSIST_EXTRACT_TIMEOUT")
	applyEnv(&out.LogLevel, "CALASSIST_LOG_LEVEL")

	for env, provider := range map[string]string{
		"OPENROUTER_API_KEY": "openrouter",
		"OPENAI_API_KEY":     "openai",
		"GEMINI_API_KEY":     "google",
		"GOOGLE_API_KEY":     "google",
	} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			out.LLMKeys[provider] = ResolvedValue{Value: v, Source: SourceEnv, From: env}
		}
	}

	apply(&out.LLMProvider, opts.CLILLM, SourceCLI, "--llm")
	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.LogLevel, opts.CLILogLevel, SourceCLI, "--log-level")
	apply(&out.LogFormat, opts.CLILogFormat, SourceCLI, "--log-format")

	if out.DBPath.Value != "" {
		out.DBPath.Value = expandUserPath(out.DBPath.Value)
	}

	if err := out.Validate(); err != nil {
		return out, err
	}
	return out, nil
}

// Validate checks the typed values. The error names the source of the bad
// value.
func (r ResolvedConfig) Validate() error {
	if v := r.ClassifyThreshold; v.Value != "" {
		f, err := strconv.ParseFloat(v.Value, 64)
		if err != nil || f < 0 || f > 1 {
			return fmt.Errorf("classify threshold %q from %s: must be a number between 0 and 1", v.Value, describe(v))
		}
	}
	if v := r.AutoCategoryRaw; v.Value != "" {
		if _, err := strconv.ParseBool(v.Value); err != nil {
			return fmt.Errorf("auto category %q from %s: must be true or false", v.Value, describe(v))
		}
	}
	if v := r.ExtractTimeoutRaw; v.Value != "" {
		d, err := time.ParseDuration(v.Value)
		if err != nil || d <= 0 {
			return fmt.Errorf("extract timeout %q from %s: must be a positive duration like 5s", v.Value, describe(v))
		}
	}
	if v := r.LogLevel; v.Value != "" {
		switch strings.ToLower(v.Value) {
		case "debug", "info", "warn", "error":
		default:
			return fmt.Errorf("log level %q from %s: must be debug, info, warn or error", v.Value, describe(v))
		}
	}
	return nil
}

// Threshold returns the classification confidence threshold.
func (r ResolvedConfig) Threshold() float64 {
	if f, err := strconv.ParseFloat(r.ClassifyThreshold.Value, 64); err == nil && f >= 0 && f <= 1 {
		return f
	}
	return classify.DefaultThreshold
}

// AutoCategory reports whether events are classified automatically.
func (r ResolvedConfig) AutoCategory() bool {
	if b, err := strconv.ParseBool(r.AutoCategoryRaw.Value); err == nil {
		return b
	}
	return true
}

// ExtractTimeout returns the bounded-wait timeout for extraction.
func (r ResolvedConfig) ExtractTimeout() time.Duration {
	if d, err := time.ParseDuration(r.ExtractTimeoutRaw.Value); err == nil && d > 0 {
		return d
	}
	return extract.DefaultTimeout
}

func (r ResolvedConfig) EffectiveLLMModel(purpose, fallback string) ResolvedValue {
	purpose = strings.ToLower(strings.TrimSpace(purpose))

	candidates := []ResolvedValue{}
	switch purpose {
	case "extract":
		candidates = append(candidates, r.LLMExtractModel)
	case "classify":
		candidates = append(candidates, r.LLMClassifyModel)
	}
	candidates = append(candidates, r.LLMProvider)

	for _, c := range candidates {
		if strings.TrimSpace(c.Value) == "" {
			continue
		}
		if strings.Contains(c.Value, "/") {
			return c
		}
		if fallback != "" && strings.HasPrefix(strings.ToLower(fallback), strings.ToLower(strings.TrimSpace(c.Value))+"/") {
			return ResolvedValue{Value: fallback, Source: c.Source, From: c.From}
		}
	}

	if strings.TrimSpace(fallback) != "" {
		return ResolvedValue{Value: fallback, Source: SourceDefault, From: "built-in default"}
	}
	return ResolvedValue{}
}

func (r ResolvedConfig) APIKeyForProvider(providerOrModel string) ResolvedValue {
	provider := providerOf(providerOrModel)
	if provider == "" {
		return ResolvedValue{}
	}
	if v, ok := r.LLMKeys[provider]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	if v, ok := r.LLMKeys["default"]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	return ResolvedValue{}
}

func providerOf(providerOrModel string) string {
	v := strings.ToLower(strings.TrimSpace(providerOrModel))
	if v == "" {
		return ""
	}
	if idx := strings.Index(v, "/"); idx > 0 {
		return v[:idx]
	}
	return v
}

func describe(v ResolvedValue) string {
	if v.From != "" {
		return fmt.Sprintf("%s (%s)", v.Source, v.From)
	}
	return string(v.Source)
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
