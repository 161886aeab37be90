package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"whisper"},
	"tts": {"coqui", "elevenlabs"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Interview
	if cfg.Interview.Difficulty != "" && !cfg.Interview.Difficulty.IsValid() {
		errs = append(errs, fmt.Errorf("interview.difficulty %q is invalid; valid values: easy, intermediate, medium, hard", cfg.Interview.Difficulty))
	}
	for i, phrase := range cfg.Interview.StopPhrases {
		if strings.TrimSpace(phrase) == "" {
			errs = append(errs, fmt.Errorf("interview.stop_phrases[%d] is blank", i))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	fallbackKinds := []struct {
		kind    string
		primary string
		entries []ProviderEntry
	}{
		{"llm", cfg.Providers.LLM.Name, cfg.Providers.LLMFallbacks},
		{"stt", cfg.Providers.STT.Name, cfg.Providers.STTFallbacks},
		{"tts", cfg.Providers.TTS.Name, cfg.Providers.TTSFallbacks},
	}
	for _, fk := range fallbackKinds {
		if len(fk.entries) > 0 && fk.primary == "" {
			errs = append(errs, fmt.Errorf("providers.%s_fallbacks requires providers.%s to be set", fk.kind, fk.kind))
		}
		for i, entry := range fk.entries {
			if entry.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s_fallbacks[%d].name is required", fk.kind, i))
				continue
			}
			validateProviderName(fk.kind, entry.Name)
		}
	}

	// Provider availability warnings
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; interviews will fall back to canned questions")
	}

	// Report availability
	if cfg.Report.FilePath == "" && cfg.Report.PostgresDSN == "" {
		slog.Warn("no report sink configured; completed interviews will not be archived")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
