package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":      {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":      {ProviderRemote},
	"tts":      {ProviderRemote},
	"detector": {ProviderRemote, ProviderNone},
	"capture":  {ProviderRemote, ProviderNone},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
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
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must not be negative"))
	}
	if cfg.Server.ReloadInterval < 0 {
		errs = append(errs, fmt.Errorf("server.reload_interval must not be negative"))
	}

	// Providers
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("detector", cfg.Providers.Detector.Name)
	validateProviderName("capture", cfg.Providers.Capture.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("llm", fb.Name)
	}
	if len(cfg.Providers.LLMFallbacks) > 0 && cfg.Providers.LLM.Name == "" {
		errs = append(errs, fmt.Errorf("providers.llm_fallbacks requires providers.llm"))
	}

	// Evaluation
	if cfg.Evaluation.URL != "" {
		u, err := url.Parse(cfg.Evaluation.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("evaluation.url %q must be an absolute http(s) URL", cfg.Evaluation.URL))
		}
		if cfg.Providers.LLM.Name != "" {
			slog.Warn("evaluation.url is set; providers.llm only serves the /evaluate-answer endpoint")
		}
	} else if cfg.Providers.LLM.Name == "" {
		errs = append(errs, fmt.Errorf("no grader configured; set evaluation.url or providers.llm"))
	}
	if cfg.Evaluation.Timeout < 0 {
		errs = append(errs, fmt.Errorf("evaluation.timeout must not be negative"))
	}

	// Assessment
	a := cfg.Assessment
	for i, s := range a.Subjects {
		if strings.TrimSpace(s) == "" {
			errs = append(errs, fmt.Errorf("assessment.subjects[%d] is empty", i))
		}
	}
	for name, d := range map[string]int64{
		"accept_delay":        int64(a.AcceptDelay),
		"no_speech_delay":     int64(a.NoSpeechDelay),
		"error_delay":         int64(a.ErrorDelay),
		"start_failure_delay": int64(a.StartFailureDelay),
		"evaluation_backoff":  int64(a.EvaluationBackoff),
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("assessment.%s must not be negative", name))
		}
	}
	if a.PhoneticThreshold <= 0 || a.PhoneticThreshold > 1 {
		errs = append(errs, fmt.Errorf("assessment.phonetic_threshold %.2f is out of range (0, 1]", a.PhoneticThreshold))
	}
	if a.ViolationLimit < 1 {
		errs = append(errs, fmt.Errorf("assessment.violation_limit %d must be at least 1", a.ViolationLimit))
	}

	// Proctor
	p := cfg.Proctor
	if p.PersonConfidence < 0 || p.PersonConfidence >= 1 {
		errs = append(errs, fmt.Errorf("proctor.person_confidence %.2f is out of range [0, 1)", p.PersonConfidence))
	}
	if p.PhoneConfidence < 0 || p.PhoneConfidence >= 1 {
		errs = append(errs, fmt.Errorf("proctor.phone_confidence %.2f is out of range [0, 1)", p.PhoneConfidence))
	}
	if p.AbsenceThreshold < 0 || p.Debounce < 0 || p.TickInterval < 0 {
		errs = append(errs, fmt.Errorf("proctor durations must not be negative"))
	}
	if p.RequireCamera && (cfg.Providers.Capture.Name == ProviderNone || cfg.Providers.Detector.Name == ProviderNone) {
		errs = append(errs, fmt.Errorf("proctor.require_camera needs providers.capture and providers.detector"))
	}
	if p.Debounce > 0 && p.Debounce >= p.AbsenceThreshold {
		slog.Warn("proctor.debounce is not shorter than absence_threshold; consecutive absences collapse into one violation",
			"debounce", p.Debounce, "absence_threshold", p.AbsenceThreshold)
	}

	// Sessions
	if cfg.Sessions.RedisDB < 0 {
		errs = append(errs, fmt.Errorf("sessions.redis_db %d must not be negative", cfg.Sessions.RedisDB))
	}
	if cfg.Sessions.TTL < 0 {
		errs = append(errs, fmt.Errorf("sessions.ttl must not be negative"))
	}

	// Results
	if cfg.Results.PostgresDSN == "" && cfg.Evaluation.URL == "" {
		slog.Warn("results.postgres_dsn is empty; exam results are kept in memory and lost on restart")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not in the
// list of known providers for kind. Unknown names are not an error because
// custom factories may be registered at runtime.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if !slices.Contains(known, name) {
		slog.Warn("unknown provider name; it must be registered before use",
			"kind", kind,
			"name", name,
			"known", known,
		)
	}
}
