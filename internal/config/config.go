package config

import (
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Providers accepted in the provider field
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Environment variables that override credentials from the file
const (
	EnvGeminiAPIKey  = "GEMINI_API_KEY"
	EnvAPIKey        = "API_KEY"
	EnvOpenAIAPIKey  = "OPENAI_API_KEY"
	EnvRedisAddr     = "REDIS_ADDR"
	EnvRedisPassword = "REDIS_PASSWORD"
)

// Config represents the complete service configuration
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Provider string         `yaml:"provider"`
	GenAI    GenAIConfig    `yaml:"genai"`
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Audio    AudioConfig    `yaml:"audio"`
	Playback PlaybackConfig `yaml:"playback"`
	Session  SessionConfig  `yaml:"session"`
	Store    StoreConfig    `yaml:"store"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port         int      `yaml:"port"`
	Address      string   `yaml:"address"`
	ReadTimeout  int      `yaml:"read_timeout"`  // seconds
	WriteTimeout int      `yaml:"write_timeout"` // seconds
	CORSOrigins  []string `yaml:"cors_origins"`
	RateLimit    float64  `yaml:"rate_limit"` // requests per second per client IP, 0 disables
	RateBurst    int      `yaml:"rate_burst"`

	// Peers allowed to set X-Forwarded-For / X-Real-IP, as IPs or CIDRs.
	// Forwarding headers from anyone else are ignored.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// GenAIConfig contains the hosted generative model configuration
type GenAIConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIKey            string  `yaml:"api_key"`
	AnalysisModel     string  `yaml:"analysis_model"`
	SpeechModel       string  `yaml:"speech_model"`
	Voice             string  `yaml:"voice"`
	Timeout           int     `yaml:"timeout"` // seconds
	MaxRetries        int     `yaml:"max_retries"`
	MaxConcurrent     int     `yaml:"max_concurrent"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// OpenAIConfig contains the OpenAI-compatible provider configuration
type OpenAIConfig struct {
	BaseURL       string `yaml:"base_url"`
	APIKey        string `yaml:"api_key"`
	AnalysisModel string `yaml:"analysis_model"`
	SpeechModel   string `yaml:"speech_model"`
	Voice         string `yaml:"voice"`
	Timeout       int    `yaml:"timeout"` // seconds
}

// AnalysisConfig contains risk analysis configuration
type AnalysisConfig struct {
	ScorePolicy string `yaml:"score_policy"`
	Timeout     int    `yaml:"timeout"` // seconds, 0 means no extra bound
}

// AudioConfig describes the speech payload format
type AudioConfig struct {
	SampleRate    int    `yaml:"sample_rate"`
	Channels      int    `yaml:"channels"`
	BitDepth      int    `yaml:"bit_depth"`
	FramingPrefix string `yaml:"framing_prefix"`
}

// PlaybackConfig contains output device configuration
type PlaybackConfig struct {
	Device    string `yaml:"device"`
	OutputDir string `yaml:"output_dir"`
	Realtime  bool   `yaml:"realtime"`
	PeriodMs  int    `yaml:"period_ms"`
}

// SessionConfig contains dashboard session configuration
type SessionConfig struct {
	Timeout         int `yaml:"timeout"`          // seconds
	CleanupInterval int `yaml:"cleanup_interval"` // seconds
}

// StoreConfig contains result store configuration
type StoreConfig struct {
	Backend   string `yaml:"backend"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file, applies environment overrides and
// validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.ApplyEnv(os.LookupEnv)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// ApplyEnv overrides credentials and connection settings with values from lookup.
// GEMINI_API_KEY takes precedence over API_KEY.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAPIKey); ok && v != "" {
		c.GenAI.APIKey = v
	}
	if v, ok := lookup(EnvGeminiAPIKey); ok && v != "" {
		c.GenAI.APIKey = v
	}
	if v, ok := lookup(EnvOpenAIAPIKey); ok && v != "" {
		c.OpenAI.APIKey = v
	}
	if v, ok := lookup(EnvRedisAddr); ok && v != "" {
		c.Store.Addr = v
	}
	if v, ok := lookup(EnvRedisPassword); ok && v != "" {
		c.Store.Password = v
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	switch c.Provider {
	case ProviderGemini:
		if err := c.GenAI.Validate(); err != nil {
			return fmt.Errorf("genai config: %w", err)
		}
	case ProviderOpenAI:
		if err := c.OpenAI.Validate(); err != nil {
			return fmt.Errorf("openai config: %w", err)
		}
	default:
		return fmt.Errorf("provider must be one of [gemini, openai], got '%s'", c.Provider)
	}

	if err := c.Analysis.Validate(); err != nil {
		return fmt.Errorf("analysis config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Playback.Validate(); err != nil {
		return fmt.Errorf("playback config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("http address cannot be empty")
	}

	if h.ReadTimeout < 1 {
		return fmt.Errorf("read_timeout must be at least 1 second, got %d", h.ReadTimeout)
	}

	if h.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", h.WriteTimeout)
	}

	if h.RateLimit < 0 {
		return fmt.Errorf("rate_limit cannot be negative, got %f", h.RateLimit)
	}

	if h.RateLimit > 0 && h.RateBurst < 1 {
		return fmt.Errorf("rate_burst must be at least 1 when rate_limit is set, got %d", h.RateBurst)
	}

	if _, err := h.TrustedProxyPrefixes(); err != nil {
		return err
	}

	return nil
}

// TrustedProxyPrefixes parses trusted_proxies. A bare IP becomes a single-address prefix.
func (h *HTTPConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(h.TrustedProxies))
	for _, entry := range h.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted_proxies entry %q: %w", entry, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}

		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted_proxies entry %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// Validate validates generative model configuration. The API key has no default.
func (g *GenAIConfig) Validate() error {
	if g.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty (set %s)", EnvGeminiAPIKey)
	}

	if g.AnalysisModel == "" {
		return fmt.Errorf("analysis_model cannot be empty")
	}

	if g.SpeechModel == "" {
		return fmt.Errorf("speech_model cannot be empty")
	}

	if g.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", g.Timeout)
	}

	if g.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", g.MaxRetries)
	}

	if g.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", g.MaxConcurrent)
	}

	if g.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second cannot be negative, got %f", g.RequestsPerSecond)
	}

	return nil
}

// Validate validates OpenAI-compatible provider configuration
func (o *OpenAIConfig) Validate() error {
	if o.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty (set %s)", EnvOpenAIAPIKey)
	}

	if o.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", o.Timeout)
	}

	return nil
}

// Validate validates analysis configuration
func (a *AnalysisConfig) Validate() error {
	validPolicies := map[string]bool{"": true, "reject": true, "clamp": true}
	if !validPolicies[strings.ToLower(a.ScorePolicy)] {
		return fmt.Errorf("score_policy must be 'reject' or 'clamp', got '%s'", a.ScorePolicy)
	}

	if a.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative, got %d", a.Timeout)
	}

	return nil
}

// Validate validates audio configuration. The format is fixed by the speech service.
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 24000 {
		return fmt.Errorf("sample_rate must be 24000 Hz for speech payloads, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono) for speech payloads, got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16 for speech payloads, got %d", a.BitDepth)
	}

	return nil
}

// Validate validates playback configuration
func (p *PlaybackConfig) Validate() error {
	switch p.Device {
	case "null":
	case "wav":
		if p.OutputDir == "" {
			return fmt.Errorf("output_dir cannot be empty for the wav device")
		}
	default:
		return fmt.Errorf("device must be one of [null, wav], got '%s'", p.Device)
	}

	if p.PeriodMs < 1 || p.PeriodMs > 1000 {
		return fmt.Errorf("period_ms must be between 1 and 1000, got %d", p.PeriodMs)
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", s.Timeout)
	}

	if s.CleanupInterval < 1 {
		return fmt.Errorf("cleanup_interval must be at least 1 second, got %d", s.CleanupInterval)
	}

	return nil
}

// Validate validates result store configuration
func (s *StoreConfig) Validate() error {
	switch s.Backend {
	case "memory":
	case "redis":
		if s.Addr == "" {
			return fmt.Errorf("addr cannot be empty for the redis backend")
		}
		if s.DB < 0 {
			return fmt.Errorf("db cannot be negative, got %d", s.DB)
		}
	default:
		return fmt.Errorf("backend must be one of [memory, redis], got '%s'", s.Backend)
	}

	return nil
}

// Validate validates logging configuration. Any output other than stdout or stderr is a file path.
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetReadTimeoutDuration returns the read timeout as a time.Duration
func (h *HTTPConfig) GetReadTimeoutDuration() time.Duration {
	return time.Duration(h.ReadTimeout) * time.Second
}

// GetWriteTimeoutDuration returns the write timeout as a time.Duration
func (h *HTTPConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(h.WriteTimeout) * time.Second
}

// GetTimeoutDuration returns the request timeout as a time.Duration
func (g *GenAIConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(g.Timeout) * time.Second
}

// GetTimeoutDuration returns the request timeout as a time.Duration
func (o *OpenAIConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(o.Timeout) * time.Second
}

// GetTimeoutDuration returns the analysis timeout as a time.Duration
func (a *AnalysisConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(a.Timeout) * time.Second
}

// GetPeriodDuration returns the playback period as a time.Duration
func (p *PlaybackConfig) GetPeriodDuration() time.Duration {
	return time.Duration(p.PeriodMs) * time.Millisecond
}

// GetTimeoutDuration returns the session timeout as a time.Duration
func (s *SessionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// GetCleanupIntervalDuration returns the cleanup interval as a time.Duration
func (s *SessionConfig) GetCleanupIntervalDuration() time.Duration {
	return time.Duration(s.CleanupInterval) * time.Second
}
