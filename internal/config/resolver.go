package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

// Extraction modes.
const (
	ModeAIWithFallback = "ai_with_fallback"
	ModeRules          = "rules"
	ModeAI             = "ai"
)

// Built-in defaults. These match the hosted NVIDIA endpoint the pipeline was
// first deployed against.
const (
	DefaultProvider     = "nvidia"
	DefaultBaseURL      = "https://integrate.api.nvidia.com/v1"
	DefaultModel        = "nvidia/llama-3.3-nemotron-super-49b-v1"
	DefaultSystemPrompt = "You are a helpful information extraction assistant."
	DefaultTemperature  = float32(0.4)
	DefaultTopP         = float32(0.9)
	DefaultMaxTokens    = 1024
	DefaultPromptChars  = 2000
	DefaultDBPath       = "~/.docrouter/docrouter.db"
	DefaultIntentPrefix = "Email+"
	DefaultSentinel     = "Email"
)

// ProviderBaseURLs maps the supported OpenAI-compatible providers to their
// default endpoints.
var ProviderBaseURLs = map[string]string{
	"nvidia":     DefaultBaseURL,
	"openai":     "https://api.openai.com/v1",
	"openrouter": "https://openrouter.ai/api/v1",
}

// DefaultIntentLabels is the base intent enumeration offered to the model.
var DefaultIntentLabels = []string{"Invoice", "RFQ", "Complaint", "Regulation"}

// DefaultJSONFields are the order fields checked for in JSON documents.
var DefaultJSONFields = []string{"customer_name", "order_id", "items", "total_price"}

type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

type ResolveOptions struct {
	ConfigPath  string
	EnvFile     string // default ".env"; missing files are ignored
	CLIDBPath   string
	CLIModel    string
	CLIMode     string
	CLILogLevel string
}

// Config is the fully resolved configuration handed to every component at
// construction time.
type Config struct {
	ConfigPath string `json:"config_path"`

	DBPath     ResolvedValue      `json:"db_path"`
	LLM        LLMSettings        `json:"llm"`
	Intents    IntentSettings     `json:"intents"`
	Extraction ExtractionSettings `json:"extraction"`
	Reader     ReaderSettings     `json:"reader"`
	Log        LogSettings        `json:"log"`
}

type LLMSettings struct {
	Provider     string        `json:"provider"`
	BaseURL      ResolvedValue `json:"base_url"`
	Model        ResolvedValue `json:"model"`
	APIKey       ResolvedValue `json:"api_key"`
	SystemPrompt string        `json:"system_prompt"`
	Temperature  float32       `json:"temperature"`
	TopP         float32       `json:"top_p"`
	MaxTokens    int           `json:"max_tokens"`
	Timeout      time.Duration `json:"timeout"` // 0 = transport default
}

type IntentSettings struct {
	Labels   []string `json:"labels"`
	Prefix   string   `json:"prefix"`
	Sentinel string   `json:"sentinel"`
	Fallback string   `json:"fallback"`
	Strict   bool     `json:"strict"`
}

type ExtractionSettings struct {
	Mode        ResolvedValue `json:"mode"`
	PromptChars int           `json:"prompt_chars"`
	JSONFields  []string      `json:"json_fields"` // empty disables the check
}

type ReaderSettings struct {
	ParseMIME bool `json:"parse_mime"`
}

type LogSettings struct {
	Level  ResolvedValue `json:"level"`
	Format string        `json:"format"`
}

type fileConfig struct {
	DBPath string `yaml:"db_path"`
	LLM    struct {
		Provider     string   `yaml:"provider"`
		BaseURL      string   `yaml:"base_url"`
		Model        string   `yaml:"model"`
		APIKey       string   `yaml:"api_key"`
		SystemPrompt string   `yaml:"system_prompt"`
		Temperature  *float32 `yaml:"temperature"`
		TopP         *float32 `yaml:"top_p"`
		MaxTokens    *int     `yaml:"max_tokens"`
		Timeout      string   `yaml:"timeout"`
	} `yaml:"llm"`
	Intents struct {
		Labels   []string `yaml:"labels"`
		Prefix   *string  `yaml:"prefix"`
		Sentinel string   `yaml:"sentinel"`
		Fallback string   `yaml:"fallback"`
		Strict   *bool    `yaml:"strict"`
	} `yaml:"intents"`
	Extraction struct {
		Mode        string    `yaml:"mode"`
		PromptChars *int      `yaml:"prompt_chars"`
		JSONFields  *[]string `yaml:"json_fields"`
	} `yaml:"extraction"`
	Reader struct {
		ParseMIME *bool `yaml:"parse_mime"`
	} `yaml:"reader"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".docrouter", "config.yaml")
}

// Defaults returns the built-in configuration with no file, env or CLI input.
func Defaults() Config {
	def := func(v string) ResolvedValue {
		return ResolvedValue{Value: v, Source: SourceDefault, From: "built-in default"}
	}
	return Config{
		DBPath: def(DefaultDBPath),
		LLM: LLMSettings{
			Provider:     DefaultProvider,
			BaseURL:      def(DefaultBaseURL),
			Model:        def(DefaultModel),
			SystemPrompt: DefaultSystemPrompt,
			Temperature:  DefaultTemperature,
			TopP:         DefaultTopP,
			MaxTokens:    DefaultMaxTokens,
		},
		Intents: IntentSettings{
			Labels:   append([]string(nil), DefaultIntentLabels...),
			Prefix:   DefaultIntentPrefix,
			Sentinel: DefaultSentinel,
			Fallback: DefaultSentinel,
		},
		Extraction: ExtractionSettings{
			Mode:        def(ModeAIWithFallback),
			PromptChars: DefaultPromptChars,
			JSONFields:  append([]string(nil), DefaultJSONFields...),
		},
		Log: LogSettings{
			Level:  def("info"),
			Format: "text",
		},
	}
}

// ResolveConfig layers defaults, the YAML config file, the environment
// (including a .env file) and CLI flags, later layers winning.
func ResolveConfig(opts ResolveOptions) (Config, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := Defaults()
	out.ConfigPath = path

	if err := loadDotEnv(opts.EnvFile); err != nil {
		return out, err
	}

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		if err := applyFile(&out, cfg, path); err != nil {
			return out, err
		}
	}

	applyEnv(&out.DBPath, "DOCROUTER_DB")
	applyEnv(&out.LLM.BaseURL, "DOCROUTER_BASE_URL")
	applyEnv(&out.LLM.Model, "DOCROUTER_MODEL")
	applyEnv(&out.LLM.APIKey, "NVIDIA_API_KEY")
	applyEnv(&out.LLM.APIKey, "DOCROUTER_API_KEY")
	applyEnv(&out.Extraction.Mode, "DOCROUTER_MODE")
	applyEnv(&out.Log.Level, "DOCROUTER_LOG_LEVEL")

	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.LLM.Model, opts.CLIModel, SourceCLI, "--model")
	apply(&out.Extraction.Mode, opts.CLIMode, SourceCLI, "--mode")
	apply(&out.Log.Level, opts.CLILogLevel, SourceCLI, "--log-level")

	if out.DBPath.Value != "" {
		out.DBPath.Value = expandUserPath(out.DBPath.Value)
	}

	return out, out.Validate()
}

func applyFile(out *Config, cfg *fileConfig, path string) error {
	if p := strings.ToLower(strings.TrimSpace(cfg.LLM.Provider)); p != "" {
		base, ok := ProviderBaseURLs[p]
		if !ok {
			return fmt.Errorf("parsing %s: unknown llm.provider %q (supported: nvidia, openai, openrouter)", path, p)
		}
		out.LLM.Provider = p
		apply(&out.LLM.BaseURL, base, SourceConfig, path)
	}
	apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
	apply(&out.LLM.BaseURL, cfg.LLM.BaseURL, SourceConfig, path)
	apply(&out.LLM.Model, cfg.LLM.Model, SourceConfig, path)
	apply(&out.LLM.APIKey, cfg.LLM.APIKey, SourceConfig, path)
	apply(&out.Extraction.Mode, cfg.Extraction.Mode, SourceConfig, path)
	apply(&out.Log.Level, cfg.Log.Level, SourceConfig, path)

	if s := strings.TrimSpace(cfg.LLM.SystemPrompt); s != "" {
		out.LLM.SystemPrompt = s
	}
	if cfg.LLM.Temperature != nil {
		out.LLM.Temperature = *cfg.LLM.Temperature
	}
	if cfg.LLM.TopP != nil {
		out.LLM.TopP = *cfg.LLM.TopP
	}
	if cfg.LLM.MaxTokens != nil {
		out.LLM.MaxTokens = *cfg.LLM.MaxTokens
	}
	if s := strings.TrimSpace(cfg.LLM.Timeout); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parsing %s: llm.timeout: %w", path, err)
		}
		out.LLM.Timeout = d
	}

	if labels := cleanLabels(cfg.Intents.Labels); len(labels) > 0 {
		out.Intents.Labels = labels
	}
	if cfg.Intents.Prefix != nil {
		out.Intents.Prefix = strings.TrimSpace(*cfg.Intents.Prefix)
	}
	if s := strings.TrimSpace(cfg.Intents.Sentinel); s != "" {
		out.Intents.Sentinel = s
		out.Intents.Fallback = s
	}
	if s := strings.TrimSpace(cfg.Intents.Fallback); s != "" {
		out.Intents.Fallback = s
	}
	if cfg.Intents.Strict != nil {
		out.Intents.Strict = *cfg.Intents.Strict
	}

	if cfg.Extraction.PromptChars != nil {
		out.Extraction.PromptChars = *cfg.Extraction.PromptChars
	}
	if cfg.Extraction.JSONFields != nil {
		out.Extraction.JSONFields = cleanLabels(*cfg.Extraction.JSONFields)
	}
	if cfg.Reader.ParseMIME != nil {
		out.Reader.ParseMIME = *cfg.Reader.ParseMIME
	}
	if s := strings.TrimSpace(cfg.Log.Format); s != "" {
		out.Log.Format = strings.ToLower(s)
	}
	return nil
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	switch c.Extraction.Mode.Value {
	case ModeAIWithFallback, ModeRules, ModeAI:
	default:
		return fmt.Errorf("invalid extraction mode %q (from %s): expected %s, %s or %s",
			c.Extraction.Mode.Value, c.Extraction.Mode.From, ModeAIWithFallback, ModeRules, ModeAI)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be within 0..2, got %v", c.LLM.Temperature)
	}
	if c.LLM.TopP <= 0 || c.LLM.TopP > 1 {
		return fmt.Errorf("llm.top_p must be within (0, 1], got %v", c.LLM.TopP)
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens must be positive, got %d", c.LLM.MaxTokens)
	}
	if c.Extraction.PromptChars <= 0 {
		return fmt.Errorf("extraction.prompt_chars must be positive, got %d", c.Extraction.PromptChars)
	}
	if len(c.Intents.Labels) == 0 {
		return fmt.Errorf("intents.labels cannot be empty")
	}
	if strings.TrimSpace(c.Intents.Fallback) == "" {
		return fmt.Errorf("intents.fallback cannot be empty")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q: expected text or json", c.Log.Format)
	}
	return nil
}

// Masked returns a copy safe to print: the API key is reduced to its last
// four characters.
func (c Config) Masked() Config {
	out := c
	out.Intents.Labels = append([]string(nil), c.Intents.Labels...)
	out.Extraction.JSONFields = append([]string(nil), c.Extraction.JSONFields...)
	if k := c.LLM.APIKey.Value; k != "" {
		if len(k) > 4 {
			out.LLM.APIKey.Value = "****" + k[len(k)-4:]
		} else {
			out.LLM.APIKey.Value = "****"
		}
	}
	return out
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

// loadDotEnv populates the process environment from a .env file. Variables
// already present in the environment are not overridden.
func loadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
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

func cleanLabels(labels []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
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
