package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
)

// EnvVarPrefix is prepended to every flag name when reading the environment
const EnvVarPrefix = "BILL_EXPLAINER"

// Engine backends
const (
	EngineGemini = "gemini"
	EngineOpenAI = "openai"
	EngineOllama = "ollama"
)

// Store backends
const (
	StoreSupabase = "supabase"
	StorePostgres = "postgres"
	StoreBolt     = "bolt"
)

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the server settings
type Config struct {
	Port int

	Engine        string
	GeminiKey     string
	GeminiModel   string
	OpenAIKey     string
	OpenAIModel   string
	OpenAIBaseURL string
	OllamaURL     string
	OllamaModel   string

	Store    string
	StoreURL string
	StoreKey string
	BoltPath string

	MaxImageMB        int
	RateLimit         int
	RateWindowSeconds int
	CORSOrigins       string
	TrustProxy        bool

	ShowVersion bool
}

// Load reads an optional .env file, then parses flags, BILL_EXPLAINER_* env
// vars and an optional --config file. Unset credentials fall back to the
// conventional provider env names.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	flags := ff.NewFlagSet("bill-explainer")
	var (
		port          = flags.IntLong("port", 8080, "HTTP server port")
		engineType    = flags.StringLong("engine", EngineGemini, "Analysis engine: 'gemini', 'openai' or 'ollama'")
		geminiKey     = flags.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel   = flags.StringLong("gemini-model", "gemini-1.5-flash", "Google Gemini model name")
		openaiKey     = flags.StringLong("openai-key", "", "OpenAI API key (or set OPENAI_API_KEY env var)")
		openaiModel   = flags.StringLong("openai-model", "gpt-4o-mini", "OpenAI model name")
		openaiBaseURL = flags.StringLong("openai-base-url", "", "OpenAI-compatible API base URL (optional)")
		ollamaURL     = flags.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel   = flags.StringLong("ollama-model", "llava", "Ollama vision model name")
		storeType     = flags.StringLong("store", StoreSupabase, "Analysis store: 'supabase', 'postgres' or 'bolt'")
		storeURL      = flags.StringLong("store-url", "", "Supabase project URL or Postgres connection URL (or set SUPABASE_URL / DATABASE_URL)")
		storeKey      = flags.StringLong("store-key", "", "Supabase API key (or set SUPABASE_ANON_KEY env var)")
		boltPath      = flags.StringLong("db", "bill-explainer.db", "BoltDB file path for the bolt store")
		maxImageMB    = flags.IntLong("max-image-mb", 10, "Maximum decoded image size in MiB")
		rateLimit     = flags.IntLong("rate-limit", 10, "API requests allowed per client per window (0 disables)")
		rateWindow    = flags.IntLong("rate-window", 60, "Rate limit window in seconds")
		corsOrigins   = flags.StringLong("cors-origins", "*", "Comma-separated allowed CORS origins")
		trustProxy    = flags.BoolLong("trust-proxy", "Take client IPs from X-Forwarded-For / X-Real-IP (only behind a trusted proxy)")
		showVersion   = flags.BoolLong("version", "Show version information")
		_             = flags.StringLong("config", "", "Config file (optional)")
	)

	if err := ff.Parse(flags, args,
		ff.WithEnvVarPrefix(EnvVarPrefix),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	); err != nil {
		return nil, fmt.Errorf("%w\n%s", err, ffhelp.Flags(flags))
	}

	cfg := &Config{
		Port:              *port,
		Engine:            strings.ToLower(strings.TrimSpace(*engineType)),
		GeminiKey:         fallback(*geminiKey, "GEMINI_API_KEY"),
		GeminiModel:       *geminiModel,
		OpenAIKey:         fallback(*openaiKey, "OPENAI_API_KEY"),
		OpenAIModel:       *openaiModel,
		OpenAIBaseURL:     *openaiBaseURL,
		OllamaURL:         *ollamaURL,
		OllamaModel:       *ollamaModel,
		Store:             strings.ToLower(strings.TrimSpace(*storeType)),
		StoreURL:          *storeURL,
		StoreKey:          *storeKey,
		BoltPath:          *boltPath,
		MaxImageMB:        *maxImageMB,
		RateLimit:         *rateLimit,
		RateWindowSeconds: *rateWindow,
		CORSOrigins:       *corsOrigins,
		TrustProxy:        *trustProxy,
		ShowVersion:       *showVersion,
	}

	switch cfg.Store {
	case StoreSupabase:
		cfg.StoreURL = fallback(cfg.StoreURL, "SUPABASE_URL")
		cfg.StoreKey = fallback(cfg.StoreKey, "SUPABASE_ANON_KEY")
	case StorePostgres:
		cfg.StoreURL = fallback(cfg.StoreURL, "DATABASE_URL")
	}

	return cfg, nil
}

// Validate reports every missing or malformed setting at once
func (c *Config) Validate() error {
	var problems []string

	if c.Port <= 0 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("port %d is out of range", c.Port))
	}

	switch c.Engine {
	case EngineGemini:
		if c.GeminiKey == "" {
			problems = append(problems, "Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
		}
	case EngineOpenAI:
		if c.OpenAIKey == "" {
			problems = append(problems, "OpenAI API key is required. Set --openai-key flag or OPENAI_API_KEY environment variable")
		}
	case EngineOllama:
		if c.OllamaURL == "" {
			problems = append(problems, "Ollama URL is required")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown engine %q, valid: gemini, openai or ollama", c.Engine))
	}

	switch c.Store {
	case StoreSupabase:
		if c.StoreURL == "" {
			problems = append(problems, "Supabase URL is required. Set --store-url flag or SUPABASE_URL environment variable")
		}
		if c.StoreKey == "" {
			problems = append(problems, "Supabase key is required. Set --store-key flag or SUPABASE_ANON_KEY environment variable")
		}
	case StorePostgres:
		if c.StoreURL == "" {
			problems = append(problems, "Postgres URL is required. Set --store-url flag or DATABASE_URL environment variable")
		}
	case StoreBolt:
		if c.BoltPath == "" {
			problems = append(problems, "BoltDB path is required. Set --db flag")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown store %q, valid: supabase, postgres or bolt", c.Store))
	}

	if c.MaxImageMB <= 0 {
		problems = append(problems, "max image size must be positive")
	}
	if c.RateLimit < 0 {
		problems = append(problems, "rate limit must not be negative")
	}
	if c.RateLimit > 0 && c.RateWindowSeconds <= 0 {
		problems = append(problems, "rate window must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Addr is the listen address for the HTTP server
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// MaxImageBytes converts the configured limit to bytes
func (c *Config) MaxImageBytes() int {
	return c.MaxImageMB << 20
}

// RateWindow converts the configured window to a duration
func (c *Config) RateWindow() time.Duration {
	return time.Duration(c.RateWindowSeconds) * time.Second
}

// AllowedOrigins splits the CORS origin list
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

// fallback returns value, or the named env var when value is empty
func fallback(value, envName string) string {
	if value != "" {
		return value
	}
	return os.Getenv(envName)
}
