package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/nevindra/rlm/observer"
)

type Config struct {
	LLM      LLMConfig      `toml:"llm"`
	SubLLM   LLMConfig      `toml:"sub_llm"`
	RLM      RLMConfig      `toml:"rlm"`
	Sandbox  SandboxConfig  `toml:"sandbox"`
	Store    StoreConfig    `toml:"store"`
	Observer ObserverConfig `toml:"observer"`
	Log      LogConfig      `toml:"log"`
}

type LLMConfig struct {
	Provider    string   `toml:"provider"`
	Model       string   `toml:"model"`
	APIKey      string   `toml:"api_key"`
	BaseURL     string   `toml:"base_url"`
	Temperature *float64 `toml:"temperature"`
	Thinking    *bool    `toml:"thinking"`
	// ReasoningEffort applies to OpenAI-compatible providers only.
	ReasoningEffort string `toml:"reasoning_effort"`
	MaxAttempts     int    `toml:"max_attempts"`
	RPM             int    `toml:"rpm"`
	TPM             int    `toml:"tpm"`
}

type RLMConfig struct {
	MaxIterations  int    `toml:"max_iterations"`
	EnableLogging  bool   `toml:"enable_logging"`
	MaxResultChars int    `toml:"max_result_chars"`
	MaxTokens      int    `toml:"max_tokens"`
	SystemPrompt   string `toml:"system_prompt"`
}

type SandboxConfig struct {
	Driver    string        `toml:"driver"` // "local", "docker" or "remote"
	PythonBin string        `toml:"python_bin"`
	Workspace string        `toml:"workspace"`
	Timeout   time.Duration `toml:"timeout"`
	// KillGrace is how long past Timeout a stuck interpreter is given
	// before it is killed.
	KillGrace time.Duration `toml:"kill_grace"`
	// EnvPassthrough gives the local interpreter the full environment.
	EnvPassthrough bool `toml:"env_passthrough"`

	Image    string  `toml:"image"`
	MemoryMB int64   `toml:"memory_mb"`
	CPUs     float64 `toml:"cpus"`
	URL      string  `toml:"url"`
	// CallbackAddr is the listen address of the llm_query callback server
	// used by the remote driver.
	CallbackAddr string `toml:"callback_addr"`
	// CallbackURL is the address the remote sandbox uses to reach the
	// callback server when it differs from CallbackAddr.
	CallbackURL string `toml:"callback_url"`
}

type StoreConfig struct {
	Driver   string        `toml:"driver"` // "none", "sqlite", "postgres" or "redis"
	Path     string        `toml:"path"`
	DSN      string        `toml:"dsn"`
	Schema   string        `toml:"schema"`
	Addr     string        `toml:"addr"`
	Password string        `toml:"password"`
	DB       int           `toml:"db"`
	TTL      time.Duration `toml:"ttl"`
}

type ObserverConfig struct {
	Enabled bool                              `toml:"enabled"`
	Pricing map[string]observer.ModelPricing `toml:"pricing"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		LLM: LLMConfig{Provider: "openai", Model: "gpt-5", MaxAttempts: 3},
		RLM: RLMConfig{MaxIterations: 20, MaxResultChars: 100_000},
		Sandbox: SandboxConfig{
			Driver:       "local",
			PythonBin:    "python3",
			Timeout:      5 * time.Minute,
			KillGrace:    10 * time.Second,
			Image:        "python:3.12-slim",
			MemoryMB:     512,
			CallbackAddr: "127.0.0.1:0",
		},
		Store: StoreConfig{Driver: "none", Path: "rlm.db"},
		Log:   LogConfig{Level: "info"},
	}
}

// Path returns the config file to read: RLM_CONFIG when set, else rlm.toml.
func Path() string {
	if v := os.Getenv("RLM_CONFIG"); v != "" {
		return v
	}
	return "rlm.toml"
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
// A missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = Path()
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)

	// Fallbacks
	if cfg.SubLLM.Provider == "" {
		cfg.SubLLM.Provider = cfg.LLM.Provider
		if cfg.SubLLM.BaseURL == "" {
			cfg.SubLLM.BaseURL = cfg.LLM.BaseURL
		}
	}
	if cfg.SubLLM.Model == "" {
		cfg.SubLLM.Model = cfg.LLM.Model
	}
	if cfg.SubLLM.APIKey == "" {
		cfg.SubLLM.APIKey = cfg.LLM.APIKey
	}
	if cfg.SubLLM.MaxAttempts == 0 {
		cfg.SubLLM.MaxAttempts = cfg.LLM.MaxAttempts
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.LLM.APIKey, "OPENAI_API_KEY")
	setString(&cfg.LLM.APIKey, "RLM_LLM_API_KEY")
	setString(&cfg.LLM.BaseURL, "OPENAI_BASE_URL")
	setString(&cfg.LLM.BaseURL, "RLM_LLM_BASE_URL")
	setString(&cfg.LLM.Provider, "RLM_LLM_PROVIDER")
	setString(&cfg.LLM.Model, "MAIN_MODEL")
	setString(&cfg.LLM.Model, "RLM_LLM_MODEL")
	setString(&cfg.SubLLM.Model, "RLM_SUB_MODEL")
	setString(&cfg.SubLLM.APIKey, "RLM_SUB_API_KEY")

	if v := os.Getenv("RLM_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RLM.MaxIterations = n
		}
	}
	if v := os.Getenv("RLM_ENABLE_LOGGING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RLM.EnableLogging = b
		}
	}

	setString(&cfg.Sandbox.Driver, "RLM_SANDBOX_DRIVER")
	setString(&cfg.Sandbox.PythonBin, "RLM_SANDBOX_PYTHON_BIN")
	setString(&cfg.Sandbox.Image, "RLM_SANDBOX_IMAGE")
	setString(&cfg.Sandbox.URL, "RLM_SANDBOX_URL")
	setString(&cfg.Sandbox.CallbackURL, "RLM_SANDBOX_CALLBACK_URL")
	if v := os.Getenv("RLM_SANDBOX_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Sandbox.Timeout = d
		}
	}

	setString(&cfg.Store.Driver, "RLM_STORE_DRIVER")
	setString(&cfg.Store.Path, "RLM_STORE_PATH")
	setString(&cfg.Store.DSN, "RLM_STORE_DSN")
	setString(&cfg.Store.Addr, "RLM_STORE_ADDR")
	setString(&cfg.Store.Password, "RLM_STORE_PASSWORD")

	if v := os.Getenv("RLM_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}
	setString(&cfg.Log.Level, "RLM_LOG_LEVEL")
}

// setString overwrites *dst with the named variable when it is set.
func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
