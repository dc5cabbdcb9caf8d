package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the application's configuration.
type Config struct {
	LLM struct {
		APIKey          string  `yaml:"api_key"`
		Model           string  `yaml:"model"`
		Temperature     float32 `yaml:"temperature"`
		MaxOutputTokens int32   `yaml:"max_output_tokens"`
	} `yaml:"llm"`

	Cache struct {
		Enabled    bool  `yaml:"enabled"`
		TTLSeconds int64 `yaml:"ttl_seconds"`
		MaxEntries int   `yaml:"max_entries"`
	} `yaml:"cache"`

	Dedupe struct {
		Enabled    bool    `yaml:"enabled"`
		Threshold  float64 `yaml:"threshold"`
		WindowDays int     `yaml:"window_days"`
	} `yaml:"dedupe"`

	RateLimit struct {
		WindowSeconds  int64 `yaml:"window_seconds"`
		MaxCalls       int   `yaml:"max_calls"`
		MaxWaitSeconds int64 `yaml:"max_wait_seconds"`
		MaxRetries     int   `yaml:"max_retries"`
		BackoffSeconds int64 `yaml:"backoff_seconds"`
	} `yaml:"rate_limit"`

	Costs struct {
		PromptPer1KTokens     float64 `yaml:"prompt_per_1k_tokens"`
		CompletionPer1KTokens float64 `yaml:"completion_per_1k_tokens"`
	} `yaml:"costs"`

	Pipeline struct {
		PersonasPath     string `yaml:"personas_path"`
		MaxRewritePasses int    `yaml:"max_rewrite_passes"`
		DryRun           bool   `yaml:"dry_run"`
	} `yaml:"pipeline"`

	Queue struct {
		Path               string `yaml:"path"`
		ExpirePendingHours int    `yaml:"expire_pending_hours"`
	} `yaml:"queue"`

	Exports struct {
		Enabled       bool   `yaml:"enabled"`
		ExportDir     string `yaml:"export_dir"`
		MasterCSV     bool   `yaml:"master_csv"`
		MasterCSVPath string `yaml:"master_csv_path"`
	} `yaml:"exports"`

	Scout struct {
		Feeds         []Feed  `yaml:"feeds"`
		Delay         float64 `yaml:"delay_seconds"`
		MaxRetries    int     `yaml:"max_retries"`
		BackoffFactor float64 `yaml:"backoff_factor"`
		MaxItems      int     `yaml:"max_items"`
	} `yaml:"scout"`

	Scheduler struct {
		Enabled       bool  `yaml:"enabled"`
		IntervalHours int64 `yaml:"interval_hours"`
	} `yaml:"scheduler"`

	Telegram struct {
		Enabled        bool    `yaml:"enabled"`
		BotToken       string  `yaml:"bot_token"`
		AllowedChatIDs []int64 `yaml:"allowed_chat_ids"`
	} `yaml:"telegram"`

	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Telemetry struct {
		Path string `yaml:"path"`
	} `yaml:"telemetry"`
}

// Feed describes one scraped topic source.
type Feed struct {
	Name          string `yaml:"name"`
	URL           string `yaml:"url"`
	ItemSelector  string `yaml:"item_selector"`
	TitleSelector string `yaml:"title_selector"`
	LinkSelector  string `yaml:"link_selector"`
	Priority      int    `yaml:"priority"`
}

// LoadConfig reads configuration from the specified YAML file.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.applyDefaults()

	// Expand environment variables in secrets
	config.LLM.APIKey = os.ExpandEnv(config.LLM.APIKey)
	config.Telegram.BotToken = os.ExpandEnv(config.Telegram.BotToken)

	return config, nil
}

// Default returns a configuration with every default filled in, used by
// tests and as the base when no file is present.
func Default() *Config {
	config := &Config{}
	config.Cache.Enabled = true
	config.Dedupe.Enabled = true
	config.Exports.Enabled = true
	config.applyDefaults()
	return config
}

func (c *Config) applyDefaults() {
	if c.LLM.Model == "" {
		c.LLM.Model = "gemini-2.0-flash-lite"
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.8
	}
	if c.LLM.MaxOutputTokens == 0 {
		c.LLM.MaxOutputTokens = 900
	}

	if c.Cache.TTLSeconds == 0 {
		c.Cache.TTLSeconds = 7 * 24 * 3600
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 5000
	}

	if c.Dedupe.Threshold == 0 {
		c.Dedupe.Threshold = 0.82
	}
	if c.Dedupe.WindowDays == 0 {
		c.Dedupe.WindowDays = 1
	}

	if c.RateLimit.WindowSeconds == 0 {
		c.RateLimit.WindowSeconds = 60
	}
	if c.RateLimit.MaxCalls == 0 {
		c.RateLimit.MaxCalls = 12
	}
	if c.RateLimit.MaxWaitSeconds == 0 {
		c.RateLimit.MaxWaitSeconds = 30
	}
	if c.RateLimit.MaxRetries == 0 {
		c.RateLimit.MaxRetries = 3
	}
	if c.RateLimit.BackoffSeconds == 0 {
		c.RateLimit.BackoffSeconds = 12
	}

	if c.Costs.PromptPer1KTokens == 0 {
		c.Costs.PromptPer1KTokens = 0.15
	}
	if c.Costs.CompletionPer1KTokens == 0 {
		c.Costs.CompletionPer1KTokens = 0.60
	}

	if c.Pipeline.PersonasPath == "" {
		c.Pipeline.PersonasPath = "configs/personas.yml"
	}
	if c.Pipeline.MaxRewritePasses == 0 {
		c.Pipeline.MaxRewritePasses = 1
	}

	if c.Queue.Path == "" {
		c.Queue.Path = "./data/content.db"
	}
	if c.Queue.ExpirePendingHours == 0 {
		c.Queue.ExpirePendingHours = 48
	}

	if c.Exports.ExportDir == "" {
		c.Exports.ExportDir = "data/exports"
	}
	if c.Exports.MasterCSVPath == "" {
		c.Exports.MasterCSVPath = "data/exports/all_runs.csv"
	}

	if c.Scout.Delay == 0 {
		c.Scout.Delay = 0.5
	}
	if c.Scout.MaxRetries == 0 {
		c.Scout.MaxRetries = 3
	}
	if c.Scout.BackoffFactor == 0 {
		c.Scout.BackoffFactor = 2.0
	}
	if c.Scout.MaxItems == 0 {
		c.Scout.MaxItems = 10
	}

	if c.Scheduler.IntervalHours == 0 {
		c.Scheduler.IntervalHours = 6
	}

	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}

	if c.Telemetry.Path == "" {
		c.Telemetry.Path = "data/run_logs.jsonl"
	}
}
