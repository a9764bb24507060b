package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

const dateLayout = "2006-01-02"

// Config represents the application configuration
type Config struct {
	Data     DataConfig     `yaml:"data"`
	Training TrainingConfig `yaml:"training"`
	Output   OutputConfig   `yaml:"output"`
	Log      LogConfig      `yaml:"log"`
	Store    StoreConfig    `yaml:"store"`
	Server   ServerConfig   `yaml:"server"`
	Schedule ScheduleConfig `yaml:"schedule"`
}

// DataConfig holds price source settings
type DataConfig struct {
	CSVDir         string        `yaml:"csv_dir"`                       // tried before Yahoo when set
	YahooRateLimit int           `yaml:"yahoo_rate_limit" default:"30"` // requests per minute
	Timeout        time.Duration `yaml:"timeout" default:"30s"`
	Cache          bool          `yaml:"cache" default:"true"` // server only
	CacheTTL       time.Duration `yaml:"cache_ttl" default:"6h"`
	CacheSize      int           `yaml:"cache_size" default:"256"` // cached ranges

	AlphaVantageKey       string `yaml:"alphavantage_key"` // tried after Yahoo when set
	AlphaVantageRateLimit int    `yaml:"alphavantage_rate_limit" default:"5"`
}

// TrainingConfig holds run and model defaults
type TrainingConfig struct {
	WindowLength int     `yaml:"window_length" default:"60"`
	Epochs       int     `yaml:"epochs" default:"25"`
	BatchSize    int     `yaml:"batch_size" default:"32"`
	Units        int     `yaml:"units" default:"50"`
	LearningRate float64 `yaml:"learning_rate" default:"0.01"`
	Seed         uint64  `yaml:"seed" default:"42"`
	TrainStart   string  `yaml:"train_start" default:"2010-01-01"`
	TrainEnd     string  `yaml:"train_end" default:"2022-01-01"`
}

// OutputConfig holds presentation settings
type OutputConfig struct {
	Dir    string `yaml:"dir" default:"."`
	Format string `yaml:"format" default:"table"` // table, json
	Chart  bool   `yaml:"chart" default:"true"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `yaml:"level" default:"info"`
	Format string `yaml:"format" default:"console"` // console, json
	Output string `yaml:"output" default:"stderr"`  // stdout, stderr or a file path
}

// StoreConfig holds run history settings
type StoreConfig struct {
	Path string `yaml:"path" default:"pricecast.db"` // empty disables history
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port         int           `yaml:"port" default:"8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" default:"30s"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"120s"`
	MaxRuns      int           `yaml:"max_runs" default:"2"` // concurrent runs
}

// ScheduleConfig holds periodic runs for the server
type ScheduleConfig struct {
	Cron    string   `yaml:"cron"` // e.g. "0 22 * * 1-5"; empty disables
	Symbols []string `yaml:"symbols"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		data = nil // Use defaults if file doesn't exist
	}

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// Override with environment variables if set
	if dir := os.Getenv("PRICECAST_DATA_DIR"); dir != "" {
		cfg.Data.CSVDir = dir
	}
	if key := os.Getenv("ALPHAVANTAGE_API_KEY"); key != "" {
		cfg.Data.AlphaVantageKey = key
	}
	if db := os.Getenv("PRICECAST_DB"); db != "" {
		cfg.Store.Path = db
	}
	if lvl := os.Getenv("PRICECAST_LOG_LEVEL"); lvl != "" {
		cfg.Log.Level = lvl
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	t := c.Training
	if t.WindowLength < 1 || t.Epochs < 1 || t.BatchSize < 1 {
		return fmt.Errorf("window_length, epochs and batch_size must be at least 1")
	}
	if t.Units < 1 {
		return fmt.Errorf("units must be at least 1")
	}
	if t.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be positive")
	}
	start, end, err := c.TrainingRange()
	if err != nil {
		return err
	}
	if !end.After(start) {
		return fmt.Errorf("train_end must be after train_start")
	}
	if c.Data.YahooRateLimit < 1 || c.Data.AlphaVantageRateLimit < 1 {
		return fmt.Errorf("provider rate limits must be at least 1")
	}
	switch c.Output.Format {
	case "table", "json":
	default:
		return fmt.Errorf("output format must be table or json, got %q", c.Output.Format)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", c.Server.Port)
	}
	if c.Server.MaxRuns < 1 {
		return fmt.Errorf("max_runs must be at least 1")
	}
	if c.Schedule.Cron != "" && len(c.Schedule.Symbols) == 0 {
		return fmt.Errorf("schedule needs at least one symbol")
	}
	return nil
}

// TrainingRange parses the configured training dates
func (c *Config) TrainingRange() (start, end time.Time, err error) {
	start, err = time.Parse(dateLayout, c.Training.TrainStart)
	if err != nil {
		return start, end, fmt.Errorf("parsing train_start: %w", err)
	}
	end, err = time.Parse(dateLayout, c.Training.TrainEnd)
	if err != nil {
		return start, end, fmt.Errorf("parsing train_end: %w", err)
	}
	return start, end, nil
}
