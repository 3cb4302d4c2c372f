package relwatch

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default source: the GOV.UK Energy Trends section 3 page and its quarterly
// ET 3.1 table.
const (
	DefaultPageURL        = "https://www.gov.uk/government/statistics/oil-and-oil-products-section-3-energy-trends"
	DefaultEncodingFormat = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	DefaultName           = "Supply and use of crude oil, natural gas liquids and feedstocks (ET 3.1 - quarterly)"
)

// State backends.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
)

// Config holds all relwatch configuration.
type Config struct {
	Source   SourceConfig   `yaml:"source"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Table    TableConfig    `yaml:"table"`
	Storage  StorageConfig  `yaml:"storage"`
	Schedule ScheduleConfig `yaml:"schedule"`
	HTTP     HTTPConfig     `yaml:"http"`
}

// SourceConfig names the publication page and the distribution to watch.
type SourceConfig struct {
	PageURL        string `yaml:"page_url"`
	EncodingFormat string `yaml:"encoding_format"`
	Name           string `yaml:"name"`
}

// FetchConfig controls page and file downloads.
type FetchConfig struct {
	Attempts     int           `yaml:"attempts"`
	BaseDelay    time.Duration `yaml:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Jitter       float64       `yaml:"jitter"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxBytes     int64         `yaml:"max_bytes"`
	UserAgent    string        `yaml:"user_agent"`
	AllowPrivate bool          `yaml:"allow_private"`
}

// TableConfig locates the table in the workbook.
type TableConfig struct {
	Sheet    string `yaml:"sheet"`
	Sentinel string `yaml:"sentinel"`
	KeyName  string `yaml:"key_name"`
}

// StorageConfig locates state and artifacts.
type StorageConfig struct {
	DBPath       string        `yaml:"db_path"`
	BusyTimeout  time.Duration `yaml:"busy_timeout"`
	Synchronous  string        `yaml:"synchronous"`   // OFF, NORMAL, FULL or EXTRA
	StateBackend string        `yaml:"state_backend"` // "sqlite" or "file"
	StateFile    string        `yaml:"state_file"`
	RawDir       string        `yaml:"raw_dir"`
	CleanDir     string        `yaml:"clean_dir"`
	RawPrefix    string        `yaml:"raw_prefix"`
	CleanPrefix  string        `yaml:"clean_prefix"`
}

// ScheduleConfig controls daemon mode.
type ScheduleConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// HTTPConfig controls the read-only status server. Empty Addr disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

func (c *Config) defaults() {
	if c.Source.PageURL == "" {
		c.Source.PageURL = DefaultPageURL
	}
	if c.Source.EncodingFormat == "" {
		c.Source.EncodingFormat = DefaultEncodingFormat
	}
	if c.Source.Name == "" {
		c.Source.Name = DefaultName
	}
	if c.Fetch.Attempts <= 0 {
		c.Fetch.Attempts = 5
	}
	if c.Fetch.BaseDelay <= 0 {
		c.Fetch.BaseDelay = time.Second
	}
	if c.Fetch.MaxDelay <= 0 {
		c.Fetch.MaxDelay = 30 * time.Second
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = 60 * time.Second
	}
	if c.Fetch.MaxBytes <= 0 {
		c.Fetch.MaxBytes = 64 << 20
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = "relwatch/1.0"
	}
	if c.Table.Sheet == "" {
		c.Table.Sheet = "Quarter"
	}
	if c.Table.Sentinel == "" {
		c.Table.Sentinel = "Column1"
	}
	if c.Table.KeyName == "" {
		c.Table.KeyName = "Key"
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = "relwatch.db"
	}
	if c.Storage.BusyTimeout <= 0 {
		c.Storage.BusyTimeout = 10 * time.Second
	}
	if c.Storage.Synchronous == "" {
		c.Storage.Synchronous = "NORMAL"
	}
	if c.Storage.StateBackend == "" {
		c.Storage.StateBackend = BackendSQLite
	}
	if c.Storage.StateFile == "" {
		c.Storage.StateFile = "cache.json"
	}
	if c.Storage.RawDir == "" {
		c.Storage.RawDir = "Raw_Files"
	}
	if c.Storage.CleanDir == "" {
		c.Storage.CleanDir = "Clean_Files"
	}
	if c.Storage.RawPrefix == "" {
		c.Storage.RawPrefix = "Crude_Oil_Supply_Use_ET3.1"
	}
	if c.Storage.CleanPrefix == "" {
		c.Storage.CleanPrefix = "Clean_Crude_Oil_Supply_Use"
	}
	if c.Schedule.Interval <= 0 {
		c.Schedule.Interval = 24 * time.Hour
	}
}

// Validate reports configuration errors that defaults cannot fix.
func (c *Config) Validate() error {
	switch c.Storage.StateBackend {
	case BackendSQLite, BackendFile:
	default:
		return fmt.Errorf("relwatch: unknown state backend %q", c.Storage.StateBackend)
	}
	switch strings.ToUpper(c.Storage.Synchronous) {
	case "OFF", "NORMAL", "FULL", "EXTRA":
	default:
		return fmt.Errorf("relwatch: unknown storage.synchronous %q", c.Storage.Synchronous)
	}
	if c.Fetch.Jitter < 0 || c.Fetch.Jitter > 1 {
		return fmt.Errorf("relwatch: fetch.jitter %v out of range [0,1]", c.Fetch.Jitter)
	}
	return nil
}

// ApplyEnv overrides fields from RELWATCH_* environment variables.
func (c *Config) ApplyEnv() error {
	str := map[string]*string{
		"RELWATCH_PAGE_URL":      &c.Source.PageURL,
		"RELWATCH_DB_PATH":       &c.Storage.DBPath,
		"RELWATCH_STATE_BACKEND": &c.Storage.StateBackend,
		"RELWATCH_STATE_FILE":    &c.Storage.StateFile,
		"RELWATCH_RAW_DIR":       &c.Storage.RawDir,
		"RELWATCH_CLEAN_DIR":     &c.Storage.CleanDir,
		"RELWATCH_HTTP_ADDR":     &c.HTTP.Addr,
		"RELWATCH_USER_AGENT":    &c.Fetch.UserAgent,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("RELWATCH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("relwatch: RELWATCH_INTERVAL: %w", err)
		}
		c.Schedule.Interval = d
	}
	if v := os.Getenv("RELWATCH_FETCH_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("relwatch: RELWATCH_FETCH_ATTEMPTS: %w", err)
		}
		c.Fetch.Attempts = n
	}
	if v := os.Getenv("RELWATCH_ALLOW_PRIVATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("relwatch: RELWATCH_ALLOW_PRIVATE: %w", err)
		}
		c.Fetch.AllowPrivate = b
	}
	return nil
}

// LoadConfigFile reads a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
