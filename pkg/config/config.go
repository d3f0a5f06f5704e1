package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable the configuration reads
const EnvPrefix = "COURSEDL_"

// Config holds all configuration options for the course downloader
type Config struct {
	Site        SiteConfig        `yaml:"site" json:"site"`
	Credentials CredentialsConfig `yaml:"credentials" json:"credentials"`
	Output      OutputConfig      `yaml:"output" json:"output"`
	Download    DownloadConfig    `yaml:"download" json:"download"`
	Resolver    ResolverConfig    `yaml:"resolver" json:"resolver"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit" json:"rate_limit"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
}

// SiteConfig describes the course site: where its login form lives, which
// form fields carry the credentials and how a logged-in page is recognised.
// The browser-like headers are sent on every session request.
type SiteConfig struct {
	BaseURL            string `yaml:"base_url" json:"base_url"`
	AccountPath        string `yaml:"account_path" json:"account_path"`
	LoginField         string `yaml:"login_field" json:"login_field"`
	PasswordField      string `yaml:"password_field" json:"password_field"`
	LoggedInMarker     string `yaml:"logged_in_marker" json:"logged_in_marker"`
	LoginFormID        string `yaml:"login_form_id" json:"login_form_id"`
	UserAgent          string `yaml:"user_agent" json:"user_agent"`
	Accept             string `yaml:"accept" json:"accept"`
	AcceptLanguage     string `yaml:"accept_language" json:"accept_language"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" json:"insecure_skip_verify"`
}

// CredentialsConfig holds the site account. The password is never written
// back by Save.
type CredentialsConfig struct {
	Login    string `yaml:"login" json:"login"`
	Password string `yaml:"-" json:"-"`
}

// OutputConfig holds output directory configuration
type OutputConfig struct {
	BaseDirectory string `yaml:"base_directory" json:"base_directory"`
}

// DownloadConfig controls dispatch and transfer behaviour
type DownloadConfig struct {
	Concurrent      bool `yaml:"concurrent" json:"concurrent"`
	Workers         int  `yaml:"workers" json:"workers"`
	ContinueOnError bool `yaml:"continue_on_error" json:"continue_on_error"`
	ChunkSize       int  `yaml:"chunk_size" json:"chunk_size"`
	ShowProgress    bool `yaml:"show_progress" json:"show_progress"`
}

// ResolverConfig selects how a player page is turned into a media URL
type ResolverConfig struct {
	Strategy     string   `yaml:"strategy" json:"strategy"`
	Qualities    []string `yaml:"qualities" json:"qualities"`
	VideoPattern string   `yaml:"video_pattern" json:"video_pattern"`
}

// RateLimitConfig paces session requests; zero disables pacing
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

const (
	StrategyStructured = "structured"
	StrategyPattern    = "pattern"
)

// DefaultVideoPattern matches signed CDN URLs embedded in a player page
const DefaultVideoPattern = `"url":"https://pdlvimeocdn-a\.akamaihd\.net/\d+/\d+/\d+\.mp4\?token2=\d+_\w+&aksessionid=\w+"`

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			BaseURL:        "http://cartoonsmart.com",
			AccountPath:    "/checkout-2/my-account/",
			LoginField:     "edd_user_login",
			PasswordField:  "edd_user_pass",
			LoggedInMarker: "Log Out</a>",
			LoginFormID:    "edd_login_form",
			UserAgent:      "Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:38.0) Gecko/20100101 Firefox/38.0",
			Accept:         "*/*",
			AcceptLanguage: "en-US,en;q=0.5",
		},
		Output: OutputConfig{
			BaseDirectory: "",
		},
		Download: DownloadConfig{
			Concurrent:   false,
			Workers:      4,
			ChunkSize:    256 * 1024,
			ShowProgress: true,
		},
		Resolver: ResolverConfig{
			Strategy:     StrategyStructured,
			Qualities:    []string{"hd", "sd", "mobile"},
			VideoPattern: DefaultVideoPattern,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// AccountURL is the page that hosts the login form
func (c *Config) AccountURL() string {
	return strings.TrimRight(c.Site.BaseURL, "/") + "/" + strings.TrimLeft(c.Site.AccountPath, "/")
}

// LoadFromEnv overrides configuration from COURSEDL_* environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	setString := func(name string, dst *string) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	setBool := func(name string, dst *bool) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	setInt := func(name string, dst *int) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}

	setString("BASE_URL", &c.Site.BaseURL)
	setString("USER_AGENT", &c.Site.UserAgent)
	setBool("INSECURE_SKIP_VERIFY", &c.Site.InsecureSkipVerify)
	setString("LOGIN", &c.Credentials.Login)
	setString("PASSWORD", &c.Credentials.Password)
	setString("OUTPUT_DIR", &c.Output.BaseDirectory)
	setBool("CONCURRENT", &c.Download.Concurrent)
	setInt("WORKERS", &c.Download.Workers)
	setBool("CONTINUE_ON_ERROR", &c.Download.ContinueOnError)
	setString("RESOLVER_STRATEGY", &c.Resolver.Strategy)
	setInt("REQUESTS_PER_MINUTE", &c.RateLimit.RequestsPerMinute)
	setString("LOG_LEVEL", &c.Logging.Level)
	setString("LOG_FILE", &c.Logging.File)

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file. An empty path searches
// the default locations; finding nothing there is not an error.
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	locations := []string{
		".coursedl.yaml",
		".coursedl.yml",
		filepath.Join(home, ".config", "coursedl", "config.yaml"),
		filepath.Join(home, ".coursedl.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}
	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Site.BaseURL == "" {
		errs = append(errs, errors.New("site base URL is required"))
	}
	if c.Site.LoginField == "" || c.Site.PasswordField == "" {
		errs = append(errs, errors.New("login and password form field names are required"))
	}
	if c.Site.LoggedInMarker == "" {
		errs = append(errs, errors.New("logged-in marker is required"))
	}

	if c.Download.Workers <= 0 {
		errs = append(errs, errors.New("workers must be positive"))
	}
	if c.Download.ChunkSize <= 0 {
		errs = append(errs, errors.New("chunk size must be positive"))
	}

	switch c.Resolver.Strategy {
	case StrategyStructured:
		if len(c.Resolver.Qualities) == 0 {
			errs = append(errs, errors.New("structured resolver needs at least one quality tier"))
		}
	case StrategyPattern:
		if _, err := regexp.Compile(c.Resolver.VideoPattern); err != nil {
			errs = append(errs, fmt.Errorf("invalid video pattern: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown resolver strategy %q", c.Resolver.Strategy))
	}

	if c.RateLimit.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("requests per minute cannot be negative"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "disabled": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Errorf("invalid log level %q", c.Logging.Level))
	}

	return errors.Join(errs...)
}

// Save writes the configuration as YAML
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags applies flags that were explicitly set on the command line
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["login"].(string); ok && v != "" {
		c.Credentials.Login = v
	}
	if v, ok := flags["password"].(string); ok && v != "" {
		c.Credentials.Password = v
	}
	if v, ok := flags["output"].(string); ok && v != "" {
		c.Output.BaseDirectory = v
	}
	if v, ok := flags["concurrent"].(bool); ok {
		c.Download.Concurrent = v
	}
	if v, ok := flags["workers"].(int); ok && v > 0 {
		c.Download.Workers = v
	}
	if v, ok := flags["keep-going"].(bool); ok {
		c.Download.ContinueOnError = v
	}
	if v, ok := flags["no-progress"].(bool); ok && v {
		c.Download.ShowProgress = false
	}
	if v, ok := flags["strategy"].(string); ok && v != "" {
		c.Resolver.Strategy = v
	}
	if v, ok := flags["rate-limit"].(int); ok && v >= 0 {
		c.RateLimit.RequestsPerMinute = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
}

// Load loads configuration from all sources with proper precedence:
// command line flags > environment variables (.env included) > config file > defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	if home, err := os.UserHomeDir(); err == nil {
		_ = godotenv.Load(filepath.Join(home, ".coursedl.env"))
	}

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
