package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	appName = "calendar-service"

	DefaultGoogleCredentialsPath = "config/google_credentials.json"
	DefaultRedirectURL           = "http://localhost:8012/api/v1/calendar/auth/callback"
	DefaultFrontendURL           = "http://localhost:3000/jogos"
	DefaultTimeZone              = "America/Sao_Paulo"
	DefaultLocation              = "Ginásio IFRN"
	DefaultCalendarID            = "primary"
	DefaultListenAddr            = ":8012"
	DefaultBasePath              = "/api/v1/calendar"
	DefaultLogLevel              = "info"
	DefaultStoreDriver           = "sqlite"

	CalendarScope = "https://www.googleapis.com/auth/calendar"
)

// GoogleCredentials represents the structure of Google OAuth credentials JSON file.
type GoogleCredentials struct {
	Installed struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	} `json:"installed"`
	Web struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	} `json:"web"`
}

// LoadGoogleCredentials loads Google OAuth credentials from a JSON file.
func LoadGoogleCredentials(path string) (clientID, clientSecret string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to read credentials file: %w", err)
	}

	var creds GoogleCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return "", "", fmt.Errorf("failed to parse credentials file: %w", err)
	}

	// Try "web" first (server-side callback), then "installed"
	if creds.Web.ClientID != "" {
		return creds.Web.ClientID, creds.Web.ClientSecret, nil
	}
	if creds.Installed.ClientID != "" {
		return creds.Installed.ClientID, creds.Installed.ClientSecret, nil
	}

	return "", "", fmt.Errorf("no client_id found in credentials file (expected 'web' or 'installed' section)")
}

// StoreConfig selects the credential storage backend.
type StoreConfig struct {
	Driver     string `json:"driver,omitempty"`      // sqlite, postgres, badger, datastore or file
	DSN        string `json:"dsn,omitempty"`         // connection string or directory, depending on driver
	ProjectID  string `json:"project_id,omitempty"`  // datastore only
	DatabaseID string `json:"database_id,omitempty"` // datastore only
}

// Config holds the configuration for the calendar service.
type Config struct {
	GoogleCredentialsPath string      `json:"google_credentials_path,omitempty"`
	RedirectURL           string      `json:"redirect_url,omitempty"`
	FrontendURL           string      `json:"frontend_url,omitempty"` // where the OAuth callback sends the browser
	Scopes                []string    `json:"scopes,omitempty"`
	TimeZone              string      `json:"time_zone,omitempty"`
	DefaultLocation       string      `json:"default_location,omitempty"`
	CalendarID            string      `json:"calendar_id,omitempty"`
	ListenAddr            string      `json:"listen_addr,omitempty"`
	BasePath              string      `json:"base_path,omitempty"`
	AllowedOrigins        []string    `json:"allowed_origins,omitempty"`
	LogLevel              string      `json:"log_level,omitempty"`
	Store                 StoreConfig `json:"store"`
}

// Flags carries command-line overrides. Empty values leave the setting untouched.
type Flags struct {
	GoogleCredentialsPath string
	RedirectURL           string
	FrontendURL           string
	ListenAddr            string
	LogLevel              string
	StoreDriver           string
	StoreDSN              string
}

// LoadConfigFromFile loads configuration from a JSON file.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// LoadConfig loads configuration with the following precedence (highest to lowest):
// 1. Command-line flags
// 2. Environment variables
// 3. Config file
// 4. Defaults
// Returns an error if any value is invalid.
func LoadConfig(configFile string, flags Flags) (*Config, error) {
	var config Config

	// Step 1: Load from config file if provided
	if configFile != "" {
		fileConfig, err := LoadConfigFromFile(configFile)
		if err != nil {
			return nil, err
		}
		config = *fileConfig
	}

	// Step 2: Override with environment variables
	setFromEnv(&config.GoogleCredentialsPath, "GOOGLE_CREDENTIALS_PATH")
	setFromEnv(&config.RedirectURL, "OAUTH_REDIRECT_URL")
	setFromEnv(&config.FrontendURL, "FRONTEND_URL")
	setFromEnv(&config.TimeZone, "EVENT_TIME_ZONE")
	setFromEnv(&config.DefaultLocation, "EVENT_DEFAULT_LOCATION")
	setFromEnv(&config.ListenAddr, "LISTEN_ADDR")
	setFromEnv(&config.LogLevel, "LOG_LEVEL")
	setFromEnv(&config.Store.Driver, "STORE_DRIVER")
	setFromEnv(&config.Store.DSN, "STORE_DSN")
	setFromEnv(&config.Store.ProjectID, "GOOGLE_CLOUD_PROJECT")
	setFromEnv(&config.Store.DatabaseID, "GOOGLE_CLOUD_DATABASE")

	// Step 3: Override with command-line flags (highest priority)
	setFromFlag(&config.GoogleCredentialsPath, flags.GoogleCredentialsPath)
	setFromFlag(&config.RedirectURL, flags.RedirectURL)
	setFromFlag(&config.FrontendURL, flags.FrontendURL)
	setFromFlag(&config.ListenAddr, flags.ListenAddr)
	setFromFlag(&config.LogLevel, flags.LogLevel)
	setFromFlag(&config.Store.Driver, flags.StoreDriver)
	setFromFlag(&config.Store.DSN, flags.StoreDSN)

	// Step 4: Apply defaults and validate
	applyDefaults(&config)
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setFromEnv(field *string, key string) {
	if value := os.Getenv(key); value != "" {
		*field = value
	}
}

func setFromFlag(field *string, value string) {
	if value != "" {
		*field = value
	}
}

func applyDefaults(config *Config) {
	if config.GoogleCredentialsPath == "" {
		config.GoogleCredentialsPath = DefaultGoogleCredentialsPath
	}
	if config.RedirectURL == "" {
		config.RedirectURL = DefaultRedirectURL
	}
	if config.FrontendURL == "" {
		config.FrontendURL = DefaultFrontendURL
	}
	if len(config.Scopes) == 0 {
		config.Scopes = []string{CalendarScope}
	}
	if config.TimeZone == "" {
		config.TimeZone = DefaultTimeZone
	}
	if config.DefaultLocation == "" {
		config.DefaultLocation = DefaultLocation
	}
	if config.CalendarID == "" {
		config.CalendarID = DefaultCalendarID
	}
	if config.ListenAddr == "" {
		config.ListenAddr = DefaultListenAddr
	}
	if config.BasePath == "" {
		config.BasePath = DefaultBasePath
	}
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = []string{"http://localhost:3000", "*"}
	}
	if config.LogLevel == "" {
		config.LogLevel = DefaultLogLevel
	}
	if config.Store.Driver == "" {
		config.Store.Driver = DefaultStoreDriver
	}
	if config.Store.DSN == "" {
		config.Store.DSN = defaultStoreDSN(config.Store.Driver)
	}
}

// defaultStoreDSN places local backends under the XDG data directory.
func defaultStoreDSN(driver string) string {
	base := filepath.Join(xdg.DataHome, appName)
	switch driver {
	case "sqlite":
		return filepath.Join(base, "credentials.db")
	case "badger":
		return filepath.Join(base, "badger")
	case "file":
		return filepath.Join(base, "tokens")
	}
	return ""
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		return fmt.Errorf("invalid time_zone %q: %w", c.TimeZone, err)
	}

	switch c.Store.Driver {
	case "sqlite", "badger", "file":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be provided via --store-dsn flag, STORE_DSN environment variable, or config file for the postgres driver")
		}
	case "datastore":
		if c.Store.ProjectID == "" {
			return fmt.Errorf("store.project_id must be provided via GOOGLE_CLOUD_PROJECT environment variable or config file for the datastore driver")
		}
	default:
		return fmt.Errorf("store.driver must be one of sqlite, postgres, badger, datastore or file, got '%s'", c.Store.Driver)
	}

	if c.BasePath[0] != '/' {
		return fmt.Errorf("base_path must start with '/', got '%s'", c.BasePath)
	}

	return nil
}

// Location returns the configured event time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// OAuthConfig builds the provider configuration from the Google credentials file.
func (c *Config) OAuthConfig() (*oauth2.Config, error) {
	clientID, clientSecret, err := LoadGoogleCredentials(c.GoogleCredentialsPath)
	if err != nil {
		return nil, err
	}

	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  c.RedirectURL,
		Scopes:       append([]string(nil), c.Scopes...),
		Endpoint:     google.Endpoint,
	}, nil
}
