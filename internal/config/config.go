package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "MHL"

	defaultAPITimeout     = 30 * time.Second
	defaultPageSize       = 20
	defaultResyncSchedule = "@every 10m"
	defaultInitialDelay   = time.Second
	defaultMaxDelay       = 5 * time.Second
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"

	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "file::memory:?cache=shared"
	defaultIssuer       = "mhl-devserver"
	defaultTokenTTL     = 12 * time.Hour
)

// ClientConfig captures runtime configuration for one sync session.
type ClientConfig struct {
	BaseURL        string
	SocketURL      string
	TenantID       string
	Timeout        time.Duration
	Token          string
	UserID         string
	PageSize       int
	ResyncSchedule string
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	LogLevel       string
	LogFormat      string
}

// DevServerConfig captures runtime configuration for the development backend.
type DevServerConfig struct {
	HTTPAddress   string
	DatabasePath  string
	SigningSecret string
	Issuer        string
	TokenTTL      time.Duration
	LogLevel      string
	LogFormat     string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("api.timeout", defaultAPITimeout)
	configViper.SetDefault("sync.page_size", defaultPageSize)
	configViper.SetDefault("sync.resync_schedule", defaultResyncSchedule)
	configViper.SetDefault("reconnect.initial_delay", defaultInitialDelay)
	configViper.SetDefault("reconnect.max_delay", defaultMaxDelay)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.token_ttl", defaultTokenTTL)
}

// LoadClient parses sync session configuration from viper.
func LoadClient(configViper *viper.Viper) (ClientConfig, error) {
	cfg := ClientConfig{
		BaseURL:        strings.TrimSpace(configViper.GetString("api.base_url")),
		SocketURL:      strings.TrimSpace(configViper.GetString("api.socket_url")),
		TenantID:       strings.TrimSpace(configViper.GetString("api.tenant_id")),
		Timeout:        configViper.GetDuration("api.timeout"),
		Token:          strings.TrimSpace(configViper.GetString("session.token")),
		UserID:         strings.TrimSpace(configViper.GetString("session.user_id")),
		PageSize:       configViper.GetInt("sync.page_size"),
		ResyncSchedule: strings.TrimSpace(configViper.GetString("sync.resync_schedule")),
		InitialDelay:   configViper.GetDuration("reconnect.initial_delay"),
		MaxDelay:       configViper.GetDuration("reconnect.max_delay"),
		LogLevel:       configViper.GetString("log.level"),
		LogFormat:      configViper.GetString("log.format"),
	}

	if err := cfg.validate(); err != nil {
		return ClientConfig{}, err
	}

	return cfg, nil
}

func (c ClientConfig) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if parsed, err := url.Parse(c.BaseURL); err != nil || parsed.Host == "" {
		return fmt.Errorf("api.base_url must be an absolute url")
	}
	if c.TenantID == "" {
		return fmt.Errorf("api.tenant_id is required")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("sync.page_size must be positive")
	}
	if c.InitialDelay <= 0 || c.MaxDelay < c.InitialDelay {
		return fmt.Errorf("reconnect delays must satisfy 0 < initial_delay <= max_delay")
	}
	return nil
}

// LoadDevServer parses development backend configuration from viper.
func LoadDevServer(configViper *viper.Viper) (DevServerConfig, error) {
	cfg := DevServerConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		Issuer:        configViper.GetString("auth.issuer"),
		TokenTTL:      configViper.GetDuration("auth.token_ttl"),
		LogLevel:      configViper.GetString("log.level"),
		LogFormat:     configViper.GetString("log.format"),
	}

	if err := cfg.validate(); err != nil {
		return DevServerConfig{}, err
	}

	return cfg, nil
}

func (c DevServerConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	return nil
}
