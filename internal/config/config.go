package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "IDENTITY"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultDatabasePath     = "identity.db"
	defaultLogLevel         = "info"
	defaultTokenTTLMinutes  = 30
	defaultCookieName       = "identity_session"
	defaultSessionMinutes   = 1440
	defaultSaltRounds       = 10
	defaultFinishRedirect   = "/auth/finish"
	minSaltRounds           = 4
	maxSaltRounds           = 31
	providersKey            = "providers"
	allowedOriginsSeparator = ","
)

// AppConfig captures runtime configuration for the API server. It is built once by Load
// and passed explicitly to the components that need it.
type AppConfig struct {
	HTTPAddress       string
	DatabasePath      string
	LogLevel          string
	SigningSecret     string
	TokenTTL          time.Duration
	SessionCookieName string
	SessionLifetime   time.Duration
	SessionSecure     bool
	AllowedOrigins    []string
	Local             LocalAuthConfig
	Providers         []ProviderConfig
}

// LocalAuthConfig configures email+password authentication.
type LocalAuthConfig struct {
	SaltRounds       int
	RegisterRedirect string
	LoginRedirect    string
}

// ProviderConfig configures one delegated-login provider type.
type ProviderConfig struct {
	Type               string   `mapstructure:"-"`
	Scope              []string `mapstructure:"scope"`
	ClientID           string   `mapstructure:"client_id"`
	ClientSecret       string   `mapstructure:"client_secret"`
	AuthURL            string   `mapstructure:"auth_url"`
	TokenURL           string   `mapstructure:"token_url"`
	UserInfoURL        string   `mapstructure:"userinfo_url"`
	RedirectURL        string   `mapstructure:"redirect_url"`
	SubjectClaim       string   `mapstructure:"subject_claim"`
	EmailClaim         string   `mapstructure:"email_claim"`
	EmailVerifiedClaim string   `mapstructure:"email_verified_claim"`
	FirstNameClaim     string   `mapstructure:"first_name_claim"`
	LastNameClaim      string   `mapstructure:"last_name_claim"`
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

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", "*")
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.lifetime_minutes", defaultSessionMinutes)
	configViper.SetDefault("session.secure", false)
	configViper.SetDefault("auth.local.salt_rounds", defaultSaltRounds)
	configViper.SetDefault("auth.local.register_redirect", defaultFinishRedirect)
	configViper.SetDefault("auth.local.login_redirect", defaultFinishRedirect)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	providerConfigs, err := loadProviders(configViper)
	if err != nil {
		return AppConfig{}, err
	}

	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		DatabasePath:      configViper.GetString("database.path"),
		LogLevel:          configViper.GetString("log.level"),
		SigningSecret:     configViper.GetString("auth.signing_secret"),
		TokenTTL:          time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		SessionCookieName: configViper.GetString("session.cookie_name"),
		SessionLifetime:   time.Duration(configViper.GetInt("session.lifetime_minutes")) * time.Minute,
		SessionSecure:     configViper.GetBool("session.secure"),
		AllowedOrigins:    splitList(configViper.GetString("http.allowed_origins")),
		Local: LocalAuthConfig{
			SaltRounds:       configViper.GetInt("auth.local.salt_rounds"),
			RegisterRedirect: configViper.GetString("auth.local.register_redirect"),
			LoginRedirect:    configViper.GetString("auth.local.login_redirect"),
		},
		Providers: providerConfigs,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func loadProviders(configViper *viper.Viper) ([]ProviderConfig, error) {
	var raw map[string]ProviderConfig
	if err := configViper.UnmarshalKey(providersKey, &raw); err != nil {
		return nil, fmt.Errorf("providers: %w", err)
	}
	providerConfigs := make([]ProviderConfig, 0, len(raw))
	for name, providerConfig := range raw {
		providerConfig.Type = strings.ToLower(strings.TrimSpace(name))
		providerConfigs = append(providerConfigs, providerConfig)
	}
	sort.Slice(providerConfigs, func(i, j int) bool {
		return providerConfigs[i].Type < providerConfigs[j].Type
	})
	return providerConfigs, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	if c.SessionLifetime <= 0 {
		return fmt.Errorf("session.lifetime_minutes must be positive")
	}
	if c.Local.SaltRounds < minSaltRounds || c.Local.SaltRounds > maxSaltRounds {
		return fmt.Errorf("auth.local.salt_rounds must be between %d and %d", minSaltRounds, maxSaltRounds)
	}
	if !strings.HasPrefix(c.Local.RegisterRedirect, "/") || !strings.HasPrefix(c.Local.LoginRedirect, "/") {
		return fmt.Errorf("auth.local redirects must be absolute paths")
	}
	for _, providerConfig := range c.Providers {
		if providerConfig.Type == "" || providerConfig.Type == "local" {
			return fmt.Errorf("providers: invalid provider type %q", providerConfig.Type)
		}
		if strings.TrimSpace(providerConfig.ClientID) == "" {
			return fmt.Errorf("providers.%s.client_id is required", providerConfig.Type)
		}
		if strings.TrimSpace(providerConfig.AuthURL) == "" || strings.TrimSpace(providerConfig.TokenURL) == "" {
			return fmt.Errorf("providers.%s auth_url and token_url are required", providerConfig.Type)
		}
		if strings.TrimSpace(providerConfig.UserInfoURL) == "" {
			return fmt.Errorf("providers.%s.userinfo_url is required", providerConfig.Type)
		}
	}
	return nil
}

func splitList(value string) []string {
	parts := strings.Split(value, allowedOriginsSeparator)
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
