// Package config loads service settings from an optional YAML file and
// BACKOFFICE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Verify modes for access tokens.
const (
	VerifyRemote = "remote"
	VerifyJWT    = "jwt"
)

type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`

	HTTP struct {
		Addr        string   `mapstructure:"addr"`
		RateBurst   int      `mapstructure:"rate_burst"`
		RatePerSec  float64  `mapstructure:"rate_per_sec"`
		CORSOrigins []string `mapstructure:"cors_origins"`
	} `mapstructure:"http"`

	GRPC struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"grpc"`

	Database struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"database"`

	Identity struct {
		URL            string        `mapstructure:"url"`
		AnonKey        string        `mapstructure:"anon_key"`
		ServiceRoleKey string        `mapstructure:"service_role_key"`
		JWTSecret      string        `mapstructure:"jwt_secret"`
		JWTIssuer      string        `mapstructure:"jwt_issuer"`
		JWTAudience    string        `mapstructure:"jwt_audience"`
		VerifyMode     string        `mapstructure:"verify_mode"`
		Timeout        time.Duration `mapstructure:"timeout"`
	} `mapstructure:"identity"`

	Auth struct {
		LoginPath string `mapstructure:"login_path"`
		SiteURL   string `mapstructure:"site_url"`
	} `mapstructure:"auth"`
}

// Development reports whether the service runs outside production. Cookies
// lose the Secure attribute in development.
func (c Config) Development() bool {
	return strings.EqualFold(c.Environment, "development")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "production")
	v.SetDefault("log_level", "info")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.rate_burst", 10)
	v.SetDefault("http.rate_per_sec", 5.0)
	v.SetDefault("http.cors_origins", []string{})
	v.SetDefault("grpc.addr", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("identity.url", "")
	v.SetDefault("identity.anon_key", "")
	v.SetDefault("identity.service_role_key", "")
	v.SetDefault("identity.jwt_secret", "")
	v.SetDefault("identity.jwt_issuer", "")
	v.SetDefault("identity.jwt_audience", "authenticated")
	v.SetDefault("identity.verify_mode", VerifyRemote)
	v.SetDefault("identity.timeout", 10*time.Second)
	v.SetDefault("auth.login_path", "/login")
	v.SetDefault("auth.site_url", "")
}

// Load reads config.yaml from the working directory (when present) and
// overlays the environment. BACKOFFICE_IDENTITY_ANON_KEY sets identity.anon_key.
func Load() (Config, error) {
	return load(viper.New(), true)
}

func load(v *viper.Viper, readFile bool) (Config, error) {
	setDefaults(v)

	if readFile {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("config: read file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("BACKOFFICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	c.HTTP.CORSOrigins = splitList(c.HTTP.CORSOrigins)
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Identity.URL) == "" {
		errs = append(errs, errors.New("identity.url is required"))
	} else if u, err := url.Parse(c.Identity.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("identity.url %q is not an absolute url", c.Identity.URL))
	}
	if strings.TrimSpace(c.Identity.AnonKey) == "" {
		errs = append(errs, errors.New("identity.anon_key is required"))
	}
	switch c.Identity.VerifyMode {
	case VerifyRemote:
	case VerifyJWT:
		if strings.TrimSpace(c.Identity.JWTSecret) == "" {
			errs = append(errs, errors.New("identity.jwt_secret is required when verify_mode is jwt"))
		}
	default:
		errs = append(errs, fmt.Errorf("identity.verify_mode %q must be %q or %q", c.Identity.VerifyMode, VerifyRemote, VerifyJWT))
	}
	if !strings.HasPrefix(c.Auth.LoginPath, "/") {
		errs = append(errs, fmt.Errorf("auth.login_path %q must be an absolute path", c.Auth.LoginPath))
	}
	if c.HTTP.RateBurst < 1 || c.HTTP.RatePerSec <= 0 {
		errs = append(errs, errors.New("http.rate_burst and http.rate_per_sec must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// splitList accepts both YAML lists and a single comma separated env value.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
