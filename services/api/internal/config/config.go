package config

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds runtime configuration for the keysync API service.
type Config struct {
	Addr         string `env:"ADDR,default=:8080"`
	DBDSN        string `env:"DB_DSN,required"`
	AutoMigrate  bool   `env:"AUTO_MIGRATE,default=true"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	NATSURL      string `env:"NATS_URL"`
	LogLevel     string `env:"LOG_LEVEL,default=info"`
	LogFormat    string `env:"LOG_FORMAT,default=json"`

	AllowedOrigins     []string `env:"CORS_ALLOWED_ORIGINS,default=*"`
	RateLimitPerMinute int      `env:"RATE_LIMIT_PER_MINUTE,default=100"`

	Keycloak Keycloak `env:", prefix=KEYCLOAK_"`
	S3       S3       `env:", prefix=S3_"`

	DefaultRedirectURI   string        `env:"DEFAULT_REDIRECT_URI"`
	TokenRefreshInterval time.Duration `env:"TOKEN_REFRESH_INTERVAL,default=4m"`
}

// Keycloak locates the realm and the service account used for admin calls.
type Keycloak struct {
	BaseURL      string `env:"BASE_URL,required"`
	Realm        string `env:"REALM,required"`
	Issuer       string `env:"ISSUER"`
	ClientID     string `env:"CLIENT_ID,required"`
	ClientSecret string `env:"CLIENT_SECRET,required"`
}

// S3 is optional; client bucket prefixes are only provisioned when Endpoint is set.
type S3 struct {
	Endpoint       string `env:"ENDPOINT"`
	AccessKey      string `env:"ACCESS_KEY"`
	SecretKey      string `env:"SECRET_KEY"`
	Region         string `env:"REGION,default=us-east-1"`
	DisableTLS     bool   `env:"DISABLE_TLS,default=false"`
	ForcePathStyle bool   `env:"FORCE_PATH_STYLE,default=true"`
}

// Enabled reports whether object storage is configured.
func (s S3) Enabled() bool { return strings.TrimSpace(s.Endpoint) != "" }

// AdminURL is the realm admin REST base.
func (c Config) AdminURL() string {
	return strings.TrimRight(c.Keycloak.BaseURL, "/") + "/admin/realms/" + c.Keycloak.Realm
}

// TokenURL is the OpenID token endpoint for the realm. An explicit issuer wins
// over the base URL, for deployments where the public and internal hosts differ.
func (c Config) TokenURL() string {
	issuer := strings.TrimRight(c.Keycloak.Issuer, "/")
	if issuer == "" {
		issuer = strings.TrimRight(c.Keycloak.BaseURL, "/") + "/realms/" + c.Keycloak.Realm
	}
	return issuer + "/protocol/openid-connect/token"
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	return LoadFrom(ctx, envconfig.OsLookuper())
}

// LoadFrom is Load with an explicit lookuper.
func LoadFrom(ctx context.Context, lookuper envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: lookuper}); err != nil {
		return Config{}, err
	}
	if cfg.S3.Enabled() && (cfg.S3.AccessKey == "" || cfg.S3.SecretKey == "") {
		return Config{}, errors.New("S3_ACCESS_KEY and S3_SECRET_KEY are required when S3_ENDPOINT is set")
	}
	if cfg.RateLimitPerMinute <= 0 {
		return Config{}, errors.New("RATE_LIMIT_PER_MINUTE must be positive")
	}
	return cfg, nil
}
