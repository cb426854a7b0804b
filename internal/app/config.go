package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (MCO_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (MCO_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for admin API key hashing (MCO_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Gateway      GatewayConfig
	Checkout     CheckoutConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// GatewayConfig holds the card-gateway merchant credentials and behavior.
type GatewayConfig struct {
	Endpoint   string `usage:"Gateway base URL" flag:"gateway-endpoint"`
	MerchantID string `usage:"Gateway merchant identifier" flag:"gateway-merchant-id"`

	// Secrets rotate by version: the current version signs outbound
	// requests; inbound payloads may still arrive sealed under the
	// previous version.
	Secret             string `usage:"Shared secret for the current key version" flag:"gateway-secret"`
	KeyVersion         string `default:"1" usage:"Current key version" flag:"gateway-key-version"`
	PreviousSecret     string `default:"" usage:"Shared secret for the previous key version" flag:"gateway-previous-secret"`
	PreviousKeyVersion string `default:"" usage:"Previous key version" flag:"gateway-previous-key-version"`

	CaptureMode         string        `default:"AUTHOR_CAPTURE" usage:"AUTHOR_CAPTURE or VALIDATION" flag:"gateway-capture-mode"`
	CaptureDay          int           `default:"0" usage:"Days before capture in VALIDATION mode" flag:"gateway-capture-day"`
	Enable3DS2          bool          `default:"true" usage:"Request 3-D Secure v2" flag:"gateway-3ds2"`
	ChallengePreference string        `default:"NO_PREFERENCE" usage:"3DS challenge preference" flag:"gateway-challenge"`
	Timeout             time.Duration `default:"10s" usage:"Outbound gateway call timeout" flag:"gateway-timeout"`

	NormalReturnURL string `usage:"Public URL of the synchronous return endpoint" flag:"gateway-return-url"`
	AutoResponseURL string `usage:"Public URL of the asynchronous webhook endpoint" flag:"gateway-webhook-url"`
}

// CheckoutConfig holds storefront redirect targets.
type CheckoutConfig struct {
	SuccessURL string `default:"/checkout/success" usage:"Browser redirect after a successful payment" flag:"success-url"`
	CancelURL  string `default:"/checkout/cancel" usage:"Browser redirect after a failed or abandoned payment" flag:"cancel-url"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "MCO",
		Files:     []string{"config.yaml", "/etc/masterclass/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set MCO_DATABASE_URL or DATABASE_URL")
	}
	if cfg.Gateway.Secret == "" {
		return nil, errors.New("gateway secret is required: set MCO_GATEWAY_SECRET")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (Railway, Render, etc.) that use standard names like DATABASE_URL and
// PORT to the application's MCO_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
