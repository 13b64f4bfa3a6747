package crosslogin

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// FooterLink is one link rendered by the external login UI.
type FooterLink struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// ProviderCredentials holds the per-provider secret bundle for federated
// providers.
type ProviderCredentials struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	// CertificateFile references a certificate for providers that
	// authenticate with one (e.g. SAML) instead of a client secret.
	CertificateFile string
}

// Config is the broker's configuration surface. Zero values fall back to
// environment variables and then to defaults via EnsureDefaults.
type Config struct {
	// AppName prefixes derived defaults like the auth-token name.
	AppName string

	// BaseAddress is the externally visible address of the broker.
	BaseAddress string

	// LoginURL is the address of the external login UI the broker
	// redirects into when a handshake begins.
	LoginURL string

	// Document store settings
	ConnectionString string
	Database         string
	Container        string

	// Sender settings (SMTP or equivalent)
	SenderHost    string
	SenderPort    int
	SenderAddress string
	SenderSecret  string

	// Per-provider federated credentials, keyed by provider code.
	Providers map[string]ProviderCredentials

	// LoginDuration is the session lifetime applied when the caller asks
	// to be kept signed in. Without it the session is cookie-session-only.
	LoginDuration time.Duration

	// CodeTTL and RequestTTL bound the verification-code and
	// request-correlation windows independently.
	CodeTTL    time.Duration
	RequestTTL time.Duration

	// CodeLength is the number of characters in issued codes.
	CodeLength int

	// CookieDomains lists every domain the session cookies are set on.
	CookieDomains []string

	// FooterLinks are passed through to the login UI.
	FooterLinks []FooterLink

	// JWT settings for the session artifact
	JwtIssuer    string
	JWTSecretKey string
}

// LoadConfigFromEnv builds a Config from the process environment.
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		AppName:          os.Getenv("CROSSLOGIN_APP_NAME"),
		BaseAddress:      os.Getenv("CROSSLOGIN_BASE_ADDRESS"),
		LoginURL:         os.Getenv("CROSSLOGIN_LOGIN_URL"),
		ConnectionString: os.Getenv("CROSSLOGIN_CONNECTION_STRING"),
		Database:         os.Getenv("CROSSLOGIN_DATABASE"),
		Container:        os.Getenv("CROSSLOGIN_CONTAINER"),
		SenderHost:       os.Getenv("CROSSLOGIN_SENDER_HOST"),
		SenderAddress:    os.Getenv("CROSSLOGIN_SENDER_ADDRESS"),
		SenderSecret:     os.Getenv("CROSSLOGIN_SENDER_SECRET"),
		JWTSecretKey:     os.Getenv("CROSSLOGIN_JWT_SECRET_KEY"),
	}
	if port, err := strconv.Atoi(os.Getenv("CROSSLOGIN_SENDER_PORT")); err == nil {
		cfg.SenderPort = port
	}
	if hours, err := strconv.Atoi(os.Getenv("CROSSLOGIN_LOGIN_DURATION_HOURS")); err == nil {
		cfg.LoginDuration = time.Duration(hours) * time.Hour
	}
	if domains := os.Getenv("CROSSLOGIN_COOKIE_DOMAINS"); domains != "" {
		for _, d := range strings.Split(domains, ",") {
			cfg.CookieDomains = append(cfg.CookieDomains, strings.TrimSpace(d))
		}
	}
	return cfg.EnsureDefaults()
}

// EnsureDefaults fills unset fields with reasonable defaults and returns
// the config for chaining.
func (c *Config) EnsureDefaults() *Config {
	if c.AppName == "" {
		c.AppName = "CrossLogin"
	}
	if c.LoginDuration <= 0 {
		c.LoginDuration = 30 * 24 * time.Hour
	}
	if c.CodeTTL <= 0 {
		c.CodeTTL = DefaultCodeTTL
	}
	if c.RequestTTL <= 0 {
		c.RequestTTL = DefaultRequestTTL
	}
	if c.CodeLength <= 0 {
		c.CodeLength = DefaultCodeLength
	}
	if c.JwtIssuer == "" {
		c.JwtIssuer = c.AppName + "-Issuer"
	}
	if c.JWTSecretKey == "" {
		c.JWTSecretKey = strings.TrimSpace(os.Getenv("CROSSLOGIN_JWT_SECRET_KEY"))
	}
	if c.Providers == nil {
		c.Providers = map[string]ProviderCredentials{}
	}
	return c
}
