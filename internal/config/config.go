package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the dialer process.
// All values come from env (or an env-file loaded by the process runner).
//
// Only the durable store (DB_*) is mandatory. Redis, carrier and LiveKit credentials are optional:
// without them the process runs degraded (no live-tail stream, GatewayUnavailable per attempt).
type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Telephony  TelephonyConfig
	Twilio     TwilioConfig
	LiveKit    LiveKitConfig
	Campaign   CampaignConfig
	Transcript TranscriptConfig
}

type AppConfig struct {
	Env  string
	Port int
	// PublicBaseURL is where the carrier reaches our webhooks (e.g. https://dialer.example.com).
	PublicBaseURL string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

type TelephonyConfig struct {
	// Provider selects the gateway implementation: twilio or livekit_sip.
	Provider string
}

type TwilioConfig struct {
	AccountSID  string
	AuthToken   string
	PhoneNumber string
	// BridgeSIPDomain is the SIP host the call leg is bridged to; the room name is the user part.
	BridgeSIPDomain string
	Greeting        string
}

type LiveKitConfig struct {
	URL        string
	APIKey     string
	APISecret  string
	SIPTrunkID string
}

type CampaignConfig struct {
	MaxCallsPerSession int
	CallInterval       time.Duration
	SessionTimeout     time.Duration
}

type TranscriptConfig struct {
	AgentIdentityPrefix string
	NotifyURL           string
	QueueSize           int
	Workers             int
	StreamMaxLen        int64
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port, parseErrs = optionalInt(parseErrs, "APP_PORT", 8080)
	c.App.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/")

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port, parseErrs = optionalInt(parseErrs, "DB_PORT", 5432)
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port, parseErrs = optionalInt(parseErrs, "REDIS_PORT", 6379)
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	c.Redis.DB, parseErrs = optionalInt(parseErrs, "REDIS_DB", 0)

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = optionalDuration("JWT_ACCESS_TTL")

	c.Telephony.Provider = strings.ToLower(strings.TrimSpace(os.Getenv("TELEPHONY_PROVIDER")))

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.PhoneNumber = strings.TrimSpace(os.Getenv("TWILIO_PHONE_NUMBER"))
	c.Twilio.BridgeSIPDomain = strings.TrimSpace(os.Getenv("TWILIO_BRIDGE_SIP_DOMAIN"))
	c.Twilio.Greeting = strings.TrimSpace(os.Getenv("TWILIO_GREETING"))

	c.LiveKit.URL = strings.TrimSpace(os.Getenv("LIVEKIT_URL"))
	c.LiveKit.APIKey = strings.TrimSpace(os.Getenv("LIVEKIT_API_KEY"))
	c.LiveKit.APISecret = os.Getenv("LIVEKIT_API_SECRET")
	c.LiveKit.SIPTrunkID = strings.TrimSpace(os.Getenv("LIVEKIT_SIP_TRUNK_ID"))

	c.Campaign.MaxCallsPerSession, parseErrs = optionalInt(parseErrs, "MAX_CALLS_PER_SESSION", 10)
	var intervalSeconds int
	intervalSeconds, parseErrs = optionalInt(parseErrs, "CALL_INTERVAL_SECONDS", 120)
	c.Campaign.CallInterval = time.Duration(intervalSeconds) * time.Second
	c.Campaign.SessionTimeout = optionalDuration("SESSION_TIMEOUT")

	c.Transcript.AgentIdentityPrefix = strings.TrimSpace(os.Getenv("AGENT_IDENTITY_PREFIX"))
	c.Transcript.NotifyURL = strings.TrimSpace(os.Getenv("NOTIFY_URL"))
	c.Transcript.QueueSize, parseErrs = optionalInt(parseErrs, "PERSIST_QUEUE_SIZE", 256)
	c.Transcript.Workers, parseErrs = optionalInt(parseErrs, "PERSIST_WORKERS", 4)
	var maxLen int
	maxLen, parseErrs = optionalInt(parseErrs, "STREAM_MAXLEN", 1000)
	c.Transcript.StreamMaxLen = int64(maxLen)

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the config and fills env-dependent defaults. It must be called on a pointer
// receiver path (Load does) for the defaults to stick.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		c.App.Env = "local"
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 24 * time.Hour
	}

	if c.Telephony.Provider == "" {
		c.Telephony.Provider = "twilio"
	}
	if !isValidProvider(c.Telephony.Provider) {
		errs = append(errs, fmt.Errorf("TELEPHONY_PROVIDER must be one of twilio, livekit_sip, got %q", c.Telephony.Provider))
	}

	if c.Campaign.MaxCallsPerSession <= 0 {
		errs = append(errs, fmt.Errorf("MAX_CALLS_PER_SESSION must be > 0, got %d", c.Campaign.MaxCallsPerSession))
	}
	if c.Campaign.CallInterval < 0 {
		errs = append(errs, errors.New("CALL_INTERVAL_SECONDS must be >= 0"))
	}
	if c.Campaign.SessionTimeout <= 0 {
		c.Campaign.SessionTimeout = 15 * time.Minute
	}

	if c.Transcript.AgentIdentityPrefix == "" {
		c.Transcript.AgentIdentityPrefix = "agent"
	}
	if c.Transcript.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("PERSIST_QUEUE_SIZE must be > 0, got %d", c.Transcript.QueueSize))
	}
	if c.Transcript.Workers <= 0 {
		errs = append(errs, fmt.Errorf("PERSIST_WORKERS must be > 0, got %d", c.Transcript.Workers))
	}
	if c.Transcript.StreamMaxLen <= 0 {
		errs = append(errs, fmt.Errorf("STREAM_MAXLEN must be > 0, got %d", c.Transcript.StreamMaxLen))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

// PostgresURL is the URL form golang-migrate expects.
func (c Config) PostgresURL() string {
	return fmt.Sprintf(
		"postgres://%s@%s:%d/%s?sslmode=%s",
		url.UserPassword(c.DB.User, c.DB.Password).String(),
		c.DB.Host,
		c.DB.Port,
		url.PathEscape(c.DB.Name),
		c.DB.SSLMode,
	)
}

// RedisEnabled reports whether the ephemeral stream tier is configured.
func (c Config) RedisEnabled() bool {
	return c.Redis.Host != ""
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// LiveKitEnabled reports whether room provisioning / SIP credentials are present.
func (c Config) LiveKitEnabled() bool {
	return c.LiveKit.URL != "" && c.LiveKit.APIKey != "" && c.LiveKit.APISecret != ""
}

func optionalInt(errs []error, key string, def int) (int, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, errs
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, append(errs, fmt.Errorf("%s must be an integer, got %q", key, v))
	}
	return n, errs
}

func optionalDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func isValidProvider(v string) bool {
	switch v {
	case "twilio", "livekit_sip":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
