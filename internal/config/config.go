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

// Config holds all configuration required by the API process.
// All values must come from env (or a .env file loaded before Load).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	Signal    SignalConfig
	Owner     OwnerAuthConfig
	Voice     VoiceConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
}

type AppConfig struct {
	Env  string
	Port int
	// TrustedProxies lists proxy IPs/CIDRs whose forwarding headers are
	// honored when resolving the client IP. Empty trusts none.
	TrustedProxies []string
}

type SignalConfig struct {
	// OwnerID is the well-known identifier the operator registers under.
	OwnerID string
	// SendBuffer is the per-connection outbound queue depth.
	SendBuffer int
	// AllowedOrigins restricts browser origins on the signaling endpoint.
	// Empty allows all.
	AllowedOrigins []string
}

// OwnerAuthConfig controls the bearer tokens the operator presents when
// joining the signaling channel. An empty secret disables the check.
type OwnerAuthConfig struct {
	JWTSecret string
	JWTIssuer string
	TokenTTL  time.Duration
}

// VoiceConfig is the carrier configuration consumed by the voice gateway.
// It is allowed to be incomplete at startup; each gateway operation checks
// the fields it needs and reports all missing ones at once.
type VoiceConfig struct {
	AccountSID     string
	AuthToken      string
	APIKeySID      string
	APIKeySecret   string
	TwiMLAppSID    string
	PhoneNumber    string
	OperatorNumber string
	PublicBaseURL  string
	APIBaseURL     string
	TokenTTL       time.Duration
}

type RedisConfig struct {
	Addr string
	// StatusRetention bounds how long status transitions are kept.
	StatusRetention time.Duration
}

type RateLimitConfig struct {
	CallsPerWindow int
	Window         time.Duration
}

const (
	defaultOwnerID       = "owner-id"
	defaultSendBuffer    = 32
	defaultAPIBaseURL    = "https://api.twilio.com"
	defaultVoiceTokenTTL = time.Hour
	defaultOwnerTokenTTL = 12 * time.Hour
	defaultRetention     = 24 * time.Hour
	defaultRateWindow    = time.Minute
)

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.TrustedProxies = csvList("TRUSTED_PROXIES")

	c.Signal.OwnerID = strings.TrimSpace(os.Getenv("SIGNAL_OWNER_ID"))
	{
		n, err := optionalInt("SIGNAL_SEND_BUFFER")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Signal.SendBuffer = n
	}
	c.Signal.AllowedOrigins = csvList("SIGNAL_ALLOWED_ORIGINS")

	c.Owner.JWTSecret = os.Getenv("OWNER_JWT_SECRET")
	c.Owner.JWTIssuer = strings.TrimSpace(os.Getenv("OWNER_JWT_ISSUER"))
	{
		d, err := optionalDuration("OWNER_TOKEN_TTL")
		d, parseErrs = appendParseErr(parseErrs, d, err)
		c.Owner.TokenTTL = d
	}

	c.Voice.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Voice.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Voice.APIKeySID = strings.TrimSpace(os.Getenv("TWILIO_API_KEY_SID"))
	c.Voice.APIKeySecret = os.Getenv("TWILIO_API_KEY_SECRET")
	c.Voice.TwiMLAppSID = strings.TrimSpace(os.Getenv("TWILIO_TWIML_APP_SID"))
	c.Voice.PhoneNumber = strings.TrimSpace(os.Getenv("TWILIO_PHONE_NUMBER"))
	c.Voice.OperatorNumber = strings.TrimSpace(os.Getenv("OPERATOR_PHONE_NUMBER"))
	c.Voice.PublicBaseURL = strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL"))
	c.Voice.APIBaseURL = strings.TrimSpace(os.Getenv("TWILIO_API_BASE_URL"))
	{
		d, err := optionalDuration("VOICE_TOKEN_TTL")
		d, parseErrs = appendParseErr(parseErrs, d, err)
		c.Voice.TokenTTL = d
	}

	c.Redis.Addr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	{
		d, err := optionalDuration("STATUS_RETENTION")
		d, parseErrs = appendParseErr(parseErrs, d, err)
		c.Redis.StatusRetention = d
	}

	{
		n, err := optionalInt("CALL_RATE_LIMIT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.RateLimit.CallsPerWindow = n
	}
	{
		d, err := optionalDuration("CALL_RATE_WINDOW")
		d, parseErrs = appendParseErr(parseErrs, d, err)
		c.RateLimit.Window = d
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks process-level settings and applies defaults. Carrier
// settings are not validated here; see VoiceConfig.Missing.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.Signal.OwnerID == "" {
		c.Signal.OwnerID = defaultOwnerID
	}
	if c.Signal.SendBuffer <= 0 {
		c.Signal.SendBuffer = defaultSendBuffer
	}

	if c.IsProduction() && c.Owner.JWTSecret == "" {
		errs = append(errs, errors.New("OWNER_JWT_SECRET is required in production"))
	}
	if c.Owner.TokenTTL <= 0 {
		c.Owner.TokenTTL = defaultOwnerTokenTTL
	}

	if c.Voice.APIBaseURL == "" {
		c.Voice.APIBaseURL = defaultAPIBaseURL
	}
	if c.Voice.TokenTTL <= 0 {
		c.Voice.TokenTTL = defaultVoiceTokenTTL
	}
	if c.Voice.PublicBaseURL != "" {
		u, err := url.Parse(c.Voice.PublicBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PUBLIC_BASE_URL must be an absolute URL, got %q", c.Voice.PublicBaseURL))
		}
		c.Voice.PublicBaseURL = strings.TrimRight(c.Voice.PublicBaseURL, "/")
	}

	if c.Redis.StatusRetention <= 0 {
		c.Redis.StatusRetention = defaultRetention
	}
	if c.RateLimit.CallsPerWindow < 0 {
		errs = append(errs, fmt.Errorf("CALL_RATE_LIMIT must not be negative, got %d", c.RateLimit.CallsPerWindow))
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = defaultRateWindow
	}

	return joinErrors(errs)
}

// MissingForCredentials lists the env keys required to mint browser
// calling credentials that are not set.
func (v VoiceConfig) MissingForCredentials() []string {
	var missing []string
	if v.AccountSID == "" {
		missing = append(missing, "TWILIO_ACCOUNT_SID")
	}
	if v.signingSecret() == "" {
		missing = append(missing, "TWILIO_AUTH_TOKEN")
	}
	if v.TwiMLAppSID == "" {
		missing = append(missing, "TWILIO_TWIML_APP_SID")
	}
	return missing
}

// MissingForCalls lists the env keys required to place outbound calls that
// are not set.
func (v VoiceConfig) MissingForCalls() []string {
	var missing []string
	if v.AccountSID == "" {
		missing = append(missing, "TWILIO_ACCOUNT_SID")
	}
	if v.AuthToken == "" {
		missing = append(missing, "TWILIO_AUTH_TOKEN")
	}
	if v.PhoneNumber == "" {
		missing = append(missing, "TWILIO_PHONE_NUMBER")
	}
	if v.OperatorNumber == "" {
		missing = append(missing, "OPERATOR_PHONE_NUMBER")
	}
	if v.PublicBaseURL == "" {
		missing = append(missing, "PUBLIC_BASE_URL")
	}
	return missing
}

// Missing is the union of MissingForCredentials and MissingForCalls.
func (v VoiceConfig) Missing() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, k := range append(v.MissingForCredentials(), v.MissingForCalls()...) {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// SigningKey returns the issuer and secret used to sign access tokens.
// An API key pair is preferred; the account credentials are the fallback.
func (v VoiceConfig) SigningKey() (issuer, secret string) {
	if v.APIKeySID != "" && v.APIKeySecret != "" {
		return v.APIKeySID, v.APIKeySecret
	}
	return v.AccountSID, v.AuthToken
}

func (v VoiceConfig) signingSecret() string {
	_, s := v.SigningKey()
	return s
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func csvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func optionalDuration(key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration, got %q", key, v)
	}
	return d, nil
}

func appendParseErr[T any](errs []error, v T, err error) (T, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
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
