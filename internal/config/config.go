package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the engine processes.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Twilio    TwilioConfig
	Email     EmailConfig
	Delivery  DeliveryConfig
	Schedule  ScheduleConfig
	Scheduler SchedulerConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicBaseURL is the externally reachable origin of the API. Twilio signatures and
	// status callback URLs are built from it.
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

	// SchedulerTokenTTL bounds the tokens cmd/scheduler mints for each trigger call.
	SchedulerTokenTTL time.Duration
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	BaseURL    string

	ValidateSignatures bool
}

func (t TwilioConfig) Enabled() bool { return t.AccountSID != "" && t.AuthToken != "" }

const (
	EmailProviderSendGrid = "sendgrid"
	EmailProviderSES      = "ses"
	EmailProviderLog      = "log"
)

type EmailConfig struct {
	Provider string
	Disabled bool

	From     string
	FromName string

	SendGridAPIKey string

	SESRegion           string
	SESAccessKeyID      string
	SESSecretAccessKey  string
	SESConfigurationSet string
}

type DeliveryConfig struct {
	FanoutWorkers int
	LinkTTL       time.Duration

	// ResponseBaseURL prefixes response tokens; empty means {PublicBaseURL}/r/.
	ResponseBaseURL string

	SMSPerSecond float64
	SMSBurst     int

	DefaultRegion string
	ReplayTTL     time.Duration
}

type ScheduleConfig struct {
	Timezone string
	Location *time.Location

	GracePeriod      time.Duration
	ReportRecipients []string
}

type SchedulerConfig struct {
	APIBaseURL     string
	RequestTimeout time.Duration

	CampaignTickSpec string
	ReminderSpec     string
	LockSpec         string
	EndGraceSpec     string
}

func Load() (Config, error) {
	c, err := load()
	if err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// LoadScheduler reads the subset cmd/scheduler needs: no datastore or provider settings.
func LoadScheduler() (Config, error) {
	c, err := load()
	if err != nil {
		return Config{}, err
	}
	if err := c.ValidateScheduler(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func load() (Config, error) {
	c := Config{}
	p := &parser{}

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port = p.optionalInt("APP_PORT", 8080)
	c.App.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/")

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port = p.optionalInt("DB_PORT", 5432)
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port = p.optionalInt("REDIS_PORT", 6379)
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	c.Redis.DB = p.optionalInt("REDIS_DB", 0)

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate().
	c.Auth.AccessTokenTTL = p.optionalDuration("JWT_ACCESS_TTL")
	c.Auth.SchedulerTokenTTL = p.optionalDuration("JWT_SCHEDULER_TTL")

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.FromNumber = strings.TrimSpace(os.Getenv("TWILIO_FROM_NUMBER"))
	c.Twilio.BaseURL = strings.TrimSpace(os.Getenv("TWILIO_BASE_URL"))
	c.Twilio.ValidateSignatures = p.optionalBool("TWILIO_VALIDATE_SIGNATURES", true)

	c.Email.Provider = strings.ToLower(strings.TrimSpace(os.Getenv("EMAIL_PROVIDER")))
	c.Email.Disabled = p.optionalBool("EMAIL_DISABLED", false)
	c.Email.From = strings.TrimSpace(os.Getenv("EMAIL_FROM"))
	c.Email.FromName = strings.TrimSpace(os.Getenv("EMAIL_FROM_NAME"))
	c.Email.SendGridAPIKey = os.Getenv("SENDGRID_API_KEY")
	c.Email.SESRegion = strings.TrimSpace(os.Getenv("SES_REGION"))
	c.Email.SESAccessKeyID = strings.TrimSpace(os.Getenv("SES_ACCESS_KEY_ID"))
	c.Email.SESSecretAccessKey = os.Getenv("SES_SECRET_ACCESS_KEY")
	c.Email.SESConfigurationSet = strings.TrimSpace(os.Getenv("SES_CONFIGURATION_SET"))

	c.Delivery.FanoutWorkers = p.optionalInt("FANOUT_WORKERS", 0)
	c.Delivery.LinkTTL = p.optionalDuration("RESPONSE_LINK_TTL")
	c.Delivery.ResponseBaseURL = strings.TrimSpace(os.Getenv("RESPONSE_BASE_URL"))
	c.Delivery.SMSPerSecond = p.optionalFloat("SMS_PER_SECOND", 0)
	c.Delivery.SMSBurst = p.optionalInt("SMS_BURST", 0)
	c.Delivery.DefaultRegion = strings.ToUpper(strings.TrimSpace(os.Getenv("PHONE_DEFAULT_REGION")))
	c.Delivery.ReplayTTL = p.optionalDuration("WEBHOOK_REPLAY_TTL")

	c.Schedule.Timezone = strings.TrimSpace(os.Getenv("SCHEDULE_TIMEZONE"))
	c.Schedule.GracePeriod = p.optionalDuration("WEEKLY_GRACE_PERIOD")
	c.Schedule.ReportRecipients = splitList(os.Getenv("REPORT_RECIPIENTS"))

	c.Scheduler.APIBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("SCHEDULER_API_BASE_URL")), "/")
	c.Scheduler.RequestTimeout = p.optionalDuration("SCHEDULER_REQUEST_TIMEOUT")
	c.Scheduler.CampaignTickSpec = strings.TrimSpace(os.Getenv("SCHEDULER_CAMPAIGN_TICK"))
	c.Scheduler.ReminderSpec = strings.TrimSpace(os.Getenv("SCHEDULER_WEEKLY_REMINDER"))
	c.Scheduler.LockSpec = strings.TrimSpace(os.Getenv("SCHEDULER_WEEKLY_LOCK"))
	c.Scheduler.EndGraceSpec = strings.TrimSpace(os.Getenv("SCHEDULER_WEEKLY_END_GRACE"))

	if err := joinErrors(p.errs); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the API process configuration and fills in defaults.
func (c *Config) Validate() error {
	var errs []error
	errs = c.validateApp(errs)
	errs = c.validateAuth(errs)
	errs = c.validateSchedule(errs)

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

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Twilio.Enabled() && c.Twilio.FromNumber == "" {
		errs = append(errs, errors.New("TWILIO_FROM_NUMBER is required when Twilio is configured"))
	}
	if c.Twilio.Enabled() && c.Twilio.ValidateSignatures && c.App.PublicBaseURL == "" {
		errs = append(errs, errors.New("PUBLIC_BASE_URL is required to validate Twilio signatures"))
	}

	if c.Email.Provider == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("EMAIL_PROVIDER is required in production"))
		} else {
			c.Email.Provider = EmailProviderLog
		}
	}
	switch c.Email.Provider {
	case EmailProviderSendGrid:
		if c.Email.SendGridAPIKey == "" {
			errs = append(errs, errors.New("SENDGRID_API_KEY is required for the sendgrid provider"))
		}
	case EmailProviderSES, EmailProviderLog, "":
	default:
		errs = append(errs, fmt.Errorf("EMAIL_PROVIDER must be one of sendgrid, ses, log, got %q", c.Email.Provider))
	}

	if c.Delivery.FanoutWorkers <= 0 {
		c.Delivery.FanoutWorkers = 8
	}
	if c.Delivery.LinkTTL <= 0 {
		c.Delivery.LinkTTL = 336 * time.Hour
	}
	if c.Delivery.ResponseBaseURL == "" && c.App.PublicBaseURL != "" {
		c.Delivery.ResponseBaseURL = c.App.PublicBaseURL + "/r/"
	}
	if c.Delivery.SMSPerSecond < 0 {
		errs = append(errs, fmt.Errorf("SMS_PER_SECOND must not be negative, got %v", c.Delivery.SMSPerSecond))
	}
	if c.Delivery.DefaultRegion == "" {
		c.Delivery.DefaultRegion = "US"
	}
	if c.Delivery.ReplayTTL <= 0 {
		c.Delivery.ReplayTTL = 24 * time.Hour
	}

	return joinErrors(errs)
}

// ValidateScheduler checks the trigger runner configuration and fills in defaults.
func (c *Config) ValidateScheduler() error {
	var errs []error
	errs = c.validateApp(errs)
	errs = c.validateAuth(errs)
	errs = c.validateSchedule(errs)

	if c.Scheduler.APIBaseURL == "" {
		errs = append(errs, errors.New("SCHEDULER_API_BASE_URL is required"))
	}
	if c.Scheduler.RequestTimeout <= 0 {
		c.Scheduler.RequestTimeout = 5 * time.Minute
	}
	if c.Scheduler.CampaignTickSpec == "" {
		c.Scheduler.CampaignTickSpec = "@every 1m"
	}
	// Weekly cycle: reminder Friday afternoon, lock Monday early, grace checks hourly.
	if c.Scheduler.ReminderSpec == "" {
		c.Scheduler.ReminderSpec = "0 15 * * FRI"
	}
	if c.Scheduler.LockSpec == "" {
		c.Scheduler.LockSpec = "5 0 * * MON"
	}
	if c.Scheduler.EndGraceSpec == "" {
		c.Scheduler.EndGraceSpec = "@hourly"
	}
	return joinErrors(errs)
}

func (c *Config) validateApp(errs []error) []error {
	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	return errs
}

func (c *Config) validateAuth(errs []error) []error {
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.SchedulerTokenTTL <= 0 {
		c.Auth.SchedulerTokenTTL = 2 * time.Minute
	}
	return errs
}

func (c *Config) validateSchedule(errs []error) []error {
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = "UTC"
	}
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		errs = append(errs, fmt.Errorf("SCHEDULE_TIMEZONE is not a known zone: %q", c.Schedule.Timezone))
	} else {
		c.Schedule.Location = loc
	}
	if c.Schedule.GracePeriod <= 0 {
		c.Schedule.GracePeriod = 48 * time.Hour
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) IsLocal() bool {
	return c.App.Env == "local" || c.App.Env == "dev"
}

// EmailEnabled reports whether outbound email may be sent at all.
func (c Config) EmailEnabled() bool {
	return !c.Email.Disabled
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

// StatusCallbackURL is where Twilio posts delivery updates.
func (c Config) StatusCallbackURL() string {
	if c.App.PublicBaseURL == "" {
		return ""
	}
	return c.App.PublicBaseURL + "/webhooks/twilio/status"
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

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

type parser struct {
	errs []error
}

func (p *parser) optionalInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return def
	}
	return n
}

func (p *parser) optionalFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be a number, got %q", key, v))
		return def
	}
	return f
}

func (p *parser) optionalBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be a boolean, got %q", key, v))
		return def
	}
	return b
}

func (p *parser) optionalDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be a duration, got %q", key, v))
		return 0
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
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
