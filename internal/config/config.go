package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/sudo-init-do/founderledger/internal/alerts"
	"github.com/sudo-init-do/founderledger/internal/compliance"
	"github.com/sudo-init-do/founderledger/internal/db"
	"github.com/sudo-init-do/founderledger/internal/ledger"
	"github.com/sudo-init-do/founderledger/internal/withdrawal"
)

// Config is read from the environment. A .env file in the working directory
// is loaded first if present.
type Config struct {
	Env      string `envconfig:"ENV" default:"production"`
	LogLevel string `envconfig:"LOG_LEVEL"`
	Port     string `envconfig:"PORT" default:"8080"`

	// empty DatabaseURL with empty DBHost runs on the in-memory store
	DatabaseURL string `envconfig:"DATABASE_URL"`
	DBUser      string `envconfig:"DB_USER"`
	DBPassword  string `envconfig:"DB_PASSWORD"`
	DBHost      string `envconfig:"DB_HOST"`
	DBPort      string `envconfig:"DB_PORT" default:"5432"`
	DBName      string `envconfig:"DB_NAME"`
	DBSSLMode   string `envconfig:"DB_SSLMODE"`

	// empty RedisAddr disables the distributed lock and the email queue
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`

	JWTSecret string `envconfig:"JWT_SECRET"`

	// Simulated rails are used when the URLs are empty.
	BankURL    string `envconfig:"BANK_API_URL"`
	BankAPIKey string `envconfig:"BANK_API_KEY"`
	ChainURL   string `envconfig:"BLOCKCHAIN_URL"`
	RatesURL   string `envconfig:"RATES_URL"`

	RateRefresh   time.Duration `envconfig:"RATE_REFRESH_INTERVAL" default:"1h"`
	BankTimeout   time.Duration `envconfig:"BANK_TIMEOUT" default:"15s"`
	ChainTimeout  time.Duration `envconfig:"BLOCKCHAIN_TIMEOUT" default:"5s"`
	LockExpiry    time.Duration `envconfig:"LOCK_EXPIRY" default:"60s"`
	ShutdownGrace time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"20s"`
	TokenValueUSD string        `envconfig:"TOKEN_VALUE_USD" default:"10"`
	USDZAR        string        `envconfig:"USD_ZAR_RATE" default:"18.5"`

	PolicyFile string `envconfig:"POLICY_FILE"`

	AppURL       string `envconfig:"APP_URL"`
	OpsEmail     string `envconfig:"OPS_EMAIL"`
	MailProvider string `envconfig:"MAIL_PROVIDER"`
	SMTPHost     string `envconfig:"SMTP_HOST"`
	SMTPPort     string `envconfig:"SMTP_PORT"`
	SMTPUsername string `envconfig:"SMTP_USERNAME"`
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`
	SMTPFrom     string `envconfig:"SMTP_FROM"`
	MailReplyTo  string `envconfig:"MAIL_REPLY_TO"`
	PlunkAPIKey  string `envconfig:"PLUNK_API_KEY"`
	PlunkFrom    string `envconfig:"PLUNK_FROM"`
	PlunkAPIURL  string `envconfig:"PLUNK_API_URL"`
}

// Load reads .env (if any) and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env: %w", err)
	}
	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	if _, err := cfg.TokenValue(); err != nil {
		return nil, err
	}
	if _, err := cfg.Rate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DevMode reports whether the service runs with development defaults.
func (c *Config) DevMode() bool {
	return c.Env == "development" || c.Env == "local"
}

// DSN returns the Postgres connection string, or "" when no database is
// configured.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	if c.DBHost == "" {
		return ""
	}
	return db.Params{
		User: c.DBUser, Password: c.DBPassword, Host: c.DBHost,
		Port: c.DBPort, Name: c.DBName, SSLMode: c.DBSSLMode,
	}.DSN()
}

func (c *Config) TokenValue() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(c.TokenValueUSD)
	if err != nil || !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("TOKEN_VALUE_USD must be a positive decimal, got %q", c.TokenValueUSD)
	}
	return d, nil
}

func (c *Config) Rate() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(c.USDZAR)
	if err != nil || !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("USD_ZAR_RATE must be a positive decimal, got %q", c.USDZAR)
	}
	return d, nil
}

func (c *Config) Mail() alerts.MailConfig {
	return alerts.MailConfig{
		Provider:     c.MailProvider,
		SMTPHost:     c.SMTPHost,
		SMTPPort:     c.SMTPPort,
		SMTPUsername: c.SMTPUsername,
		SMTPPassword: c.SMTPPassword,
		SMTPFrom:     c.SMTPFrom,
		ReplyTo:      c.MailReplyTo,
		PlunkAPIKey:  c.PlunkAPIKey,
		PlunkFrom:    c.PlunkFrom,
		PlunkAPIURL:  c.PlunkAPIURL,
	}
}

// Policy is the optional yaml file with the constitution, seed founders,
// per-founder policy exceptions and the reinvestment catalog.
type Policy struct {
	Constitution      compliance.Constitution      `yaml:"constitution"`
	AttestationWindow time.Duration                `yaml:"attestationWindow"`
	Founders          []ledger.FounderSpec         `yaml:"founders"`
	Policies          []withdrawal.PolicyException `yaml:"policies"`
	Projects          []withdrawal.Project         `yaml:"projects"`
}

// DefaultConstitution is published when the policy file names none.
var DefaultConstitution = compliance.Constitution{
	Version: "1.0.0",
	Hash:    "azora-constitution-v1",
}

// LoadPolicy reads the policy file. An empty path returns the defaults.
func LoadPolicy(path string) (*Policy, error) {
	p := &Policy{}
	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading policy file: %w", err)
		}
		if err := yaml.Unmarshal(buf, p); err != nil {
			return nil, fmt.Errorf("error parsing policy file: %w", err)
		}
	}
	if p.Constitution.Hash == "" {
		p.Constitution = DefaultConstitution
	}
	if len(p.Projects) == 0 {
		p.Projects = withdrawal.DefaultProjects
	}
	seen := make(map[string]bool, len(p.Projects))
	for _, pr := range p.Projects {
		if pr.ID == "" || seen[pr.ID] {
			return nil, fmt.Errorf("policy file: project ids must be unique and non-empty (%q)", pr.ID)
		}
		seen[pr.ID] = true
	}
	for _, pe := range p.Policies {
		if pe.FounderID == "" {
			return nil, errors.New("policy file: policy exception without founderId")
		}
		if pe.MaxAmount < 0 {
			return nil, fmt.Errorf("policy file: negative maxAmount for founder %s", pe.FounderID)
		}
	}
	return p, nil
}
