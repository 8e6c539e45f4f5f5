package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the delivery core.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Providers ProvidersConfig `yaml:"providers"`
	Queue     QueueConfig     `yaml:"queue"`
	Worker    WorkerConfig    `yaml:"worker"`
	Admission AdmissionConfig `yaml:"admission"`
	Webhooks  WebhooksConfig  `yaml:"webhooks"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	AdminToken     string `yaml:"admin_token"`
	CORSOrigins    []string `yaml:"cors_origins"`
	WorkerEmbedded bool   `yaml:"worker_embedded"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ProviderConfig holds credentials and settings for one sending provider.
type ProviderConfig struct {
	Name      string `yaml:"name"`
	APIKey    string `yaml:"api_key"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	BaseURL   string `yaml:"base_url"`
}

// ProvidersConfig is the explicit, ordered provider list evaluated at
// startup. The first entry is primary unless the admin switch operation
// changes routing at runtime. Order here is the failover order.
type ProvidersConfig struct {
	Ordered []ProviderConfig `yaml:"ordered"`
	// HealthCheckInterval controls the background prober cadence.
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

// QueueConfig holds job store and queue behavior settings.
type QueueConfig struct {
	// VisibilityTimeout is how long a claimed job stays invisible to other
	// workers before the recovery worker may requeue it.
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	RecoveryInterval  time.Duration `yaml:"recovery_interval"`
}

// WorkerConfig holds send worker pool settings.
type WorkerConfig struct {
	NumWorkers      int           `yaml:"num_workers"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxAttempts     int           `yaml:"max_attempts"`
	BackoffInitial  time.Duration `yaml:"backoff_initial"`
	BackoffMax      time.Duration `yaml:"backoff_max"`
	SendTimeout     time.Duration `yaml:"send_timeout"`
}

// AdmissionConfig holds request validation and tenant quota limits.
type AdmissionConfig struct {
	BulkRecipientCeiling  int `yaml:"bulk_recipient_ceiling"`
	DailyEmailLimit       int `yaml:"daily_email_limit"`
	MonthlyEmailLimit     int `yaml:"monthly_email_limit"`
	DistinctRecipientsCap int `yaml:"distinct_recipients_cap"`
}

// WebhooksConfig holds per-provider webhook signing secrets.
type WebhooksConfig struct {
	SESSecret      string            `yaml:"ses_secret"`
	SendGridSecret string            `yaml:"sendgrid_secret"`
	GenericSecrets map[string]string `yaml:"generic_secrets"`
	MaxBodyBytes   int64             `yaml:"max_body_bytes"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Load reads configuration from the given YAML file path (optional) and
// applies environment variable overrides. A .env file is loaded first if
// present, matching local development workflow.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Database: DatabaseConfig{
			MaxOpenConns: 50,
			MaxIdleConns: 10,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Providers: ProvidersConfig{
			HealthCheckInterval: 30 * time.Second,
		},
		Queue: QueueConfig{
			VisibilityTimeout: 5 * time.Minute,
			RecoveryInterval:  time.Minute,
		},
		Worker: WorkerConfig{
			NumWorkers:     10,
			PollInterval:   250 * time.Millisecond,
			MaxAttempts:    5,
			BackoffInitial: 2 * time.Second,
			BackoffMax:     2 * time.Minute,
			SendTimeout:    30 * time.Second,
		},
		Admission: AdmissionConfig{
			BulkRecipientCeiling:  10000,
			DailyEmailLimit:       100000,
			MonthlyEmailLimit:     2000000,
			DistinctRecipientsCap: 50000,
		},
		Webhooks: WebhooksConfig{
			MaxBodyBytes: 5 * 1024 * 1024,
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
	}
}

// applyEnv overlays environment variables onto the loaded config.
// Env always wins over YAML so credentials stay out of files.
func (c *Config) applyEnv() {
	setStr(&c.Server.Addr, "SERVER_ADDR")
	setStr(&c.Server.AdminToken, "ADMIN_TOKEN")
	setBool(&c.Server.WorkerEmbedded, "WORKER_EMBEDDED")
	setStr(&c.Database.URL, "DATABASE_URL")
	setStr(&c.Redis.Addr, "REDIS_ADDR")
	setStr(&c.Redis.Password, "REDIS_PASSWORD")
	setStr(&c.Webhooks.SESSecret, "WEBHOOK_SES_SECRET")
	setStr(&c.Webhooks.SendGridSecret, "WEBHOOK_SENDGRID_SECRET")
	setStr(&c.Logging.Level, "LOG_LEVEL")
	setInt(&c.Worker.NumWorkers, "WORKER_POOL_SIZE")
	setInt(&c.Worker.MaxAttempts, "WORKER_MAX_ATTEMPTS")
	setInt(&c.Admission.BulkRecipientCeiling, "BULK_RECIPIENT_CEILING")

	// Provider credentials: env can populate an empty ordered list so a bare
	// deployment still sends. Unlike the old first-env-var-wins behavior, the
	// list order is explicit and revisable at runtime via the admin switch.
	if len(c.Providers.Ordered) == 0 {
		if key := os.Getenv("SES_ACCESS_KEY"); key != "" {
			c.Providers.Ordered = append(c.Providers.Ordered, ProviderConfig{
				Name:      "ses",
				AccessKey: key,
				SecretKey: os.Getenv("SES_SECRET_KEY"),
				Region:    os.Getenv("SES_REGION"),
			})
		}
		if key := os.Getenv("SENDGRID_API_KEY"); key != "" {
			c.Providers.Ordered = append(c.Providers.Ordered, ProviderConfig{Name: "sendgrid", APIKey: key})
		}
		if key := os.Getenv("SPARKPOST_API_KEY"); key != "" {
			c.Providers.Ordered = append(c.Providers.Ordered, ProviderConfig{Name: "sparkpost", APIKey: key})
		}
	}
}

// Validate checks invariants that would otherwise surface as runtime faults.
func (c *Config) Validate() error {
	if c.Worker.NumWorkers <= 0 {
		return fmt.Errorf("worker.num_workers must be positive, got %d", c.Worker.NumWorkers)
	}
	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("worker.max_attempts must be positive, got %d", c.Worker.MaxAttempts)
	}
	if c.Admission.BulkRecipientCeiling <= 0 {
		return fmt.Errorf("admission.bulk_recipient_ceiling must be positive, got %d", c.Admission.BulkRecipientCeiling)
	}
	if c.Queue.VisibilityTimeout <= 0 {
		return fmt.Errorf("queue.visibility_timeout must be positive")
	}
	seen := map[string]bool{}
	for _, p := range c.Providers.Ordered {
		if p.Name == "" {
			return fmt.Errorf("provider entry missing name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider %q in ordered list", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
