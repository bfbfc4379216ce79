package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Separation SeparationConfig `yaml:"separation"`
	Workspace  WorkspaceConfig  `yaml:"workspace"`
	Mail       MailConfig       `yaml:"mail"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`

	// Database is optional; when set, job events are also written to Postgres
	DatabaseURL string `yaml:"database_url"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // json | console
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port           string `yaml:"port"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

// SeparationConfig describes how the external separation tool is invoked
type SeparationConfig struct {
	Binary         string `yaml:"binary"`
	GeneralModel   string `yaml:"general_model"`
	FineTunedModel string `yaml:"fine_tuned_model"`
	DefaultVariant string `yaml:"default_variant"`
}

// WorkspaceConfig holds the transient workspace root
type WorkspaceConfig struct {
	Root string `yaml:"root"` // Empty means os.TempDir()
}

// SchedulerConfig sizes the background worker pool for emailed jobs
type SchedulerConfig struct {
	Workers int `yaml:"workers"`

	// NotifyOnDeliveryFailure sends a failure notice when the result email itself fails
	NotifyOnDeliveryFailure bool `yaml:"notify_on_delivery_failure"`
}

// MailConfig holds credentials for the email capability
type MailConfig struct {
	Backend  string `yaml:"backend"` // ses | smtp
	From     string `yaml:"from"`
	Operator string `yaml:"operator"` // Optional BCC on failure notices

	SESRegion string `yaml:"ses_region"`

	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     int    `yaml:"smtp_port"`
	SMTPUsername string `yaml:"smtp_username"`
	SMTPPassword string `yaml:"smtp_password"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8000",
			MaxUploadBytes: 200 << 20,
		},
		Separation: SeparationConfig{
			Binary:         "demucs",
			GeneralModel:   "htdemucs_6s",
			FineTunedModel: "htdemucs_ft",
			DefaultVariant: "general",
		},
		Scheduler: SchedulerConfig{
			Workers:                 2,
			NotifyOnDeliveryFailure: true,
		},
		Mail: MailConfig{
			Backend:  "ses",
			SMTPPort: 587,
		},
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// Load loads configuration from an optional YAML file, then environment variables
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("STEMS_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables and reports every malformed value
func (c *Config) applyEnv() error {
	env := &envReader{}

	c.Server.Port = getEnv("SERVER_PORT", c.Server.Port)
	c.Server.MaxUploadBytes = env.getInt64("MAX_UPLOAD_BYTES", c.Server.MaxUploadBytes)

	c.Separation.Binary = getEnv("SEPARATOR_BINARY", c.Separation.Binary)
	c.Separation.GeneralModel = getEnv("SEPARATOR_GENERAL_MODEL", c.Separation.GeneralModel)
	c.Separation.FineTunedModel = getEnv("SEPARATOR_FINE_TUNED_MODEL", c.Separation.FineTunedModel)
	c.Separation.DefaultVariant = getEnv("SEPARATOR_DEFAULT_VARIANT", c.Separation.DefaultVariant)

	c.Workspace.Root = getEnv("WORKSPACE_ROOT", c.Workspace.Root)

	c.Scheduler.Workers = int(env.getInt64("SCHEDULER_WORKERS", int64(c.Scheduler.Workers)))
	c.Scheduler.NotifyOnDeliveryFailure = env.getBool("NOTIFY_ON_DELIVERY_FAILURE", c.Scheduler.NotifyOnDeliveryFailure)

	c.Mail.Backend = getEnv("MAIL_BACKEND", c.Mail.Backend)
	c.Mail.From = getEnv("MAIL_FROM", c.Mail.From)
	c.Mail.Operator = getEnv("MAIL_OPERATOR", c.Mail.Operator)
	c.Mail.SESRegion = getEnv("AWS_REGION", c.Mail.SESRegion)
	c.Mail.SMTPHost = getEnv("SMTP_HOST", c.Mail.SMTPHost)
	c.Mail.SMTPPort = int(env.getInt64("SMTP_PORT", int64(c.Mail.SMTPPort)))
	c.Mail.SMTPUsername = getEnv("SMTP_USERNAME", c.Mail.SMTPUsername)
	c.Mail.SMTPPassword = getEnv("SMTP_PASSWORD", c.Mail.SMTPPassword)

	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)

	return errors.Join(env.errs...)
}

// Validate checks settings every code path depends on. Mail is validated separately
// because synchronous-only deployments run without it.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Port) == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("server.max_upload_bytes must be positive"))
	}
	if strings.TrimSpace(c.Separation.Binary) == "" {
		errs = append(errs, errors.New("separation.binary is required"))
	}
	if c.Separation.GeneralModel == "" || c.Separation.FineTunedModel == "" {
		errs = append(errs, errors.New("separation models are required"))
	}
	switch c.Separation.DefaultVariant {
	case "general", "fine_tuned":
	default:
		errs = append(errs, fmt.Errorf("separation.default_variant %q is not general or fine_tuned", c.Separation.DefaultVariant))
	}
	if c.Scheduler.Workers < 1 {
		errs = append(errs, errors.New("scheduler.workers must be at least 1"))
	}
	return errors.Join(errs...)
}

// Validate reports every missing mail setting for the selected backend
func (m MailConfig) Validate() error {
	var missing []string
	if strings.TrimSpace(m.From) == "" {
		missing = append(missing, "MAIL_FROM")
	}

	switch m.Backend {
	case "ses":
		if strings.TrimSpace(m.SESRegion) == "" {
			missing = append(missing, "AWS_REGION")
		}
	case "smtp":
		if strings.TrimSpace(m.SMTPHost) == "" {
			missing = append(missing, "SMTP_HOST")
		}
		if m.SMTPPort <= 0 {
			missing = append(missing, "SMTP_PORT")
		}
	default:
		return fmt.Errorf("mail backend %q is not ses or smtp", m.Backend)
	}

	if len(missing) > 0 {
		return fmt.Errorf("mail configuration incomplete, missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envReader parses typed variables and collects parse failures
type envReader struct {
	errs []error
}

func (e *envReader) getInt64(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not an integer", key, value))
		return defaultValue
	}
	return n
}

func (e *envReader) getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not a boolean", key, value))
		return defaultValue
	}
	return b
}
