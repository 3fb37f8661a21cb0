package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Dispatch DispatchConfig `yaml:"dispatch" mapstructure:"dispatch"`
	Mail     MailConfig     `yaml:"mail" mapstructure:"mail"`
	Branding BrandingConfig `yaml:"branding" mapstructure:"branding"`
	Campaign CampaignConfig `yaml:"campaign" mapstructure:"campaign"`
	OCR      OCRConfig      `yaml:"ocr" mapstructure:"ocr"`
	Events   EventsConfig   `yaml:"events" mapstructure:"events"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port     int    `yaml:"port" mapstructure:"port"`
	APIToken string `yaml:"api_token" mapstructure:"api_token"`
}

// DispatchConfig configures the shared rate limiter and the delivery retry policy.
type DispatchConfig struct {
	RateLimit        int     `yaml:"rate_limit" mapstructure:"rate_limit"`
	WindowSecs       int     `yaml:"window_secs" mapstructure:"window_secs"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// MailConfig selects and configures the outbound transport.
type MailConfig struct {
	Transport string         `yaml:"transport" mapstructure:"transport"`
	FromEmail string         `yaml:"from_email" mapstructure:"from_email"`
	FromName  string         `yaml:"from_name" mapstructure:"from_name"`
	ReplyTo   string         `yaml:"reply_to" mapstructure:"reply_to"`
	SMTP      SMTPConfig     `yaml:"smtp" mapstructure:"smtp"`
	SendGrid  SendGridConfig `yaml:"sendgrid" mapstructure:"sendgrid"`
}

// SMTPConfig holds SMTP relay credentials.
type SMTPConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
}

// SendGridConfig holds SendGrid v3 API settings.
type SendGridConfig struct {
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// BrandingConfig holds the sender identity merged into every email.
type BrandingConfig struct {
	BusinessName    string `yaml:"business_name" mapstructure:"business_name"`
	BusinessAddress string `yaml:"business_address" mapstructure:"business_address"`
	OptoutMode      string `yaml:"optout_mode" mapstructure:"optout_mode"`
	OptoutLink      string `yaml:"optout_link" mapstructure:"optout_link"`
}

// CampaignConfig configures prepare/send behavior.
type CampaignConfig struct {
	DefaultTone  string `yaml:"default_tone" mapstructure:"default_tone"`
	PreviewLimit int    `yaml:"preview_limit" mapstructure:"preview_limit"`
}

// OCRConfig configures PDF text extraction and the OCR fallback.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	PdfToPPMPath  string `yaml:"pdftoppm_path" mapstructure:"pdftoppm_path"`
	TesseractPath string `yaml:"tesseract_path" mapstructure:"tesseract_path"`
	Lang          string `yaml:"lang" mapstructure:"lang"`
	DPI           int    `yaml:"dpi" mapstructure:"dpi"`
	MaxPages      int    `yaml:"max_pages" mapstructure:"max_pages"`
	MistralKey    string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel  string `yaml:"mistral_model" mapstructure:"mistral_model"`
	Concurrency   int    `yaml:"concurrency" mapstructure:"concurrency"`
}

// EventsConfig configures job event publication.
type EventsConfig struct {
	AMQPURL  string `yaml:"amqp_url" mapstructure:"amqp_url"`
	Exchange string `yaml:"exchange" mapstructure:"exchange"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MAILER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Every key is registered so AutomaticEnv can override it.
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "mailer.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_token", "")
	v.SetDefault("dispatch.rate_limit", 60)
	v.SetDefault("dispatch.window_secs", 60)
	v.SetDefault("dispatch.max_attempts", 3)
	v.SetDefault("dispatch.initial_backoff_ms", 2000)
	v.SetDefault("dispatch.max_backoff_ms", 10000)
	v.SetDefault("dispatch.multiplier", 2.0)
	v.SetDefault("dispatch.jitter_fraction", 0.0)
	v.SetDefault("mail.transport", "log")
	v.SetDefault("mail.from_email", "funding@rhfunding.io")
	v.SetDefault("mail.from_name", "RedHat Funding")
	v.SetDefault("mail.reply_to", "")
	v.SetDefault("mail.smtp.host", "")
	v.SetDefault("mail.smtp.port", 587)
	v.SetDefault("mail.smtp.username", "")
	v.SetDefault("mail.smtp.password", "")
	v.SetDefault("mail.sendgrid.api_key", "")
	v.SetDefault("mail.sendgrid.base_url", "https://api.sendgrid.com")
	v.SetDefault("branding.business_name", "RedHat Funding")
	v.SetDefault("branding.business_address", "123 Main St, Fort Lauderdale, FL 33301, USA")
	v.SetDefault("branding.optout_mode", "link")
	v.SetDefault("branding.optout_link", "https://rhfunding.io/unsubscribe")
	v.SetDefault("campaign.default_tone", "conservative")
	v.SetDefault("campaign.preview_limit", 10)
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.pdftoppm_path", "pdftoppm")
	v.SetDefault("ocr.tesseract_path", "tesseract")
	v.SetDefault("ocr.lang", "eng")
	v.SetDefault("ocr.dpi", 300)
	v.SetDefault("ocr.max_pages", 0)
	v.SetDefault("ocr.mistral_api_key", "")
	v.SetDefault("ocr.mistral_model", "mistral-ocr-latest")
	v.SetDefault("ocr.concurrency", 4)
	v.SetDefault("events.amqp_url", "")
	v.SetDefault("events.exchange", "lead-mailer.events")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	switch c.Mail.Transport {
	case "log":
	case "smtp":
		if c.Mail.SMTP.Host == "" {
			errs = append(errs, "mail.smtp.host is required")
		}
		if c.Mail.SMTP.Port <= 0 {
			errs = append(errs, "mail.smtp.port must be > 0")
		}
	case "sendgrid":
		if c.Mail.SendGrid.APIKey == "" {
			errs = append(errs, "mail.sendgrid.api_key is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("mail.transport %q is not supported", c.Mail.Transport))
	}
	if c.Mail.FromEmail == "" {
		errs = append(errs, "mail.from_email is required")
	}

	if c.Dispatch.RateLimit <= 0 {
		errs = append(errs, "dispatch.rate_limit must be > 0")
	}
	if c.Dispatch.WindowSecs <= 0 {
		errs = append(errs, "dispatch.window_secs must be > 0")
	}
	if c.Dispatch.MaxAttempts <= 0 {
		errs = append(errs, "dispatch.max_attempts must be > 0")
	}
	if c.Dispatch.JitterFraction < 0 || c.Dispatch.JitterFraction > 1 {
		errs = append(errs, "dispatch.jitter_fraction must be between 0 and 1")
	}

	switch c.OCR.Provider {
	case "local", "none", "":
	case "mistral":
		if c.OCR.MistralKey == "" {
			errs = append(errs, "ocr.mistral_api_key is required for the mistral provider")
		}
	default:
		errs = append(errs, fmt.Sprintf("ocr.provider %q is not supported", c.OCR.Provider))
	}

	if c.Campaign.PreviewLimit < 0 {
		errs = append(errs, "campaign.preview_limit must be >= 0")
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
