// Package config loads the daily run's settings from an optional YAML file,
// a .env file and the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"lovebox_automation/lovebox-daily/apperr"
	"lovebox_automation/lovebox-daily/logger"
)

// Config is the complete run configuration.
type Config struct {
	// SenderName greets the sender in report emails.
	SenderName string        `mapstructure:"sender_name" yaml:"sender_name"`
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay" validate:"gte=0"`

	Lovebox LoveboxConfig `mapstructure:"lovebox" yaml:"lovebox"`
	Email   EmailConfig   `mapstructure:"email" yaml:"email"`
	Image   ImageConfig   `mapstructure:"image" yaml:"image"`
	Prompt  PromptConfig  `mapstructure:"prompt" yaml:"prompt"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Logging logger.Config `mapstructure:"logging" yaml:"logging"`
}

// Recipient is a Lovebox device owner.
type Recipient struct {
	Name string `mapstructure:"name" yaml:"name"`
	ID   string `mapstructure:"id" yaml:"id"`
}

// LoveboxConfig configures delivery.
type LoveboxConfig struct {
	Endpoint     string        `mapstructure:"endpoint" yaml:"endpoint" validate:"omitempty,url"`
	APIKey       string        `mapstructure:"api_key" yaml:"api_key" validate:"required"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Recipient    Recipient     `mapstructure:"recipient" yaml:"recipient"`
	AltRecipient Recipient     `mapstructure:"alt_recipient" yaml:"alt_recipient"`
}

// EmailConfig configures the SMTP report.
type EmailConfig struct {
	Host     string `mapstructure:"host" yaml:"host" validate:"required"`
	Port     int    `mapstructure:"port" yaml:"port" validate:"required,gt=0,lte=65535"`
	Address  string `mapstructure:"address" yaml:"address" validate:"required,email"`
	Password string `mapstructure:"password" yaml:"password" validate:"required"`
}

// ImageConfig configures generation and the local artifact.
type ImageConfig struct {
	Provider      string `mapstructure:"provider" yaml:"provider" validate:"oneof=gemini openai"`
	Model         string `mapstructure:"model" yaml:"model"`
	GeminiAPIKey  string `mapstructure:"gemini_api_key" yaml:"gemini_api_key" validate:"required_if=Provider gemini"`
	OpenAIAPIKey  string `mapstructure:"openai_api_key" yaml:"openai_api_key" validate:"required_if=Provider openai"`
	OpenAIBaseURL string `mapstructure:"openai_base_url" yaml:"openai_base_url"`
	// Path is where the generated image is kept during a run.
	Path string `mapstructure:"path" yaml:"path" validate:"required"`
}

// PromptConfig configures prompt assembly.
type PromptConfig struct {
	DataDir string `mapstructure:"data_dir" yaml:"data_dir" validate:"required"`
	// Template overrides the built-in prompt; TemplateFile takes precedence.
	Template     string `mapstructure:"template" yaml:"template"`
	TemplateFile string `mapstructure:"template_file" yaml:"template_file"`
	PhotosDir    string `mapstructure:"photos_dir" yaml:"photos_dir"`
	Remix        bool   `mapstructure:"remix" yaml:"remix"`
}

// Store drivers.
const (
	StoreFile   = "file"
	StoreMongo  = "mongo"
	StoreMemory = "memory"
)

// StoreConfig selects where shuffle cycles persist.
type StoreConfig struct {
	Driver          string `mapstructure:"driver" yaml:"driver" validate:"oneof=file mongo memory"`
	Path            string `mapstructure:"path" yaml:"path" validate:"required_if=Driver file"`
	MongoURI        string `mapstructure:"mongo_uri" yaml:"mongo_uri" validate:"required_if=Driver mongo"`
	MongoDatabase   string `mapstructure:"mongo_database" yaml:"mongo_database"`
	MongoCollection string `mapstructure:"mongo_collection" yaml:"mongo_collection"`
	MongoDocumentID string `mapstructure:"mongo_document_id" yaml:"mongo_document_id"`
}

// ServerConfig configures the status server.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	if c.RetryDelay == 0 {
		c.RetryDelay = 15 * time.Second
	}
	if c.Lovebox.Endpoint == "" {
		c.Lovebox.Endpoint = "https://app-api.loveboxlove.com/v1/graphql"
	}
	if c.Lovebox.Timeout == 0 {
		c.Lovebox.Timeout = 60 * time.Second
	}
	if c.Email.Host == "" {
		c.Email.Host = "smtp.gmail.com"
	}
	if c.Email.Port == 0 {
		c.Email.Port = 587
	}
	if c.Image.Provider == "" {
		c.Image.Provider = "gemini"
	}
	c.Image.Provider = strings.ToLower(c.Image.Provider)
	if c.Image.Path == "" {
		c.Image.Path = "daily_image.png"
	}
	if c.Prompt.DataDir == "" {
		c.Prompt.DataDir = "."
	}
	if c.Store.Driver == "" {
		c.Store.Driver = StoreFile
	}
	c.Store.Driver = strings.ToLower(c.Store.Driver)
	if c.Store.Path == "" {
		c.Store.Path = ".cycle_state.json"
	}
	if c.Store.MongoDatabase == "" {
		c.Store.MongoDatabase = "lovebox"
	}
	if c.Store.MongoCollection == "" {
		c.Store.MongoCollection = "shuffle_cycles"
	}
	if c.Store.MongoDocumentID == "" {
		c.Store.MongoDocumentID = "shuffle_cycles"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8088"
	}
	c.Logging.ApplyDefaults()
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration. A missing or invalid setting fails with
// apperr.ErrConfigurationMissing naming the environment variable to set.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return apperr.ConfigurationMissing(settingName(fe.Namespace())).
				WithDetail("rule", fe.Tag()).
				WithDetail("invalid_fields", len(fieldErrs))
		}
		return fmt.Errorf("validating configuration: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return apperr.ConfigurationMissing("logging").WithCause(err)
	}
	return nil
}

// RecipientFor returns the primary recipient, or the alternate one when alt
// is set. A recipient without an ID is a configuration error.
func (c *Config) RecipientFor(alt bool) (Recipient, error) {
	r, envName := c.Lovebox.Recipient, "LOVEBOX_RECIPIENT_ID"
	if alt {
		r, envName = c.Lovebox.AltRecipient, "LOVEBOX_ALT_RECIPIENT_ID"
	}
	if r.ID == "" {
		return Recipient{}, apperr.ConfigurationMissing(envName)
	}
	if r.Name == "" {
		r.Name = r.ID
	}
	return r, nil
}

// PromptTemplate returns the configured prompt template, reading
// TemplateFile when set. An empty result selects the built-in template.
func (c *Config) PromptTemplate() (string, error) {
	if c.Prompt.TemplateFile == "" {
		return c.Prompt.Template, nil
	}
	data, err := os.ReadFile(c.Prompt.TemplateFile)
	if err != nil {
		return "", apperr.ResourceUnavailable(c.Prompt.TemplateFile, err)
	}
	return string(data), nil
}

// settingName maps a validator namespace like "Config.Email.Address" to the
// environment variable that sets it, falling back to the dotted path.
func settingName(namespace string) string {
	path := strings.TrimPrefix(namespace, "Config.")
	if env, ok := envByField[path]; ok {
		return env
	}
	return path
}

var envByField = map[string]string{
	"Lovebox.APIKey":     "LOVEBOX_API_KEY",
	"Lovebox.Endpoint":   "LOVEBOX_ENDPOINT",
	"Email.Address":      "EMAIL_ADDRESS",
	"Email.Password":     "EMAIL_PASSWORD",
	"Email.Host":         "SMTP_HOST",
	"Email.Port":         "SMTP_PORT",
	"Image.Provider":     "IMAGE_PROVIDER",
	"Image.GeminiAPIKey": "GEMINI_API_KEY",
	"Image.OpenAIAPIKey": "OPENAI_API_KEY",
	"Store.Driver":       "CYCLE_STORE_DRIVER",
	"Store.MongoURI":     "MONGODB_URI",
}
