package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultEnvFile is loaded when present and no env file is named.
const DefaultEnvFile = ".env"

// envBindings maps config keys to the environment variables that set them.
// The first name listed wins when several are set.
var envBindings = map[string][]string{
	"sender_name":                {"NAME_OF_SENDER"},
	"retry_delay":                {"RETRY_DELAY"},
	"lovebox.endpoint":           {"LOVEBOX_ENDPOINT"},
	"lovebox.api_key":            {"LOVEBOX_API_KEY"},
	"lovebox.timeout":            {"LOVEBOX_TIMEOUT"},
	"lovebox.recipient.name":     {"LOVEBOX_RECIPIENT_NAME"},
	"lovebox.recipient.id":       {"LOVEBOX_RECIPIENT_ID"},
	"lovebox.alt_recipient.name": {"LOVEBOX_ALT_RECIPIENT_NAME"},
	"lovebox.alt_recipient.id":   {"LOVEBOX_ALT_RECIPIENT_ID"},
	"email.host":                 {"SMTP_HOST"},
	"email.port":                 {"SMTP_PORT"},
	"email.address":              {"EMAIL_ADDRESS"},
	"email.password":             {"EMAIL_PASSWORD"},
	"image.provider":             {"IMAGE_PROVIDER"},
	"image.model":                {"IMAGE_MODEL"},
	"image.gemini_api_key":       {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"image.openai_api_key":       {"OPENAI_API_KEY"},
	"image.openai_base_url":      {"OPENAI_BASE_URL"},
	"image.path":                 {"IMAGE_PATH"},
	"prompt.data_dir":            {"PROMPT_DATA_DIR"},
	"prompt.template_file":       {"PROMPT_TEMPLATE_FILE"},
	"prompt.photos_dir":          {"PHOTOS_DIR"},
	"prompt.remix":               {"REMIX_PHOTOS"},
	"store.driver":               {"CYCLE_STORE_DRIVER"},
	"store.path":                 {"CYCLE_STORE_PATH"},
	"store.mongo_uri":            {"MONGODB_URI"},
	"store.mongo_database":       {"MONGODB_DATABASE"},
	"store.mongo_collection":     {"MONGODB_COLLECTION"},
	"store.mongo_document_id":    {"MONGODB_DOCUMENT_ID"},
	"server.addr":                {"SERVER_ADDR"},
	"logging.level":              {"LOG_LEVEL"},
	"logging.format":             {"LOG_FORMAT"},
	"logging.no_color":           {"LOG_NO_COLOR"},
}

// LoaderConfig holds optional file overrides.
type LoaderConfig struct {
	ConfigFile string // YAML config file (optional)
	EnvFile    string // .env file (optional)
}

// LoaderOption is a functional option for Load.
type LoaderOption func(*LoaderConfig)

// WithConfigFile sets an explicit YAML config file.
func WithConfigFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.ConfigFile = path }
}

// WithEnvFile sets an explicit .env file. Unlike the default .env, a named
// file must exist.
func WithEnvFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvFile = path }
}

// Load reads the YAML file, then the .env file, then the environment, and
// returns a defaulted but unvalidated Config. Environment values override
// the file; variables already set in the process override the .env file.
func Load(opts ...LoaderOption) (*Config, error) {
	var lc LoaderConfig
	for _, opt := range opts {
		opt(&lc)
	}

	v := viper.New()

	// 1. Base configuration from YAML
	if lc.ConfigFile != "" {
		v.SetConfigFile(lc.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", lc.ConfigFile, err)
		}
	}

	// 2. .env into the process environment
	envFile, required := lc.EnvFile, true
	if envFile == "" {
		envFile, required = DefaultEnvFile, false
	}
	if err := godotenv.Load(envFile); err != nil {
		if required || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	// 3. Environment bindings
	for key, names := range envBindings {
		args := append([]string{key}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}
