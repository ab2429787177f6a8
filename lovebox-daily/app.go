package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"lovebox_automation/lovebox-daily/artifact"
	"lovebox_automation/lovebox-daily/config"
	"lovebox_automation/lovebox-daily/cycle"
	"lovebox_automation/lovebox-daily/generator"
	"lovebox_automation/lovebox-daily/logger"
	"lovebox_automation/lovebox-daily/lovebox"
	"lovebox_automation/lovebox-daily/notify"
	"lovebox_automation/lovebox-daily/pipeline"
	"lovebox_automation/lovebox-daily/prompt"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configFile string
	envFile    string
	ephemeral  bool
}

// loadConfig loads and defaults the configuration. validate is false for
// commands that only touch the cycle store.
func loadConfig(flags globalFlags, validate bool) (*config.Config, error) {
	var opts []config.LoaderOption
	if flags.configFile != "" {
		opts = append(opts, config.WithConfigFile(flags.configFile))
	}
	if flags.envFile != "" {
		opts = append(opts, config.WithEnvFile(flags.envFile))
	}

	cfg, err := config.Load(opts...)
	if err != nil {
		return nil, err
	}
	if flags.ephemeral {
		cfg.Store.Driver = config.StoreMemory
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// openStore opens the configured cycle store. The returned close function
// is never nil.
func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (cycle.Store, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	storeLog := logger.Component(log, "cycle_store")

	switch cfg.Store.Driver {
	case config.StoreMemory:
		return cycle.NewMemoryStore(), noop, nil
	case config.StoreMongo:
		store, disconnect, err := cycle.ConnectMongo(ctx, cfg.Store.MongoURI, cfg.Store.MongoDatabase,
			cfg.Store.MongoCollection, cfg.Store.MongoDocumentID, storeLog)
		if err != nil {
			return nil, noop, err
		}
		return store, disconnect, nil
	case config.StoreFile, "":
		return cycle.NewFileStore(cfg.Store.Path, cycle.WithFileLogger(storeLog)), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown cycle store driver %q", cfg.Store.Driver)
	}
}

// newRunner wires the pipeline's collaborators from cfg.
func newRunner(ctx context.Context, cfg *config.Config, log zerolog.Logger, selector *cycle.Selector) (*pipeline.Runner, error) {
	template, err := cfg.PromptTemplate()
	if err != nil {
		return nil, err
	}
	assembler, err := prompt.New(prompt.Config{
		DataDir:   cfg.Prompt.DataDir,
		Template:  template,
		PhotosDir: cfg.Prompt.PhotosDir,
		Remix:     cfg.Prompt.Remix,
	}, selector, logger.Component(log, "prompt"))
	if err != nil {
		return nil, err
	}

	gen, err := generator.New(ctx, generator.Config{
		Provider:      cfg.Image.Provider,
		Model:         cfg.Image.Model,
		GeminiAPIKey:  cfg.Image.GeminiAPIKey,
		OpenAIAPIKey:  cfg.Image.OpenAIAPIKey,
		OpenAIBaseURL: cfg.Image.OpenAIBaseURL,
	}, logger.Component(log, "generator"))
	if err != nil {
		return nil, err
	}

	notifier, err := notify.New(notify.Config{
		Host:       cfg.Email.Host,
		Port:       cfg.Email.Port,
		Address:    cfg.Email.Address,
		Password:   cfg.Email.Password,
		SenderName: cfg.SenderName,
	}, logger.Component(log, "notify"))
	if err != nil {
		return nil, err
	}

	client := lovebox.NewClient(lovebox.Config{
		Endpoint: cfg.Lovebox.Endpoint,
		APIKey:   cfg.Lovebox.APIKey,
		Timeout:  cfg.Lovebox.Timeout,
	}, logger.Component(log, "lovebox"))

	// a leftover image from an interrupted run would otherwise be mailed
	if err := artifact.RemoveStale(cfg.Image.Path); err != nil {
		log.Warn().Err(err).Msg("could not remove stale image")
	}

	return pipeline.NewRunner(cfg, pipeline.Deps{
		Prompts:   assembler,
		Generator: gen,
		Lovebox:   client,
		Notifier:  notifier,
		Log:       logger.Component(log, "pipeline"),
	}), nil
}
