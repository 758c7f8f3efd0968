package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hurttlocker/docrouter/internal/config"
	"github.com/hurttlocker/docrouter/internal/llm"
	"github.com/hurttlocker/docrouter/internal/logging"
	"github.com/hurttlocker/docrouter/internal/pipeline"
	"github.com/hurttlocker/docrouter/internal/store"
)

// app carries the global flags and I/O streams shared by every subcommand.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	configPath string
	envFile    string
	dbPath     string
	model      string
	mode       string
	logLevel   string
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "docrouter [file]",
		Short: "Classify documents by format and intent and log the results",
		Long: `docrouter reads a PDF, JSON, plain-text or email file, detects its format,
asks the configured model for the intent (e.g. Email+Invoice), extracts key
fields, prints the result, and records it in the classification log.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return a.classifyFile(cmd, args[0])
		},
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default ~/.docrouter/config.yaml)")
	pf.StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before resolving config")
	pf.StringVar(&a.dbPath, "db", "", "classification log database path")
	pf.StringVar(&a.model, "model", "", "chat model name")
	pf.StringVar(&a.mode, "mode", "", "extraction mode: ai_with_fallback, ai or rules")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(
		a.newClassifyCmd(),
		a.newHistoryCmd(),
		a.newIntentsCmd(),
		a.newDeleteCmd(),
		a.newServeCmd(),
		a.newConfigCmd(),
		newVersionCmd(stdout),
	)
	return root
}

func (a *app) resolveConfig() (config.Config, error) {
	cfg, err := config.ResolveConfig(config.ResolveOptions{
		ConfigPath:  a.configPath,
		EnvFile:     a.envFile,
		CLIDBPath:   a.dbPath,
		CLIModel:    a.model,
		CLIMode:     a.mode,
		CLILogLevel: a.logLevel,
	})
	if err != nil {
		return cfg, fmt.Errorf("resolving config: %w", err)
	}
	return cfg, nil
}

func (a *app) newLogger(cfg config.Config) (*slog.Logger, error) {
	logger, err := logging.New(a.stderr, cfg.Log.Level.Value, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("configuring logger: %w", err)
	}
	return logger, nil
}

// openStore resolves config and opens the log store. The caller closes it.
func (a *app) openStore() (*store.SQLiteStore, error) {
	cfg, err := a.resolveConfig()
	if err != nil {
		return nil, err
	}
	return openStoreAt(cfg)
}

func openStoreAt(cfg config.Config) (*store.SQLiteStore, error) {
	st, err := store.NewStore(store.StoreConfig{DBPath: cfg.DBPath.Value})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return st, nil
}

// session is everything a classification needs, built from one resolved config.
type session struct {
	cfg    config.Config
	logger *slog.Logger
	store  *store.SQLiteStore
	router *pipeline.Router
}

func (s *session) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}

func (a *app) openSession() (*session, error) {
	cfg, err := a.resolveConfig()
	if err != nil {
		return nil, err
	}
	logger, err := a.newLogger(cfg)
	if err != nil {
		return nil, err
	}
	provider, err := llm.NewProvider(llm.ConfigFrom(cfg.LLM), logger)
	if err != nil {
		return nil, fmt.Errorf("creating llm provider: %w", err)
	}
	st, err := openStoreAt(cfg)
	if err != nil {
		return nil, err
	}
	logger.Debug("docrouter.start",
		"db", st.Path(),
		"provider", provider.Name(),
		"mode", cfg.Extraction.Mode.Value,
	)
	return &session{
		cfg:    cfg,
		logger: logger,
		store:  st,
		router: pipeline.NewFromConfig(cfg, provider, st, logger),
	}, nil
}
