package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/penwright/scribe/internal/agent"
	"github.com/penwright/scribe/internal/classifier"
	"github.com/penwright/scribe/internal/config"
	"github.com/penwright/scribe/internal/llm"
	"github.com/penwright/scribe/internal/memory"
	"github.com/penwright/scribe/internal/orchestrator"
	"github.com/penwright/scribe/internal/search"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "scribe",
	Short:         "Research, analyze and write articles with persistent memory",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(learningsCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

// app bundles the configured pipeline and its store for one command.
type app struct {
	cfg   config.Config
	store *memory.Store
	orch  *orchestrator.Orchestrator
}

func buildApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	initLogging(cfg)

	store, err := memory.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening memory store: %w", err)
	}

	modelClient := llm.NewClientWithBaseURL(cfg.Model.APIKey, cfg.Model.Name, cfg.Model.BaseURL)
	searchClient := search.NewClientWithBaseURL(cfg.Search.APIKey, cfg.Search.MaxResults, cfg.Search.BaseURL)

	researcher := agent.NewResearcher(modelClient, searchClient, cfg.Pipeline.MaxToolRounds)
	analyzer := agent.NewAnalyzer(modelClient)
	writer := agent.NewWriter(modelClient)
	cls := classifier.New(modelClient, store)

	return &app{
		cfg:   cfg,
		store: store,
		orch:  orchestrator.New(cls, researcher, analyzer, writer, store),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func initLogging(cfg config.Config) {
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}
