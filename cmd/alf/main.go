package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfhq/alf/config"
	"github.com/alfhq/alf/internal/research"
	"github.com/alfhq/alf/internal/research/fetch"
	srv "github.com/alfhq/alf/internal/server"
	"github.com/alfhq/alf/internal/store"
	"github.com/alfhq/alf/internal/telemetry"
)

func main() {
	var root = &cobra.Command{Use: "alf"}

	var cfgPath string
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")

	var serveAddr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if serveAddr == "" {
				serveAddr = os.Getenv("ALF_HTTP_ADDR")
			}
			return srv.Run(cfgPath, serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")

	var migDir string
	var direction string
	var steps int
	var migrate = &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if err := cfg.Storage.Postgres.Validate(); err != nil {
				return err
			}
			return store.Migrate(migDir, cfg.Storage.Postgres.DSN(), direction, steps)
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", "file://migrations", "migrations source")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	var preset string
	var researchCmd = &cobra.Command{
		Use:   "research [query]",
		Short: "Run one research query from the terminal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResearch(cfgPath, args[0], preset, cmd.OutOrStdout())
		},
	}
	researchCmd.Flags().StringVar(&preset, "preset", "default", "pipeline preset (default, quick, thorough)")

	root.AddCommand(serve, migrate, researchCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runResearch drives the pipeline directly without the HTTP layer, writing
// the brief to out as it streams.
func runResearch(cfgPath, query, preset string, out io.Writer) error {
	cfg := config.LoadConfig(cfgPath)

	httpc := research.NewHTTPClient(cfg.Search.Timeout, cfg.Pipeline.RetryMax, cfg.Pipeline.RetryBackoff)
	searchStage, err := research.NewSearchStage(cfg.Search, httpc)
	if err != nil {
		return err
	}
	fetcher, err := fetch.New(cfg.Scrape, research.NewHTTPClient(cfg.Scrape.Timeout, cfg.Pipeline.RetryMax, cfg.Pipeline.RetryBackoff), cfg.Pipeline.RetryMax, cfg.Pipeline.RetryBackoff)
	if err != nil {
		return err
	}
	provider, err := research.NewLLMProvider(cfg.LLM)
	if err != nil {
		return err
	}
	orch := research.NewOrchestrator(cfg, searchStage, fetcher, provider, telemetry.New(nil),
		log.New(os.Stderr, "[ORCH] ", log.LstdFlags))

	var failed error
	for ev := range orch.Run(context.Background(), query, orch.Preset(preset)) {
		switch ev.Type {
		case research.EventStatus:
			fmt.Fprintf(os.Stderr, "-- %v\n", ev.Payload["stage"])
		case research.EventText:
			if delta, ok := ev.Payload["delta"].(string); ok {
				fmt.Fprint(out, delta)
			}
		case research.EventError:
			failed = fmt.Errorf("%v", ev.Payload["message"])
		case research.EventDone:
			fmt.Fprintf(os.Stderr, "\n-- done: %v sources, %v tokens\n", ev.Payload["sources"], ev.Payload["tokens_used"])
			if docs, ok := ev.Payload["source_documents"].([]research.SourceDocument); ok {
				for i, d := range docs {
					fmt.Fprintln(os.Stderr, "   "+research.FormatCitation(i+1, d))
				}
			}
		}
	}
	fmt.Fprintln(out)
	return failed
}
