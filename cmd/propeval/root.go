package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/fairyhunter13/proposal-evaluator/internal/adapter/observability"
	"github.com/fairyhunter13/proposal-evaluator/internal/config"
)

// cli carries state shared by every subcommand.
type cli struct {
	envFile string
	cfg     config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "propeval",
		Short: "Evaluate project proposals against a specification",
		Long: `propeval scores proposals against a specification on ten fixed criteria
using the configured LLM providers, with retries, response repair and an
offline fallback so every run yields a complete analysis.

Commands:
  analyze     Analyze one or more proposals
  fallback    Run the offline keyword analyzer only
  criteria    Print the evaluation rubric
  enqueue     Queue proposals for the worker

Configuration is read from the environment; --env-file loads a dotenv file first.`,
		SilenceUsage:      true,
		PersistentPreRunE: c.load,
	}
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "dotenv file to load before reading the environment")

	root.AddCommand(
		newAnalyzeCmd(c),
		newFallbackCmd(c),
		newCriteriaCmd(c),
		newEnqueueCmd(c),
	)
	return root
}

func (c *cli) load(_ *cobra.Command, _ []string) error {
	if c.envFile != "" {
		if err := godotenv.Load(c.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", c.envFile, err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	c.cfg = cfg
	slog.SetDefault(observability.SetupCLILogger(cfg))
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
