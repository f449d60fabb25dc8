package main

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	ai "github.com/fairyhunter13/proposal-evaluator/internal/adapter/ai"
	"github.com/fairyhunter13/proposal-evaluator/internal/adapter/textsource"
	"github.com/fairyhunter13/proposal-evaluator/internal/app"
	"github.com/fairyhunter13/proposal-evaluator/internal/domain"
)

type analyzeFlags struct {
	spec        string
	proposals   []string
	providers   []string
	concurrency int
	timeout     time.Duration
	maxRetries  int
}

func newAnalyzeCmd(c *cli) *cobra.Command {
	f := &analyzeFlags{}
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze proposals against a specification",
		Long: `Analyze one or more proposals against a specification and print a JSON
array of results in the order the proposals were given.

Examples:
  propeval analyze --spec spec.md --proposal vendor-a.md
  propeval analyze --spec spec.md --proposal a.md --proposal b.md --concurrency 2
  propeval analyze --spec spec.md --proposal a.md --provider openai --provider openrouter`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAnalyze(cmd, c, f)
		},
	}
	cmd.Flags().StringVar(&f.spec, "spec", "", "specification file")
	cmd.Flags().StringSliceVar(&f.proposals, "proposal", nil, "proposal file (repeatable)")
	cmd.Flags().StringSliceVar(&f.providers, "provider", nil, "provider to use, in failover order (repeatable)")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 0, "maximum concurrent analyses (default ANALYSIS_CONCURRENCY)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "overall deadline for the whole run")
	cmd.Flags().IntVar(&f.maxRetries, "max-retries", -1, "retries after the first attempt (default ANALYSIS_MAX_RETRIES)")
	_ = cmd.MarkFlagRequired("spec")
	_ = cmd.MarkFlagRequired("proposal")
	return cmd
}

func loadRequests(specPath string, proposalPaths []string) ([]domain.AnalysisRequest, error) {
	spec, err := textsource.LoadFile(specPath)
	if err != nil {
		return nil, err
	}
	reqs := make([]domain.AnalysisRequest, 0, len(proposalPaths))
	for _, p := range proposalPaths {
		proposal, err := textsource.LoadFile(p)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, domain.AnalysisRequest{SpecText: spec, ProposalText: proposal})
	}
	return reqs, nil
}

func runAnalyze(cmd *cobra.Command, c *cli, f *analyzeFlags) error {
	reqs, err := loadRequests(f.spec, f.proposals)
	if err != nil {
		return err
	}
	for i := range reqs {
		reqs[i].Providers = f.providers
		if f.maxRetries >= 0 {
			n := f.maxRetries
			reqs[i].MaxRetries = &n
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	rdb, err := app.NewRedisClient(ctx, c.cfg)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}
	orch, err := app.BuildOrchestrator(c.cfg, app.BuildRegistry(c.cfg, rdb))
	if err != nil {
		return err
	}

	var deadline time.Time
	if f.timeout > 0 {
		deadline = time.Now().Add(f.timeout)
	}
	results, err := orch.RunBatch(ctx, reqs, f.concurrency, deadline)
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), results)
}

func newFallbackCmd(c *cli) *cobra.Command {
	var spec, proposal string
	cmd := &cobra.Command{
		Use:   "fallback",
		Short: "Run the offline keyword analyzer without calling any provider",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reqs, err := loadRequests(spec, []string{proposal})
			if err != nil {
				return err
			}
			orch, err := app.BuildOrchestrator(c.cfg, ai.NewRegistry())
			if err != nil {
				return err
			}
			res, err := orch.Fallback(reqs[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&spec, "spec", "", "specification file")
	cmd.Flags().StringVar(&proposal, "proposal", "", "proposal file")
	_ = cmd.MarkFlagRequired("spec")
	_ = cmd.MarkFlagRequired("proposal")
	return cmd
}

func newCriteriaCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "criteria",
		Short: "Print the evaluation rubric",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := app.ScoringOptions(c.cfg)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), opts.Rubric)
		},
	}
}
