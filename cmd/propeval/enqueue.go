package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fairyhunter13/proposal-evaluator/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/proposal-evaluator/internal/domain"
)

func newEnqueueCmd(c *cli) *cobra.Command {
	var (
		spec      string
		proposals []string
		providers []string
	)
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue proposals for the worker and print their request ids",
		Long: `Publish one analysis request per proposal to KAFKA_REQUESTS_TOPIC. The
worker publishes each result to KAFKA_RESULTS_TOPIC keyed by the printed id.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reqs, err := loadRequests(spec, proposals)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			producer, err := redpanda.NewProducer(ctx, c.cfg.KafkaBrokers, c.cfg.KafkaRequestsTopic)
			if err != nil {
				return err
			}
			defer func() { _ = producer.Close() }()

			for _, r := range reqs {
				task := domain.AnalysisTaskPayload{
					RequestID:    uuid.NewString(),
					SpecText:     r.SpecText,
					ProposalText: r.ProposalText,
					Providers:    providers,
				}
				if err := producer.PublishTask(ctx, c.cfg.KafkaRequestsTopic, task); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), task.RequestID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&spec, "spec", "", "specification file")
	cmd.Flags().StringSliceVar(&proposals, "proposal", nil, "proposal file (repeatable)")
	cmd.Flags().StringSliceVar(&providers, "provider", nil, "provider to use, in failover order (repeatable)")
	_ = cmd.MarkFlagRequired("spec")
	_ = cmd.MarkFlagRequired("proposal")
	return cmd
}
