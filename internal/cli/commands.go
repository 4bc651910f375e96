package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/kirillkom/opinion-analyzer/internal/core/domain"
)

var errNegativeBudget = errors.New("budgets must not be negative")

type runFlags struct {
	sizeBudget  int
	countBudget int
	policy      string
	strict      bool
	insights    bool
}

func newRunCommand(factory Factory, global *globalFlags) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one analysis run and print the report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := flags.request(cmd, global.project)
			if err != nil {
				return err
			}
			return withServices(cmd.Context(), factory, global, func(s Services) error {
				report, err := s.Runner.Run(cmd.Context(), req)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), global.output, report)
			})
		},
	}
	cmd.Flags().IntVar(&flags.sizeBudget, "size-budget", 0, "size budget in estimated tokens (0 uses the configured default)")
	cmd.Flags().IntVar(&flags.countBudget, "count-budget", 0, "maximum opinions per run (0 uses the configured default)")
	cmd.Flags().StringVar(&flags.policy, "policy", "", "selection policy: greedy_priority, token_efficiency or balanced")
	cmd.Flags().BoolVar(&flags.strict, "strict", false, "reject classifications that do not cover every selected opinion")
	cmd.Flags().BoolVar(&flags.insights, "insights", true, "ask for cross-cutting insights")
	return cmd
}

// request only carries flags the operator set, so unset ones fall back to
// the pipeline configuration.
func (f *runFlags) request(cmd *cobra.Command, projectID string) (domain.RunRequest, error) {
	req := domain.RunRequest{
		ProjectID:   projectID,
		SizeBudget:  f.sizeBudget,
		CountBudget: f.countBudget,
	}
	if f.sizeBudget < 0 || f.countBudget < 0 {
		return req, domain.WrapError(domain.ErrInvalidInput, "parse run flags", errNegativeBudget)
	}
	if f.policy != "" {
		policy, err := domain.ParseSelectionPolicy(f.policy)
		if err != nil {
			return req, err
		}
		req.Policy = policy
	}
	if cmd.Flags().Changed("strict") {
		strict := f.strict
		req.Strict = &strict
	}
	if cmd.Flags().Changed("insights") {
		insights := f.insights
		req.IncludeInsights = &insights
	}
	return req, nil
}

type statusOutput struct {
	Status         *domain.AnalysisStatus    `json:"status"`
	Recommendation *domain.RunRecommendation `json:"recommendation"`
}

func newStatusCommand(factory Factory, global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show completion and the next-run recommendation without running",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withServices(cmd.Context(), factory, global, func(s Services) error {
				status, recommendation, err := s.Status.Status(cmd.Context(), global.project)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), global.output, statusOutput{Status: status, Recommendation: recommendation})
			})
		},
	}
}

func newRecommendPolicyCommand(factory Factory, global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "recommend-policy",
		Short: "Suggest a selection policy for the current backlog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withServices(cmd.Context(), factory, global, func(s Services) error {
				rec, err := s.Status.RecommendPolicy(cmd.Context(), global.project)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), global.output, rec)
			})
		},
	}
}
