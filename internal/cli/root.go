package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/opinion-analyzer/internal/core/ports"
)

// Services are the pipeline entry points a command needs.
type Services struct {
	Runner ports.AnalysisRunner
	Status ports.AnalysisStatusReader
}

// Factory builds Services on demand; the returned func releases them.
type Factory func(ctx context.Context) (Services, func(), error)

type globalFlags struct {
	project string
	output  string
}

// NewRootCommand builds the analyzer command tree.
func NewRootCommand(factory Factory) *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "analyzer",
		Short: "Prioritized opinion analysis under a fixed call budget",
		Long: `analyzer scores a project's unanalyzed opinions, selects the subset that
fits the size and count budgets, classifies it with a single text-generation
call and records what was analyzed or deferred.

Configuration is read from the same environment as the API and worker.
Flags override per-run budgets and policy.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&flags.project, "project", "p", "", "project id")
	root.PersistentFlags().StringVarP(&flags.output, "output", "o", outputJSON, "output format: json or yaml")

	root.AddCommand(
		newRunCommand(factory, flags),
		newStatusCommand(factory, flags),
		newRecommendPolicyCommand(factory, flags),
	)
	return root
}

func (g *globalFlags) validate() error {
	g.project = strings.TrimSpace(g.project)
	if g.project == "" {
		return errors.New("--project is required")
	}
	return validateOutput(g.output)
}

// withServices checks the shared flags before the factory runs.
func withServices(ctx context.Context, factory Factory, global *globalFlags, fn func(Services) error) error {
	if err := global.validate(); err != nil {
		return err
	}
	services, release, err := factory(ctx)
	if err != nil {
		return fmt.Errorf("init services: %w", err)
	}
	if release != nil {
		defer release()
	}
	return fn(services)
}
