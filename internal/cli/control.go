package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/yungbote/dataset-engine/internal/app"
	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
)

func NewReindexCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex <dataset-id>...",
		Short: "Rewind datasets to their start status so every stage runs again.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				return eachDataset(stdout, args, func(id string) error {
					return a.Services.Datasets.ForceReindex(ctx, id)
				})
			})
		},
	}
}

func NewRefinalizeCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "refinalize <dataset-id>...",
		Short: "Run the finalizer again on published datasets.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				return eachDataset(stdout, args, func(id string) error {
					return a.Services.Datasets.ForceRefinalize(ctx, id)
				})
			})
		},
	}
}

func NewAdvanceCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "advance <dataset-id>",
		Short: "Move a dataset from one status to another.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				return eachDataset(stdout, args, func(id string) error {
					return a.Services.Datasets.AdvanceStatus(ctx, id, types.Status(from), types.Status(to))
				})
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "status the dataset must currently have")
	cmd.Flags().StringVar(&to, "to", "", "status to move the dataset to")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func NewTTLSweepCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "ttl-sweep",
		Short: "Delete expired REST rows once.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.Jobs.TTL.SweepAll(ctx)
				fmt.Fprintf(stdout, "%d expired rows deleted\n", n)
				return err
			})
		},
	}
}

func NewSeedServicesCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "seed-services <file.yaml>",
		Short: "Load remote service definitions from a YAML file.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.Services.Catalog.SeedFile(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(stdout, "%d remote services loaded\n", n)
				return nil
			})
		},
	}
}

// eachDataset runs fn for every id and reports the first failure after trying them all.
func eachDataset(out io.Writer, ids []string, fn func(id string) error) error {
	var first error
	for _, id := range ids {
		if err := fn(id); err != nil {
			fmt.Fprintf(out, "%s: %v\n", id, err)
			if first == nil {
				first = err
			}
			continue
		}
		fmt.Fprintf(out, "%s: ok\n", id)
	}
	return first
}

func init() {
	subcommandFns["reindex"] = NewReindexCommand
	subcommandFns["refinalize"] = NewRefinalizeCommand
	subcommandFns["advance"] = NewAdvanceCommand
	subcommandFns["ttl-sweep"] = NewTTLSweepCommand
	subcommandFns["seed-services"] = NewSeedServicesCommand
}
