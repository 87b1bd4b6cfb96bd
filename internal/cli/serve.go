package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/yungbote/dataset-engine/internal/app"
)

func NewServeCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var withWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				return a.Serve(ctx, withWorker)
			})
		},
	}
	cmd.Flags().BoolVar(&withWorker, "with-worker", false, "also run the pipeline stages and the TTL sweeper")
	return cmd
}

func NewWorkerCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the pipeline stages and the TTL sweeper.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				return a.Work(ctx)
			})
		},
	}
}

func init() {
	subcommandFns["serve"] = NewServeCommand
	subcommandFns["worker"] = NewWorkerCommand
}
