package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Veraticus/redactor/internal/cli"
	"github.com/Veraticus/redactor/internal/common"
	"github.com/Veraticus/redactor/internal/job"
	"github.com/Veraticus/redactor/internal/model"
	"github.com/Veraticus/redactor/internal/processor"
)

type applyOptions struct {
	proposals  string
	out        string
	deliver    string
	jsonOutput bool
	noProgress bool
}

func applyCmd() *cobra.Command {
	opts := &applyOptions{}

	cmd := &cobra.Command{
		Use:   "apply <id>",
		Short: "Apply reviewed findings to an analysed job",
		Long: `Redact a job's staged input with the findings its dry run proposed. Edit the
proposals first to drop false positives or change a strategy; the edited copy is
stored with the job as curated.json before it is applied.

Examples:
  redactor redact letter.txt --id case-9 --dry-run
  redactor apply case-9
  redactor apply case-9 --proposals reviewed.json --out letter.clean.txt`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.proposals, "proposals", "", "edited proposals file (default: the proposals stored with the job)")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "write the redacted document to this local path")
	cmd.Flags().StringVar(&opts.deliver, "deliver", "", "also store the artifact under this id in the output store")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "print the result as JSON")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "hide the progress bar")

	return cmd
}

func runApply(cmd *cobra.Command, id string, opts *applyOptions) error {
	req := job.ApplyRequest{ID: id, Destination: opts.deliver}
	if opts.proposals != "" {
		raw, err := os.ReadFile(opts.proposals)
		if err != nil {
			return common.NewUserError("Cannot read "+opts.proposals, err)
		}
		if req.Proposals, err = job.ParseProposals(raw); err != nil {
			return common.NewUserError("Proposals file is not usable", err)
		}
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a)

	var observer processor.Observer = processor.NopObserver{}
	if !opts.noProgress && !opts.jsonOutput {
		observer = cli.NewProgressObserver(cmd.ErrOrStderr())
	}

	runner, m, err := a.runner(ctx, runnerOptions{Observer: observer})
	if err != nil {
		return err
	}
	defer a.flushMetrics(m)

	interrupts := cli.NewInterruptHandler(cmd.ErrOrStderr())
	ctx, stop := interrupts.HandleInterrupts(ctx, id)
	defer stop()

	outcome, runErr := runner.Apply(ctx, req)
	if outcome == nil {
		if errors.Is(runErr, common.ErrNotFound) {
			return common.NewUserError(fmt.Sprintf("Job %s has no stored proposals. Run redact --dry-run first", id), runErr)
		}
		return runErr
	}

	if outcome.Artifact != nil && opts.out != "" {
		if err := os.WriteFile(opts.out, outcome.Artifact, 0o600); err != nil {
			return fmt.Errorf("failed to write %s: %w", opts.out, err)
		}
	}

	if err := printOutcome(cmd, outcome, opts.jsonOutput, opts.out); err != nil {
		return err
	}

	if runErr != nil {
		return runErr
	}
	switch outcome.Result.Status {
	case model.StatusFailure:
		return errors.New("apply failed, no document was written")
	case model.StatusCancelled:
		return common.ErrCancelled
	}
	return nil
}
