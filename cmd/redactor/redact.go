package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/redactor/internal/cli"
	"github.com/Veraticus/redactor/internal/common"
	"github.com/Veraticus/redactor/internal/job"
	"github.com/Veraticus/redactor/internal/model"
	"github.com/Veraticus/redactor/internal/policy"
	"github.com/Veraticus/redactor/internal/processor"
)

type redactOptions struct {
	id            string
	format        string
	tenant        string
	profile       string
	strategy      string
	failurePolicy string
	placeholder   string
	policy        string
	rules         string
	out           string
	deliver       string
	detectors     []string
	dryRun        bool
	skip          bool
	jsonOutput    bool
	noProgress    bool
}

func redactCmd() *cobra.Command {
	opts := &redactOptions{}

	cmd := &cobra.Command{
		Use:   "redact <file>",
		Short: "Redact sensitive content from a document",
		Long: `Redact one document. The input is staged under the job id, processed with
the resolved policy, and the redacted artifact and result are stored next to it.

Examples:
  redactor redact letter.txt
  redactor redact export.json --detectors rule,text_model --strategy remove
  redactor redact statement.ofx --tenant acme --profile finance --out clean.ofx
  redactor redact scan.png --dry-run --json
  redactor redact notes.txt --rules '[{"redactor_type":"rule","properties":{"categories":["email"]}}]'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRedact(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.id, "id", "", "job id (default: a new UUID)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "", "document format (default: from the file extension)")
	cmd.Flags().StringVar(&opts.tenant, "tenant", "", "tenant whose policy applies")
	cmd.Flags().StringVarP(&opts.profile, "profile", "p", "", "policy profile")
	cmd.Flags().StringVarP(&opts.strategy, "strategy", "s", "", "redaction strategy (mask, black_box, remove)")
	cmd.Flags().StringSliceVarP(&opts.detectors, "detectors", "d", nil, "detectors to run (rule, text_model, vision_model)")
	cmd.Flags().StringVar(&opts.failurePolicy, "on-failure", "", "unit failure policy (omit, placeholder, fail_closed)")
	cmd.Flags().StringVar(&opts.placeholder, "placeholder", "", "text used for masked spans")
	cmd.Flags().StringVar(&opts.policy, "policy", "", "policy file (default: the configured policy)")
	cmd.Flags().StringVar(&opts.rules, "rules", "", "redaction rules for this request as a JSON list, or @file to read them from a file")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "write the redacted document to this local path")
	cmd.Flags().StringVar(&opts.deliver, "deliver", "", "also store the artifact under this id in the output store")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "analyse only, do not write a redacted document")
	cmd.Flags().BoolVar(&opts.skip, "skip", false, "pass the document through unchanged")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "print the result as JSON")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "hide the progress bar")

	return cmd
}

func runRedact(cmd *cobra.Command, path string, opts *redactOptions) error {
	if opts.dryRun && opts.skip {
		return common.NewUserError("--dry-run and --skip cannot be combined", nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return common.NewUserError("Cannot read "+path, err)
	}

	req, err := buildRequest(path, data, opts)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			slog.Error("Failed to close resources", "error", closeErr)
		}
	}()

	var observer processor.Observer = processor.NopObserver{}
	if !opts.noProgress && !opts.jsonOutput {
		observer = cli.NewProgressObserver(cmd.ErrOrStderr())
	}

	runner, m, err := a.runner(ctx, runnerOptions{Observer: observer, PolicyPath: opts.policy})
	if err != nil {
		return err
	}
	defer a.flushMetrics(m)

	if req.ID == "" {
		req.ID = job.NewID()
	}
	interrupts := cli.NewInterruptHandler(cmd.ErrOrStderr())
	ctx, stop := interrupts.HandleInterrupts(ctx, req.ID)
	defer stop()

	outcome, runErr := runner.Run(ctx, req)
	if outcome == nil {
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
		return errors.New("redaction failed, no document was written")
	case model.StatusCancelled:
		return common.ErrCancelled
	}
	return nil
}

func buildRequest(path string, data []byte, opts *redactOptions) (job.Request, error) {
	req := job.Request{
		ID:            opts.id,
		Tenant:        opts.tenant,
		Profile:       opts.profile,
		Format:        opts.format,
		Source:        filepath.Base(path),
		Data:          data,
		Destination:   opts.deliver,
		SkipRedaction: opts.skip,
		DryRun:        opts.dryRun,
	}

	overrides, err := buildOverrides(opts)
	if err != nil {
		return job.Request{}, err
	}
	req.Overrides = overrides

	rules, err := parseRules(opts.rules)
	if err != nil {
		return job.Request{}, err
	}
	req.Rules = rules
	return req, nil
}

// parseRules decodes the --rules value: an inline JSON list, or @path naming a
// file that holds one.
func parseRules(value string) ([]policy.RuleSpec, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}

	raw := []byte(value)
	if file, ok := strings.CutPrefix(value, "@"); ok {
		var err error
		if raw, err = os.ReadFile(file); err != nil {
			return nil, common.NewUserError("Cannot read rules file "+file, err)
		}
	}

	var rules []policy.RuleSpec
	if err := json.Unmarshal(raw, &rules); err != nil {
		return nil, common.NewUserError("--rules must be a JSON array of redaction rules", err)
	}
	return rules, nil
}

// buildOverrides turns flags into the request layer of the policy. Values are
// validated when the policy is resolved.
func buildOverrides(opts *redactOptions) (model.ConfigOverrides, error) {
	var o model.ConfigOverrides

	if opts.strategy != "" {
		s := model.Strategy(strings.ToLower(opts.strategy))
		o.Strategy = &s
	}
	if opts.failurePolicy != "" {
		p := model.FailurePolicy(strings.ToLower(opts.failurePolicy))
		o.FailurePolicy = &p
	}
	if opts.placeholder != "" {
		o.Placeholder = &opts.placeholder
	}
	for _, d := range opts.detectors {
		kind := model.DetectorKind(strings.TrimSpace(strings.ToLower(d)))
		if kind == "" {
			continue
		}
		if !kind.Valid() {
			return o, common.NewUserError(fmt.Sprintf("Unknown detector %q", d), common.ErrInvalidConfig)
		}
		o.Detectors = append(o.Detectors, kind)
	}
	return o, nil
}

func printOutcome(cmd *cobra.Command, outcome *job.Outcome, jsonOutput bool, outPath string) error {
	out := cmd.OutOrStdout()

	if jsonOutput {
		payload := struct {
			JobID     string                `json:"job_id"`
			Stage     string                `json:"stage"`
			Artifact  string                `json:"artifact,omitempty"`
			Proposed  string                `json:"proposed,omitempty"`
			Proposals string                `json:"proposals,omitempty"`
			Result    model.RedactionResult `json:"result"`
		}{
			JobID:     outcome.JobID,
			Stage:     outcome.Stage,
			Artifact:  outcome.ArtifactID,
			Proposed:  outcome.ProposedID,
			Proposals: outcome.ProposalsID,
			Result:    outcome.Result,
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}

	artifact := outcome.ArtifactID
	if outPath != "" && outcome.Artifact != nil {
		artifact = outPath
	}
	if _, err := fmt.Fprintln(out, cli.RenderResult(outcome.Result, artifact)); err != nil {
		return err
	}
	if outcome.ProposalsID != "" {
		_, err := fmt.Fprintf(out, "Proposed findings stored at %s. Review them, then run: redactor apply %s\n",
			outcome.ProposalsID, outcome.JobID)
		return err
	}
	return nil
}
