package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/Veraticus/redactor/internal/cli"
	"github.com/Veraticus/redactor/internal/common"
	"github.com/Veraticus/redactor/internal/model"
	"github.com/Veraticus/redactor/internal/notify"
	"github.com/Veraticus/redactor/internal/service"
)

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect recorded redaction jobs",
	}

	cmd.AddCommand(jobsListCmd())
	cmd.AddCommand(jobsShowCmd())
	cmd.AddCommand(jobsEventsCmd())

	return cmd
}

func jobsListCmd() *cobra.Command {
	var filter service.JobFilter
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(a)

			filter.Status = model.Status(status)
			jobs, err := a.storage.ListJobs(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("failed to list jobs: %w", err)
			}
			if len(jobs) == 0 {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("No jobs recorded yet"))
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), renderJobTable(jobs))
			return err
		},
	}

	cmd.Flags().StringVar(&filter.Tenant, "tenant", "", "only jobs for this tenant")
	cmd.Flags().StringVar(&status, "status", "", "only jobs with this status (Success, PartialFailure, Failure, Cancelled)")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 20, "maximum jobs to show")

	return cmd
}

func renderJobTable(jobs []service.JobRecord) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(cli.SubtleStyle).
		Headers("ID", "Created", "Tenant", "Format", "Stage", "Status", "Redactions")

	for _, j := range jobs {
		status := string(j.Status)
		if status == "" {
			status = "Running"
		}
		redactions := "-"
		if j.Result != nil {
			redactions = strconv.Itoa(len(j.Result.Audit))
		}
		t.Row(j.ID, j.CreatedAt.Local().Format(time.DateTime), j.Tenant, j.Format, j.Stage, status, redactions)
	}
	return t.Render()
}

func jobsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show the result of one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(a)

			j, err := a.storage.GetJob(cmd.Context(), args[0])
			if errors.Is(err, common.ErrNotFound) {
				return common.NewUserError("No job with id "+args[0], nil)
			}
			if err != nil {
				return fmt.Errorf("failed to load job: %w", err)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), renderJob(j))
			return err
		},
	}
}

func renderJob(j *service.JobRecord) string {
	if j.Result != nil {
		out := cli.RenderResult(*j.Result, j.Output)
		if j.Message != "" {
			out += "\n" + cli.FormatError(j.Message)
		}
		return out
	}

	content := fmt.Sprintf("Tenant   %s\nFormat   %s\nStage    %s\nSource   %s\nCreated  %s",
		j.Tenant, j.Format, j.Stage, j.Source, j.CreatedAt.Local().Format(time.DateTime))
	if j.Message != "" {
		content += "\n" + cli.FormatError(j.Message)
	}
	return cli.RenderBox("Job "+j.ID+" (not finished)", content)
}

func jobsEventsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent completion events from Redis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(a)

			if a.redis == nil {
				return common.NewUserError("Completion events need redis.address to be configured", nil)
			}

			events, err := notify.NewRedis(a.redis, a.settings.Redis.Channel).Recent(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("failed to read events: %w", err)
			}
			for _, e := range events {
				line := fmt.Sprintf("%s  %-8s %-15s %d redactions", e.RequestID, e.Stage, e.Status, e.Redactions)
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), line); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum events to show")
	return cmd
}

func closeApp(a *app) {
	if err := a.Close(); err != nil {
		slog.Error("Failed to close resources", "error", err)
	}
}
