package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/redactor/internal/common"
	"github.com/Veraticus/redactor/internal/tui"
	"github.com/Veraticus/redactor/internal/tui/themes"
)

func reviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review <id>",
		Short: "Browse a job's audit log and unit errors",
		Long: `Open an interactive table of everything redacted in a job. Matched text is
never stored, so the table shows categories, locations and strategies only.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(a)

			if _, err := a.storage.GetJob(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, common.ErrNotFound) {
					return common.NewUserError("No job with id "+args[0], nil)
				}
				return fmt.Errorf("failed to load job: %w", err)
			}

			return tui.Review(cmd.Context(),
				tui.WithStorage(a.storage),
				tui.WithJob(args[0]),
				tui.WithTheme(themes.ByName(viper.GetString("ui.theme"))),
			)
		},
	}

	cmd.Flags().String("theme", "default", "color theme (default, catppuccin)")
	_ = viper.BindPFlag("ui.theme", cmd.Flags().Lookup("theme"))

	return cmd
}
