package main

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Veraticus/redactor/internal/cli"
	"github.com/Veraticus/redactor/internal/config"
	"github.com/Veraticus/redactor/internal/model"
	"github.com/Veraticus/redactor/internal/policy"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or validate configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(settingsView(settings))
			if err != nil {
				return fmt.Errorf("failed to render configuration: %w", err)
			}
			if file := viper.ConfigFileUsed(); file != "" {
				cmd.Printf("# %s\n", file)
			}
			cmd.Print(string(out))
			return nil
		},
	})

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Check settings and resolve every policy profile and tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			path, _ := cmd.Flags().GetString("policy")
			checked, err := validatePolicy(settings, path)
			if err != nil {
				return err
			}
			cmd.Println(cli.FormatSuccess(fmt.Sprintf("Configuration is valid (%d policies resolved)", checked)))
			return nil
		},
	}
	validate.Flags().String("policy", "", "policy file (default: the configured policy)")
	cmd.AddCommand(validate)

	return cmd
}

// enabledKinds lists the detectors the settings would register.
func enabledKinds(settings *config.Settings) []model.DetectorKind {
	kinds := []model.DetectorKind{model.DetectorRule}
	if settings.LLM.Enabled() {
		kinds = append(kinds, model.DetectorTextModel)
	}
	if settings.Vision.Enabled {
		kinds = append(kinds, model.DetectorVisionModel)
	}
	return kinds
}

// validatePolicy resolves the default profile, every named profile and every
// tenant, returning how many configurations were checked.
func validatePolicy(settings *config.Settings, path string) (int, error) {
	if path == "" {
		path = settings.Policy
	}
	var file *policy.File
	if path != "" {
		loaded, err := policy.LoadPolicyFile(config.ExpandPath(path))
		if err != nil {
			return 0, err
		}
		file = loaded
	}
	processor := policy.NewProcessor(model.DefaultConfig(), file, enabledKinds(settings))

	requests := []policy.RequestContext{{}}
	for _, profile := range processor.Profiles() {
		requests = append(requests, policy.RequestContext{Profile: profile})
	}
	if file != nil {
		for _, tenant := range slices.Sorted(maps.Keys(file.Tenants)) {
			requests = append(requests, policy.RequestContext{Tenant: tenant})
		}
	}

	for _, req := range requests {
		if _, err := processor.Resolve(req); err != nil {
			return 0, fmt.Errorf("policy profile %q tenant %q: %w", req.Profile, req.Tenant, err)
		}
	}
	return len(requests), nil
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

func settingsView(s *config.Settings) map[string]any {
	return map[string]any{
		"database": map[string]any{"path": s.Database.Path},
		"store":    map[string]any{"staging": s.Store.Staging, "output": s.Store.Output},
		"policy":   s.Policy,
		"workers":  s.Workers,
		"metrics":  map[string]any{"textfile": s.Metrics},
		"redis": map[string]any{
			"address":   s.Redis.Address,
			"password":  mask(s.Redis.Password),
			"db":        s.Redis.DB,
			"prefix":    s.Redis.Prefix,
			"channel":   s.Redis.Channel,
			"cache_ttl": s.Redis.CacheTTL.String(),
		},
		"llm": map[string]any{
			"provider":   s.LLM.Provider,
			"model":      s.LLM.Model,
			"api_key":    mask(s.LLM.APIKey),
			"base_url":   s.LLM.BaseURL,
			"categories": s.LLM.Categories,
			"timeout":    s.LLM.Timeout.String(),
			"rate_limit": s.LLM.RateLimit,
			"cache_ttl":  s.LLM.CacheTTL.String(),
		},
		"vision": map[string]any{
			"enabled":             s.Vision.Enabled,
			"min_face_confidence": s.Vision.MinFaceConfidence,
			"rate_limit":          s.Vision.RateLimit,
			"timeout":             s.Vision.Timeout.String(),
		},
		"google": map[string]any{
			"client_id":            s.Google.ClientID,
			"client_secret":        mask(s.Google.ClientSecret),
			"refresh_token":        mask(s.Google.RefreshToken),
			"service_account_path": s.Google.ServiceAccountPath,
			"endpoint":             s.Google.Endpoint,
			"anonymous":            s.Google.Anonymous,
		},
		"terms": len(s.Terms),
	}
}
