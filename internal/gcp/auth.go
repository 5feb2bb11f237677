// Package gcp builds authenticated clients for Google Cloud APIs used by the
// vision detector and the object store.
package gcp

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

// Config holds Google Cloud credentials and endpoint overrides.
type Config struct {
	ClientID           string
	ClientSecret       string
	RefreshToken       string
	ServiceAccountPath string
	// Endpoint overrides the API base URL, mainly for emulators and tests.
	Endpoint string
	// Anonymous skips authentication entirely.
	Anonymous bool
}

// LoadFromEnv fills unset fields from GOOGLE_* environment variables.
func (c *Config) LoadFromEnv() {
	setIfEmpty(&c.ClientID, "GOOGLE_CLIENT_ID")
	setIfEmpty(&c.ClientSecret, "GOOGLE_CLIENT_SECRET")
	setIfEmpty(&c.RefreshToken, "GOOGLE_REFRESH_TOKEN")
	setIfEmpty(&c.ServiceAccountPath, "GOOGLE_APPLICATION_CREDENTIALS")
}

func setIfEmpty(field *string, env string) {
	if *field == "" {
		*field = os.Getenv(env)
	}
}

// Validate reports whether some authentication method is configured.
func (c Config) Validate() error {
	if c.Anonymous || c.ServiceAccountPath != "" {
		return nil
	}
	if c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != "" {
		return nil
	}
	return fmt.Errorf("missing Google authentication: provide a service account path or OAuth2 credentials")
}

// ClientOptions returns the option set for a Google API service constructor.
// Without explicit credentials the application default credentials are used.
func ClientOptions(ctx context.Context, cfg Config, scopes ...string) ([]option.ClientOption, error) {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(strings.TrimRight(cfg.Endpoint, "/")+"/"))
	}

	if cfg.Anonymous {
		return append(opts, option.WithoutAuthentication()), nil
	}

	client, err := HTTPClient(ctx, cfg, scopes...)
	if err != nil {
		return nil, err
	}
	return append(opts, option.WithHTTPClient(client)), nil
}

// HTTPClient returns an oauth2 client for the given scopes.
func HTTPClient(ctx context.Context, cfg Config, scopes ...string) (*http.Client, error) {
	var tokenSource oauth2.TokenSource

	switch {
	case cfg.ServiceAccountPath != "":
		jsonKey, err := os.ReadFile(cfg.ServiceAccountPath)
		if err != nil {
			return nil, fmt.Errorf("unable to read service account key file: %w", err)
		}

		jwtConfig, err := google.JWTConfigFromJSON(jsonKey, scopes...)
		if err != nil {
			return nil, fmt.Errorf("unable to parse service account key: %w", err)
		}
		tokenSource = jwtConfig.TokenSource(ctx)

	case cfg.ClientID != "" && cfg.RefreshToken != "":
		oauthConfig := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       scopes,
		}
		token := &oauth2.Token{
			RefreshToken: cfg.RefreshToken,
			TokenType:    "Bearer",
		}
		tokenSource = oauthConfig.TokenSource(ctx, token)

	default:
		ts, err := google.DefaultTokenSource(ctx, scopes...)
		if err != nil {
			return nil, fmt.Errorf("unable to find default credentials: %w", err)
		}
		tokenSource = ts
	}

	return oauth2.NewClient(ctx, tokenSource), nil
}
