package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/redactor/internal/detector"
	"github.com/Veraticus/redactor/internal/gcp"
)

// Default locations, expanded with ExpandPath.
const (
	DefaultDatabasePath = "~/.local/share/redactor/redactor.db"
	DefaultStorePath    = "~/.local/share/redactor/jobs"
)

// DatabaseSettings configures the job history database.
type DatabaseSettings struct {
	Path string
}

// StoreSettings configures where job files are staged and delivered.
type StoreSettings struct {
	// Staging holds raw inputs, artifacts and results. A path or gs:// URL.
	Staging string
	// Output receives delivered artifacts. Empty means the staging store.
	Output string
}

// RedisSettings configures the shared finding cache and completion events.
type RedisSettings struct {
	Address  string
	Password string
	Prefix   string
	Channel  string
	DB       int
	CacheTTL time.Duration
}

// Enabled reports whether Redis is configured.
func (r RedisSettings) Enabled() bool {
	return r.Address != ""
}

// LLMSettings configures the text model detector.
type LLMSettings struct {
	Provider     string
	Model        string
	APIKey       string
	BaseURL      string
	Instructions string
	Categories   []string
	Timeout      time.Duration
	RateLimit    float64
	CacheTTL     time.Duration
}

// Enabled reports whether a text model provider is configured.
func (l LLMSettings) Enabled() bool {
	return l.Provider != ""
}

// VisionSettings configures the vision model detector.
type VisionSettings struct {
	Enabled           bool
	MinFaceConfidence float64
	RateLimit         float64
	Timeout           time.Duration
}

// Settings is the complete runtime configuration of the redactor command.
type Settings struct {
	Google   gcp.Config
	Database DatabaseSettings
	Store    StoreSettings
	Redis    RedisSettings
	LLM      LLMSettings
	Vision   VisionSettings
	Policy   string
	Metrics  string
	Terms    []detector.Term
	Workers  int
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", DefaultDatabasePath)
	v.SetDefault("store.staging", DefaultStorePath)
	v.SetDefault("redis.prefix", "redactor")
	v.SetDefault("redis.channel", "redactor:jobs:completed")
	v.SetDefault("redis.cache_ttl", 24*time.Hour)
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("llm.cache_ttl", 24*time.Hour)
	v.SetDefault("vision.min_face_confidence", 0.5)
	v.SetDefault("vision.timeout", 30*time.Second)
}

// Load reads Settings from v. Values come from the config file or
// REDACTOR_* environment variables; API keys and Google credentials fall
// back to their conventional environment variables.
func Load(v *viper.Viper) (*Settings, error) {
	s := &Settings{
		Database: DatabaseSettings{
			Path: ExpandPath(v.GetString("database.path")),
		},
		Store: StoreSettings{
			Staging: expandLocation(v.GetString("store.staging")),
			Output:  expandLocation(v.GetString("store.output")),
		},
		Redis: RedisSettings{
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Prefix:   v.GetString("redis.prefix"),
			Channel:  v.GetString("redis.channel"),
			CacheTTL: v.GetDuration("redis.cache_ttl"),
		},
		LLM: LLMSettings{
			Provider:     strings.ToLower(v.GetString("llm.provider")),
			Model:        v.GetString("llm.model"),
			APIKey:       v.GetString("llm.api_key"),
			BaseURL:      v.GetString("llm.base_url"),
			Instructions: v.GetString("llm.instructions"),
			Categories:   v.GetStringSlice("llm.categories"),
			Timeout:      v.GetDuration("llm.timeout"),
			RateLimit:    v.GetFloat64("llm.rate_limit"),
			CacheTTL:     v.GetDuration("llm.cache_ttl"),
		},
		Vision: VisionSettings{
			Enabled:           v.GetBool("vision.enabled"),
			MinFaceConfidence: v.GetFloat64("vision.min_face_confidence"),
			RateLimit:         v.GetFloat64("vision.rate_limit"),
			Timeout:           v.GetDuration("vision.timeout"),
		},
		Google: gcp.Config{
			ClientID:           v.GetString("google.client_id"),
			ClientSecret:       v.GetString("google.client_secret"),
			RefreshToken:       v.GetString("google.refresh_token"),
			ServiceAccountPath: ExpandPath(v.GetString("google.service_account_path")),
			Endpoint:           v.GetString("google.endpoint"),
			Anonymous:          v.GetBool("google.anonymous"),
		},
		Policy:  ExpandPath(v.GetString("policy")),
		Metrics: ExpandPath(v.GetString("metrics.textfile")),
		Workers: v.GetInt("workers"),
	}
	s.Google.LoadFromEnv()

	if s.LLM.APIKey == "" {
		s.LLM.APIKey = providerKey(s.LLM.Provider)
	}

	if err := v.UnmarshalKey("terms", &s.Terms); err != nil {
		return nil, fmt.Errorf("failed to read dictionary terms: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks settings that would otherwise fail late.
func (s *Settings) Validate() error {
	var errs []error

	if s.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if s.Store.Staging == "" {
		errs = append(errs, errors.New("store.staging is required"))
	}
	if s.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", s.Workers))
	}

	switch s.LLM.Provider {
	case "", "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("unsupported llm.provider %q", s.LLM.Provider))
	}
	if s.LLM.Enabled() && s.LLM.APIKey == "" {
		errs = append(errs, fmt.Errorf("llm.api_key is required for provider %s", s.LLM.Provider))
	}

	if s.Vision.MinFaceConfidence < 0 || s.Vision.MinFaceConfidence > 1 {
		errs = append(errs, fmt.Errorf("vision.min_face_confidence must be within [0, 1], got %v", s.Vision.MinFaceConfidence))
	}

	for i, t := range s.Terms {
		if strings.TrimSpace(t.Text) == "" || t.Category == "" {
			errs = append(errs, fmt.Errorf("terms[%d] needs text and category", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func providerKey(provider string) string {
	switch provider {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	default:
		return ""
	}
}
