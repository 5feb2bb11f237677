package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(t *testing.T, yaml string) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	if yaml != "" {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
		v.SetConfigFile(path)
		require.NoError(t, v.ReadInConfig())
	}
	return v
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", "/home/tester")

	s, err := Load(newViper(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "/home/tester/.local/share/redactor/redactor.db", s.Database.Path)
	assert.Equal(t, "/home/tester/.local/share/redactor/jobs", s.Store.Staging)
	assert.Empty(t, s.Store.Output)
	assert.False(t, s.Redis.Enabled())
	assert.False(t, s.LLM.Enabled())
	assert.Equal(t, "redactor:jobs:completed", s.Redis.Channel)
	assert.Equal(t, 24*time.Hour, s.Redis.CacheTTL)
	assert.InDelta(t, 0.5, s.Vision.MinFaceConfidence, 1e-9)
	assert.Empty(t, s.Terms)
}

func TestLoad_File(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-from-env")

	s, err := Load(newViper(t, `
database:
  path: /tmp/jobs.db
store:
  staging: gs://bucket/staging
  output: /srv/out
redis:
  address: localhost:6379
  db: 2
llm:
  provider: OpenAI
  categories: [person, address]
  rate_limit: 2.5
vision:
  enabled: true
  min_face_confidence: 0.8
google:
  anonymous: true
workers: 4
terms:
  - text: Project Bluebird
    category: codename
    confidence: 0.95
`))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/jobs.db", s.Database.Path)
	assert.Equal(t, "gs://bucket/staging", s.Store.Staging)
	assert.Equal(t, "/srv/out", s.Store.Output)
	assert.True(t, s.Redis.Enabled())
	assert.Equal(t, 2, s.Redis.DB)
	assert.Equal(t, "openai", s.LLM.Provider)
	assert.Equal(t, "sk-from-env", s.LLM.APIKey)
	assert.Equal(t, []string{"person", "address"}, s.LLM.Categories)
	assert.InDelta(t, 2.5, s.LLM.RateLimit, 1e-9)
	assert.True(t, s.Vision.Enabled)
	assert.True(t, s.Google.Anonymous)
	assert.Equal(t, 4, s.Workers)
	require.Len(t, s.Terms, 1)
	assert.Equal(t, "codename", s.Terms[0].Category)
	assert.InDelta(t, 0.95, s.Terms[0].Confidence, 1e-9)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")

	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{name: "unknown provider", yaml: "llm:\n  provider: bard\n", wantMsg: "unsupported llm.provider"},
		{name: "missing key", yaml: "llm:\n  provider: anthropic\n", wantMsg: "llm.api_key is required"},
		{name: "negative workers", yaml: "workers: -1\n", wantMsg: "workers must not be negative"},
		{name: "face confidence", yaml: "vision:\n  min_face_confidence: 2\n", wantMsg: "min_face_confidence"},
		{name: "empty term", yaml: "terms:\n  - text: ''\n    category: x\n", wantMsg: "terms[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(newViper(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestExpandPath(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	t.Setenv("REDACTOR_TEST_DIR", "/data")

	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "~", want: "/home/tester"},
		{in: "~/db.sqlite", want: "/home/tester/db.sqlite"},
		{in: "$REDACTOR_TEST_DIR/jobs", want: "/data/jobs"},
		{in: "/abs/path", want: "/abs/path"},
		{in: "  ~/.local/share/redactor/redactor.db\n", want: "/home/tester/.local/share/redactor/redactor.db"},
		{in: "~other/jobs", want: "~other/jobs"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandPath(tt.in))
		})
	}
}

func TestExpandLocation(t *testing.T) {
	t.Setenv("HOME", "/home/tester")

	assert.Equal(t, "gs://bucket/jobs", expandLocation(" gs://bucket/jobs "))
	assert.Equal(t, "/home/tester/.local/share/redactor/jobs", expandLocation(DefaultStorePath))
}

func TestExpandLocation(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	assert.Equal(t, "gs://bucket/$HOME", expandLocation("gs://bucket/$HOME"))
	assert.Equal(t, "/home/tester/jobs", expandLocation("~/jobs"))
}
