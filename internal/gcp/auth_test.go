package gcp

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "anonymous", cfg: Config{Anonymous: true}},
		{name: "service account", cfg: Config{ServiceAccountPath: "/tmp/key.json"}},
		{name: "oauth", cfg: Config{ClientID: "id", ClientSecret: "secret", RefreshToken: "token"}},
		{name: "partial oauth", cfg: Config{ClientID: "id"}, wantErr: true},
		{name: "empty", cfg: Config{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("GOOGLE_CLIENT_ID", "env-id")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "/env/key.json")

	cfg := Config{ClientID: "explicit"}
	cfg.LoadFromEnv()

	assert.Equal(t, "explicit", cfg.ClientID)
	assert.Equal(t, "/env/key.json", cfg.ServiceAccountPath)
}

func TestClientOptions(t *testing.T) {
	ctx := context.Background()

	opts, err := ClientOptions(ctx, Config{Anonymous: true, Endpoint: "http://localhost:9000"})
	require.NoError(t, err)
	assert.Len(t, opts, 2)

	opts, err = ClientOptions(ctx, Config{ClientID: "id", ClientSecret: "s", RefreshToken: "r"}, "scope")
	require.NoError(t, err)
	assert.Len(t, opts, 1)

	_, err = ClientOptions(ctx, Config{ServiceAccountPath: filepath.Join(t.TempDir(), "missing.json")})
	assert.ErrorContains(t, err, "unable to read service account key file")

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("not json"), 0o600))
	_, err = ClientOptions(ctx, Config{ServiceAccountPath: bad})
	assert.ErrorContains(t, err, "unable to parse service account key")
}
