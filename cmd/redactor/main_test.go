package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/redactor/internal/common"
	"github.com/Veraticus/redactor/internal/config"
	"github.com/Veraticus/redactor/internal/model"
	"github.com/Veraticus/redactor/internal/service"
)

// workspace writes a config file pointing every store into a temp dir.
func workspace(t *testing.T, extra string) (dir, configPath string) {
	t.Helper()
	dir = t.TempDir()
	configPath = filepath.Join(dir, "config.yaml")
	content := "database:\n  path: " + filepath.Join(dir, "jobs.db") + "\n" +
		"store:\n  staging: " + filepath.Join(dir, "staging") + "\n" +
		"metrics:\n  textfile: " + filepath.Join(dir, "metrics", "redactor.prom") + "\n" + extra
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o600))
	return dir, configPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	cfgFile = ""

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRedactCommand_EndToEnd(t *testing.T) {
	dir, cfg := workspace(t, "")
	input := filepath.Join(dir, "letter.txt")
	require.NoError(t, os.WriteFile(input, []byte("Reach me at ada@example.com\n\nSSN 123-45-6789"), 0o600))
	redacted := filepath.Join(dir, "letter.redacted.txt")

	out, err := execute(t, "--config", cfg, "redact", input, "--id", "case-7", "--json", "--out", redacted)
	require.NoError(t, err)

	var payload struct {
		JobID    string                `json:"job_id"`
		Artifact string                `json:"artifact"`
		Result   model.RedactionResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.Equal(t, "case-7", payload.JobID)
	assert.Equal(t, "case-7/redacted.txt", payload.Artifact)
	assert.Equal(t, model.StatusSuccess, payload.Result.Status)
	assert.Equal(t, 1, payload.Result.CategoryCounts()["email"])

	written, err := os.ReadFile(redacted)
	require.NoError(t, err)
	assert.NotContains(t, string(written), "ada@example.com")
	assert.NotContains(t, string(written), "123-45-6789")
	assert.Contains(t, string(written), "[REDACTED]")

	staged, err := os.ReadFile(filepath.Join(dir, "staging", "case-7", "raw.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(staged), "ada@example.com")

	prom, err := os.ReadFile(filepath.Join(dir, "metrics", "redactor.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(prom), "redactor_jobs_total")

	out, err = execute(t, "--config", cfg, "jobs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "case-7")
	assert.Contains(t, out, "Success")

	out, err = execute(t, "--config", cfg, "jobs", "show", "case-7")
	require.NoError(t, err)
	assert.Contains(t, out, "Redaction Summary")
	assert.Contains(t, out, "email")

	_, err = execute(t, "--config", cfg, "jobs", "show", "missing")
	var userErr *common.UserError
	assert.ErrorAs(t, err, &userErr)
}

func TestRedactCommand_DryRun(t *testing.T) {
	dir, cfg := workspace(t, "")
	input := filepath.Join(dir, "data.json")
	require.NoError(t, os.WriteFile(input, []byte(`{"email":"ada@example.com"}`), 0o600))

	out, err := execute(t, "--config", cfg, "redact", input, "--id", "dry", "--dry-run", "--no-progress")
	require.NoError(t, err)
	assert.Contains(t, out, "Redaction Summary")

	_, err = os.Stat(filepath.Join(dir, "staging", "dry", "redacted.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestRedactCommand_Errors(t *testing.T) {
	dir, cfg := workspace(t, "")
	input := filepath.Join(dir, "note.txt")
	require.NoError(t, os.WriteFile(input, []byte("hello"), 0o600))

	tests := []struct {
		name string
		args []string
	}{
		{name: "missing file", args: []string{"redact", filepath.Join(dir, "absent.txt")}},
		{name: "dry run and skip", args: []string{"redact", input, "--dry-run", "--skip"}},
		{name: "unknown detector", args: []string{"redact", input, "--detectors", "psychic"}},
		{name: "invalid strategy", args: []string{"redact", input, "--strategy", "shred", "--no-progress"}},
		{name: "unsupported format", args: []string{"redact", input, "--format", "docx", "--no-progress"}},
		{name: "no args", args: []string{"redact"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, append([]string{"--config", cfg}, tt.args...)...)
			assert.Error(t, err)
		})
	}
}

func TestBuildOverrides(t *testing.T) {
	o, err := buildOverrides(&redactOptions{
		strategy:      "REMOVE",
		failurePolicy: "fail_closed",
		placeholder:   "***",
		detectors:     []string{"rule", " Text_Model ", ""},
	})
	require.NoError(t, err)
	require.NotNil(t, o.Strategy)
	assert.Equal(t, model.StrategyRemove, *o.Strategy)
	assert.Equal(t, model.FailClosed, *o.FailurePolicy)
	assert.Equal(t, "***", *o.Placeholder)
	assert.Equal(t, []model.DetectorKind{model.DetectorRule, model.DetectorTextModel}, o.Detectors)

	empty, err := buildOverrides(&redactOptions{})
	require.NoError(t, err)
	assert.Nil(t, empty.Strategy)
	assert.Nil(t, empty.Detectors)
}

func TestBuildRequest_Rules(t *testing.T) {
	const list = `[{"redactor_type":"rule","properties":{"categories":["email"]}}]`
	dir := t.TempDir()
	rulesFile := filepath.Join(dir, "rules.json")
	require.NoError(t, os.WriteFile(rulesFile, []byte(list), 0o600))
	badFile := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(badFile, []byte(`{"not":"a list"}`), 0o600))

	tests := []struct {
		name    string
		rules   string
		want    int
		wantErr bool
	}{
		{name: "inline JSON", rules: list, want: 1},
		{name: "inline JSON with spaces", rules: "  " + list + "\n", want: 1},
		{name: "file reference", rules: "@" + rulesFile, want: 1},
		{name: "none", rules: "", want: 0},
		{name: "inline object", rules: `{"not":"a list"}`, wantErr: true},
		{name: "file with object", rules: "@" + badFile, wantErr: true},
		{name: "missing file", rules: "@" + filepath.Join(dir, "absent.json"), wantErr: true},
		{name: "bare path is not JSON", rules: rulesFile, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := buildRequest("/in/report.txt", []byte("x"), &redactOptions{rules: tt.rules, tenant: "acme"})
			if tt.wantErr {
				var userErr *common.UserError
				assert.ErrorAs(t, err, &userErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "report.txt", req.Source)
			assert.Equal(t, "acme", req.Tenant)
			require.Len(t, req.Rules, tt.want)
			if tt.want > 0 {
				assert.Equal(t, model.DetectorRule, req.Rules[0].Type)
				assert.Equal(t, []string{"email"}, req.Rules[0].Properties.Categories)
			}
		})
	}
}

func TestApplyCommand_ReviewedFindings(t *testing.T) {
	dir, cfg := workspace(t, "")
	input := filepath.Join(dir, "contacts.txt")
	require.NoError(t, os.WriteFile(input, []byte("ada@example.com\n\nbob@example.com"), 0o600))

	out, err := execute(t, "--config", cfg, "redact", input, "--id", "case-9", "--dry-run", "--json")
	require.NoError(t, err)
	var analysed struct {
		Stage     string `json:"stage"`
		Proposed  string `json:"proposed"`
		Proposals string `json:"proposals"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &analysed))
	assert.Equal(t, "analyse", analysed.Stage)
	assert.Equal(t, "case-9/proposed.txt", analysed.Proposed)
	assert.Equal(t, "case-9/proposals.json", analysed.Proposals)

	stored, err := os.ReadFile(filepath.Join(dir, "staging", "case-9", "proposals.json"))
	require.NoError(t, err)
	var proposals map[string]any
	require.NoError(t, json.Unmarshal(stored, &proposals))
	entries, ok := proposals["entries"].([]any)
	require.True(t, ok)
	require.Len(t, entries, 2)

	// Keep only the first finding.
	proposals["entries"] = entries[:1]
	edited, err := json.Marshal(proposals)
	require.NoError(t, err)
	reviewed := filepath.Join(dir, "reviewed.json")
	require.NoError(t, os.WriteFile(reviewed, edited, 0o600))

	clean := filepath.Join(dir, "contacts.clean.txt")
	out, err = execute(t, "--config", cfg, "apply", "case-9", "--proposals", reviewed, "--out", clean, "--json")
	require.NoError(t, err)
	var applied struct {
		Stage    string                `json:"stage"`
		Artifact string                `json:"artifact"`
		Result   model.RedactionResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &applied))
	assert.Equal(t, "apply", applied.Stage)
	assert.Equal(t, "case-9/redacted.txt", applied.Artifact)
	assert.Len(t, applied.Result.Audit, 1)

	written, err := os.ReadFile(clean)
	require.NoError(t, err)
	assert.Equal(t, "[REDACTED]\n\nbob@example.com", string(written))

	_, err = os.Stat(filepath.Join(dir, "staging", "case-9", "curated.json"))
	assert.NoError(t, err)
}

func TestApplyCommand_StoredProposals(t *testing.T) {
	dir, cfg := workspace(t, "")
	input := filepath.Join(dir, "data.json")
	require.NoError(t, os.WriteFile(input, []byte(`{"email":"ada@example.com"}`), 0o600))

	out, err := execute(t, "--config", cfg, "redact", input, "--id", "dry", "--dry-run", "--no-progress")
	require.NoError(t, err)
	assert.Contains(t, out, "redactor apply dry")

	clean := filepath.Join(dir, "clean.json")
	_, err = execute(t, "--config", cfg, "apply", "dry", "--out", clean, "--no-progress")
	require.NoError(t, err)

	written, err := os.ReadFile(clean)
	require.NoError(t, err)
	assert.JSONEq(t, `{"email":"[REDACTED]"}`, string(written))
}

func TestApplyCommand_Errors(t *testing.T) {
	dir, cfg := workspace(t, "")
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"format":"docx"}`), 0o600))

	tests := []struct {
		name string
		args []string
	}{
		{name: "never analysed", args: []string{"apply", "nope", "--no-progress"}},
		{name: "missing proposals file", args: []string{"apply", "nope", "--proposals", filepath.Join(dir, "absent.json")}},
		{name: "unusable proposals", args: []string{"apply", "nope", "--proposals", bad}},
		{name: "no args", args: []string{"apply"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, append([]string{"--config", cfg}, tt.args...)...)
			assert.Error(t, err)
		})
	}
}

func TestValidatePolicy(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`
defaults:
  strategy: mask
profiles:
  strict:
    strategy: remove
tenants:
  acme:
    failure_policy: fail_closed
`), 0o600))
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`
profiles:
  broken:
    strategy: shred
`), 0o600))

	settings := &config.Settings{}

	checked, err := validatePolicy(settings, good)
	require.NoError(t, err)
	assert.Equal(t, 3, checked)

	_, err = validatePolicy(settings, bad)
	assert.ErrorIs(t, err, common.ErrInvalidConfig)

	checked, err = validatePolicy(settings, "")
	require.NoError(t, err)
	assert.Equal(t, 1, checked)
}

func TestConfigCommands(t *testing.T) {
	_, cfg := workspace(t, "redis:\n  password: hunter2\n")

	out, err := execute(t, "--config", cfg, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "jobs.db")
	assert.Contains(t, out, "********")
	assert.NotContains(t, out, "hunter2")

	out, err = execute(t, "--config", cfg, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")
}

func TestEnabledKinds(t *testing.T) {
	settings := &config.Settings{}
	assert.Equal(t, []model.DetectorKind{model.DetectorRule}, enabledKinds(settings))

	settings.LLM.Provider = "openai"
	settings.Vision.Enabled = true
	assert.Equal(t, []model.DetectorKind{model.DetectorRule, model.DetectorTextModel, model.DetectorVisionModel}, enabledKinds(settings))
}

func TestRenderJob(t *testing.T) {
	running := &service.JobRecord{ID: "a", Format: "text", Stage: "redact", CreatedAt: time.Now()}
	assert.Contains(t, renderJob(running), "not finished")

	result := model.RedactionResult{RequestID: "b", Status: model.StatusFailure}
	failed := &service.JobRecord{ID: "b", Status: model.StatusFailure, Message: "malformed document", Result: &result}
	out := renderJob(failed)
	assert.Contains(t, out, "Failure")
	assert.Contains(t, out, "malformed document")

	table := renderJobTable([]service.JobRecord{*running, *failed})
	assert.Contains(t, table, "Running")
	assert.Contains(t, table, "Failure")
}

func TestVersionCommand(t *testing.T) {
	_, cfg := workspace(t, "")
	out, err := execute(t, "--config", cfg, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "redactor dev")
}
