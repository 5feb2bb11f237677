package job

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/redactor/internal/blob"
	"github.com/Veraticus/redactor/internal/common"
	"github.com/Veraticus/redactor/internal/detector"
	"github.com/Veraticus/redactor/internal/metrics"
	"github.com/Veraticus/redactor/internal/model"
	"github.com/Veraticus/redactor/internal/policy"
	"github.com/Veraticus/redactor/internal/processor"
	"github.com/Veraticus/redactor/internal/service"
	"github.com/Veraticus/redactor/internal/storage"
	"github.com/Veraticus/redactor/internal/testutil"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Publish(ctx context.Context, event service.CompletionEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type harness struct {
	runner   *Runner
	store    *blob.LocalStore
	output   *blob.LocalStore
	db       *storage.SQLiteStorage
	notifier *mockNotifier
	metrics  *metrics.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	rules, err := detector.NewRuleDetector(detector.DefaultPatterns(), nil)
	require.NoError(t, err)
	registry, err := detector.NewRegistry(rules)
	require.NoError(t, err)
	proc, err := processor.New(processor.Config{Detectors: registry, Workers: 2})
	require.NoError(t, err)

	store, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	output, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	db := testutil.SetupTestDB(t).Storage

	notifier := &mockNotifier{}
	m := metrics.New()

	runner, err := New(Config{
		Processor: proc,
		Policy:    policy.NewProcessor(model.DefaultConfig(), nil, registry.Kinds()),
		Store:     store,
		Output:    output,
		Storage:   db,
		Notifier:  notifier,
		Metrics:   m,
	})
	require.NoError(t, err)

	return &harness{runner: runner, store: store, output: output, db: db, notifier: notifier, metrics: m}
}

func (h *harness) expectEvent(check func(e service.CompletionEvent) bool) {
	h.notifier.On("Publish", mock.Anything, mock.MatchedBy(check)).Return(nil).Once()
}

func TestRunner_Redact(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.store.Store(ctx, "inbox/letter.txt", []byte("Write to ada@example.com\n\nThanks")))
	h.expectEvent(func(e service.CompletionEvent) bool {
		return e.RequestID == "case-42" && e.Status == model.StatusSuccess && e.Redactions == 1 &&
			e.Categories["email"] == 1 && e.Output == "case-42/redacted.txt"
	})

	outcome, err := h.runner.Run(ctx, Request{
		ID:          "case-42",
		Tenant:      "acme",
		Source:      "inbox/letter.txt",
		Destination: "delivered/letter.txt",
	})
	require.NoError(t, err)
	h.notifier.AssertExpectations(t)

	assert.Equal(t, StageRedact, outcome.Stage)
	assert.Equal(t, "Write to [REDACTED]\n\nThanks", string(outcome.Artifact))

	raw, err := h.store.Fetch(ctx, "case-42/raw.txt")
	require.NoError(t, err)
	assert.Contains(t, string(raw), "ada@example.com")

	redacted, err := h.store.Fetch(ctx, "case-42/redacted.txt")
	require.NoError(t, err)
	assert.Equal(t, outcome.Artifact, redacted)

	delivered, err := h.output.Fetch(ctx, "delivered/letter.txt")
	require.NoError(t, err)
	assert.Equal(t, outcome.Artifact, delivered)

	resultJSON, err := h.store.Fetch(ctx, "case-42/result.json")
	require.NoError(t, err)
	var stored model.RedactionResult
	require.NoError(t, json.Unmarshal(resultJSON, &stored))
	assert.Equal(t, model.StatusSuccess, stored.Status)
	assert.NotContains(t, string(resultJSON), "ada@example.com")

	job, err := h.db.GetJob(ctx, "case-42")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, job.Status)
	assert.Equal(t, "acme", job.Tenant)
	assert.Equal(t, "case-42/redacted.txt", job.Output)
	audit, err := h.db.GetAuditEntries(ctx, "case-42")
	require.NoError(t, err)
	assert.Len(t, audit, 1)

	assert.InDelta(t, 1, promtest.ToFloat64(h.metrics.JobsTotal.WithLabelValues(StageRedact, "text", "Success")), 1e-9)
}

func TestRunner_DryRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.expectEvent(func(e service.CompletionEvent) bool { return e.Stage == StageAnalyse && e.Output == "" })

	outcome, err := h.runner.Run(ctx, Request{
		ID:     "dry",
		Format: "text",
		Data:   []byte("ssn 123-45-6789"),
		DryRun: true,
	})
	require.NoError(t, err)

	assert.Nil(t, outcome.Artifact)
	assert.Empty(t, outcome.ArtifactID)
	assert.Len(t, outcome.Result.Audit, 1)

	_, err = h.store.Fetch(ctx, "dry/redacted.txt")
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = h.store.Fetch(ctx, "dry/result.json")
	assert.NoError(t, err)

	assert.Equal(t, "dry/proposed.txt", outcome.ProposedID)
	proposed, err := h.store.Fetch(ctx, "dry/proposed.txt")
	require.NoError(t, err)
	assert.Equal(t, "ssn [REDACTED]", string(proposed))

	assert.Equal(t, "dry/proposals.json", outcome.ProposalsID)
	proposals, err := LoadProposals(ctx, h.store, "dry")
	require.NoError(t, err)
	assert.Equal(t, "text", proposals.Format)
	assert.Equal(t, outcome.Result.Audit, proposals.Entries)
	assert.Empty(t, proposals.Withheld)
}

func TestRunner_ApplyReviewedProposals(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.expectEvent(func(e service.CompletionEvent) bool { return e.Stage == StageAnalyse })
	h.expectEvent(func(e service.CompletionEvent) bool {
		return e.Stage == StageApply && e.Tenant == "acme" && e.Redactions == 1 && e.Output == "review/redacted.txt"
	})

	_, err := h.runner.Run(ctx, Request{
		ID:     "review",
		Tenant: "acme",
		Format: "text",
		Data:   []byte("Reach ada@example.com\n\nor bob@example.com"),
		DryRun: true,
	})
	require.NoError(t, err)

	proposals, err := LoadProposals(ctx, h.store, "review")
	require.NoError(t, err)
	require.Len(t, proposals.Entries, 2)

	// The reviewer decides the second address may stay.
	proposals.Entries = proposals.Entries[:1]

	outcome, err := h.runner.Apply(ctx, ApplyRequest{
		ID:          "review",
		Proposals:   proposals,
		Destination: "delivered/review.txt",
	})
	require.NoError(t, err)
	h.notifier.AssertExpectations(t)

	assert.Equal(t, StageApply, outcome.Stage)
	assert.Equal(t, "Reach [REDACTED]\n\nor bob@example.com", string(outcome.Artifact))
	assert.Equal(t, "review/redacted.txt", outcome.ArtifactID)

	delivered, err := h.output.Fetch(ctx, "delivered/review.txt")
	require.NoError(t, err)
	assert.Equal(t, outcome.Artifact, delivered)

	curated, err := h.store.Fetch(ctx, "review/curated.json")
	require.NoError(t, err)
	stored, err := ParseProposals(curated)
	require.NoError(t, err)
	assert.Len(t, stored.Entries, 1)

	job, err := h.db.GetJob(ctx, "review")
	require.NoError(t, err)
	assert.Equal(t, StageApply, job.Stage)
	assert.Equal(t, model.StatusSuccess, job.Status)
	audit, err := h.db.GetAuditEntries(ctx, "review")
	require.NoError(t, err)
	assert.Len(t, audit, 1)
}

func TestRunner_ApplyStoredProposals(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.notifier.On("Publish", mock.Anything, mock.Anything).Return(nil)

	_, err := h.runner.Run(ctx, Request{ID: "stored", Format: "text", Data: []byte("mail ada@example.com"), DryRun: true})
	require.NoError(t, err)

	outcome, err := h.runner.Apply(ctx, ApplyRequest{ID: "stored"})
	require.NoError(t, err)
	assert.Equal(t, "mail [REDACTED]", string(outcome.Artifact))
}

func TestRunner_ApplyErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.notifier.On("Publish", mock.Anything, mock.Anything).Return(nil)

	_, err := h.runner.Apply(ctx, ApplyRequest{ID: "never-analysed"})
	require.ErrorIs(t, err, common.ErrNotFound)

	_, err = h.runner.Run(ctx, Request{ID: "edited", Format: "text", Data: []byte("mail ada@example.com"), DryRun: true})
	require.NoError(t, err)
	proposals, err := LoadProposals(ctx, h.store, "edited")
	require.NoError(t, err)
	proposals.Entries[0].End = 500

	outcome, err := h.runner.Apply(ctx, ApplyRequest{ID: "edited", Proposals: proposals})
	require.ErrorIs(t, err, common.ErrFindingOutOfRange)
	assert.Equal(t, model.StatusFailure, outcome.Result.Status)
	assert.Nil(t, outcome.Artifact)

	_, err = h.store.Fetch(ctx, "edited/redacted.txt")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestParseProposals(t *testing.T) {
	valid := func() Proposals {
		return Proposals{
			JobID:  "j",
			Format: "text",
			Config: model.DefaultConfig(),
			Review: processor.Review{Entries: []model.AuditEntry{{UnitID: "paragraph-0", Category: "email", Start: 0, End: 3}}},
		}
	}

	tests := []struct {
		name    string
		edit    func(p *Proposals)
		wantErr error
	}{
		{name: "valid", edit: func(*Proposals) {}},
		{name: "unknown format", edit: func(p *Proposals) { p.Format = "pdf" }, wantErr: common.ErrUnsupportedFormat},
		{name: "missing unit id", edit: func(p *Proposals) { p.Entries[0].UnitID = "" }, wantErr: common.ErrInvalidConfig},
		{name: "unknown strategy", edit: func(p *Proposals) { p.Entries[0].Strategy = "shred" }, wantErr: common.ErrInvalidConfig},
		{name: "invalid config", edit: func(p *Proposals) { p.Config.Strategy = "shred" }, wantErr: common.ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid()
			tt.edit(&p)
			data, err := json.Marshal(p)
			require.NoError(t, err)

			parsed, err := ParseProposals(data)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, p.Entries, parsed.Entries)
		})
	}

	_, err := ParseProposals([]byte("{"))
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}

func TestRunner_SkipRedaction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.expectEvent(func(e service.CompletionEvent) bool { return e.Stage == StageSkip })

	input := []byte(`{"email":"ada@example.com"}`)
	outcome, err := h.runner.Run(ctx, Request{ID: "skip", Format: "json", Data: input, SkipRedaction: true})
	require.NoError(t, err)

	assert.Equal(t, model.StatusSuccess, outcome.Result.Status)
	assert.Equal(t, input, outcome.Artifact)
	assert.Equal(t, "skip/redacted.json", outcome.ArtifactID)
}

func TestRunner_GeneratesID(t *testing.T) {
	h := newHarness(t)
	h.expectEvent(func(service.CompletionEvent) bool { return true })

	outcome, err := h.runner.Run(context.Background(), Request{Format: "text", Data: []byte("nothing here")})
	require.NoError(t, err)
	assert.Len(t, outcome.JobID, 36)
	assert.Equal(t, outcome.JobID, outcome.Prefix)
}

func TestRunner_StructuralFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.expectEvent(func(e service.CompletionEvent) bool {
		return e.Status == model.StatusFailure && strings.Contains(e.Message, "malformed")
	})

	outcome, err := h.runner.Run(ctx, Request{ID: "bad", Format: "json", Data: []byte(`{"a":`)})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrMalformedDocument)
	require.NotNil(t, outcome)
	assert.Equal(t, model.StatusFailure, outcome.Result.Status)
	assert.Nil(t, outcome.Artifact)

	job, getErr := h.db.GetJob(ctx, "bad")
	require.NoError(t, getErr)
	assert.Equal(t, model.StatusFailure, job.Status)
	assert.Contains(t, job.Message, "malformed")
}

func TestRunner_InvalidPolicy(t *testing.T) {
	h := newHarness(t)
	h.expectEvent(func(e service.CompletionEvent) bool { return e.Status == model.StatusFailure })

	_, err := h.runner.Run(context.Background(), Request{
		ID:      "policy",
		Format:  "text",
		Data:    []byte("x"),
		Profile: "nonexistent",
	})
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}

func TestRunner_InputErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{name: "id too long", req: Request{ID: strings.Repeat("x", 41), Format: "text", Data: []byte("x")}, want: common.ErrInvalidConfig},
		{name: "unknown extension", req: Request{ID: "a", Source: "scan.pdf"}, want: common.ErrUnsupportedFormat},
		{name: "missing source blob", req: Request{ID: "a", Source: "nowhere.txt"}, want: common.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.runner.Run(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	h.notifier.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestNew_Requirements(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
