package job

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"slices"

	"github.com/Veraticus/redactor/internal/common"
	"github.com/Veraticus/redactor/internal/document"
	"github.com/Veraticus/redactor/internal/model"
	"github.com/Veraticus/redactor/internal/processor"
	"github.com/Veraticus/redactor/internal/service"
)

// ProposalsFile is the blob name, under the job prefix, of an analysis's
// proposed findings.
const ProposalsFile = "proposals.json"

// Proposals are the findings an analysis run would apply. A reviewer may edit
// Entries before handing them back to Runner.Apply.
type Proposals struct {
	JobID  string                `json:"job_id"`
	Tenant string                `json:"tenant,omitempty"`
	Format string                `json:"format"`
	Config model.RedactionConfig `json:"config"`
	processor.Review
}

func newProposals(jobID, tenant, format string, cfg model.RedactionConfig, result model.RedactionResult) *Proposals {
	entries := result.Audit
	if entries == nil {
		entries = []model.AuditEntry{}
	}

	var withheld []string
	for _, e := range result.Errors {
		if e.UnitID != "" && !slices.Contains(withheld, e.UnitID) {
			withheld = append(withheld, e.UnitID)
		}
	}

	return &Proposals{
		JobID:  jobID,
		Tenant: tenant,
		Format: format,
		Config: cfg,
		Review: processor.Review{Entries: entries, Withheld: withheld},
	}
}

// ParseProposals decodes proposals and checks they can be applied.
func ParseProposals(data []byte) (*Proposals, error) {
	var p Proposals
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: proposals are not valid JSON: %w", common.ErrInvalidConfig, err)
	}
	if len(document.UnitKinds(p.Format)) == 0 {
		return nil, &common.UnsupportedFormatError{Format: p.Format}
	}
	if err := p.Config.Validate(); err != nil {
		return nil, fmt.Errorf("proposals carry an invalid config: %w", err)
	}
	for i, e := range p.Entries {
		if e.UnitID == "" {
			return nil, fmt.Errorf("%w: proposal %d has no unit id", common.ErrInvalidConfig, i)
		}
		if e.Strategy != "" && !e.Strategy.Valid() {
			return nil, fmt.Errorf("%w: proposal %d has unknown strategy %q", common.ErrInvalidConfig, i, e.Strategy)
		}
	}
	return &p, nil
}

// LoadProposals reads the proposals stored for a job.
func LoadProposals(ctx context.Context, store service.BlobStore, prefix string) (*Proposals, error) {
	data, err := store.Fetch(ctx, path.Join(prefix, ProposalsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read proposals: %w", err)
	}
	return ParseProposals(data)
}
