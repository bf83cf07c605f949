// Package pipeline orchestrates one synchronous processing pass for a
// contract case: ingest sources, extract candidates, reconcile them into
// obligations, and tier the results into proposals. Every persistence step
// is idempotent, so re-running the same inputs is a no-op beyond the audit
// trail.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/obligations-cli/internal/audit"
	"github.com/sells-group/obligations-cli/internal/config"
	"github.com/sells-group/obligations-cli/internal/extract"
	"github.com/sells-group/obligations-cli/internal/model"
	"github.com/sells-group/obligations-cli/internal/resolve"
	"github.com/sells-group/obligations-cli/internal/store"
	"github.com/sells-group/obligations-cli/internal/tier"
)

// SourceInput is one artifact submitted for a case, with its already
// extracted text. OCR/transcription happens upstream.
type SourceInput struct {
	SourceType  model.SourceType `json:"source_type"`
	FileName    string           `json:"file_name,omitempty"`
	ContentType string           `json:"content_type,omitempty"`
	Text        string           `json:"text"`
}

// CaseInput triggers one processing pass. CaseKey is the caller's
// idempotency anchor: the first pass creates the case, later passes update
// it.
type CaseInput struct {
	CaseKey      string        `json:"case_key"`
	PartnerName  string        `json:"partner_name"`
	PartnerTaxID string        `json:"partner_tax_id,omitempty"`
	ContractCode string        `json:"contract_code,omitempty"`
	Sources      []SourceInput `json:"sources"`
}

// Result summarizes one pass for CLI output.
type Result struct {
	CaseID          string        `json:"case_id"`
	Sources         int           `json:"sources"`
	NewSources      int           `json:"new_sources"`
	Candidates      int           `json:"candidates"`
	Obligations     int           `json:"obligations"`
	NewObligations  int           `json:"new_obligations"`
	Proposals       int           `json:"proposals"`
	NewProposals    int           `json:"new_proposals"`
	ConflictedCount int           `json:"conflicted_count"`
	Duration        time.Duration `json:"duration"`
}

// Pipeline wires the extraction, resolution, and tiering stages over one
// store.
type Pipeline struct {
	cfg      *config.Config
	store    store.Store
	extract  extract.Extractor
	resolver *resolve.Resolver
	tierer   *tier.Tierer
	audit    audit.Sink
}

func New(cfg *config.Config, st store.Store, ext extract.Extractor, policy resolve.Policy, sink audit.Sink) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		store:    st,
		extract:  ext,
		resolver: resolve.New(policy),
		tierer:   tier.New(cfg.Tier),
		audit:    sink,
	}
}

// Process runs one full pass for a case. A failing source is logged and
// skipped; everything that did extract is still resolved and tiered.
func (p *Pipeline) Process(ctx context.Context, input CaseInput) (*Result, error) {
	if input.CaseKey == "" {
		return nil, eris.New("pipeline: case_key is required")
	}
	start := time.Now()
	log := zap.L().With(zap.String("case_key", input.CaseKey))
	log.Info("pipeline: processing case", zap.Int("sources", len(input.Sources)))

	c, err := p.store.UpsertCase(ctx, model.ContractCase{
		CaseKey:      input.CaseKey,
		PartnerName:  input.PartnerName,
		PartnerTaxID: input.PartnerTaxID,
		ContractCode: input.ContractCode,
		Status:       model.CaseStatusOpen,
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: upsert case")
	}

	result := &Result{CaseID: c.CaseID, Sources: len(input.Sources)}

	inputs, err := p.ingestSources(ctx, c.CaseID, input.Sources, result)
	if err != nil {
		return nil, err
	}

	candidates := extract.Run(ctx, p.extract, inputs, p.cfg.Extract)
	result.Candidates = len(candidates)

	resolved := p.resolver.Resolve(c.CaseID, candidates)
	result.Obligations = len(resolved)

	obligations := make([]model.Obligation, 0, len(resolved))
	for _, r := range resolved {
		o, created, err := p.store.CreateObligation(ctx, r.Obligation)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: persist obligation")
		}
		if created {
			result.NewObligations++
		}
		// Evidence is linked on every pass, not just the creating one: a
		// later run may bring a new source that corroborates an obligation
		// already on file. The store deduplicates repeated snippets.
		for _, ev := range r.Evidence {
			if err := p.store.AddEvidence(ctx, model.ObligationEvidence{
				ObligationID: o.ObligationID,
				SourceID:     ev.SourceID,
				Snippet:      ev.Snippet,
				Offset:       ev.Offset,
			}); err != nil {
				return nil, eris.Wrap(err, "pipeline: persist evidence")
			}
		}
		if o.HasConflicts() {
			result.ConflictedCount++
		}
		obligations = append(obligations, *o)
	}

	proposals := p.tierer.Propose(c.CaseID, obligations)
	result.Proposals = len(proposals)
	for _, pr := range proposals {
		if _, created, err := p.store.CreateProposal(ctx, pr); err != nil {
			return nil, eris.Wrap(err, "pipeline: persist proposal")
		} else if created {
			result.NewProposals++
		}
	}

	result.Duration = time.Since(start)
	if err := p.audit.Append(ctx, runAuditEntry(c.CaseID, result)); err != nil {
		log.Warn("pipeline: audit append failed", zap.Error(err))
	}

	log.Info("pipeline: case processed",
		zap.String("case_id", c.CaseID),
		zap.Int("candidates", result.Candidates),
		zap.Int("obligations", result.Obligations),
		zap.Int("new_obligations", result.NewObligations),
		zap.Int("proposals", result.Proposals),
		zap.Int("new_proposals", result.NewProposals),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// ingestSources persists each source (deduplicated on content hash and
// type) and pairs the stored row with its text for extraction.
func (p *Pipeline) ingestSources(ctx context.Context, caseID string, sources []SourceInput, result *Result) ([]extract.SourceText, error) {
	inputs := make([]extract.SourceText, 0, len(sources))
	for _, in := range sources {
		src, created, err := p.store.CreateSource(ctx, model.SourceFile{
			CaseID:      caseID,
			SourceType:  in.SourceType,
			FileName:    in.FileName,
			FileHash:    hashText(in.Text),
			SizeBytes:   int64(len(in.Text)),
			ContentType: in.ContentType,
		})
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: persist source %s", in.FileName)
		}
		if created {
			result.NewSources++
		}
		inputs = append(inputs, extract.SourceText{Source: *src, Text: in.Text})
	}
	return inputs, nil
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func runAuditEntry(caseID string, r *Result) model.AuditEntry {
	return model.AuditEntry{
		Actor:      model.SystemActor,
		Action:     "case.run",
		ObjectType: "case",
		ObjectID:   caseID,
		After: map[string]any{
			"sources":         r.Sources,
			"candidates":      r.Candidates,
			"obligations":     r.Obligations,
			"new_obligations": r.NewObligations,
			"proposals":       r.Proposals,
			"new_proposals":   r.NewProposals,
		},
		At: time.Now().UTC(),
	}
}
