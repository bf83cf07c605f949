package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/obligations-cli/internal/db"
	"github.com/sells-group/obligations-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// preparedStatements lists queries to prepare on each new connection for
// the hot paths of the review API.
var preparedStatements = map[string]string{
	"get_case":         pgCaseSelect + ` WHERE id = $1`,
	"get_case_by_key":  pgCaseSelect + ` WHERE case_key = $1`,
	"get_proposal":     pgProposalSelect + ` WHERE id = $1`,
	"list_proposals":   pgProposalSelect + ` WHERE case_id = $1 ORDER BY created_at DESC, proposal_key`,
	"list_approvals":   pgApprovalSelect + ` WHERE proposal_id = $1 ORDER BY decided_at DESC`,
	"count_qualifying": pgQualifyingCountSQL,
	"append_audit":     pgAuditInsertSQL,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, maxConns, minConns int32) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	if maxConns <= 0 {
		maxConns = 10
	}
	if minConns <= 0 {
		minConns = 2
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS cases (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	case_key       TEXT NOT NULL UNIQUE,
	partner_name   TEXT NOT NULL,
	partner_tax_id TEXT NOT NULL DEFAULT '',
	contract_code  TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'open',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sources (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	case_id      TEXT REFERENCES cases(id),
	source_type  TEXT NOT NULL,
	file_name    TEXT NOT NULL DEFAULT '',
	file_hash    TEXT NOT NULL,
	size_bytes   BIGINT NOT NULL DEFAULT 0,
	content_type TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (file_hash, source_type)
);

CREATE TABLE IF NOT EXISTS obligations (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	case_id        TEXT NOT NULL REFERENCES cases(id),
	type           TEXT NOT NULL,
	currency       TEXT NOT NULL DEFAULT '',
	amount_value   DOUBLE PRECISION,
	amount_percent DOUBLE PRECISION,
	due_date       TIMESTAMPTZ,
	within_days    INTEGER,
	condition_text TEXT NOT NULL DEFAULT '',
	confidence     DOUBLE PRECISION NOT NULL DEFAULT 0,
	risk_level     TEXT NOT NULL DEFAULT 'low',
	signature      TEXT NOT NULL UNIQUE,
	conflicts      JSONB,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS obligation_evidence (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	obligation_id  TEXT NOT NULL REFERENCES obligations(id),
	source_id      TEXT NOT NULL REFERENCES sources(id),
	snippet        TEXT NOT NULL DEFAULT '',
	snippet_offset INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS proposals (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	case_id       TEXT NOT NULL REFERENCES cases(id),
	obligation_id TEXT,
	proposal_type TEXT NOT NULL,
	title         TEXT NOT NULL DEFAULT '',
	summary       TEXT NOT NULL DEFAULT '',
	details       JSONB,
	risk_level    TEXT NOT NULL DEFAULT 'low',
	confidence    DOUBLE PRECISION NOT NULL DEFAULT 0,
	status        TEXT NOT NULL DEFAULT 'draft',
	created_by    TEXT NOT NULL,
	tier          INTEGER NOT NULL,
	proposal_key  TEXT NOT NULL UNIQUE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS approvals (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	proposal_id     TEXT NOT NULL REFERENCES proposals(id),
	decision        TEXT NOT NULL,
	approver_id     TEXT NOT NULL,
	evidence_ack    BOOLEAN NOT NULL DEFAULT false,
	idempotency_key TEXT NOT NULL UNIQUE,
	note            TEXT NOT NULL DEFAULT '',
	decided_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (proposal_id, approver_id)
);

CREATE TABLE IF NOT EXISTS audit_log (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	actor       TEXT NOT NULL,
	action      TEXT NOT NULL,
	object_type TEXT NOT NULL,
	object_id   TEXT NOT NULL,
	before      JSONB,
	after       JSONB,
	at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sources_case_id ON sources(case_id);
CREATE INDEX IF NOT EXISTS idx_obligations_case_id ON obligations(case_id);
CREATE INDEX IF NOT EXISTS idx_evidence_obligation_id ON obligation_evidence(obligation_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_evidence_dedup ON obligation_evidence(obligation_id, source_id, snippet_offset);
CREATE INDEX IF NOT EXISTS idx_proposals_case_id ON proposals(case_id);
CREATE INDEX IF NOT EXISTS idx_proposals_status ON proposals(status);
CREATE INDEX IF NOT EXISTS idx_approvals_proposal_id ON approvals(proposal_id);
CREATE INDEX IF NOT EXISTS idx_audit_object ON audit_log(object_type, object_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Cases ---

const pgCaseSelect = `SELECT id, case_key, partner_name, partner_tax_id, contract_code, status, created_at, updated_at FROM cases`

func (s *PostgresStore) UpsertCase(ctx context.Context, c model.ContractCase) (*model.ContractCase, error) {
	if c.Status == "" {
		c.Status = model.CaseStatusOpen
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO cases (id, case_key, partner_name, partner_tax_id, contract_code, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (case_key) DO UPDATE SET
		   partner_name = EXCLUDED.partner_name,
		   partner_tax_id = EXCLUDED.partner_tax_id,
		   contract_code = EXCLUDED.contract_code,
		   status = EXCLUDED.status,
		   updated_at = now()
		 RETURNING id, case_key, partner_name, partner_tax_id, contract_code, status, created_at, updated_at`,
		uuid.New().String(), c.CaseKey, c.PartnerName, c.PartnerTaxID, c.ContractCode, string(c.Status),
	)
	out, err := scanPgCase(row)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: upsert case")
	}
	return out, nil
}

func (s *PostgresStore) GetCase(ctx context.Context, caseID string) (*model.ContractCase, error) {
	out, err := scanPgCase(s.pool.QueryRow(ctx, pgCaseSelect+` WHERE id = $1`, caseID))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) GetCaseByKey(ctx context.Context, caseKey string) (*model.ContractCase, error) {
	out, err := scanPgCase(s.pool.QueryRow(ctx, pgCaseSelect+` WHERE case_key = $1`, caseKey))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) ListCases(ctx context.Context, filter CaseFilter) ([]model.ContractCase, error) {
	query := pgCaseSelect + ` WHERE 1=1`
	var args []any
	arg := 0

	if filter.Status != "" {
		arg++
		query += ` AND status = $` + strconv.Itoa(arg)
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	arg++
	query += ` LIMIT $` + strconv.Itoa(arg)
	args = append(args, limit)

	if filter.Offset > 0 {
		arg++
		query += ` OFFSET $` + strconv.Itoa(arg)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list cases")
	}
	defer rows.Close()

	var cases []model.ContractCase
	for rows.Next() {
		c, err := scanPgCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, *c)
	}
	return cases, eris.Wrap(rows.Err(), "postgres: list cases iterate")
}

// --- Sources ---

const pgSourceSelect = `SELECT id, case_id, source_type, file_name, file_hash, size_bytes, content_type, created_at FROM sources`

func (s *PostgresStore) CreateSource(ctx context.Context, src model.SourceFile) (*model.SourceFile, bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO sources (id, case_id, source_type, file_name, file_hash, size_bytes, content_type)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7)
		 ON CONFLICT (file_hash, source_type) DO NOTHING`,
		uuid.New().String(), src.CaseID, string(src.SourceType), src.FileName, src.FileHash, src.SizeBytes, src.ContentType,
	)
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: insert source")
	}
	created := tag.RowsAffected() > 0

	out, err := scanPgSource(s.pool.QueryRow(ctx,
		pgSourceSelect+` WHERE file_hash = $1 AND source_type = $2`, src.FileHash, string(src.SourceType)))
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

func (s *PostgresStore) ListSources(ctx context.Context, caseID string) ([]model.SourceFile, error) {
	rows, err := s.pool.Query(ctx, pgSourceSelect+` WHERE case_id = $1 ORDER BY created_at DESC`, caseID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sources")
	}
	defer rows.Close()

	var sources []model.SourceFile
	for rows.Next() {
		src, err := scanPgSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *src)
	}
	return sources, eris.Wrap(rows.Err(), "postgres: list sources iterate")
}

// --- Obligations ---

const pgObligationSelect = `SELECT id, case_id, type, currency, amount_value, amount_percent, due_date, within_days, condition_text, confidence, risk_level, signature, conflicts, created_at FROM obligations`

func (s *PostgresStore) CreateObligation(ctx context.Context, o model.Obligation) (*model.Obligation, bool, error) {
	conflictsJSON, err := jsonbOrNil(o.Conflicts)
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: marshal conflicts")
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO obligations
		 (id, case_id, type, currency, amount_value, amount_percent, due_date, within_days, condition_text, confidence, risk_level, signature, conflicts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (signature) DO NOTHING`,
		uuid.New().String(), o.CaseID, string(o.Type), o.Currency,
		o.AmountValue, o.AmountPercent, o.DueDate, o.WithinDays,
		o.ConditionText, o.Confidence, string(o.RiskLevel), o.Signature, conflictsJSON,
	)
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: insert obligation")
	}
	created := tag.RowsAffected() > 0

	out, err := scanPgObligation(s.pool.QueryRow(ctx, pgObligationSelect+` WHERE signature = $1`, o.Signature))
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

func (s *PostgresStore) AddEvidence(ctx context.Context, ev model.ObligationEvidence) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO obligation_evidence (id, obligation_id, source_id, snippet, snippet_offset)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (obligation_id, source_id, snippet_offset) DO NOTHING`,
		uuid.New().String(), ev.ObligationID, ev.SourceID, ev.Snippet, ev.Offset,
	)
	return eris.Wrapf(err, "postgres: insert evidence for obligation %s", ev.ObligationID)
}

func (s *PostgresStore) ListObligations(ctx context.Context, caseID string) ([]model.Obligation, error) {
	rows, err := s.pool.Query(ctx, pgObligationSelect+` WHERE case_id = $1 ORDER BY created_at DESC, signature`, caseID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list obligations")
	}
	defer rows.Close()

	var obligations []model.Obligation
	for rows.Next() {
		o, err := scanPgObligation(rows)
		if err != nil {
			return nil, err
		}
		obligations = append(obligations, *o)
	}
	return obligations, eris.Wrap(rows.Err(), "postgres: list obligations iterate")
}

func (s *PostgresStore) ListEvidence(ctx context.Context, obligationID string) ([]model.ObligationEvidence, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, obligation_id, source_id, snippet, snippet_offset, created_at
		 FROM obligation_evidence WHERE obligation_id = $1 ORDER BY created_at DESC`, obligationID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list evidence")
	}
	defer rows.Close()

	var evidence []model.ObligationEvidence
	for rows.Next() {
		var ev model.ObligationEvidence
		if err := rows.Scan(&ev.EvidenceID, &ev.ObligationID, &ev.SourceID, &ev.Snippet, &ev.Offset, &ev.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan evidence")
		}
		evidence = append(evidence, ev)
	}
	return evidence, eris.Wrap(rows.Err(), "postgres: list evidence iterate")
}

// --- Proposals ---

const pgProposalSelect = `SELECT id, case_id, obligation_id, proposal_type, title, summary, details, risk_level, confidence, status, created_by, tier, proposal_key, created_at, updated_at FROM proposals`

func (s *PostgresStore) CreateProposal(ctx context.Context, p model.Proposal) (*model.Proposal, bool, error) {
	if p.Status == "" {
		p.Status = model.ProposalStatusDraft
	}
	detailsJSON, err := jsonbOrNil(p.Details)
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: marshal details")
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO proposals
		 (id, case_id, obligation_id, proposal_type, title, summary, details, risk_level, confidence, status, created_by, tier, proposal_key)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (proposal_key) DO NOTHING`,
		uuid.New().String(), p.CaseID, p.ObligationID, string(p.ProposalType), p.Title, p.Summary, detailsJSON,
		string(p.RiskLevel), p.Confidence, string(p.Status), p.CreatedBy, p.Tier, p.ProposalKey,
	)
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: insert proposal")
	}
	created := tag.RowsAffected() > 0

	out, err := scanPgProposal(s.pool.QueryRow(ctx, pgProposalSelect+` WHERE proposal_key = $1`, p.ProposalKey))
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

func (s *PostgresStore) GetProposal(ctx context.Context, proposalID string) (*model.Proposal, error) {
	return scanPgProposal(s.pool.QueryRow(ctx, pgProposalSelect+` WHERE id = $1`, proposalID))
}

func (s *PostgresStore) ListProposals(ctx context.Context, caseID string) ([]model.Proposal, error) {
	rows, err := s.pool.Query(ctx, pgProposalSelect+` WHERE case_id = $1 ORDER BY created_at DESC, proposal_key`, caseID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list proposals")
	}
	defer rows.Close()

	var proposals []model.Proposal
	for rows.Next() {
		p, err := scanPgProposal(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, *p)
	}
	return proposals, eris.Wrap(rows.Err(), "postgres: list proposals iterate")
}

// --- Approvals ---

const pgApprovalSelect = `SELECT id, proposal_id, decision, approver_id, evidence_ack, idempotency_key, note, decided_at FROM approvals`

const pgQualifyingCountSQL = `SELECT COUNT(DISTINCT approver_id) FROM approvals WHERE proposal_id = $1 AND decision = 'approve' AND evidence_ack = true`

const pgAuditInsertSQL = `INSERT INTO audit_log (id, actor, action, object_type, object_id, before, after, at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

func (s *PostgresStore) RecordApproval(ctx context.Context, a model.Approval) (*ApprovalOutcome, error) {
	outcome, err := s.recordApprovalTx(ctx, a)
	if err == nil {
		return outcome, nil
	}

	// Unique-constraint race: a concurrent identical request committed
	// first. Re-read the winner once instead of surfacing the conflict.
	if isPgUniqueViolation(err, "idempotency_key") {
		return s.replayOutcome(ctx, a.ProposalID, a.IdempotencyKey)
	}
	if isPgUniqueViolation(err, "proposal_id") {
		return nil, eris.Wrap(ErrDuplicateDecision, "postgres: record approval")
	}
	return nil, err
}

func (s *PostgresStore) recordApprovalTx(ctx context.Context, a model.Approval) (*ApprovalOutcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Lock the proposal row: concurrent decisions on the same proposal
	// serialize here, so the count recomputation below is never stale.
	p, err := scanPgProposal(tx.QueryRow(ctx, pgProposalSelect+` WHERE id = $1 FOR UPDATE`, a.ProposalID))
	if err != nil {
		return nil, err
	}
	required := model.ApprovalsRequired(p.RiskLevel)

	prior, err := scanPgApproval(tx.QueryRow(ctx, pgApprovalSelect+` WHERE idempotency_key = $1`, a.IdempotencyKey))
	if err != nil && !eris.Is(err, ErrNotFound) {
		return nil, err
	}
	if prior != nil {
		if prior.ProposalID != a.ProposalID || prior.ApproverID != a.ApproverID {
			return nil, eris.Wrap(ErrDuplicateDecision, "postgres: idempotency key reused across requests")
		}
		approved, err := countPgQualifying(ctx, tx, a.ProposalID)
		if err != nil {
			return nil, err
		}
		return &ApprovalOutcome{
			Approval:          *prior,
			ProposalStatus:    p.Status,
			ApprovalsRequired: required,
			ApprovalsApproved: approved,
			Replayed:          true,
		}, nil
	}

	if p.Status.Terminal() {
		return nil, eris.Wrapf(ErrProposalFinalized, "postgres: proposal %s is %s", p.ProposalID, p.Status)
	}

	var existing int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM approvals WHERE proposal_id = $1 AND approver_id = $2`,
		a.ProposalID, a.ApproverID).Scan(&existing); err != nil {
		return nil, eris.Wrap(err, "postgres: count approver decisions")
	}
	if existing > 0 {
		return nil, eris.Wrapf(ErrDuplicateDecision, "postgres: approver %s on proposal %s", a.ApproverID, a.ProposalID)
	}

	a.ApprovalID = uuid.New().String()
	a.DecidedAt = time.Now().UTC()
	if _, err := tx.Exec(ctx,
		`INSERT INTO approvals (id, proposal_id, decision, approver_id, evidence_ack, idempotency_key, note, decided_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ApprovalID, a.ProposalID, string(a.Decision), a.ApproverID, a.EvidenceAck, a.IdempotencyKey, a.Note, a.DecidedAt,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: insert approval")
	}

	approved, err := countPgQualifying(ctx, tx, a.ProposalID)
	if err != nil {
		return nil, err
	}

	newStatus := nextStatus(a.Decision, approved, required)
	if newStatus != p.Status {
		if _, err := tx.Exec(ctx,
			`UPDATE proposals SET status = $1, updated_at = now() WHERE id = $2`,
			string(newStatus), a.ProposalID,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: update proposal status")
		}
	}

	entry := approvalAuditEntry(a, p.Status, newStatus)
	before, _ := json.Marshal(entry.Before)
	after, _ := json.Marshal(entry.After)
	if _, err := tx.Exec(ctx, pgAuditInsertSQL,
		uuid.New().String(), entry.Actor, entry.Action, entry.ObjectType, entry.ObjectID, before, after, entry.At,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: insert audit entry")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit approval")
	}

	return &ApprovalOutcome{
		Approval:          a,
		ProposalStatus:    newStatus,
		ApprovalsRequired: required,
		ApprovalsApproved: approved,
	}, nil
}

func (s *PostgresStore) replayOutcome(ctx context.Context, proposalID, idempotencyKey string) (*ApprovalOutcome, error) {
	prior, err := scanPgApproval(s.pool.QueryRow(ctx, pgApprovalSelect+` WHERE idempotency_key = $1`, idempotencyKey))
	if err != nil {
		return nil, err
	}
	if prior.ProposalID != proposalID {
		return nil, eris.Wrap(ErrDuplicateDecision, "postgres: idempotency key reused across proposals")
	}
	p, err := s.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	var approved int
	if err := s.pool.QueryRow(ctx, pgQualifyingCountSQL, proposalID).Scan(&approved); err != nil {
		return nil, eris.Wrap(err, "postgres: count qualifying approvals")
	}
	return &ApprovalOutcome{
		Approval:          *prior,
		ProposalStatus:    p.Status,
		ApprovalsRequired: model.ApprovalsRequired(p.RiskLevel),
		ApprovalsApproved: approved,
		Replayed:          true,
	}, nil
}

func countPgQualifying(ctx context.Context, tx pgx.Tx, proposalID string) (int, error) {
	var n int
	err := tx.QueryRow(ctx, pgQualifyingCountSQL, proposalID).Scan(&n)
	return n, eris.Wrap(err, "postgres: count qualifying approvals")
}

func (s *PostgresStore) ListApprovals(ctx context.Context, proposalID string) ([]model.Approval, error) {
	rows, err := s.pool.Query(ctx, pgApprovalSelect+` WHERE proposal_id = $1 ORDER BY decided_at DESC`, proposalID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list approvals")
	}
	defer rows.Close()

	var approvals []model.Approval
	for rows.Next() {
		a, err := scanPgApproval(rows)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, *a)
	}
	return approvals, eris.Wrap(rows.Err(), "postgres: list approvals iterate")
}

// --- Audit ---

func (s *PostgresStore) AppendAudit(ctx context.Context, entry model.AuditEntry) error {
	before, err := json.Marshal(entry.Before)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal audit before")
	}
	after, err := json.Marshal(entry.After)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal audit after")
	}
	at := entry.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx, pgAuditInsertSQL,
		uuid.New().String(), entry.Actor, entry.Action, entry.ObjectType, entry.ObjectID, before, after, at,
	)
	return eris.Wrap(err, "postgres: insert audit entry")
}

// --- helpers ---

func scanPgCase(row pgx.Row) (*model.ContractCase, error) {
	var c model.ContractCase
	var status string
	err := row.Scan(&c.CaseID, &c.CaseKey, &c.PartnerName, &c.PartnerTaxID, &c.ContractCode, &status, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "postgres: case")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan case")
	}
	c.Status = model.CaseStatus(status)
	return &c, nil
}

func scanPgSource(row pgx.Row) (*model.SourceFile, error) {
	var src model.SourceFile
	var caseID *string
	var st string
	err := row.Scan(&src.SourceID, &caseID, &st, &src.FileName, &src.FileHash, &src.SizeBytes, &src.ContentType, &src.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "postgres: source")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan source")
	}
	if caseID != nil {
		src.CaseID = *caseID
	}
	src.SourceType = model.SourceType(st)
	return &src, nil
}

func scanPgObligation(row pgx.Row) (*model.Obligation, error) {
	var o model.Obligation
	var typ, risk string
	var conflicts []byte

	err := row.Scan(&o.ObligationID, &o.CaseID, &typ, &o.Currency, &o.AmountValue, &o.AmountPercent,
		&o.DueDate, &o.WithinDays, &o.ConditionText, &o.Confidence, &risk, &o.Signature, &conflicts, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "postgres: obligation")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan obligation")
	}

	o.Type = model.ObligationType(typ)
	o.RiskLevel = model.RiskLevel(risk)
	if len(conflicts) > 0 {
		if err := json.Unmarshal(conflicts, &o.Conflicts); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal conflicts")
		}
	}
	return &o, nil
}

func scanPgProposal(row pgx.Row) (*model.Proposal, error) {
	var p model.Proposal
	var obligationID *string
	var typ, risk, status string
	var details []byte

	err := row.Scan(&p.ProposalID, &p.CaseID, &obligationID, &typ, &p.Title, &p.Summary, &details,
		&risk, &p.Confidence, &status, &p.CreatedBy, &p.Tier, &p.ProposalKey, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "postgres: proposal")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan proposal")
	}

	if obligationID != nil {
		p.ObligationID = *obligationID
	}
	p.ProposalType = model.ProposalType(typ)
	p.RiskLevel = model.RiskLevel(risk)
	p.Status = model.ProposalStatus(status)
	if len(details) > 0 {
		if err := json.Unmarshal(details, &p.Details); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal details")
		}
	}
	return &p, nil
}

func scanPgApproval(row pgx.Row) (*model.Approval, error) {
	var a model.Approval
	var decision string
	err := row.Scan(&a.ApprovalID, &a.ProposalID, &decision, &a.ApproverID, &a.EvidenceAck, &a.IdempotencyKey, &a.Note, &a.DecidedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "postgres: approval")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan approval")
	}
	a.Decision = model.Decision(decision)
	return &a, nil
}

func jsonbOrNil(v any) ([]byte, error) {
	switch val := v.(type) {
	case model.ConflictMap:
		if len(val) == 0 {
			return nil, nil
		}
	case map[string]any:
		if len(val) == 0 {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

// isPgUniqueViolation reports whether err is a unique violation (23505) on a
// constraint whose name contains the given fragment.
func isPgUniqueViolation(err error, fragment string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && strings.Contains(pgErr.ConstraintName, fragment)
}
