package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/obligations-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// Transactions begin with BEGIN IMMEDIATE so concurrent approval writes queue
// on the write lock up front instead of failing mid-transaction with SQLITE_BUSY.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if !strings.Contains(dsn, "_txlock=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_txlock=immediate"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS cases (
	id             TEXT PRIMARY KEY,
	case_key       TEXT NOT NULL UNIQUE,
	partner_name   TEXT NOT NULL,
	partner_tax_id TEXT NOT NULL DEFAULT '',
	contract_code  TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'open',
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS sources (
	id           TEXT PRIMARY KEY,
	case_id      TEXT REFERENCES cases(id),
	source_type  TEXT NOT NULL,
	file_name    TEXT NOT NULL DEFAULT '',
	file_hash    TEXT NOT NULL,
	size_bytes   INTEGER NOT NULL DEFAULT 0,
	content_type TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL,
	UNIQUE (file_hash, source_type)
);

CREATE TABLE IF NOT EXISTS obligations (
	id             TEXT PRIMARY KEY,
	case_id        TEXT NOT NULL REFERENCES cases(id),
	type           TEXT NOT NULL,
	currency       TEXT NOT NULL DEFAULT '',
	amount_value   REAL,
	amount_percent REAL,
	due_date       DATETIME,
	within_days    INTEGER,
	condition_text TEXT NOT NULL DEFAULT '',
	confidence     REAL NOT NULL DEFAULT 0,
	risk_level     TEXT NOT NULL DEFAULT 'low',
	signature      TEXT NOT NULL UNIQUE,
	conflicts      TEXT,
	created_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS obligation_evidence (
	id            TEXT PRIMARY KEY,
	obligation_id TEXT NOT NULL REFERENCES obligations(id),
	source_id     TEXT NOT NULL REFERENCES sources(id),
	snippet       TEXT NOT NULL DEFAULT '',
	snippet_offset INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS proposals (
	id            TEXT PRIMARY KEY,
	case_id       TEXT NOT NULL REFERENCES cases(id),
	obligation_id TEXT,
	proposal_type TEXT NOT NULL,
	title         TEXT NOT NULL DEFAULT '',
	summary       TEXT NOT NULL DEFAULT '',
	details       TEXT,
	risk_level    TEXT NOT NULL DEFAULT 'low',
	confidence    REAL NOT NULL DEFAULT 0,
	status        TEXT NOT NULL DEFAULT 'draft',
	created_by    TEXT NOT NULL,
	tier          INTEGER NOT NULL,
	proposal_key  TEXT NOT NULL UNIQUE,
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS approvals (
	id              TEXT PRIMARY KEY,
	proposal_id     TEXT NOT NULL REFERENCES proposals(id),
	decision        TEXT NOT NULL,
	approver_id     TEXT NOT NULL,
	evidence_ack    INTEGER NOT NULL DEFAULT 0,
	idempotency_key TEXT NOT NULL UNIQUE,
	note            TEXT NOT NULL DEFAULT '',
	decided_at      DATETIME NOT NULL,
	UNIQUE (proposal_id, approver_id)
);

CREATE TABLE IF NOT EXISTS audit_log (
	id          TEXT PRIMARY KEY,
	actor       TEXT NOT NULL,
	action      TEXT NOT NULL,
	object_type TEXT NOT NULL,
	object_id   TEXT NOT NULL,
	before      TEXT,
	after       TEXT,
	at          DATETIME NOT NULL
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

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Cases ---

func (s *SQLiteStore) UpsertCase(ctx context.Context, c model.ContractCase) (*model.ContractCase, error) {
	now := time.Now().UTC()
	if c.Status == "" {
		c.Status = model.CaseStatusOpen
	}

	existing, err := s.GetCaseByKey(ctx, c.CaseKey)
	if err != nil && !eris.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		_, err := s.db.ExecContext(ctx,
			`UPDATE cases SET partner_name = ?, partner_tax_id = ?, contract_code = ?, status = ?, updated_at = ? WHERE id = ?`,
			c.PartnerName, c.PartnerTaxID, c.ContractCode, string(c.Status), now, existing.CaseID,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: update case %s", existing.CaseID)
		}
		existing.PartnerName = c.PartnerName
		existing.PartnerTaxID = c.PartnerTaxID
		existing.ContractCode = c.ContractCode
		existing.Status = c.Status
		existing.UpdatedAt = now
		return existing, nil
	}

	c.CaseID = uuid.New().String()
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cases (id, case_key, partner_name, partner_tax_id, contract_code, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.CaseID, c.CaseKey, c.PartnerName, c.PartnerTaxID, c.ContractCode, string(c.Status), now, now,
	)
	if err != nil {
		if isSQLiteUniqueViolation(err, "cases.case_key") {
			// Concurrent first run for the same case_key: the winner's row
			// is authoritative.
			return s.GetCaseByKey(ctx, c.CaseKey)
		}
		return nil, eris.Wrap(err, "sqlite: insert case")
	}
	return &c, nil
}

func (s *SQLiteStore) GetCase(ctx context.Context, caseID string) (*model.ContractCase, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, case_key, partner_name, partner_tax_id, contract_code, status, created_at, updated_at
		 FROM cases WHERE id = ?`, caseID)
	return scanCase(row)
}

func (s *SQLiteStore) GetCaseByKey(ctx context.Context, caseKey string) (*model.ContractCase, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, case_key, partner_name, partner_tax_id, contract_code, status, created_at, updated_at
		 FROM cases WHERE case_key = ?`, caseKey)
	return scanCase(row)
}

func (s *SQLiteStore) ListCases(ctx context.Context, filter CaseFilter) ([]model.ContractCase, error) {
	query := `SELECT id, case_key, partner_name, partner_tax_id, contract_code, status, created_at, updated_at
	          FROM cases WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list cases")
	}
	defer rows.Close()

	var cases []model.ContractCase
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, *c)
	}
	return cases, eris.Wrap(rows.Err(), "sqlite: list cases iterate")
}

// --- Sources ---

func (s *SQLiteStore) CreateSource(ctx context.Context, src model.SourceFile) (*model.SourceFile, bool, error) {
	src.SourceID = uuid.New().String()
	src.CreatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sources (id, case_id, source_type, file_name, file_hash, size_bytes, content_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		src.SourceID, nullString(src.CaseID), string(src.SourceType), src.FileName, src.FileHash, src.SizeBytes, src.ContentType, src.CreatedAt,
	)
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: insert source")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		// Same content already ingested: return the existing row.
		existing, err := s.getSourceByHash(ctx, src.FileHash, src.SourceType)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return &src, true, nil
}

func (s *SQLiteStore) getSourceByHash(ctx context.Context, fileHash string, st model.SourceType) (*model.SourceFile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, case_id, source_type, file_name, file_hash, size_bytes, content_type, created_at
		 FROM sources WHERE file_hash = ? AND source_type = ?`, fileHash, string(st))
	return scanSource(row)
}

func (s *SQLiteStore) ListSources(ctx context.Context, caseID string) ([]model.SourceFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, case_id, source_type, file_name, file_hash, size_bytes, content_type, created_at
		 FROM sources WHERE case_id = ? ORDER BY created_at DESC`, caseID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sources")
	}
	defer rows.Close()

	var sources []model.SourceFile
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *src)
	}
	return sources, eris.Wrap(rows.Err(), "sqlite: list sources iterate")
}

// --- Obligations ---

const obligationSelect = `SELECT id, case_id, type, currency, amount_value, amount_percent, due_date, within_days, condition_text, confidence, risk_level, signature, conflicts, created_at FROM obligations`

func (s *SQLiteStore) CreateObligation(ctx context.Context, o model.Obligation) (*model.Obligation, bool, error) {
	o.ObligationID = uuid.New().String()
	o.CreatedAt = time.Now().UTC()

	conflictsJSON, err := marshalNullable(o.Conflicts)
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: marshal conflicts")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO obligations
		 (id, case_id, type, currency, amount_value, amount_percent, due_date, within_days, condition_text, confidence, risk_level, signature, conflicts, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ObligationID, o.CaseID, string(o.Type), o.Currency,
		nullFloat(o.AmountValue), nullFloat(o.AmountPercent), nullTime(o.DueDate), nullInt(o.WithinDays),
		o.ConditionText, o.Confidence, string(o.RiskLevel), o.Signature, conflictsJSON, o.CreatedAt,
	)
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: insert obligation")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		existing, err := s.getObligationBySignature(ctx, o.Signature)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return &o, true, nil
}

func (s *SQLiteStore) getObligationBySignature(ctx context.Context, signature string) (*model.Obligation, error) {
	row := s.db.QueryRowContext(ctx, obligationSelect+` WHERE signature = ?`, signature)
	return scanObligation(row)
}

// AddEvidence links a source snippet to an obligation. The same snippet
// re-extracted on a later run is a no-op, so reruns may submit evidence
// unconditionally.
func (s *SQLiteStore) AddEvidence(ctx context.Context, ev model.ObligationEvidence) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO obligation_evidence (id, obligation_id, source_id, snippet, snippet_offset, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), ev.ObligationID, ev.SourceID, ev.Snippet, ev.Offset, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert evidence for obligation %s", ev.ObligationID)
}

func (s *SQLiteStore) ListObligations(ctx context.Context, caseID string) ([]model.Obligation, error) {
	rows, err := s.db.QueryContext(ctx, obligationSelect+` WHERE case_id = ? ORDER BY created_at DESC, signature`, caseID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list obligations")
	}
	defer rows.Close()

	var obligations []model.Obligation
	for rows.Next() {
		o, err := scanObligation(rows)
		if err != nil {
			return nil, err
		}
		obligations = append(obligations, *o)
	}
	return obligations, eris.Wrap(rows.Err(), "sqlite: list obligations iterate")
}

func (s *SQLiteStore) ListEvidence(ctx context.Context, obligationID string) ([]model.ObligationEvidence, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, obligation_id, source_id, snippet, snippet_offset, created_at
		 FROM obligation_evidence WHERE obligation_id = ? ORDER BY created_at DESC`, obligationID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list evidence")
	}
	defer rows.Close()

	var evidence []model.ObligationEvidence
	for rows.Next() {
		var ev model.ObligationEvidence
		if err := rows.Scan(&ev.EvidenceID, &ev.ObligationID, &ev.SourceID, &ev.Snippet, &ev.Offset, &ev.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan evidence")
		}
		evidence = append(evidence, ev)
	}
	return evidence, eris.Wrap(rows.Err(), "sqlite: list evidence iterate")
}

// --- Proposals ---

const proposalSelect = `SELECT id, case_id, obligation_id, proposal_type, title, summary, details, risk_level, confidence, status, created_by, tier, proposal_key, created_at, updated_at FROM proposals`

func (s *SQLiteStore) CreateProposal(ctx context.Context, p model.Proposal) (*model.Proposal, bool, error) {
	now := time.Now().UTC()
	p.ProposalID = uuid.New().String()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = model.ProposalStatusDraft
	}

	detailsJSON, err := marshalNullable(p.Details)
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: marshal details")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO proposals
		 (id, case_id, obligation_id, proposal_type, title, summary, details, risk_level, confidence, status, created_by, tier, proposal_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ProposalID, p.CaseID, nullString(p.ObligationID), string(p.ProposalType), p.Title, p.Summary, detailsJSON,
		string(p.RiskLevel), p.Confidence, string(p.Status), p.CreatedBy, p.Tier, p.ProposalKey, now, now,
	)
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: insert proposal")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		existing, err := s.getProposalByKey(ctx, p.ProposalKey)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return &p, true, nil
}

func (s *SQLiteStore) GetProposal(ctx context.Context, proposalID string) (*model.Proposal, error) {
	row := s.db.QueryRowContext(ctx, proposalSelect+` WHERE id = ?`, proposalID)
	return scanProposal(row)
}

func (s *SQLiteStore) getProposalByKey(ctx context.Context, proposalKey string) (*model.Proposal, error) {
	row := s.db.QueryRowContext(ctx, proposalSelect+` WHERE proposal_key = ?`, proposalKey)
	return scanProposal(row)
}

func (s *SQLiteStore) ListProposals(ctx context.Context, caseID string) ([]model.Proposal, error) {
	rows, err := s.db.QueryContext(ctx, proposalSelect+` WHERE case_id = ? ORDER BY created_at DESC, proposal_key`, caseID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list proposals")
	}
	defer rows.Close()

	var proposals []model.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, *p)
	}
	return proposals, eris.Wrap(rows.Err(), "sqlite: list proposals iterate")
}

// --- Approvals ---

const approvalSelect = `SELECT id, proposal_id, decision, approver_id, evidence_ack, idempotency_key, note, decided_at FROM approvals`

const qualifyingCountSQL = `SELECT COUNT(DISTINCT approver_id) FROM approvals WHERE proposal_id = ? AND decision = 'approve' AND evidence_ack = 1`

func (s *SQLiteStore) RecordApproval(ctx context.Context, a model.Approval) (*ApprovalOutcome, error) {
	outcome, err := s.recordApprovalTx(ctx, a)
	if err == nil {
		return outcome, nil
	}

	// Unique-constraint race: a concurrent identical request won. Re-read
	// the committed row once and return it instead of surfacing the conflict.
	if isSQLiteUniqueViolation(err, "approvals.idempotency_key") {
		return s.replayOutcome(ctx, a.ProposalID, a.IdempotencyKey)
	}
	if isSQLiteUniqueViolation(err, "approvals.proposal_id") {
		return nil, eris.Wrap(ErrDuplicateDecision, "sqlite: record approval")
	}
	return nil, err
}

func (s *SQLiteStore) recordApprovalTx(ctx context.Context, a model.Approval) (*ApprovalOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	p, err := scanProposal(tx.QueryRowContext(ctx, proposalSelect+` WHERE id = ?`, a.ProposalID))
	if err != nil {
		return nil, err
	}
	required := model.ApprovalsRequired(p.RiskLevel)

	// Idempotent replay: same key already recorded for this proposal.
	prior, err := scanApprovalRow(tx.QueryRowContext(ctx,
		approvalSelect+` WHERE idempotency_key = ?`, a.IdempotencyKey))
	if err != nil && !eris.Is(err, ErrNotFound) {
		return nil, err
	}
	if prior != nil {
		if prior.ProposalID != a.ProposalID || prior.ApproverID != a.ApproverID {
			return nil, eris.Wrap(ErrDuplicateDecision, "sqlite: idempotency key reused across requests")
		}
		approved, err := countQualifyingTx(ctx, tx, a.ProposalID)
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

	// Terminal proposals accept no further decisions.
	if p.Status.Terminal() {
		return nil, eris.Wrapf(ErrProposalFinalized, "sqlite: proposal %s is %s", p.ProposalID, p.Status)
	}

	// One decision per approver per proposal, first decision wins.
	var existing int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM approvals WHERE proposal_id = ? AND approver_id = ?`,
		a.ProposalID, a.ApproverID).Scan(&existing); err != nil {
		return nil, eris.Wrap(err, "sqlite: count approver decisions")
	}
	if existing > 0 {
		return nil, eris.Wrapf(ErrDuplicateDecision, "sqlite: approver %s on proposal %s", a.ApproverID, a.ProposalID)
	}

	a.ApprovalID = uuid.New().String()
	a.DecidedAt = time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO approvals (id, proposal_id, decision, approver_id, evidence_ack, idempotency_key, note, decided_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ApprovalID, a.ProposalID, string(a.Decision), a.ApproverID, boolInt(a.EvidenceAck), a.IdempotencyKey, a.Note, a.DecidedAt,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: insert approval")
	}

	approved, err := countQualifyingTx(ctx, tx, a.ProposalID)
	if err != nil {
		return nil, err
	}

	newStatus := nextStatus(a.Decision, approved, required)
	if newStatus != p.Status {
		if _, err := tx.ExecContext(ctx,
			`UPDATE proposals SET status = ?, updated_at = ? WHERE id = ?`,
			string(newStatus), time.Now().UTC(), a.ProposalID,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: update proposal status")
		}
	}

	// Audit the transition in the same transaction.
	if err := appendAuditTx(ctx, tx, approvalAuditEntry(a, p.Status, newStatus)); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit approval")
	}

	return &ApprovalOutcome{
		Approval:          a,
		ProposalStatus:    newStatus,
		ApprovalsRequired: required,
		ApprovalsApproved: approved,
	}, nil
}

// replayOutcome re-reads a committed approval after losing a unique race.
func (s *SQLiteStore) replayOutcome(ctx context.Context, proposalID, idempotencyKey string) (*ApprovalOutcome, error) {
	prior, err := scanApprovalRow(s.db.QueryRowContext(ctx,
		approvalSelect+` WHERE idempotency_key = ?`, idempotencyKey))
	if err != nil {
		return nil, err
	}
	if prior.ProposalID != proposalID {
		return nil, eris.Wrap(ErrDuplicateDecision, "sqlite: idempotency key reused across proposals")
	}
	p, err := s.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	approved, err := s.countQualifying(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	return &ApprovalOutcome{
		Approval:          *prior,
		ProposalStatus:    p.Status,
		ApprovalsRequired: model.ApprovalsRequired(p.RiskLevel),
		ApprovalsApproved: approved,
		Replayed:          true,
	}, nil
}

func countQualifyingTx(ctx context.Context, tx *sql.Tx, proposalID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, qualifyingCountSQL, proposalID).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count qualifying approvals")
}

func (s *SQLiteStore) countQualifying(ctx context.Context, proposalID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, qualifyingCountSQL, proposalID).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count qualifying approvals")
}

func (s *SQLiteStore) ListApprovals(ctx context.Context, proposalID string) ([]model.Approval, error) {
	rows, err := s.db.QueryContext(ctx,
		approvalSelect+` WHERE proposal_id = ? ORDER BY decided_at DESC`, proposalID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list approvals")
	}
	defer rows.Close()

	var approvals []model.Approval
	for rows.Next() {
		a, err := scanApprovalRow(rows)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, *a)
	}
	return approvals, eris.Wrap(rows.Err(), "sqlite: list approvals iterate")
}

// --- Audit ---

func (s *SQLiteStore) AppendAudit(ctx context.Context, entry model.AuditEntry) error {
	before, err := marshalNullable(entry.Before)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal audit before")
	}
	after, err := marshalNullable(entry.After)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal audit after")
	}
	at := entry.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, actor, action, object_type, object_id, before, after, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), entry.Actor, entry.Action, entry.ObjectType, entry.ObjectID, before, after, at,
	)
	return eris.Wrap(err, "sqlite: insert audit entry")
}

func appendAuditTx(ctx context.Context, tx *sql.Tx, entry model.AuditEntry) error {
	before, err := marshalNullable(entry.Before)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal audit before")
	}
	after, err := marshalNullable(entry.After)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal audit after")
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO audit_log (id, actor, action, object_type, object_id, before, after, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), entry.Actor, entry.Action, entry.ObjectType, entry.ObjectID, before, after, entry.At,
	)
	return eris.Wrap(err, "sqlite: insert audit entry")
}

// approvalAuditEntry builds the before/after snapshot for a decision.
func approvalAuditEntry(a model.Approval, before, after model.ProposalStatus) model.AuditEntry {
	return model.AuditEntry{
		Actor:      a.ApproverID,
		Action:     "proposal." + string(a.Decision),
		ObjectType: "proposal",
		ObjectID:   a.ProposalID,
		Before:     map[string]any{"status": string(before)},
		After:      map[string]any{"status": string(after), "approval_id": a.ApprovalID},
		At:         a.DecidedAt,
	}
}

// --- helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanCase(row scannable) (*model.ContractCase, error) {
	var c model.ContractCase
	var status string
	err := row.Scan(&c.CaseID, &c.CaseKey, &c.PartnerName, &c.PartnerTaxID, &c.ContractCode, &status, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "sqlite: case")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan case")
	}
	c.Status = model.CaseStatus(status)
	return &c, nil
}

func scanSource(row scannable) (*model.SourceFile, error) {
	var src model.SourceFile
	var caseID sql.NullString
	var st string
	err := row.Scan(&src.SourceID, &caseID, &st, &src.FileName, &src.FileHash, &src.SizeBytes, &src.ContentType, &src.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "sqlite: source")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan source")
	}
	src.CaseID = caseID.String
	src.SourceType = model.SourceType(st)
	return &src, nil
}

func scanObligation(row scannable) (*model.Obligation, error) {
	var o model.Obligation
	var typ, risk string
	var amountValue, amountPercent sql.NullFloat64
	var dueDate sql.NullTime
	var withinDays sql.NullInt64
	var conflicts sql.NullString

	err := row.Scan(&o.ObligationID, &o.CaseID, &typ, &o.Currency, &amountValue, &amountPercent,
		&dueDate, &withinDays, &o.ConditionText, &o.Confidence, &risk, &o.Signature, &conflicts, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "sqlite: obligation")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan obligation")
	}

	o.Type = model.ObligationType(typ)
	o.RiskLevel = model.RiskLevel(risk)
	if amountValue.Valid {
		o.AmountValue = &amountValue.Float64
	}
	if amountPercent.Valid {
		o.AmountPercent = &amountPercent.Float64
	}
	if dueDate.Valid {
		d := dueDate.Time
		o.DueDate = &d
	}
	if withinDays.Valid {
		d := int(withinDays.Int64)
		o.WithinDays = &d
	}
	if conflicts.Valid && conflicts.String != "" {
		if err := json.Unmarshal([]byte(conflicts.String), &o.Conflicts); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal conflicts")
		}
	}
	return &o, nil
}

func scanProposal(row scannable) (*model.Proposal, error) {
	var p model.Proposal
	var obligationID sql.NullString
	var typ, risk, status string
	var details sql.NullString

	err := row.Scan(&p.ProposalID, &p.CaseID, &obligationID, &typ, &p.Title, &p.Summary, &details,
		&risk, &p.Confidence, &status, &p.CreatedBy, &p.Tier, &p.ProposalKey, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "sqlite: proposal")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan proposal")
	}

	p.ObligationID = obligationID.String
	p.ProposalType = model.ProposalType(typ)
	p.RiskLevel = model.RiskLevel(risk)
	p.Status = model.ProposalStatus(status)
	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &p.Details); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal details")
		}
	}
	return &p, nil
}

func scanApprovalRow(row scannable) (*model.Approval, error) {
	var a model.Approval
	var decision string
	var ack int
	err := row.Scan(&a.ApprovalID, &a.ProposalID, &decision, &a.ApproverID, &ack, &a.IdempotencyKey, &a.Note, &a.DecidedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "sqlite: approval")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan approval")
	}
	a.Decision = model.Decision(decision)
	a.EvidenceAck = ack != 0
	return &a, nil
}

func marshalNullable(v any) (sql.NullString, error) {
	switch val := v.(type) {
	case model.ConflictMap:
		if len(val) == 0 {
			return sql.NullString{}, nil
		}
	case map[string]any:
		if len(val) == 0 {
			return sql.NullString{}, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isSQLiteUniqueViolation reports whether err is a UNIQUE constraint failure
// involving the given column prefix (e.g. "approvals.idempotency_key").
func isSQLiteUniqueViolation(err error, column string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, column)
}
