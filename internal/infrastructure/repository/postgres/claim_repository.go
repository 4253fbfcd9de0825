package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/clearbill/claims-intake/internal/core/domain"
)

// ClaimRepository is the single writer of claim rows. All AI-status and
// attempt mutations go through guarded single-statement updates so the
// attempt counter cannot exceed the ceiling even under concurrent callers.
type ClaimRepository struct {
	db *sql.DB
}

func NewClaimRepository(db *sql.DB) *ClaimRepository {
	return &ClaimRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *ClaimRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026052101)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS claims (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	file_key TEXT NOT NULL,
	status TEXT NOT NULL,
	patient_name TEXT NOT NULL DEFAULT '',
	provider_name TEXT NOT NULL DEFAULT '',
	date_of_service TIMESTAMPTZ,
	amount DOUBLE PRECISION NOT NULL DEFAULT 0,
	claim_type TEXT NOT NULL DEFAULT 'medical',
	diagnosis_codes JSONB NOT NULL DEFAULT '[]'::jsonb,
	procedure_codes JSONB NOT NULL DEFAULT '[]'::jsonb,
	extracted_raw JSONB,
	ai_status TEXT NOT NULL,
	ai_attempts INTEGER NOT NULL DEFAULT 0,
	ai_last_attempt TIMESTAMPTZ,
	ai_error TEXT,
	processed_by TEXT,
	notes TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_claims_user_id ON claims(user_id);
CREATE INDEX IF NOT EXISTS idx_claims_ai_status ON claims(ai_status);
CREATE INDEX IF NOT EXISTS idx_claims_created_at ON claims(created_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

const claimColumns = `id, user_id, file_key, status, patient_name, provider_name, date_of_service, amount, claim_type, diagnosis_codes, procedure_codes, extracted_raw, ai_status, ai_attempts, ai_last_attempt, ai_error, processed_by, notes, created_at, updated_at`

func (r *ClaimRepository) Create(ctx context.Context, claim *domain.Claim) error {
	diagJSON, err := json.Marshal(claim.DiagnosisCodes)
	if err != nil {
		return fmt.Errorf("marshal diagnosis codes: %w", err)
	}
	procJSON, err := json.Marshal(claim.ProcedureCodes)
	if err != nil {
		return fmt.Errorf("marshal procedure codes: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO claims (
	id, user_id, file_key, status, patient_name, provider_name, date_of_service, amount, claim_type,
	diagnosis_codes, procedure_codes, extracted_raw, ai_status, ai_attempts, ai_last_attempt, ai_error,
	processed_by, notes, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
`,
		claim.ID, claim.UserID, claim.FileKey, string(claim.Status),
		claim.PatientName, claim.ProviderName, nullTime(claim.DateOfService), claim.Amount, string(claim.ClaimType),
		diagJSON, procJSON, nullRaw(claim.ExtractedRaw),
		string(claim.AIProcessing.Status), claim.AIProcessing.Attempts, claim.AIProcessing.LastAttempt,
		nullString(claim.AIProcessing.Error), nullString(claim.ProcessedBy), claim.Notes,
		claim.CreatedAt, claim.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert claim: %w", err)
	}
	return nil
}

func (r *ClaimRepository) GetByID(ctx context.Context, id string) (*domain.Claim, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+claimColumns+` FROM claims WHERE id = $1`, id)
	return scanClaim(row)
}

func (r *ClaimRepository) GetForUser(ctx context.Context, id, userID string) (*domain.Claim, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+claimColumns+` FROM claims WHERE id = $1 AND user_id = $2`, id, userID)
	return scanClaim(row)
}

func (r *ClaimRepository) ListForUser(ctx context.Context, userID string) ([]domain.Claim, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+claimColumns+` FROM claims WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query claims: %w", err)
	}
	defer rows.Close()
	return collectClaims(rows)
}

func (r *ClaimRepository) ListAll(ctx context.Context) ([]domain.Claim, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+claimColumns+` FROM claims ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query claims: %w", err)
	}
	defer rows.Close()
	return collectClaims(rows)
}

// BeginAttempt is the processing-state gate: one statement transitions the
// claim and bumps the counter only while no attempt is in flight and the
// ceiling has not been reached, which makes it safe under racing callers.
// Zero affected rows is disambiguated by a follow-up read.
func (r *ClaimRepository) BeginAttempt(ctx context.Context, id string, maxAttempts int) (*domain.Claim, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
UPDATE claims
SET ai_status = $2, ai_attempts = ai_attempts + 1, ai_last_attempt = $3, updated_at = $3
WHERE id = $1 AND ai_status <> $2 AND ai_attempts < $4
`, id, string(domain.AIProcessing), now, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("begin attempt: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("begin attempt rows: %w", err)
	}
	if affected == 0 {
		claim, getErr := r.GetByID(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if claim.AIProcessing.Status == domain.AIProcessing {
			return nil, domain.WrapError(domain.ErrAlreadyProcessing, "begin attempt",
				errors.New("another attempt is in flight"))
		}
		return nil, domain.WrapError(domain.ErrMaxRetriesExceeded, "begin attempt",
			fmt.Errorf("attempts=%d max=%d", claim.AIProcessing.Attempts, maxAttempts))
	}

	return r.GetByID(ctx, id)
}

func (r *ClaimRepository) CompleteExtraction(ctx context.Context, id string, fields domain.ExtractedFields, raw json.RawMessage) error {
	diagJSON, err := json.Marshal(fields.DiagnosisCodes)
	if err != nil {
		return fmt.Errorf("marshal diagnosis codes: %w", err)
	}
	procJSON, err := json.Marshal(fields.ProcedureCodes)
	if err != nil {
		return fmt.Errorf("marshal procedure codes: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
UPDATE claims
SET patient_name = $2, provider_name = $3, date_of_service = $4, amount = $5, claim_type = $6,
    diagnosis_codes = $7, procedure_codes = $8, extracted_raw = $9,
    status = $10, ai_status = $11, ai_error = NULL, updated_at = $12
WHERE id = $1
`,
		id, fields.PatientName, fields.ProviderName, nullTime(fields.DateOfService), fields.Amount,
		string(fields.ClaimType), diagJSON, procJSON, nullRaw(raw),
		string(domain.StatusPending), string(domain.AICompleted), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("complete extraction: %w", err)
	}
	return requireRow(res, id)
}

func (r *ClaimRepository) FailExtraction(ctx context.Context, id string, message string, raw json.RawMessage) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE claims
SET ai_status = $2, ai_error = $3, extracted_raw = COALESCE($4, extracted_raw), updated_at = $5
WHERE id = $1
`, id, string(domain.AIFailed), message, nullRaw(raw), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("fail extraction: %w", err)
	}
	return requireRow(res, id)
}

func (r *ClaimRepository) UpdateReview(ctx context.Context, id, reviewerID string, status domain.ClaimStatus, notes string) (*domain.Claim, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE claims
SET status = $2, processed_by = $3, notes = CASE WHEN $4 = '' THEN notes ELSE $4 END, updated_at = $5
WHERE id = $1
`, id, string(status), reviewerID, notes, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("update review: %w", err)
	}
	if err := requireRow(res, id); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *ClaimRepository) UpdateNotes(ctx context.Context, id, userID, notes string) (*domain.Claim, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE claims
SET notes = $3, updated_at = $4
WHERE id = $1 AND user_id = $2
`, id, userID, notes, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("update notes: %w", err)
	}
	if err := requireRow(res, id); err != nil {
		return nil, err
	}
	return r.GetForUser(ctx, id, userID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClaim(row rowScanner) (*domain.Claim, error) {
	var (
		claim         domain.Claim
		status        string
		claimType     string
		aiStatus      string
		dateOfService sql.NullTime
		lastAttempt   sql.NullTime
		aiError       sql.NullString
		processedBy   sql.NullString
		diagRaw       []byte
		procRaw       []byte
		extractedRaw  []byte
	)

	err := row.Scan(
		&claim.ID, &claim.UserID, &claim.FileKey, &status,
		&claim.PatientName, &claim.ProviderName, &dateOfService, &claim.Amount, &claimType,
		&diagRaw, &procRaw, &extractedRaw,
		&aiStatus, &claim.AIProcessing.Attempts, &lastAttempt, &aiError,
		&processedBy, &claim.Notes, &claim.CreatedAt, &claim.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrClaimNotFound, "load claim", err)
		}
		return nil, fmt.Errorf("scan claim: %w", err)
	}

	claim.Status = domain.ClaimStatus(status)
	claim.ClaimType = domain.ClaimType(claimType)
	claim.AIProcessing.Status = domain.AIStatus(aiStatus)
	if dateOfService.Valid {
		claim.DateOfService = dateOfService.Time.UTC()
	}
	if lastAttempt.Valid {
		t := lastAttempt.Time.UTC()
		claim.AIProcessing.LastAttempt = &t
	}
	claim.AIProcessing.Error = aiError.String
	claim.ProcessedBy = processedBy.String

	if err := json.Unmarshal(diagRaw, &claim.DiagnosisCodes); err != nil {
		return nil, fmt.Errorf("unmarshal diagnosis codes: %w", err)
	}
	if err := json.Unmarshal(procRaw, &claim.ProcedureCodes); err != nil {
		return nil, fmt.Errorf("unmarshal procedure codes: %w", err)
	}
	if len(extractedRaw) > 0 {
		claim.ExtractedRaw = json.RawMessage(extractedRaw)
	}

	return &claim, nil
}

func collectClaims(rows *sql.Rows) ([]domain.Claim, error) {
	claims := make([]domain.Claim, 0, 16)
	for rows.Next() {
		claim, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		claims = append(claims, *claim)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claims: %w", err)
	}
	return claims, nil
}

func requireRow(res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrClaimNotFound, "update claim", fmt.Errorf("no claim with id %s", id))
	}
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
