package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/claims/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// pgBase resolves the connection a repository call runs on: the request
// transaction, then the request connection, then the pool.
type pgBase struct{ pool *pgxpool.Pool }

func (r pgBase) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func notFound(err, sentinel error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return err
}

// where accumulates AND-ed conditions with positional arguments.
type where struct {
	conds []string
	args  []interface{}
}

func (w *where) add(cond string, arg interface{}) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// =========== Code Mapping Repository ===========

type codeMappingRepoPG struct{ pgBase }

func NewCodeMappingRepoPG(pool *pgxpool.Pool) CodeMappingRepository {
	return &codeMappingRepoPG{pgBase{pool}}
}

const mappingCols = `id, encounter_type, ai_diagnosis, manual_diagnosis, cpt_code, cpt_description,
	icd10_code, icd10_description, default_billed_amount, typical_allowed_amount, modifiers,
	place_of_service, units, active, priority, status, notes, created_by, approved_by,
	approval_date, created_at, updated_at`

func (r *codeMappingRepoPG) scanMapping(row pgx.Row) (*CodeMapping, error) {
	var m CodeMapping
	err := row.Scan(&m.ID, &m.EncounterType, &m.AIDiagnosis, &m.ManualDiagnosis, &m.CPTCode, &m.CPTDescription,
		&m.ICD10Code, &m.ICD10Description, &m.DefaultBilledAmount, &m.TypicalAllowedAmount, &m.Modifiers,
		&m.PlaceOfService, &m.Units, &m.Active, &m.Priority, &m.Status, &m.Notes, &m.CreatedBy, &m.ApprovedBy,
		&m.ApprovalDate, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, notFound(err, ErrCodeMappingNotFound)
	}
	return &m, nil
}

func (r *codeMappingRepoPG) collect(rows pgx.Rows, err error) ([]*CodeMapping, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*CodeMapping
	for rows.Next() {
		m, err := r.scanMapping(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (r *codeMappingRepoPG) Create(ctx context.Context, m *CodeMapping) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Modifiers == nil {
		m.Modifiers = []string{}
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO code_mappings (id, encounter_type, ai_diagnosis, manual_diagnosis, cpt_code, cpt_description,
			icd10_code, icd10_description, default_billed_amount, typical_allowed_amount, modifiers,
			place_of_service, units, active, priority, status, notes, created_by, approved_by, approval_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		RETURNING created_at, updated_at`,
		m.ID, m.EncounterType, m.AIDiagnosis, m.ManualDiagnosis, m.CPTCode, m.CPTDescription,
		m.ICD10Code, m.ICD10Description, m.DefaultBilledAmount, m.TypicalAllowedAmount, m.Modifiers,
		m.PlaceOfService, m.Units, m.Active, m.Priority, m.Status, m.Notes, m.CreatedBy, m.ApprovedBy, m.ApprovalDate,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
}

func (r *codeMappingRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*CodeMapping, error) {
	return r.scanMapping(r.conn(ctx).QueryRow(ctx, `SELECT `+mappingCols+` FROM code_mappings WHERE id = $1`, id))
}

func (r *codeMappingRepoPG) Update(ctx context.Context, m *CodeMapping) error {
	if m.Modifiers == nil {
		m.Modifiers = []string{}
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE code_mappings SET encounter_type=$2, ai_diagnosis=$3, manual_diagnosis=$4, cpt_code=$5,
			cpt_description=$6, icd10_code=$7, icd10_description=$8, default_billed_amount=$9,
			typical_allowed_amount=$10, modifiers=$11, place_of_service=$12, units=$13, active=$14,
			priority=$15, status=$16, notes=$17, approved_by=$18, approval_date=$19, updated_at=NOW()
		WHERE id = $1`,
		m.ID, m.EncounterType, m.AIDiagnosis, m.ManualDiagnosis, m.CPTCode,
		m.CPTDescription, m.ICD10Code, m.ICD10Description, m.DefaultBilledAmount,
		m.TypicalAllowedAmount, m.Modifiers, m.PlaceOfService, m.Units, m.Active,
		m.Priority, m.Status, m.Notes, m.ApprovedBy, m.ApprovalDate)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCodeMappingNotFound
	}
	return nil
}

func (r *codeMappingRepoPG) ListActive(ctx context.Context) ([]*CodeMapping, error) {
	return r.collect(r.conn(ctx).Query(ctx,
		`SELECT `+mappingCols+` FROM code_mappings WHERE active ORDER BY priority DESC, created_at, id`))
}

func (r *codeMappingRepoPG) List(ctx context.Context, f CodeMappingFilter, limit, offset int) ([]*CodeMapping, int, error) {
	var w where
	if f.EncounterType != "" {
		w.add("encounter_type = $%d", f.EncounterType)
	}
	if f.CPTCode != "" {
		w.add("cpt_code = $%d", f.CPTCode)
	}
	if f.ICD10Code != "" {
		w.add("icd10_code = $%d", f.ICD10Code)
	}
	if f.ActiveOnly {
		w.add("active = $%d", true)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM code_mappings`+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args := append(w.args, limit, offset)
	items, err := r.collect(r.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT %s FROM code_mappings%s ORDER BY priority DESC, created_at, id LIMIT $%d OFFSET $%d`,
			mappingCols, w.String(), len(args)-1, len(args)),
		args...))
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *codeMappingRepoPG) Statistics(ctx context.Context) (*CodeMappingStatistics, error) {
	var s CodeMappingStatistics
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE active),
			COUNT(*) FILTER (WHERE status = 'APPROVED'),
			COUNT(*) FILTER (WHERE status = 'PENDING_APPROVAL')
		FROM code_mappings`).Scan(&s.Total, &s.Active, &s.Approved, &s.PendingApproval)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// =========== Claim Repository ===========

type claimRepoPG struct{ pgBase }

func NewClaimRepoPG(pool *pgxpool.Pool) ClaimRepository { return &claimRepoPG{pgBase{pool}} }

const claimCols = `id, encounter_id, patient_id, provider_id, insurance_info_id, code_mapping_id,
	claim_number, control_number, claim_date, service_date, cpt_code, icd10_code, diagnosis_pointer,
	billed_amount, allowed_amount, paid_amount, patient_responsibility, copay_amount,
	deductible_amount, coinsurance_amount, place_of_service, modifiers, units,
	rendering_provider_npi, billing_provider_npi, edi_content, edi_file_path, submission_date,
	clearinghouse_response, payer_response, response_date, rejection_reason, notes,
	status, submission_status, created_at, updated_at`

func (r *claimRepoPG) scanClaim(row pgx.Row) (*InsuranceClaim, error) {
	var c InsuranceClaim
	err := row.Scan(&c.ID, &c.EncounterID, &c.PatientID, &c.ProviderID, &c.InsuranceInfoID, &c.CodeMappingID,
		&c.ClaimNumber, &c.ControlNumber, &c.ClaimDate, &c.ServiceDate, &c.CPTCode, &c.ICD10Code, &c.DiagnosisPointer,
		&c.BilledAmount, &c.AllowedAmount, &c.PaidAmount, &c.PatientResponsibility, &c.CopayAmount,
		&c.DeductibleAmount, &c.CoinsuranceAmount, &c.PlaceOfService, &c.Modifiers, &c.Units,
		&c.RenderingProviderNPI, &c.BillingProviderNPI, &c.EDIContent, &c.EDIFilePath, &c.SubmissionDate,
		&c.ClearinghouseResponse, &c.PayerResponse, &c.ResponseDate, &c.RejectionReason, &c.Notes,
		&c.Status, &c.SubmissionStatus, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err, ErrClaimNotFound)
	}
	return &c, nil
}

func (r *claimRepoPG) Create(ctx context.Context, c *InsuranceClaim) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Modifiers == nil {
		c.Modifiers = []string{}
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO insurance_claims (id, encounter_id, patient_id, provider_id, insurance_info_id, code_mapping_id,
			claim_number, control_number, claim_date, service_date, cpt_code, icd10_code, diagnosis_pointer,
			billed_amount, allowed_amount, paid_amount, patient_responsibility, copay_amount,
			deductible_amount, coinsurance_amount, place_of_service, modifiers, units,
			rendering_provider_npi, billing_provider_npi, edi_content, edi_file_path, submission_date,
			notes, status, submission_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31)
		RETURNING created_at, updated_at`,
		c.ID, c.EncounterID, c.PatientID, c.ProviderID, c.InsuranceInfoID, c.CodeMappingID,
		c.ClaimNumber, c.ControlNumber, c.ClaimDate, c.ServiceDate, c.CPTCode, c.ICD10Code, c.DiagnosisPointer,
		c.BilledAmount, c.AllowedAmount, c.PaidAmount, c.PatientResponsibility, c.CopayAmount,
		c.DeductibleAmount, c.CoinsuranceAmount, c.PlaceOfService, c.Modifiers, c.Units,
		c.RenderingProviderNPI, c.BillingProviderNPI, c.EDIContent, c.EDIFilePath, c.SubmissionDate,
		c.Notes, c.Status, c.SubmissionStatus,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (r *claimRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*InsuranceClaim, error) {
	return r.scanClaim(r.conn(ctx).QueryRow(ctx, `SELECT `+claimCols+` FROM insurance_claims WHERE id = $1`, id))
}

func (r *claimRepoPG) GetByClaimNumber(ctx context.Context, claimNumber string) (*InsuranceClaim, error) {
	return r.scanClaim(r.conn(ctx).QueryRow(ctx, `SELECT `+claimCols+` FROM insurance_claims WHERE claim_number = $1`, claimNumber))
}

// Update writes the mutable columns: amounts, artifact, responses and both
// statuses. Identity, codes and dates are fixed at creation.
func (r *claimRepoPG) Update(ctx context.Context, c *InsuranceClaim) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE insurance_claims SET allowed_amount=$2, paid_amount=$3, patient_responsibility=$4,
			copay_amount=$5, deductible_amount=$6, coinsurance_amount=$7, edi_file_path=$8,
			submission_date=$9, clearinghouse_response=$10, payer_response=$11, response_date=$12,
			rejection_reason=$13, notes=$14, status=$15, submission_status=$16, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		c.ID, c.AllowedAmount, c.PaidAmount, c.PatientResponsibility,
		c.CopayAmount, c.DeductibleAmount, c.CoinsuranceAmount, c.EDIFilePath,
		c.SubmissionDate, c.ClearinghouseResponse, c.PayerResponse, c.ResponseDate,
		c.RejectionReason, c.Notes, c.Status, c.SubmissionStatus,
	).Scan(&c.UpdatedAt)
	return notFound(err, ErrClaimNotFound)
}

func (r *claimRepoPG) List(ctx context.Context, f ClaimFilter, limit, offset int) ([]*InsuranceClaim, int, error) {
	var w where
	if f.Status != "" {
		w.add("status = $%d", f.Status)
	}
	if f.SubmissionStatus != "" {
		w.add("submission_status = $%d", f.SubmissionStatus)
	}
	if f.PatientID != nil {
		w.add("patient_id = $%d", *f.PatientID)
	}
	if f.EncounterID != nil {
		w.add("encounter_id = $%d", *f.EncounterID)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM insurance_claims`+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args := append(w.args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT %s FROM insurance_claims%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
			claimCols, w.String(), len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*InsuranceClaim
	for rows.Next() {
		c, err := r.scanClaim(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

func (r *claimRepoPG) Statistics(ctx context.Context) (*ClaimStatistics, error) {
	var s ClaimStatistics
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE submission_status = 'SUBMITTED_TO_CLEARINGHOUSE'),
			COUNT(*) FILTER (WHERE status = 'PAID'),
			COUNT(*) FILTER (WHERE status = 'REJECTED')
		FROM insurance_claims`).Scan(&s.Total, &s.SubmittedToClearinghouse, &s.Paid, &s.Rejected)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// =========== Encounter / Insurance / Provider Repositories ===========

type EncounterRepoPG struct{ pgBase }

func NewEncounterRepoPG(pool *pgxpool.Pool) *EncounterRepoPG { return &EncounterRepoPG{pgBase{pool}} }

func (r *EncounterRepoPG) Create(ctx context.Context, e *Encounter) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO encounters (id, patient_id, provider_id, encounter_type, ai_analysis, diagnosis,
			start_time, end_time, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at`,
		e.ID, e.PatientID, e.ProviderID, e.Type, e.AIAnalysis, e.Diagnosis, e.StartTime, e.EndTime, e.Status,
	).Scan(&e.CreatedAt)
}

func (r *EncounterRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	var e Encounter
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, patient_id, provider_id, encounter_type, ai_analysis, diagnosis,
			start_time, end_time, status, created_at
		FROM encounters WHERE id = $1`, id).
		Scan(&e.ID, &e.PatientID, &e.ProviderID, &e.Type, &e.AIAnalysis, &e.Diagnosis,
			&e.StartTime, &e.EndTime, &e.Status, &e.CreatedAt)
	if err != nil {
		return nil, notFound(err, ErrEncounterNotFound)
	}
	return &e, nil
}

type InsuranceRepoPG struct{ pgBase }

func NewInsuranceRepoPG(pool *pgxpool.Pool) *InsuranceRepoPG { return &InsuranceRepoPG{pgBase{pool}} }

func (r *InsuranceRepoPG) Create(ctx context.Context, i *InsuranceInfo) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	if i.Status == "" {
		i.Status = InsuranceActive
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO insurance_info (id, patient_id, provider_name, payer_id, member_id, group_number,
			subscriber_first_name, subscriber_last_name, subscriber_dob, subscriber_gender, relationship,
			policy_number, plan_type, is_primary, status, effective_date, expiration_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING created_at, updated_at`,
		i.ID, i.PatientID, i.ProviderName, i.PayerID, i.MemberID, i.GroupNumber,
		i.SubscriberFirstName, i.SubscriberLastName, i.SubscriberDOB, i.SubscriberGender, i.Relationship,
		i.PolicyNumber, i.PlanType, i.IsPrimary, i.Status, i.EffectiveDate, i.ExpirationDate,
	).Scan(&i.CreatedAt, &i.UpdatedAt)
}

// GetPrimaryByPatient returns the most recently created primary record when
// more than one is flagged.
func (r *InsuranceRepoPG) GetPrimaryByPatient(ctx context.Context, patientID uuid.UUID) (*InsuranceInfo, error) {
	var i InsuranceInfo
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, patient_id, provider_name, payer_id, member_id, group_number,
			subscriber_first_name, subscriber_last_name, subscriber_dob, subscriber_gender, relationship,
			policy_number, plan_type, is_primary, status, effective_date, expiration_date, created_at, updated_at
		FROM insurance_info
		WHERE patient_id = $1 AND is_primary
		ORDER BY created_at DESC LIMIT 1`, patientID).
		Scan(&i.ID, &i.PatientID, &i.ProviderName, &i.PayerID, &i.MemberID, &i.GroupNumber,
			&i.SubscriberFirstName, &i.SubscriberLastName, &i.SubscriberDOB, &i.SubscriberGender, &i.Relationship,
			&i.PolicyNumber, &i.PlanType, &i.IsPrimary, &i.Status, &i.EffectiveDate, &i.ExpirationDate,
			&i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return nil, notFound(err, ErrInsuranceNotFound)
	}
	return &i, nil
}

type ProviderRepoPG struct{ pgBase }

func NewProviderRepoPG(pool *pgxpool.Pool) *ProviderRepoPG { return &ProviderRepoPG{pgBase{pool}} }

func (r *ProviderRepoPG) Create(ctx context.Context, p *Provider) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO providers (id, name, license, specialty) VALUES ($1,$2,$3,$4)
		RETURNING created_at`, p.ID, p.Name, p.License, p.Specialty).Scan(&p.CreatedAt)
}

func (r *ProviderRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	var p Provider
	err := r.conn(ctx).QueryRow(ctx, `SELECT id, name, license, specialty, created_at FROM providers WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.License, &p.Specialty, &p.CreatedAt)
	if err != nil {
		return nil, notFound(err, ErrProviderNotFound)
	}
	return &p, nil
}
