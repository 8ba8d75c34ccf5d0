package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultEncounterType is the fallback code mapping tag and the type assumed
// for encounters that carry none.
const DefaultEncounterType = "CONSULTATION"

// FallbackBilledAmount is billed when the resolved mapping has no default.
var FallbackBilledAmount = decimal.RequireFromString("150.00")

// ResourceClaim and ResourceCodeMapping name audited resources.
const (
	ResourceClaim       = "INSURANCE_CLAIM"
	ResourceCodeMapping = "CODE_MAPPING"
)

// Audit event types.
const (
	EventClaimGenerated         = "CLAIM_GENERATED"
	EventClaimGenerationFailed  = "CLAIM_GENERATION_FAILED"
	EventClaimTransportFailed   = "CLAIM_TRANSPORT_FAILED"
	EventClaimStatusChanged     = "CLAIM_STATUS_CHANGED"
	EventClaimStatusOverridden  = "CLAIM_STATUS_OVERRIDDEN"
	EventSubmissionStatusChange = "CLAIM_SUBMISSION_STATUS_CHANGED"
	EventClaimResponseRecorded  = "CLAIM_RESPONSE_RECORDED"
	EventCodeMappingCreated     = "CODE_MAPPING_CREATED"
	EventCodeMappingUpdated     = "CODE_MAPPING_UPDATED"
	EventCodeMappingDeactivated = "CODE_MAPPING_DEACTIVATED"
)

type MappingStatus string

const (
	MappingDraft           MappingStatus = "DRAFT"
	MappingPendingApproval MappingStatus = "PENDING_APPROVAL"
	MappingApproved        MappingStatus = "APPROVED"
	MappingRejected        MappingStatus = "REJECTED"
	MappingInactive        MappingStatus = "INACTIVE"
)

func (s MappingStatus) Valid() bool {
	switch s {
	case MappingDraft, MappingPendingApproval, MappingApproved, MappingRejected, MappingInactive:
		return true
	}
	return false
}

type InsuranceStatus string

const (
	InsuranceActive              InsuranceStatus = "ACTIVE"
	InsuranceInactive            InsuranceStatus = "INACTIVE"
	InsuranceExpired             InsuranceStatus = "EXPIRED"
	InsurancePendingVerification InsuranceStatus = "PENDING_VERIFICATION"
)

// MaxModifiers is the number of CPT modifiers a mapping or claim may carry.
const MaxModifiers = 4

// CodeMapping maps to the code_mappings table.
type CodeMapping struct {
	ID                   uuid.UUID           `db:"id" json:"id"`
	EncounterType        string              `db:"encounter_type" json:"encounter_type"`
	AIDiagnosis          *string             `db:"ai_diagnosis" json:"ai_diagnosis,omitempty"`
	ManualDiagnosis      *string             `db:"manual_diagnosis" json:"manual_diagnosis,omitempty"`
	CPTCode              string              `db:"cpt_code" json:"cpt_code"`
	CPTDescription       *string             `db:"cpt_description" json:"cpt_description,omitempty"`
	ICD10Code            string              `db:"icd10_code" json:"icd10_code"`
	ICD10Description     *string             `db:"icd10_description" json:"icd10_description,omitempty"`
	DefaultBilledAmount  decimal.NullDecimal `db:"default_billed_amount" json:"default_billed_amount"`
	TypicalAllowedAmount decimal.NullDecimal `db:"typical_allowed_amount" json:"typical_allowed_amount"`
	Modifiers            []string            `db:"modifiers" json:"modifiers,omitempty"`
	PlaceOfService       *string             `db:"place_of_service" json:"place_of_service,omitempty"`
	Units                int                 `db:"units" json:"units"`
	Active               bool                `db:"active" json:"active"`
	Priority             int                 `db:"priority" json:"priority"`
	Status               MappingStatus       `db:"status" json:"status"`
	Notes                *string             `db:"notes" json:"notes,omitempty"`
	CreatedBy            *string             `db:"created_by" json:"created_by,omitempty"`
	ApprovedBy           *string             `db:"approved_by" json:"approved_by,omitempty"`
	ApprovalDate         *time.Time          `db:"approval_date" json:"approval_date,omitempty"`
	CreatedAt            time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time           `db:"updated_at" json:"updated_at"`
}

// InsuranceInfo maps to the insurance_info table.
type InsuranceInfo struct {
	ID                  uuid.UUID       `db:"id" json:"id"`
	PatientID           uuid.UUID       `db:"patient_id" json:"patient_id"`
	ProviderName        string          `db:"provider_name" json:"provider_name"`
	PayerID             string          `db:"payer_id" json:"payer_id"`
	MemberID            string          `db:"member_id" json:"member_id"`
	GroupNumber         *string         `db:"group_number" json:"group_number,omitempty"`
	SubscriberFirstName string          `db:"subscriber_first_name" json:"subscriber_first_name"`
	SubscriberLastName  string          `db:"subscriber_last_name" json:"subscriber_last_name"`
	SubscriberDOB       *time.Time      `db:"subscriber_dob" json:"subscriber_dob,omitempty"`
	SubscriberGender    *string         `db:"subscriber_gender" json:"subscriber_gender,omitempty"`
	Relationship        *string         `db:"relationship" json:"relationship,omitempty"`
	PolicyNumber        *string         `db:"policy_number" json:"policy_number,omitempty"`
	PlanType            *string         `db:"plan_type" json:"plan_type,omitempty"`
	IsPrimary           bool            `db:"is_primary" json:"is_primary"`
	Status              InsuranceStatus `db:"status" json:"status"`
	EffectiveDate       *time.Time      `db:"effective_date" json:"effective_date,omitempty"`
	ExpirationDate      *time.Time      `db:"expiration_date" json:"expiration_date,omitempty"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at" json:"updated_at"`
}

// Provider is the rendering/billing clinician. License doubles as the NPI.
type Provider struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	License   string    `db:"license" json:"license"`
	Specialty *string   `db:"specialty" json:"specialty,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Encounter is a completed visit a claim is generated from.
type Encounter struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	PatientID  uuid.UUID  `db:"patient_id" json:"patient_id"`
	ProviderID uuid.UUID  `db:"provider_id" json:"provider_id"`
	Type       string     `db:"encounter_type" json:"encounter_type"`
	AIAnalysis *string    `db:"ai_analysis" json:"ai_analysis,omitempty"`
	Diagnosis  *string    `db:"diagnosis" json:"diagnosis,omitempty"`
	StartTime  time.Time  `db:"start_time" json:"start_time"`
	EndTime    *time.Time `db:"end_time" json:"end_time,omitempty"`
	Status     string     `db:"status" json:"status"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// InsuranceClaim maps to the insurance_claims table.
type InsuranceClaim struct {
	ID                    uuid.UUID        `db:"id" json:"id"`
	EncounterID           uuid.UUID        `db:"encounter_id" json:"encounter_id"`
	PatientID             uuid.UUID        `db:"patient_id" json:"patient_id"`
	ProviderID            uuid.UUID        `db:"provider_id" json:"provider_id"`
	InsuranceInfoID       uuid.UUID        `db:"insurance_info_id" json:"insurance_info_id"`
	CodeMappingID         *uuid.UUID       `db:"code_mapping_id" json:"code_mapping_id,omitempty"`
	ClaimNumber           string           `db:"claim_number" json:"claim_number"`
	ControlNumber         string           `db:"control_number" json:"control_number"`
	ClaimDate             time.Time        `db:"claim_date" json:"claim_date"`
	ServiceDate           time.Time        `db:"service_date" json:"service_date"`
	CPTCode               string           `db:"cpt_code" json:"cpt_code"`
	ICD10Code             string           `db:"icd10_code" json:"icd10_code"`
	DiagnosisPointer      string           `db:"diagnosis_pointer" json:"diagnosis_pointer"`
	BilledAmount          decimal.Decimal  `db:"billed_amount" json:"billed_amount"`
	AllowedAmount         decimal.Decimal  `db:"allowed_amount" json:"allowed_amount"`
	PaidAmount            decimal.Decimal  `db:"paid_amount" json:"paid_amount"`
	PatientResponsibility decimal.Decimal  `db:"patient_responsibility" json:"patient_responsibility"`
	CopayAmount           decimal.Decimal  `db:"copay_amount" json:"copay_amount"`
	DeductibleAmount      decimal.Decimal  `db:"deductible_amount" json:"deductible_amount"`
	CoinsuranceAmount     decimal.Decimal  `db:"coinsurance_amount" json:"coinsurance_amount"`
	PlaceOfService        *string          `db:"place_of_service" json:"place_of_service,omitempty"`
	Modifiers             []string         `db:"modifiers" json:"modifiers,omitempty"`
	Units                 int              `db:"units" json:"units"`
	RenderingProviderNPI  string           `db:"rendering_provider_npi" json:"rendering_provider_npi"`
	BillingProviderNPI    string           `db:"billing_provider_npi" json:"billing_provider_npi"`
	EDIContent            string           `db:"edi_content" json:"-"`
	EDIFilePath           *string          `db:"edi_file_path" json:"edi_file_path,omitempty"`
	SubmissionDate        *time.Time       `db:"submission_date" json:"submission_date,omitempty"`
	ClearinghouseResponse *string          `db:"clearinghouse_response" json:"clearinghouse_response,omitempty"`
	PayerResponse         *string          `db:"payer_response" json:"payer_response,omitempty"`
	ResponseDate          *time.Time       `db:"response_date" json:"response_date,omitempty"`
	RejectionReason       *string          `db:"rejection_reason" json:"rejection_reason,omitempty"`
	Notes                 *string          `db:"notes" json:"notes,omitempty"`
	Status                ClaimStatus      `db:"status" json:"status"`
	SubmissionStatus      SubmissionStatus `db:"submission_status" json:"submission_status"`
	CreatedAt             time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time        `db:"updated_at" json:"updated_at"`
}

// ClaimFilter narrows claim listings. Zero fields match everything.
type ClaimFilter struct {
	Status           ClaimStatus
	SubmissionStatus SubmissionStatus
	PatientID        *uuid.UUID
	EncounterID      *uuid.UUID
}

// CodeMappingFilter narrows code mapping listings.
type CodeMappingFilter struct {
	EncounterType string
	CPTCode       string
	ICD10Code     string
	ActiveOnly    bool
}

type ClaimStatistics struct {
	Total                    int `json:"total_claims"`
	SubmittedToClearinghouse int `json:"submitted_to_clearinghouse"`
	Paid                     int `json:"paid_claims"`
	Rejected                 int `json:"rejected_claims"`
}

type CodeMappingStatistics struct {
	Total           int `json:"total_mappings"`
	Active          int `json:"active_mappings"`
	Approved        int `json:"approved_mappings"`
	PendingApproval int `json:"pending_approval"`
}
