package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/claims/internal/platform/audit"
)

type Service struct {
	claims   ClaimRepository
	mappings CodeMappingRepository
	tx       TxRunner
	audit    audit.Sink
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(claims ClaimRepository, mappings CodeMappingRepository, tx TxRunner, sink audit.Sink, logger zerolog.Logger) *Service {
	if tx == nil {
		tx = noTx{}
	}
	if sink == nil {
		sink = audit.NewLogSink(logger)
	}
	return &Service{claims: claims, mappings: mappings, tx: tx, audit: sink, logger: logger, now: time.Now}
}

// -- Claims --

func (s *Service) GetClaim(ctx context.Context, id uuid.UUID) (*InsuranceClaim, error) {
	return s.claims.GetByID(ctx, id)
}

func (s *Service) GetClaimByNumber(ctx context.Context, claimNumber string) (*InsuranceClaim, error) {
	return s.claims.GetByClaimNumber(ctx, claimNumber)
}

func (s *Service) ListClaims(ctx context.Context, f ClaimFilter, limit, offset int) ([]*InsuranceClaim, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: claim status %q", ErrInvalidStatus, f.Status)
	}
	if f.SubmissionStatus != "" && !f.SubmissionStatus.Valid() {
		return nil, 0, fmt.Errorf("%w: submission status %q", ErrInvalidStatus, f.SubmissionStatus)
	}
	return s.claims.List(ctx, f, limit, offset)
}

func (s *Service) ClaimStatistics(ctx context.Context) (*ClaimStatistics, error) {
	return s.claims.Statistics(ctx)
}

// ClaimEDI returns the stored 837 transaction for a claim.
func (s *Service) ClaimEDI(ctx context.Context, id uuid.UUID) ([]byte, error) {
	c, err := s.claims.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return []byte(c.EDIContent), nil
}

// mutateClaim loads, changes, saves and audits a claim in one transaction.
func (s *Service) mutateClaim(ctx context.Context, id uuid.UUID, eventType string, change func(c *InsuranceClaim) (string, error)) (*InsuranceClaim, error) {
	var out *InsuranceClaim
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		c, err := s.claims.GetByID(ctx, id)
		if err != nil {
			return err
		}
		msg, err := change(c)
		if err != nil {
			return err
		}
		if err := s.claims.Update(ctx, c); err != nil {
			return &PersistenceError{Op: "update claim", Err: err}
		}
		if err := s.audit.Record(ctx, &audit.Event{
			Type:         eventType,
			ResourceType: ResourceClaim,
			ResourceID:   c.ID.String(),
			EncounterID:  c.EncounterID.String(),
			Message:      msg,
		}); err != nil {
			return &PersistenceError{Op: "record audit event", Err: err}
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TransitionClaimStatus applies a validated ClaimStatus change.
func (s *Service) TransitionClaimStatus(ctx context.Context, id uuid.UUID, to ClaimStatus) (*InsuranceClaim, error) {
	return s.mutateClaim(ctx, id, EventClaimStatusChanged, func(c *InsuranceClaim) (string, error) {
		from := c.Status
		if err := c.TransitionStatus(to); err != nil {
			return "", err
		}
		return fmt.Sprintf("status %s -> %s", from, to), nil
	})
}

// OverrideClaimStatus sets any known ClaimStatus without checking the
// lifecycle. Reserved for administrators.
func (s *Service) OverrideClaimStatus(ctx context.Context, id uuid.UUID, to ClaimStatus) (*InsuranceClaim, error) {
	return s.mutateClaim(ctx, id, EventClaimStatusOverridden, func(c *InsuranceClaim) (string, error) {
		from := c.Status
		if err := c.OverrideStatus(to); err != nil {
			return "", err
		}
		s.logger.Warn().Str("claim_number", c.ClaimNumber).
			Str("from", string(from)).Str("to", string(to)).
			Msg("claim status overridden")
		return fmt.Sprintf("status overridden %s -> %s", from, to), nil
	})
}

func (s *Service) UpdateSubmissionStatus(ctx context.Context, id uuid.UUID, to SubmissionStatus) (*InsuranceClaim, error) {
	return s.mutateClaim(ctx, id, EventSubmissionStatusChange, func(c *InsuranceClaim) (string, error) {
		from := c.SubmissionStatus
		if err := c.TransitionSubmission(to); err != nil {
			return "", err
		}
		return fmt.Sprintf("submission status %s -> %s", from, to), nil
	})
}

// ClearinghouseResponse is a raw acknowledgment from the clearinghouse. The
// payload is stored as received.
type ClearinghouseResponse struct {
	Raw      string `json:"raw"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// PayerResponse is a raw adjudication response from the payer.
type PayerResponse struct {
	Raw     string       `json:"raw"`
	Outcome PayerOutcome `json:"outcome"`
	Reason  string       `json:"reason,omitempty"`
}

func (s *Service) RecordClearinghouseResponse(ctx context.Context, id uuid.UUID, r ClearinghouseResponse) (*InsuranceClaim, error) {
	return s.mutateClaim(ctx, id, EventClaimResponseRecorded, func(c *InsuranceClaim) (string, error) {
		if err := c.recordClearinghouse(r.Raw, r.Accepted, r.Reason, s.now()); err != nil {
			return "", err
		}
		return "clearinghouse response: " + string(c.SubmissionStatus), nil
	})
}

func (s *Service) RecordPayerResponse(ctx context.Context, id uuid.UUID, r PayerResponse) (*InsuranceClaim, error) {
	return s.mutateClaim(ctx, id, EventClaimResponseRecorded, func(c *InsuranceClaim) (string, error) {
		if err := c.recordPayer(r.Raw, r.Outcome, r.Reason, s.now()); err != nil {
			return "", err
		}
		return "payer response: " + string(c.SubmissionStatus), nil
	})
}

// -- Code mappings --

func validateMapping(m *CodeMapping) error {
	if strings.TrimSpace(m.CPTCode) == "" {
		return fmt.Errorf("cpt_code is required")
	}
	if strings.TrimSpace(m.ICD10Code) == "" {
		return fmt.Errorf("icd10_code is required")
	}
	if m.EncounterType == "" {
		m.EncounterType = DefaultEncounterType
	}
	if len(m.Modifiers) > MaxModifiers {
		return fmt.Errorf("at most %d modifiers are allowed", MaxModifiers)
	}
	if m.Units == 0 {
		m.Units = 1
	}
	if m.Units < 0 {
		return fmt.Errorf("units must be positive")
	}
	if m.DefaultBilledAmount.Valid && m.DefaultBilledAmount.Decimal.IsNegative() {
		return fmt.Errorf("default_billed_amount must not be negative")
	}
	if m.Status == "" {
		m.Status = MappingDraft
	}
	if !m.Status.Valid() {
		return fmt.Errorf("%w: mapping status %q", ErrInvalidStatus, m.Status)
	}
	return nil
}

func (s *Service) mappingEvent(ctx context.Context, typ string, m *CodeMapping) error {
	err := s.audit.Record(ctx, &audit.Event{
		Type:         typ,
		ResourceType: ResourceCodeMapping,
		ResourceID:   m.ID.String(),
		Message:      fmt.Sprintf("%s %s/%s priority %d", m.EncounterType, m.CPTCode, m.ICD10Code, m.Priority),
	})
	if err != nil {
		return &PersistenceError{Op: "record audit event", Err: err}
	}
	return nil
}

func (s *Service) CreateCodeMapping(ctx context.Context, m *CodeMapping) error {
	if err := validateMapping(m); err != nil {
		return err
	}
	if m.CreatedBy == nil {
		actor := audit.ActorFromContext(ctx)
		m.CreatedBy = &actor
	}
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.mappings.Create(ctx, m); err != nil {
			return &PersistenceError{Op: "create code mapping", Err: err}
		}
		return s.mappingEvent(ctx, EventCodeMappingCreated, m)
	})
}

func (s *Service) GetCodeMapping(ctx context.Context, id uuid.UUID) (*CodeMapping, error) {
	return s.mappings.GetByID(ctx, id)
}

// UpdateCodeMapping replaces a mapping. Moving it to APPROVED stamps the
// approver and approval date.
func (s *Service) UpdateCodeMapping(ctx context.Context, m *CodeMapping) error {
	if err := validateMapping(m); err != nil {
		return err
	}
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		existing, err := s.mappings.GetByID(ctx, m.ID)
		if err != nil {
			return err
		}
		m.CreatedAt = existing.CreatedAt
		m.CreatedBy = existing.CreatedBy
		if m.Status == MappingApproved && existing.Status != MappingApproved {
			actor := audit.ActorFromContext(ctx)
			now := s.now()
			m.ApprovedBy = &actor
			m.ApprovalDate = &now
		} else if m.ApprovedBy == nil {
			m.ApprovedBy, m.ApprovalDate = existing.ApprovedBy, existing.ApprovalDate
		}
		if err := s.mappings.Update(ctx, m); err != nil {
			return &PersistenceError{Op: "update code mapping", Err: err}
		}
		return s.mappingEvent(ctx, EventCodeMappingUpdated, m)
	})
}

// DeactivateCodeMapping retires a mapping. Mappings are never removed.
func (s *Service) DeactivateCodeMapping(ctx context.Context, id uuid.UUID) error {
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		m, err := s.mappings.GetByID(ctx, id)
		if err != nil {
			return err
		}
		m.Active = false
		m.Status = MappingInactive
		if err := s.mappings.Update(ctx, m); err != nil {
			return &PersistenceError{Op: "deactivate code mapping", Err: err}
		}
		return s.mappingEvent(ctx, EventCodeMappingDeactivated, m)
	})
}

func (s *Service) ListCodeMappings(ctx context.Context, f CodeMappingFilter, limit, offset int) ([]*CodeMapping, int, error) {
	return s.mappings.List(ctx, f, limit, offset)
}

func (s *Service) CodeMappingStatistics(ctx context.Context) (*CodeMappingStatistics, error) {
	return s.mappings.Statistics(ctx)
}
