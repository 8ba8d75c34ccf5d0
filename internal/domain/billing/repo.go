package billing

import (
	"context"

	"github.com/google/uuid"
)

type CodeMappingRepository interface {
	Create(ctx context.Context, m *CodeMapping) error
	GetByID(ctx context.Context, id uuid.UUID) (*CodeMapping, error)
	Update(ctx context.Context, m *CodeMapping) error
	// ListActive returns every mapping with active=true.
	ListActive(ctx context.Context) ([]*CodeMapping, error)
	List(ctx context.Context, f CodeMappingFilter, limit, offset int) ([]*CodeMapping, int, error)
	Statistics(ctx context.Context) (*CodeMappingStatistics, error)
}

type ClaimRepository interface {
	Create(ctx context.Context, c *InsuranceClaim) error
	GetByID(ctx context.Context, id uuid.UUID) (*InsuranceClaim, error)
	GetByClaimNumber(ctx context.Context, claimNumber string) (*InsuranceClaim, error)
	Update(ctx context.Context, c *InsuranceClaim) error
	List(ctx context.Context, f ClaimFilter, limit, offset int) ([]*InsuranceClaim, int, error)
	Statistics(ctx context.Context) (*ClaimStatistics, error)
}

// The records below are owned elsewhere; claim generation only reads them.

type EncounterRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error)
}

type InsuranceRepository interface {
	// GetPrimaryByPatient returns ErrInsuranceNotFound when the patient has
	// no insurance flagged primary.
	GetPrimaryByPatient(ctx context.Context, patientID uuid.UUID) (*InsuranceInfo, error)
}

type ProviderRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Provider, error)
}

// TxRunner runs fn inside one database transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type noTx struct{}

func (noTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }
