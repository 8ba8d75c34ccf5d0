package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ehr/claims/internal/platform/idgen"
)

// Assembler builds unsaved claims from an encounter and its billing inputs.
type Assembler struct {
	ids idgen.IdentifierGenerator
	now func() time.Time
}

func NewAssembler(ids idgen.IdentifierGenerator, now func() time.Time) *Assembler {
	if now == nil {
		now = time.Now
	}
	return &Assembler{ids: ids, now: now}
}

// Assemble returns a READY_TO_SUBMIT / NOT_SUBMITTED claim. ins must be the
// patient's primary insurance; nil or non-primary yields
// NoPrimaryInsuranceError.
func (a *Assembler) Assemble(enc *Encounter, ins *InsuranceInfo, provider *Provider, m *CodeMapping) (*InsuranceClaim, error) {
	if ins == nil || !ins.IsPrimary {
		return nil, &NoPrimaryInsuranceError{PatientID: enc.PatientID}
	}

	billed := FallbackBilledAmount
	if m.DefaultBilledAmount.Valid {
		billed = m.DefaultBilledAmount.Decimal
	}
	units := m.Units
	if units <= 0 {
		units = 1
	}
	mappingID := m.ID

	c := &InsuranceClaim{
		ID:                    uuid.New(),
		EncounterID:           enc.ID,
		PatientID:             enc.PatientID,
		ProviderID:            provider.ID,
		InsuranceInfoID:       ins.ID,
		CodeMappingID:         &mappingID,
		ClaimNumber:           a.ids.ClaimNumber(),
		ControlNumber:         a.ids.ControlNumber(),
		ClaimDate:             a.now(),
		ServiceDate:           enc.StartTime,
		CPTCode:               m.CPTCode,
		ICD10Code:             m.ICD10Code,
		DiagnosisPointer:      "1",
		BilledAmount:          billed,
		AllowedAmount:         decimal.Zero,
		PaidAmount:            decimal.Zero,
		PatientResponsibility: decimal.Zero,
		CopayAmount:           decimal.Zero,
		DeductibleAmount:      decimal.Zero,
		CoinsuranceAmount:     decimal.Zero,
		PlaceOfService:        m.PlaceOfService,
		Modifiers:             limitModifiers(m.Modifiers),
		Units:                 units,
		RenderingProviderNPI:  provider.License,
		BillingProviderNPI:    provider.License,
		Status:                ClaimReadyToSubmit,
		SubmissionStatus:      SubmissionNotSubmitted,
	}
	return c, nil
}

func limitModifiers(mods []string) []string {
	if len(mods) > MaxModifiers {
		mods = mods[:MaxModifiers]
	}
	return append([]string(nil), mods...)
}
