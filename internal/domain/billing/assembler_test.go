package billing

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ehr/claims/internal/platform/idgen"
)

var claimDate = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func assemblyInputs() (*Encounter, *InsuranceInfo, *Provider) {
	patientID := uuid.New()
	enc := &Encounter{
		ID:         uuid.New(),
		PatientID:  patientID,
		ProviderID: uuid.New(),
		Type:       DefaultEncounterType,
		StartTime:  time.Date(2024, 1, 14, 9, 0, 0, 0, time.UTC),
	}
	ins := &InsuranceInfo{
		ID:                  uuid.New(),
		PatientID:           patientID,
		ProviderName:        "ACME HEALTH",
		PayerID:             "ACME01",
		MemberID:            "M123456",
		SubscriberFirstName: "JANE",
		SubscriberLastName:  "DOE",
		IsPrimary:           true,
		Status:              InsuranceActive,
	}
	provider := &Provider{ID: enc.ProviderID, Name: "DR SMITH", License: "1234567893"}
	return enc, ins, provider
}

func newTestAssembler() *Assembler {
	return NewAssembler(idgen.NewStatic("CLM202401151030001", "000000001"), func() time.Time { return claimDate })
}

func TestAssemble(t *testing.T) {
	enc, ins, provider := assemblyInputs()
	m := mapping(DefaultEncounterType, "99213", 1, func(m *CodeMapping) {
		m.ICD10Code = "I10"
		m.DefaultBilledAmount = decimal.NewNullDecimal(decimal.RequireFromString("200.00"))
		m.Units = 2
		m.Modifiers = []string{"25"}
		m.PlaceOfService = strPtr("02")
	})

	c, err := newTestAssembler().Assemble(enc, ins, provider, m)
	if err != nil {
		t.Fatalf("Assemble() error: %v", err)
	}
	if c.ID == uuid.Nil {
		t.Error("expected claim ID to be assigned")
	}
	if c.ClaimNumber != "CLM202401151030001" || c.ControlNumber != "000000001" {
		t.Errorf("unexpected identifiers %s/%s", c.ClaimNumber, c.ControlNumber)
	}
	if c.EncounterID != enc.ID || c.PatientID != enc.PatientID || c.ProviderID != provider.ID || c.InsuranceInfoID != ins.ID {
		t.Error("claim must reference its encounter, patient, provider and insurance")
	}
	if c.CodeMappingID == nil || *c.CodeMappingID != m.ID {
		t.Error("claim must reference the resolved mapping")
	}
	if !c.ClaimDate.Equal(claimDate) || !c.ServiceDate.Equal(enc.StartTime) {
		t.Errorf("unexpected dates claim=%v service=%v", c.ClaimDate, c.ServiceDate)
	}
	if c.CPTCode != "99213" || c.ICD10Code != "I10" || c.DiagnosisPointer != "1" {
		t.Errorf("unexpected coding %s/%s/%s", c.CPTCode, c.ICD10Code, c.DiagnosisPointer)
	}
	if !c.BilledAmount.Equal(decimal.RequireFromString("200")) || c.Units != 2 {
		t.Errorf("unexpected billing %s x%d", c.BilledAmount, c.Units)
	}
	if !c.PaidAmount.IsZero() || !c.AllowedAmount.IsZero() || !c.CopayAmount.IsZero() {
		t.Error("adjudication amounts must start at zero")
	}
	if c.RenderingProviderNPI != "1234567893" || c.BillingProviderNPI != "1234567893" {
		t.Errorf("NPIs must come from the provider license, got %s/%s", c.RenderingProviderNPI, c.BillingProviderNPI)
	}
	if c.Status != ClaimReadyToSubmit || c.SubmissionStatus != SubmissionNotSubmitted {
		t.Errorf("unexpected statuses %s/%s", c.Status, c.SubmissionStatus)
	}
	if deref(c.PlaceOfService) != "02" || len(c.Modifiers) != 1 {
		t.Errorf("unexpected POS/modifiers %v/%v", c.PlaceOfService, c.Modifiers)
	}
	if c.EDIFilePath != nil || c.SubmissionDate != nil {
		t.Error("assembled claim must not look submitted")
	}
}

func TestAssemble_FallbackAmountAndUnits(t *testing.T) {
	enc, ins, provider := assemblyInputs()
	m := mapping(DefaultEncounterType, "99212", 0, func(m *CodeMapping) { m.Units = 0 })

	c, err := newTestAssembler().Assemble(enc, ins, provider, m)
	if err != nil {
		t.Fatalf("Assemble() error: %v", err)
	}
	if !c.BilledAmount.Equal(FallbackBilledAmount) || c.BilledAmount.StringFixed(2) != "150.00" {
		t.Errorf("expected fallback 150.00, got %s", c.BilledAmount)
	}
	if c.Units != 1 {
		t.Errorf("expected at least one unit, got %d", c.Units)
	}
}

func TestAssemble_NoPrimaryInsurance(t *testing.T) {
	enc, ins, provider := assemblyInputs()
	m := mapping(DefaultEncounterType, "99212", 0)

	for name, in := range map[string]*InsuranceInfo{"nil": nil, "secondary": {ID: ins.ID, IsPrimary: false}} {
		t.Run(name, func(t *testing.T) {
			_, err := newTestAssembler().Assemble(enc, in, provider, m)
			var noPrimary *NoPrimaryInsuranceError
			if !errors.As(err, &noPrimary) {
				t.Fatalf("expected NoPrimaryInsuranceError, got %v", err)
			}
			if noPrimary.PatientID != enc.PatientID {
				t.Errorf("expected patient %s, got %s", enc.PatientID, noPrimary.PatientID)
			}
		})
	}
}

func TestAssemble_TruncatesModifiers(t *testing.T) {
	enc, ins, provider := assemblyInputs()
	mods := []string{"25", "59", "GT", "95", "XU"}
	m := mapping(DefaultEncounterType, "99212", 0, func(m *CodeMapping) { m.Modifiers = mods })

	c, err := newTestAssembler().Assemble(enc, ins, provider, m)
	if err != nil {
		t.Fatalf("Assemble() error: %v", err)
	}
	if len(c.Modifiers) != MaxModifiers {
		t.Errorf("expected %d modifiers, got %d", MaxModifiers, len(c.Modifiers))
	}
	c.Modifiers[0] = "XX"
	if mods[0] != "25" {
		t.Error("claim must not share the mapping's modifier slice")
	}
}
