//go:build integration

package integration

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ehr/claims/internal/domain/billing"
	"github.com/ehr/claims/internal/platform/audit"
	"github.com/ehr/claims/internal/platform/blobstore"
	"github.com/ehr/claims/internal/platform/db"
	"github.com/ehr/claims/internal/platform/edi"
	"github.com/ehr/claims/internal/platform/idgen"
	"github.com/ehr/claims/internal/platform/kv"
	"github.com/ehr/claims/migrations"
)

func createMapping(t *testing.T, ctx context.Context, repo billing.CodeMappingRepository, encType, cpt, icd string, priority int) *billing.CodeMapping {
	t.Helper()
	m := &billing.CodeMapping{
		EncounterType:       encType,
		CPTCode:             cpt,
		ICD10Code:           icd,
		DefaultBilledAmount: decimal.NewNullDecimal(decimal.RequireFromString("125.00")),
		Modifiers:           []string{"25"},
		Units:               1,
		Active:              true,
		Priority:            priority,
		Status:              billing.MappingApproved,
	}
	if err := repo.Create(ctx, m); err != nil {
		t.Fatalf("create mapping: %v", err)
	}
	return m
}

func newIntegrationPipeline(t *testing.T, sink audit.Sink) (*billing.Pipeline, string) {
	t.Helper()
	dir := t.TempDir()
	ids := idgen.NewMonotonic()
	store := blobstore.NewFileStore(dir)
	mappings := billing.NewCodeMappingRepoPG(globalPool)
	return billing.NewPipeline(billing.PipelineDeps{
		Encounters: billing.NewEncounterRepoPG(globalPool),
		Insurance:  billing.NewInsuranceRepoPG(globalPool),
		Providers:  billing.NewProviderRepoPG(globalPool),
		Claims:     billing.NewClaimRepoPG(globalPool),
		Resolver:   billing.NewResolver(mappings),
		Assembler:  billing.NewAssembler(ids, time.Now),
		Encoder:    edi.NewEncoder(edi.Envelope{SenderID: "SENDER", ReceiverID: "RECEIVER"}, ids, edi.WithDiagnosisSegment()),
		Artifacts:  store,
		Locker:     kv.NewLocker(kv.NewMemoryStore(), "lock:encounter:", time.Minute),
		Audit:      sink,
		Logger:     zerolog.Nop(),
	}), dir
}

func TestMigrator_StatusAfterUp(t *testing.T) {
	ctx := context.Background()
	m := db.NewMigrator(globalPool, migrations.FS)

	n, err := m.Up(ctx)
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if n != 0 {
		t.Errorf("expected no pending migrations after TestMain, applied %d", n)
	}

	statuses, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(statuses))
	}
	for _, s := range statuses {
		if !s.Applied || s.AppliedAt == nil {
			t.Errorf("migration %s not applied", s.Name)
		}
	}
}

func TestMigrator_SeparateSchema(t *testing.T) {
	ctx := context.Background()
	schema := "it_" + uuid.NewString()[:8]
	t.Cleanup(func() {
		globalPool.Exec(context.Background(), `DROP SCHEMA IF EXISTS "`+schema+`" CASCADE`)
	})

	n, err := db.NewMigrator(globalPool, migrations.FS).WithSchema(schema).Up(ctx)
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 applied, got %d", n)
	}

	var exists bool
	err = globalPool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = 'insurance_claims')`, schema).Scan(&exists)
	if err != nil || !exists {
		t.Errorf("insurance_claims missing in %s: %v", schema, err)
	}
}

func TestCodeMappingRepo_CRUD(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	repo := billing.NewCodeMappingRepoPG(globalPool)

	m := createMapping(t, ctx, repo, "CONSULTATION", "99213", "I10", 5)
	if m.CreatedAt.IsZero() {
		t.Error("expected created_at to be populated")
	}

	got, err := repo.GetByID(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.CPTCode != "99213" || got.Priority != 5 || len(got.Modifiers) != 1 || got.Modifiers[0] != "25" {
		t.Errorf("unexpected mapping %+v", got)
	}
	if !got.DefaultBilledAmount.Valid || got.DefaultBilledAmount.Decimal.StringFixed(2) != "125.00" {
		t.Errorf("expected default billed amount 125.00, got %+v", got.DefaultBilledAmount)
	}

	got.Active = false
	got.Status = billing.MappingInactive
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	active, err := repo.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("expected no active mappings, got %d", len(active))
	}

	missing := &billing.CodeMapping{ID: uuid.New(), CPTCode: "x", ICD10Code: "y", Status: billing.MappingDraft}
	if err := repo.Update(ctx, missing); !errors.Is(err, billing.ErrCodeMappingNotFound) {
		t.Errorf("expected ErrCodeMappingNotFound, got %v", err)
	}
	if _, err := repo.GetByID(ctx, uuid.New()); !errors.Is(err, billing.ErrCodeMappingNotFound) {
		t.Errorf("expected ErrCodeMappingNotFound, got %v", err)
	}
}

func TestCodeMappingRepo_ListAndStatistics(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	repo := billing.NewCodeMappingRepoPG(globalPool)

	createMapping(t, ctx, repo, "CONSULTATION", "99213", "I10", 1)
	createMapping(t, ctx, repo, "CONSULTATION", "99214", "E11.9", 9)
	pending := createMapping(t, ctx, repo, "FOLLOW_UP", "99212", "Z09", 1)
	pending.Status = billing.MappingPendingApproval
	if err := repo.Update(ctx, pending); err != nil {
		t.Fatalf("Update: %v", err)
	}

	items, total, err := repo.List(ctx, billing.CodeMappingFilter{EncounterType: "CONSULTATION"}, 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Fatalf("expected 2 consultation mappings, got total=%d len=%d", total, len(items))
	}
	if items[0].CPTCode != "99214" {
		t.Errorf("expected highest priority first, got %s", items[0].CPTCode)
	}

	page, total, err := repo.List(ctx, billing.CodeMappingFilter{}, 1, 1)
	if err != nil {
		t.Fatalf("List page: %v", err)
	}
	if total != 3 || len(page) != 1 {
		t.Errorf("expected page of 1 out of 3, got total=%d len=%d", total, len(page))
	}

	stats, err := repo.Statistics(ctx)
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if stats.Total != 3 || stats.Active != 3 || stats.Approved != 2 || stats.PendingApproval != 1 {
		t.Errorf("unexpected statistics %+v", stats)
	}
}

func TestSupportingRepos_NotFound(t *testing.T) {
	resetDB(t)
	ctx := context.Background()

	if _, err := billing.NewEncounterRepoPG(globalPool).GetByID(ctx, uuid.New()); !errors.Is(err, billing.ErrEncounterNotFound) {
		t.Errorf("expected ErrEncounterNotFound, got %v", err)
	}
	if _, err := billing.NewProviderRepoPG(globalPool).GetByID(ctx, uuid.New()); !errors.Is(err, billing.ErrProviderNotFound) {
		t.Errorf("expected ErrProviderNotFound, got %v", err)
	}
	if _, err := billing.NewInsuranceRepoPG(globalPool).GetPrimaryByPatient(ctx, uuid.New()); !errors.Is(err, billing.ErrInsuranceNotFound) {
		t.Errorf("expected ErrInsuranceNotFound, got %v", err)
	}
}

func TestInsuranceRepo_PrimaryOnly(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	repo := billing.NewInsuranceRepoPG(globalPool)
	patient := uuid.New()

	secondary := &billing.InsuranceInfo{
		PatientID: patient, ProviderName: "Other", PayerID: "OTH01", MemberID: "S1",
		SubscriberFirstName: "Jane", SubscriberLastName: "Doe",
	}
	if err := repo.Create(ctx, secondary); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.GetPrimaryByPatient(ctx, patient); !errors.Is(err, billing.ErrInsuranceNotFound) {
		t.Errorf("secondary coverage must not count as primary, got %v", err)
	}

	primary := &billing.InsuranceInfo{
		PatientID: patient, ProviderName: "Acme", PayerID: "ACME01", MemberID: "M1",
		SubscriberFirstName: "Jane", SubscriberLastName: "Doe", IsPrimary: true,
	}
	if err := repo.Create(ctx, primary); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := repo.GetPrimaryByPatient(ctx, patient)
	if err != nil {
		t.Fatalf("GetPrimaryByPatient: %v", err)
	}
	if got.ID != primary.ID || got.Status != billing.InsuranceActive {
		t.Errorf("unexpected primary %+v", got)
	}
}

func TestPipeline_GenerateEndToEnd(t *testing.T) {
	resetDB(t)
	ctx := audit.WithActor(context.Background(), "it-user")
	s := seedEncounter(t, ctx, "CONSULTATION", "Hypertension")
	mapping := createMapping(t, ctx, billing.NewCodeMappingRepoPG(globalPool), "CONSULTATION", "99213", "I10", 1)

	sink := audit.NewPGSink(globalPool)
	p, dir := newIntegrationPipeline(t, sink)

	claim, err := p.Generate(ctx, s.Encounter.ID)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	stored, err := billing.NewClaimRepoPG(globalPool).GetByID(ctx, claim.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != billing.ClaimSubmitted || stored.SubmissionStatus != billing.SubmissionToClearinghouse {
		t.Errorf("unexpected statuses %s/%s", stored.Status, stored.SubmissionStatus)
	}
	if stored.CodeMappingID == nil || *stored.CodeMappingID != mapping.ID {
		t.Errorf("expected mapping %s, got %v", mapping.ID, stored.CodeMappingID)
	}
	if stored.BilledAmount.StringFixed(2) != "125.00" || stored.BillingProviderNPI != "1234567893" {
		t.Errorf("unexpected claim %+v", stored)
	}
	if stored.EDIFilePath == nil || filepath.Dir(*stored.EDIFilePath) != dir {
		t.Fatalf("expected artifact under %s, got %v", dir, stored.EDIFilePath)
	}

	content, err := os.ReadFile(*stored.EDIFilePath)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(content) != stored.EDIContent {
		t.Error("artifact differs from stored EDI content")
	}
	sum, err := edi.Summarize(content)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if sum.ClaimNumber != stored.ClaimNumber || sum.CPTCode != "99213" || sum.ICD10Code != "I10" || sum.MemberID != "M123456" {
		t.Errorf("unexpected summary %+v", sum)
	}

	events, err := sink.ListByResource(ctx, billing.ResourceClaim, claim.ID.String())
	if err != nil {
		t.Fatalf("ListByResource: %v", err)
	}
	if len(events) != 1 || events[0].Type != billing.EventClaimGenerated || events[0].Actor != "it-user" {
		t.Errorf("unexpected audit events %+v", events)
	}
}

func TestPipeline_NoMappingLeavesNothingBehind(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	s := seedEncounter(t, ctx, "SURGERY", "Appendicitis")
	createMapping(t, ctx, billing.NewCodeMappingRepoPG(globalPool), "CONSULTATION", "99213", "I10", 1)

	p, dir := newIntegrationPipeline(t, audit.NewPGSink(globalPool))
	_, err := p.Generate(ctx, s.Encounter.ID)
	if billing.Kind(err) != billing.KindNoCodeMapping {
		t.Fatalf("expected no-mapping failure, got %v", err)
	}

	stats, err := billing.NewClaimRepoPG(globalPool).Statistics(ctx)
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if stats.Total != 0 {
		t.Errorf("expected no claims, got %d", stats.Total)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected no artifacts, got %d", len(entries))
	}

	var failures int
	err = globalPool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_event WHERE event_type = $1 AND encounter_id = $2`,
		billing.EventClaimGenerationFailed, s.Encounter.ID.String()).Scan(&failures)
	if err != nil || failures != 1 {
		t.Errorf("expected 1 failure event, got %d (%v)", failures, err)
	}
}

func TestService_LifecycleAgainstPostgres(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	s := seedEncounter(t, ctx, "CONSULTATION", "Hypertension")
	createMapping(t, ctx, billing.NewCodeMappingRepoPG(globalPool), "CONSULTATION", "99213", "I10", 1)

	sink := audit.NewPGSink(globalPool)
	p, _ := newIntegrationPipeline(t, sink)
	claim, err := p.Generate(ctx, s.Encounter.ID)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	svc := billing.NewService(billing.NewClaimRepoPG(globalPool), billing.NewCodeMappingRepoPG(globalPool),
		db.NewTxRunner(globalPool), sink, zerolog.Nop())

	if _, err := svc.RecordClearinghouseResponse(ctx, claim.ID, billing.ClearinghouseResponse{Raw: "999 OK", Accepted: true}); err != nil {
		t.Fatalf("RecordClearinghouseResponse: %v", err)
	}
	if _, err := svc.UpdateSubmissionStatus(ctx, claim.ID, billing.SubmissionToPayer); err != nil {
		t.Fatalf("UpdateSubmissionStatus: %v", err)
	}
	paid, err := svc.RecordPayerResponse(ctx, claim.ID, billing.PayerResponse{Raw: "835", Outcome: billing.PayerPaid})
	if err != nil {
		t.Fatalf("RecordPayerResponse: %v", err)
	}
	if paid.Status != billing.ClaimPaid || paid.SubmissionStatus != billing.SubmissionPaid {
		t.Errorf("unexpected statuses %s/%s", paid.Status, paid.SubmissionStatus)
	}

	var invalid *billing.InvalidTransitionError
	if _, err := svc.TransitionClaimStatus(ctx, claim.ID, billing.ClaimDraft); !errors.As(err, &invalid) {
		t.Errorf("expected InvalidTransitionError, got %v", err)
	}

	byNumber, err := svc.GetClaimByNumber(ctx, claim.ClaimNumber)
	if err != nil || byNumber.ID != claim.ID {
		t.Fatalf("GetClaimByNumber: %v", err)
	}
	items, total, err := svc.ListClaims(ctx, billing.ClaimFilter{Status: billing.ClaimPaid}, 10, 0)
	if err != nil || total != 1 || len(items) != 1 {
		t.Errorf("expected one paid claim, got total=%d err=%v", total, err)
	}
	stats, err := svc.ClaimStatistics(ctx)
	if err != nil {
		t.Fatalf("ClaimStatistics: %v", err)
	}
	if stats.Total != 1 || stats.Paid != 1 {
		t.Errorf("unexpected statistics %+v", stats)
	}

	events, err := sink.ListByResource(ctx, billing.ResourceClaim, claim.ID.String())
	if err != nil {
		t.Fatalf("ListByResource: %v", err)
	}
	if len(events) != 4 {
		t.Errorf("expected generated plus three lifecycle events, got %d", len(events))
	}
}

func TestTxRunner_RollbackDiscardsAudit(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	sink := audit.NewPGSink(globalPool)
	resourceID := uuid.NewString()
	boom := errors.New("boom")

	err := db.NewTxRunner(globalPool).InTx(ctx, func(ctx context.Context) error {
		if err := sink.Record(ctx, &audit.Event{Type: "TEST", ResourceType: "TEST", ResourceID: resourceID}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	events, err := sink.ListByResource(ctx, "TEST", resourceID)
	if err != nil {
		t.Fatalf("ListByResource: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected rolled back event to be gone, got %d", len(events))
	}
}
