package billing

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ehr/claims/internal/platform/audit"
	"github.com/ehr/claims/internal/platform/blobstore"
	"github.com/ehr/claims/internal/platform/clearinghouse"
	"github.com/ehr/claims/internal/platform/edi"
	"github.com/ehr/claims/internal/platform/kv"
	"github.com/ehr/claims/internal/platform/telemetry"
	"github.com/ehr/claims/pkg/retry"
)

// ArtifactName is the file name an 837 for claimNumber is written under.
func ArtifactName(claimNumber string, at time.Time) string {
	return "837_" + claimNumber + "_" + at.Format("20060102_150405") + ".edi"
}

// PipelineDeps wires a Pipeline. Mirror, Transport, Locker and Metrics are
// optional.
type PipelineDeps struct {
	Encounters EncounterRepository
	Insurance  InsuranceRepository
	Providers  ProviderRepository
	Claims     ClaimRepository
	Resolver   *Resolver
	Assembler  *Assembler
	Encoder    *edi.Encoder
	Artifacts  blobstore.Store
	Mirror     blobstore.Store
	Transport  clearinghouse.Transport
	Locker     *kv.Locker
	Audit      audit.Sink
	Metrics    *telemetry.ClaimMetrics
	Logger     zerolog.Logger
	// WriteRetry governs the artifact write. The zero value makes one attempt.
	WriteRetry retry.Config
	Now        func() time.Time
}

// Pipeline generates, persists and submits the claim for an encounter.
type Pipeline struct {
	PipelineDeps
}

func NewPipeline(d PipelineDeps) *Pipeline {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Audit == nil {
		d.Audit = audit.NewLogSink(d.Logger)
	}
	if d.WriteRetry.MaxAttempts < 1 {
		d.WriteRetry = retry.Once()
	}
	return &Pipeline{PipelineDeps: d}
}

// Generate resolves, assembles, encodes and persists the claim for
// encounterID, writes its 837 artifact and marks it submitted. The claim is
// only marked submitted once the artifact is on disk: a SubmissionIOError
// leaves the stored claim at READY_TO_SUBMIT / NOT_SUBMITTED.
func (p *Pipeline) Generate(ctx context.Context, encounterID uuid.UUID) (*InsuranceClaim, error) {
	start := p.Now()
	ctx, span := telemetry.StartSpan(ctx, "claims.generate", attribute.String("encounter.id", encounterID.String()))
	defer span.End()

	claim, err := p.generate(ctx, encounterID)
	took := p.Now().Sub(start)
	if err != nil {
		telemetry.RecordError(span, err)
		kind := Kind(err)
		p.Metrics.Failed(ctx, kind, took)
		p.Logger.Error().Err(err).
			Str("encounter_id", encounterID.String()).
			Str("error_kind", kind).
			Msg("claim generation failed")
		p.record(ctx, &audit.Event{
			Type:         EventClaimGenerationFailed,
			ResourceType: ResourceClaim,
			ResourceID:   failedClaimID(err),
			EncounterID:  encounterID.String(),
			Outcome:      audit.OutcomeFailure,
			ErrorKind:    kind,
			Message:      err.Error(),
		})
		return nil, err
	}

	span.SetAttributes(attribute.String("claim.number", claim.ClaimNumber))
	p.Metrics.Generated(ctx, took)
	p.Logger.Info().
		Str("claim_number", claim.ClaimNumber).
		Str("encounter_id", encounterID.String()).
		Str("file", deref(claim.EDIFilePath)).
		Msg("claim generated")
	p.record(ctx, &audit.Event{
		Type:         EventClaimGenerated,
		ResourceType: ResourceClaim,
		ResourceID:   claim.ID.String(),
		EncounterID:  encounterID.String(),
		Message:      "Generated EDI 837 claim for encounter " + encounterID.String(),
	})

	p.handOff(ctx, claim)
	return claim, nil
}

func failedClaimID(err error) string {
	var ioErr *SubmissionIOError
	if errors.As(err, &ioErr) {
		return ioErr.ClaimID.String()
	}
	return ""
}

func (p *Pipeline) generate(ctx context.Context, encounterID uuid.UUID) (*InsuranceClaim, error) {
	if p.Locker != nil {
		lock, err := p.Locker.TryAcquire(ctx, encounterID.String())
		if errors.Is(err, kv.ErrLocked) {
			return nil, fmt.Errorf("%w: %s", ErrEncounterBusy, encounterID)
		}
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				p.Logger.Warn().Err(err).Str("encounter_id", encounterID.String()).Msg("release encounter lock")
			}
		}()
	}

	enc, ins, provider, err := p.load(ctx, encounterID)
	if err != nil {
		return nil, err
	}
	mapping, err := p.Resolver.Resolve(ctx, enc)
	if err != nil {
		return nil, err
	}
	claim, err := p.Assembler.Assemble(enc, ins, provider, mapping)
	if err != nil {
		return nil, err
	}

	content, err := p.Encoder.Encode(wireClaim(claim, ins, provider))
	if err != nil {
		return nil, fmt.Errorf("encode claim %s: %w", claim.ClaimNumber, err)
	}
	claim.EDIContent = string(content)

	if err := p.persist(ctx, "create claim", p.Claims.Create, claim); err != nil {
		return nil, err
	}

	name := ArtifactName(claim.ClaimNumber, p.Now())
	artifact, err := p.writeArtifact(ctx, name, content)
	if err != nil {
		return nil, &SubmissionIOError{ClaimID: claim.ID, ClaimNumber: claim.ClaimNumber, Artifact: name, Err: err}
	}

	if err := claim.markSubmitted(artifact.Location, p.Now()); err != nil {
		p.discard(ctx, name)
		return nil, err
	}
	if err := p.persist(ctx, "mark claim submitted", p.Claims.Update, claim); err != nil {
		p.discard(ctx, name)
		return nil, err
	}
	return claim, nil
}

func (p *Pipeline) load(ctx context.Context, encounterID uuid.UUID) (*Encounter, *InsuranceInfo, *Provider, error) {
	enc, err := p.Encounters.GetByID(ctx, encounterID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load encounter %s: %w", encounterID, err)
	}
	ins, err := p.Insurance.GetPrimaryByPatient(ctx, enc.PatientID)
	switch {
	case errors.Is(err, ErrInsuranceNotFound):
		ins = nil
	case err != nil:
		return nil, nil, nil, &PersistenceError{Op: "load primary insurance", Err: err}
	}
	provider, err := p.Providers.GetByID(ctx, enc.ProviderID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load provider %s: %w", enc.ProviderID, err)
	}
	return enc, ins, provider, nil
}

func (p *Pipeline) persist(ctx context.Context, op string, save func(context.Context, *InsuranceClaim) error, c *InsuranceClaim) error {
	ctx, span := telemetry.StartSpan(ctx, "claims.persist", attribute.String("op", op))
	defer span.End()
	if err := save(ctx, c); err != nil {
		telemetry.RecordError(span, err)
		return &PersistenceError{Op: op, Err: err}
	}
	return nil
}

// writeArtifact stores content under name. Each attempt is bounded by the
// store's own timeout; whatever an abandoned attempt left behind is removed
// before the error is returned.
func (p *Pipeline) writeArtifact(ctx context.Context, name string, content []byte) (*blobstore.Artifact, error) {
	ctx, span := telemetry.StartSpan(ctx, "claims.write_artifact", attribute.String("artifact", name))
	defer span.End()

	var artifact *blobstore.Artifact
	err := retry.DoNotify(ctx, p.WriteRetry, func(ctx context.Context) error {
		a, err := p.Artifacts.Put(ctx, name, content)
		if err != nil {
			if errors.Is(err, blobstore.ErrInvalidName) || errors.Is(err, blobstore.ErrMissingName) {
				return retry.Permanent(err)
			}
			return err
		}
		artifact = a
		return nil
	}, func(attempt int, err error, next time.Duration) {
		p.Logger.Warn().Err(err).Str("artifact", name).Int("attempt", attempt).Dur("retry_in", next).Msg("artifact write failed")
	})
	if err != nil {
		telemetry.RecordError(span, err)
		p.discard(ctx, name)
		return nil, err
	}
	return artifact, nil
}

func (p *Pipeline) discard(ctx context.Context, name string) {
	err := p.Artifacts.Delete(context.WithoutCancel(ctx), name)
	if err != nil && !errors.Is(err, blobstore.ErrArtifactNotFound) {
		p.Logger.Warn().Err(err).Str("artifact", name).Msg("remove artifact")
	}
}

// handOff mirrors the artifact and passes it to the clearinghouse. Failures
// here never change claim state.
func (p *Pipeline) handOff(ctx context.Context, c *InsuranceClaim) {
	content := []byte(c.EDIContent)
	location := deref(c.EDIFilePath)

	if p.Mirror != nil {
		name := filepath.Base(location)
		if _, err := p.Mirror.Put(ctx, name, content); err != nil {
			p.transportFailed(ctx, c, "mirror", err)
		}
	}
	if p.Transport != nil {
		err := p.Transport.Submit(ctx, clearinghouse.Submission{
			ClaimID:     c.ID.String(),
			ClaimNumber: c.ClaimNumber,
			Location:    location,
			Content:     content,
		})
		if err != nil {
			p.transportFailed(ctx, c, "clearinghouse", err)
		}
	}
}

func (p *Pipeline) transportFailed(ctx context.Context, c *InsuranceClaim, stage string, err error) {
	p.Logger.Error().Err(err).Str("claim_number", c.ClaimNumber).Str("stage", stage).Msg("claim hand-off failed")
	p.record(ctx, &audit.Event{
		Type:         EventClaimTransportFailed,
		ResourceType: ResourceClaim,
		ResourceID:   c.ID.String(),
		EncounterID:  c.EncounterID.String(),
		Outcome:      audit.OutcomeFailure,
		ErrorKind:    stage,
		Message:      err.Error(),
	})
}

func (p *Pipeline) record(ctx context.Context, e *audit.Event) {
	if err := p.Audit.Record(ctx, e); err != nil {
		p.Logger.Error().Err(err).Str("event", e.Type).Msg("record audit event")
	}
}

func wireClaim(c *InsuranceClaim, ins *InsuranceInfo, provider *Provider) edi.Claim {
	return edi.Claim{
		ClaimNumber:         c.ClaimNumber,
		ControlNumber:       c.ControlNumber,
		BillingProviderName: provider.Name,
		BillingProviderNPI:  c.BillingProviderNPI,
		GroupNumber:         deref(ins.GroupNumber),
		SubscriberFirstName: ins.SubscriberFirstName,
		SubscriberLastName:  ins.SubscriberLastName,
		MemberID:            ins.MemberID,
		SubscriberDOB:       ins.SubscriberDOB,
		SubscriberSex:       deref(ins.SubscriberGender),
		PayerName:           ins.ProviderName,
		PayerID:             ins.PayerID,
		CPTCode:             c.CPTCode,
		ICD10Code:           c.ICD10Code,
		BilledAmount:        c.BilledAmount,
		Units:               c.Units,
		ServiceDate:         c.ServiceDate,
	}
}
