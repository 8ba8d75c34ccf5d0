package billing

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/claims/internal/platform/edi"
)

var (
	ErrEncounterNotFound   = errors.New("encounter not found")
	ErrProviderNotFound    = errors.New("provider not found")
	ErrInsuranceNotFound   = errors.New("insurance not found")
	ErrClaimNotFound       = errors.New("claim not found")
	ErrCodeMappingNotFound = errors.New("code mapping not found")
	ErrEncounterBusy       = errors.New("claim generation already in progress for encounter")
	ErrInvalidStatus       = errors.New("invalid status")
)

// NoCodeMappingFoundError means no active mapping matched at any tier.
type NoCodeMappingFoundError struct {
	EncounterID   uuid.UUID
	EncounterType string
}

func (e *NoCodeMappingFoundError) Error() string {
	return fmt.Sprintf("no code mapping found for encounter %s (type %s)", e.EncounterID, e.EncounterType)
}

// NoPrimaryInsuranceError means the patient has no insurance flagged primary.
type NoPrimaryInsuranceError struct {
	PatientID uuid.UUID
}

func (e *NoPrimaryInsuranceError) Error() string {
	return fmt.Sprintf("no primary insurance found for patient %s", e.PatientID)
}

// SubmissionIOError means the 837 artifact could not be written. The claim
// row it names exists and is still READY_TO_SUBMIT / NOT_SUBMITTED.
type SubmissionIOError struct {
	ClaimID     uuid.UUID
	ClaimNumber string
	Artifact    string
	Err         error
}

func (e *SubmissionIOError) Error() string {
	return fmt.Sprintf("write 837 artifact %s for claim %s: %v", e.Artifact, e.ClaimNumber, e.Err)
}

func (e *SubmissionIOError) Unwrap() error { return e.Err }

// PersistenceError wraps a failed claim store operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// InvalidTransitionError rejects a status change the lifecycle does not allow.
type InvalidTransitionError struct {
	Axis string
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition from %s to %s", e.Axis, e.From, e.To)
}

// Error kinds reported to audit events, logs and metrics.
const (
	KindNoCodeMapping      = "no_code_mapping"
	KindNoPrimaryInsurance = "no_primary_insurance"
	KindSubmissionIO       = "submission_io"
	KindInvalidClaimData   = "invalid_claim_data"
	KindPersistence        = "persistence"
	KindInvalidTransition  = "invalid_transition"
	KindInvalidStatus      = "invalid_status"
	KindNotFound           = "not_found"
	KindBusy               = "encounter_busy"
	KindInternal           = "internal"
)

// Kind classifies err into one of the Kind constants.
func Kind(err error) string {
	var (
		noMapping   *NoCodeMappingFoundError
		noInsurance *NoPrimaryInsuranceError
		ioErr       *SubmissionIOError
		persistErr  *PersistenceError
		transition  *InvalidTransitionError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &noMapping):
		return KindNoCodeMapping
	case errors.As(err, &noInsurance):
		return KindNoPrimaryInsurance
	case errors.As(err, &ioErr):
		return KindSubmissionIO
	case errors.Is(err, edi.ErrDelimiterInData):
		return KindInvalidClaimData
	case errors.As(err, &transition):
		return KindInvalidTransition
	case errors.Is(err, ErrEncounterBusy):
		return KindBusy
	case errors.Is(err, ErrInvalidStatus):
		return KindInvalidStatus
	case errors.Is(err, ErrEncounterNotFound), errors.Is(err, ErrClaimNotFound),
		errors.Is(err, ErrProviderNotFound), errors.Is(err, ErrCodeMappingNotFound):
		return KindNotFound
	case errors.As(err, &persistErr):
		return KindPersistence
	}
	return KindInternal
}

// httpError converts a domain error into an echo HTTP error.
func httpError(err error) *echo.HTTPError {
	status := http.StatusInternalServerError
	switch Kind(err) {
	case KindNotFound:
		status = http.StatusNotFound
	case KindNoCodeMapping, KindNoPrimaryInsurance, KindInvalidClaimData:
		status = http.StatusUnprocessableEntity
	case KindInvalidTransition, KindBusy:
		status = http.StatusConflict
	case KindInvalidStatus:
		status = http.StatusBadRequest
	case KindSubmissionIO:
		status = http.StatusBadGateway
	}
	return echo.NewHTTPError(status, err.Error())
}
