package billing

import (
	"fmt"
	"time"
)

// ClaimStatus tracks a claim through adjudication.
type ClaimStatus string

const (
	ClaimDraft         ClaimStatus = "DRAFT"
	ClaimReadyToSubmit ClaimStatus = "READY_TO_SUBMIT"
	ClaimSubmitted     ClaimStatus = "SUBMITTED"
	ClaimAccepted      ClaimStatus = "ACCEPTED"
	ClaimRejected      ClaimStatus = "REJECTED"
	ClaimPaid          ClaimStatus = "PAID"
	ClaimDenied        ClaimStatus = "DENIED"
	ClaimAppealed      ClaimStatus = "APPEALED"
	ClaimClosed        ClaimStatus = "CLOSED"
)

var claimTransitions = map[ClaimStatus][]ClaimStatus{
	ClaimDraft:         {ClaimReadyToSubmit},
	ClaimReadyToSubmit: {ClaimSubmitted},
	ClaimSubmitted:     {ClaimAccepted, ClaimRejected},
	ClaimAccepted:      {ClaimPaid, ClaimDenied},
	ClaimRejected:      {ClaimAppealed, ClaimClosed},
	ClaimPaid:          {ClaimClosed},
	ClaimDenied:        {ClaimAppealed, ClaimClosed},
	ClaimAppealed:      {ClaimClosed},
	ClaimClosed:        nil,
}

func (s ClaimStatus) Valid() bool {
	_, ok := claimTransitions[s]
	return ok
}

// Terminal reports whether no further transition leaves s.
func (s ClaimStatus) Terminal() bool {
	return s.Valid() && len(claimTransitions[s]) == 0
}

func (s ClaimStatus) CanTransitionTo(to ClaimStatus) bool {
	for _, next := range claimTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseClaimStatus validates a status name.
func ParseClaimStatus(v string) (ClaimStatus, error) {
	s := ClaimStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("%w: claim status %q", ErrInvalidStatus, v)
	}
	return s, nil
}

// SubmissionStatus tracks the claim's trip through clearinghouse and payer.
type SubmissionStatus string

const (
	SubmissionNotSubmitted            SubmissionStatus = "NOT_SUBMITTED"
	SubmissionToClearinghouse         SubmissionStatus = "SUBMITTED_TO_CLEARINGHOUSE"
	SubmissionAcceptedByClearinghouse SubmissionStatus = "ACCEPTED_BY_CLEARINGHOUSE"
	SubmissionRejectedByClearinghouse SubmissionStatus = "REJECTED_BY_CLEARINGHOUSE"
	SubmissionToPayer                 SubmissionStatus = "SUBMITTED_TO_PAYER"
	SubmissionAcceptedByPayer         SubmissionStatus = "ACCEPTED_BY_PAYER"
	SubmissionRejectedByPayer         SubmissionStatus = "REJECTED_BY_PAYER"
	SubmissionPaid                    SubmissionStatus = "PAID"
	SubmissionDenied                  SubmissionStatus = "DENIED"
)

var submissionTransitions = map[SubmissionStatus][]SubmissionStatus{
	SubmissionNotSubmitted:            {SubmissionToClearinghouse},
	SubmissionToClearinghouse:         {SubmissionAcceptedByClearinghouse, SubmissionRejectedByClearinghouse},
	SubmissionAcceptedByClearinghouse: {SubmissionToPayer},
	SubmissionRejectedByClearinghouse: nil,
	SubmissionToPayer:                 {SubmissionAcceptedByPayer, SubmissionRejectedByPayer},
	SubmissionAcceptedByPayer:         {SubmissionPaid, SubmissionDenied},
	SubmissionRejectedByPayer:         nil,
	SubmissionPaid:                    nil,
	SubmissionDenied:                  nil,
}

func (s SubmissionStatus) Valid() bool {
	_, ok := submissionTransitions[s]
	return ok
}

func (s SubmissionStatus) Terminal() bool {
	return s.Valid() && len(submissionTransitions[s]) == 0
}

func (s SubmissionStatus) CanTransitionTo(to SubmissionStatus) bool {
	for _, next := range submissionTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func ParseSubmissionStatus(v string) (SubmissionStatus, error) {
	s := SubmissionStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("%w: submission status %q", ErrInvalidStatus, v)
	}
	return s, nil
}

// TransitionStatus moves the claim along the ClaimStatus graph.
func (c *InsuranceClaim) TransitionStatus(to ClaimStatus) error {
	if !to.Valid() {
		return fmt.Errorf("%w: claim status %q", ErrInvalidStatus, to)
	}
	if !c.Status.CanTransitionTo(to) {
		return &InvalidTransitionError{Axis: "claim status", From: string(c.Status), To: string(to)}
	}
	c.Status = to
	return nil
}

// OverrideStatus sets any known status regardless of the current one. It is
// the administrative escape hatch; TransitionStatus is the normal path.
func (c *InsuranceClaim) OverrideStatus(to ClaimStatus) error {
	if !to.Valid() {
		return fmt.Errorf("%w: claim status %q", ErrInvalidStatus, to)
	}
	c.Status = to
	return nil
}

// TransitionSubmission moves the claim along the SubmissionStatus graph.
func (c *InsuranceClaim) TransitionSubmission(to SubmissionStatus) error {
	if !to.Valid() {
		return fmt.Errorf("%w: submission status %q", ErrInvalidStatus, to)
	}
	if !c.SubmissionStatus.CanTransitionTo(to) {
		return &InvalidTransitionError{Axis: "submission status", From: string(c.SubmissionStatus), To: string(to)}
	}
	c.SubmissionStatus = to
	return nil
}

// markSubmitted records a written artifact and advances both axes.
func (c *InsuranceClaim) markSubmitted(location string, at time.Time) error {
	if err := c.TransitionSubmission(SubmissionToClearinghouse); err != nil {
		return err
	}
	if err := c.TransitionStatus(ClaimSubmitted); err != nil {
		return err
	}
	c.EDIFilePath = &location
	c.SubmissionDate = &at
	return nil
}

// PayerOutcome is the adjudication result carried by a payer response.
type PayerOutcome string

const (
	PayerAccepted PayerOutcome = "ACCEPTED"
	PayerRejected PayerOutcome = "REJECTED"
	PayerPaid     PayerOutcome = "PAID"
	PayerDenied   PayerOutcome = "DENIED"
)

var payerOutcomes = map[PayerOutcome]struct {
	submission SubmissionStatus
	claim      ClaimStatus
}{
	PayerAccepted: {SubmissionAcceptedByPayer, ClaimAccepted},
	PayerRejected: {SubmissionRejectedByPayer, ClaimRejected},
	PayerPaid:     {SubmissionPaid, ClaimPaid},
	PayerDenied:   {SubmissionDenied, ClaimDenied},
}

// recordClearinghouse stores a raw clearinghouse acknowledgment. A rejection
// also moves the claim to REJECTED.
func (c *InsuranceClaim) recordClearinghouse(raw string, accepted bool, reason string, at time.Time) error {
	next := SubmissionAcceptedByClearinghouse
	if !accepted {
		next = SubmissionRejectedByClearinghouse
	}
	if err := c.TransitionSubmission(next); err != nil {
		return err
	}
	if !accepted {
		if err := c.TransitionStatus(ClaimRejected); err != nil {
			return err
		}
		if reason != "" {
			c.RejectionReason = &reason
		}
	}
	c.ClearinghouseResponse = &raw
	c.ResponseDate = &at
	return nil
}

// recordPayer stores a raw payer response and applies its outcome to both
// axes. A PAID or DENIED outcome on a claim the payer had not yet accepted
// passes through ACCEPTED_BY_PAYER / ACCEPTED first.
func (c *InsuranceClaim) recordPayer(raw string, outcome PayerOutcome, reason string, at time.Time) error {
	target, ok := payerOutcomes[outcome]
	if !ok {
		return fmt.Errorf("%w: payer outcome %q", ErrInvalidStatus, outcome)
	}
	if (outcome == PayerPaid || outcome == PayerDenied) && c.SubmissionStatus == SubmissionToPayer {
		if err := c.TransitionSubmission(SubmissionAcceptedByPayer); err != nil {
			return err
		}
		if c.Status == ClaimSubmitted {
			if err := c.TransitionStatus(ClaimAccepted); err != nil {
				return err
			}
		}
	}
	if err := c.TransitionSubmission(target.submission); err != nil {
		return err
	}
	if c.Status != target.claim {
		if err := c.TransitionStatus(target.claim); err != nil {
			return err
		}
	}
	if reason != "" {
		c.RejectionReason = &reason
	}
	c.PayerResponse = &raw
	c.ResponseDate = &at
	return nil
}
