// Package edi renders single-claim ANSI X12 837 Professional interchanges and
// reads them back into segments.
//
// The encoder output is line-oriented: every segment terminator is followed
// by a newline. Downstream tooling depends on that layout, so it must not be
// changed without coordinating with the clearinghouse feed.
package edi

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	ElementSeparator   = "*"
	SegmentTerminator  = "~"
	ComponentSeparator = ":"
	RepetitionSep      = "^"

	// ImplementationVersion is the 837P guide referenced by GS08 and ST03.
	ImplementationVersion = "005010X222A1"
	InterchangeVersion    = "00501"

	TransactionControlNumber = "0001"
	GroupControlNumber       = "1"

	// BillingTaxonomy is the primary care provider taxonomy sent in PRV03.
	BillingTaxonomy = "207Q00000X"
)

// Submitter and receiver placeholders carried by every interchange.
const (
	DefaultSubmitterName = "AI TELEMEDICINE PLATFORM"
	DefaultReceiverName  = "CLEARINGHOUSE NAME"
	SubmitterContact     = "CONTACT PERSON"
	SubmitterPhone       = "555-123-4567"
	SubmitterEmail       = "claims@aitelemedicine.com"

	billingStreet   = "123 MAIN STREET"
	billingCity     = "ANYTOWN"
	billingState    = "NY"
	billingZip      = "12345"
	subscriberAddr  = "456 PATIENT STREET"
	subscriberCity  = "PATIENT CITY"
	subscriberState = "NY"
	subscriberZip   = "54321"
)

// Envelope holds the interchange-level identities taken from configuration.
type Envelope struct {
	SenderID      string
	ReceiverID    string
	SubmitterName string
	ReceiverName  string
}

// Claim is the subset of a claim record that appears on the wire.
type Claim struct {
	ClaimNumber   string
	ControlNumber string

	BillingProviderName string
	BillingProviderNPI  string

	GroupNumber         string
	SubscriberFirstName string
	SubscriberLastName  string
	MemberID            string
	SubscriberDOB       *time.Time
	SubscriberSex       string

	PayerName string
	PayerID   string

	CPTCode      string
	ICD10Code    string
	BilledAmount decimal.Decimal
	Units        int
	ServiceDate  time.Time
}

// ErrDelimiterInData is returned by Encode when a claim or envelope value
// contains one of the interchange separators.
var ErrDelimiterInData = errors.New("edi: value contains an X12 delimiter")

// DelimiterError names the offending field.
type DelimiterError struct {
	Field string
	Value string
}

func (e *DelimiterError) Error() string {
	return fmt.Sprintf("edi: %s %q contains an X12 delimiter", e.Field, e.Value)
}

func (e *DelimiterError) Unwrap() error { return ErrDelimiterInData }

const delimiters = ElementSeparator + SegmentTerminator + ComponentSeparator + RepetitionSep

// checkValues rejects any value carrying a separator. Values are never
// escaped or stripped: X12 has no escape sequence.
func checkValues(fields ...[2]string) error {
	for _, f := range fields {
		if strings.ContainsAny(f[1], delimiters) {
			return &DelimiterError{Field: f[0], Value: f[1]}
		}
	}
	return nil
}

func (e *Encoder) validate(c Claim) error {
	return checkValues(
		[2]string{"sender id", e.env.SenderID},
		[2]string{"receiver id", e.env.ReceiverID},
		[2]string{"submitter name", e.env.SubmitterName},
		[2]string{"receiver name", e.env.ReceiverName},
		[2]string{"claim number", c.ClaimNumber},
		[2]string{"control number", c.ControlNumber},
		[2]string{"billing provider name", c.BillingProviderName},
		[2]string{"billing provider npi", c.BillingProviderNPI},
		[2]string{"group number", c.GroupNumber},
		[2]string{"subscriber first name", c.SubscriberFirstName},
		[2]string{"subscriber last name", c.SubscriberLastName},
		[2]string{"member id", c.MemberID},
		[2]string{"payer name", c.PayerName},
		[2]string{"payer id", c.PayerID},
		[2]string{"cpt code", c.CPTCode},
		[2]string{"icd-10 code", c.ICD10Code},
	)
}

// ControlSource supplies fresh interchange control numbers.
type ControlSource interface {
	ControlNumber() string
}

// Encoder turns claims into 837P interchanges. Its clock and control number
// source are injected so output is reproducible.
type Encoder struct {
	env       Envelope
	controls  ControlSource
	now       func() time.Time
	diagnosis bool
}

// EncoderOption configures an Encoder.
type EncoderOption func(*Encoder)

// WithClock sets the time used for ISA/GS/BHT dates.
func WithClock(now func() time.Time) EncoderOption {
	return func(e *Encoder) { e.now = now }
}

// WithDiagnosisSegment adds an HI segment carrying the ICD-10 code ahead of the
// service line. Off by default; the clearinghouse feed expects the 25-segment
// layout.
func WithDiagnosisSegment() EncoderOption {
	return func(e *Encoder) { e.diagnosis = true }
}

// NewEncoder returns an Encoder for the given envelope.
func NewEncoder(env Envelope, controls ControlSource, opts ...EncoderOption) *Encoder {
	if env.SubmitterName == "" {
		env.SubmitterName = DefaultSubmitterName
	}
	if env.ReceiverName == "" {
		env.ReceiverName = DefaultReceiverName
	}
	e := &Encoder{env: env, controls: controls, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Encode renders c as an interchange. ISA13 and IEA02 draw separate control
// numbers, matching the established feed. A value containing a separator
// yields a *DelimiterError and no output.
func (e *Encoder) Encode(c Claim) ([]byte, error) {
	if err := e.validate(c); err != nil {
		return nil, err
	}
	now := e.now()
	yymmdd := now.Format("060102")
	ccyymmdd := now.Format("20060102")
	hhmm := now.Format("1504")

	w := &writer{}
	w.seg("ISA", "00", "          ", "00", "          ",
		"ZZ", e.env.SenderID, "ZZ", e.env.ReceiverID,
		yymmdd, hhmm, RepetitionSep, InterchangeVersion, e.controls.ControlNumber(),
		"0", "P", ComponentSeparator)
	w.seg("GS", "HC", e.env.SenderID, e.env.ReceiverID, ccyymmdd, hhmm,
		GroupControlNumber, "X", ImplementationVersion)
	w.seg("ST", "837", TransactionControlNumber, ImplementationVersion)
	w.seg("BHT", "0019", "00", c.ControlNumber, ccyymmdd, hhmm, "CH")

	// 1000A / 1000B
	w.seg("NM1", "41", "2", e.env.SubmitterName, "", "", "", "", "46", e.env.SenderID)
	w.seg("PER", "IC", SubmitterContact, "TE", SubmitterPhone, "EM", SubmitterEmail)
	w.seg("NM1", "40", "2", e.env.ReceiverName, "", "", "", "", "46", e.env.ReceiverID)

	// 2000A billing provider
	w.seg("HL", "1", "", "20", "1")
	w.seg("PRV", "BI", "PXC", BillingTaxonomy)
	w.seg("NM1", "85", "2", c.BillingProviderName, "", "", "", "", "XX", c.BillingProviderNPI)
	w.seg("N3", billingStreet)
	w.seg("N4", billingCity, billingState, billingZip)

	// 2000B subscriber
	w.seg("HL", "2", "1", "22", "0")
	w.seg("SBR", "P", "18", c.GroupNumber, "", "", "", "", "CI")
	w.seg("NM1", "IL", "1", c.SubscriberLastName, c.SubscriberFirstName, "", "", "", "", "MI", c.MemberID)
	w.seg("N3", subscriberAddr)
	w.seg("N4", subscriberCity, subscriberState, subscriberZip)
	if c.SubscriberDOB != nil {
		w.seg("DMG", "D8", c.SubscriberDOB.Format("20060102"), sexCode(c.SubscriberSex))
	}
	w.seg("NM1", "PR", "2", c.PayerName, "", "", "", "", "PI", c.PayerID)

	// 2300 claim / 2400 service line
	w.seg("HL", "3", "2", "23", "0")
	if e.diagnosis && c.ICD10Code != "" {
		w.seg("HI", "ABK"+ComponentSeparator+c.ICD10Code)
	}
	w.seg("LX", "1")
	w.seg("SV1", c.CPTCode, FormatAmount(c.BilledAmount), "UN", "1", strconv.Itoa(c.Units), "N")
	w.seg("DTP", "472", "D8", c.ServiceDate.Format("20060102"))
	w.seg("REF", "6R", c.ClaimNumber)

	w.seg("SE", "1", TransactionControlNumber)
	w.seg("GE", "1", GroupControlNumber)
	w.seg("IEA", "1", e.controls.ControlNumber())
	return w.bytes(), nil
}

// FormatAmount renders a monetary value with two decimal places and no
// grouping or currency symbol.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// sexCode maps a subscriber gender to DMG03. Unknown or empty input yields "M".
func sexCode(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "F", "FEMALE":
		return "F"
	case "U", "UNKNOWN":
		return "U"
	default:
		return "M"
	}
}

type writer struct {
	b strings.Builder
}

func (w *writer) seg(id string, elems ...string) {
	w.b.WriteString(id)
	for _, el := range elems {
		w.b.WriteString(ElementSeparator)
		w.b.WriteString(el)
	}
	w.b.WriteString(SegmentTerminator)
	w.b.WriteByte('\n')
}

func (w *writer) bytes() []byte {
	return []byte(w.b.String())
}
