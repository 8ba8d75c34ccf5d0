package edi

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyInterchange = errors.New("edi: empty interchange")
	ErrMissingEnvelope  = errors.New("edi: interchange must start with ISA and end with IEA")
)

// Segment is one X12 segment split into its elements. Elements[0] is the
// first data element, not the segment ID.
type Segment struct {
	ID       string
	Elements []string
}

// Element returns the 1-based element n, or "" when absent.
func (s Segment) Element(n int) string {
	if n < 1 || n > len(s.Elements) {
		return ""
	}
	return s.Elements[n-1]
}

// Parse splits an interchange on the segment terminator and then on the
// element separator. Whitespace between segments is ignored.
func Parse(data []byte) ([]Segment, error) {
	raw := strings.Split(string(data), SegmentTerminator)
	segs := make([]Segment, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		parts := strings.Split(r, ElementSeparator)
		segs = append(segs, Segment{ID: parts[0], Elements: parts[1:]})
	}
	if len(segs) == 0 {
		return nil, ErrEmptyInterchange
	}
	if segs[0].ID != "ISA" || segs[len(segs)-1].ID != "IEA" {
		return nil, ErrMissingEnvelope
	}
	return segs, nil
}

// Summary is the claim-level content recovered from an 837P interchange.
type Summary struct {
	SenderID           string
	ReceiverID         string
	InterchangeControl string
	TrailerControl     string
	ClaimControl       string
	BillingProviderNPI string
	MemberID           string
	PayerID            string
	CPTCode            string
	ICD10Code          string
	BilledAmount       decimal.Decimal
	Units              int
	ServiceDate        time.Time
	ClaimNumber        string
	SegmentCount       int
}

// Summarize parses data and extracts the fields of its single service line.
func Summarize(data []byte) (*Summary, error) {
	segs, err := Parse(data)
	if err != nil {
		return nil, err
	}

	s := &Summary{SegmentCount: len(segs)}
	for _, seg := range segs {
		switch seg.ID {
		case "ISA":
			s.SenderID = seg.Element(6)
			s.ReceiverID = seg.Element(8)
			s.InterchangeControl = seg.Element(13)
		case "IEA":
			s.TrailerControl = seg.Element(2)
		case "BHT":
			s.ClaimControl = seg.Element(3)
		case "NM1":
			switch seg.Element(1) {
			case "85":
				s.BillingProviderNPI = seg.Element(9)
			case "IL":
				// Person names carry a middle-name element, so the
				// identifier sits one position later than for 85 and PR.
				s.MemberID = seg.Element(10)
			case "PR":
				s.PayerID = seg.Element(9)
			}
		case "HI":
			code := seg.Element(1)
			if i := strings.Index(code, ComponentSeparator); i >= 0 {
				s.ICD10Code = code[i+1:]
			}
		case "SV1":
			s.CPTCode = seg.Element(1)
			amt, err := decimal.NewFromString(seg.Element(2))
			if err != nil {
				return nil, fmt.Errorf("edi: SV1 amount %q: %w", seg.Element(2), err)
			}
			s.BilledAmount = amt
			if u := seg.Element(5); u != "" {
				n, err := strconv.Atoi(u)
				if err != nil {
					return nil, fmt.Errorf("edi: SV1 units %q: %w", u, err)
				}
				s.Units = n
			}
		case "DTP":
			if seg.Element(1) == "472" {
				d, err := time.Parse("20060102", seg.Element(3))
				if err != nil {
					return nil, fmt.Errorf("edi: DTP service date %q: %w", seg.Element(3), err)
				}
				s.ServiceDate = d
			}
		case "REF":
			if seg.Element(1) == "6R" {
				s.ClaimNumber = seg.Element(2)
			}
		}
	}
	if s.CPTCode == "" {
		return nil, errors.New("edi: no SV1 service line")
	}
	return s, nil
}
