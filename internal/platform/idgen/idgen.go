// Package idgen allocates the claim numbers and X12 control numbers stamped on
// generated claims. Generators are safe for concurrent use.
package idgen

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

// ClaimNumberPrefix is the literal prefix of every claim number.
const ClaimNumberPrefix = "CLM"

// IdentifierGenerator hands out claim and control numbers.
type IdentifierGenerator interface {
	ClaimNumber() string
	ControlNumber() string
}

// ---------------------------------------------------------------------------
// Monotonic generator
// ---------------------------------------------------------------------------

// Monotonic derives identifiers from wall-clock milliseconds but never hands
// out the same millisecond twice: when the clock has not advanced since the
// last call, the previous value plus one is used instead.
type Monotonic struct {
	mu          sync.Mutex
	now         func() time.Time
	token       func() string
	lastClaim   int64
	lastControl int64
}

// Option configures a Monotonic generator.
type Option func(*Monotonic)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monotonic) { m.now = now }
}

// WithToken overrides the random token appended to claim numbers.
func WithToken(token func() string) Option {
	return func(m *Monotonic) { m.token = token }
}

// NewMonotonic returns a generator backed by the system clock and random UUIDs.
func NewMonotonic(opts ...Option) *Monotonic {
	m := &Monotonic{
		now:   time.Now,
		token: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ClaimNumber returns "CLM" + milliseconds + the first 8 characters of a
// random token.
func (m *Monotonic) ClaimNumber() string {
	m.mu.Lock()
	ms := next(&m.lastClaim, m.now().UnixMilli())
	m.mu.Unlock()

	tok := m.token()
	if len(tok) > 8 {
		tok = tok[:8]
	}
	return ClaimNumberPrefix + strconv.FormatInt(ms, 10) + tok
}

// ControlNumber returns the current millisecond as a decimal string.
func (m *Monotonic) ControlNumber() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return strconv.FormatInt(next(&m.lastControl, m.now().UnixMilli()), 10)
}

func next(last *int64, now int64) int64 {
	if now <= *last {
		now = *last + 1
	}
	*last = now
	return now
}

// ---------------------------------------------------------------------------
// Snowflake generator
// ---------------------------------------------------------------------------

// Snowflake issues control numbers from a snowflake node so that several
// server instances never collide. Claim numbers keep the monotonic format.
type Snowflake struct {
	node   *snowflake.Node
	claims *Monotonic
}

// NewSnowflake creates a generator for the given node (0-1023).
func NewSnowflake(nodeID int64, opts ...Option) (*Snowflake, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("create snowflake node %d: %w", nodeID, err)
	}
	return &Snowflake{node: node, claims: NewMonotonic(opts...)}, nil
}

func (s *Snowflake) ClaimNumber() string { return s.claims.ClaimNumber() }

func (s *Snowflake) ControlNumber() string { return s.node.Generate().String() }

// New builds the generator selected by kind ("monotonic" or "snowflake").
func New(kind string, nodeID int64) (IdentifierGenerator, error) {
	switch strings.ToLower(kind) {
	case "", "monotonic":
		return NewMonotonic(), nil
	case "snowflake":
		return NewSnowflake(nodeID)
	default:
		return nil, fmt.Errorf("unknown id generator %q", kind)
	}
}

// ---------------------------------------------------------------------------
// Static generator
// ---------------------------------------------------------------------------

// Static replays fixed values. Control numbers are consumed in order and the
// last one repeats once the list is exhausted.
type Static struct {
	mu       sync.Mutex
	Claim    string
	Controls []string
	pos      int
}

// NewStatic returns a Static generator.
func NewStatic(claim string, controls ...string) *Static {
	return &Static{Claim: claim, Controls: controls}
}

func (s *Static) ClaimNumber() string { return s.Claim }

func (s *Static) ControlNumber() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Controls) == 0 {
		return ""
	}
	if s.pos >= len(s.Controls) {
		return s.Controls[len(s.Controls)-1]
	}
	v := s.Controls[s.pos]
	s.pos++
	return v
}
