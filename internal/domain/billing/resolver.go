package billing

import (
	"context"
	"sort"
	"strings"
)

// Resolver selects the code mapping billed for an encounter.
//
// Tiers are tried in order and the first with any eligible match wins:
//  1. mappings whose AI diagnosis contains the encounter's AI analysis
//  2. mappings whose manual diagnosis contains the encounter's diagnosis
//  3. mappings tagged with the encounter's type
//  4. mappings tagged CONSULTATION
//
// Within a tier the highest priority wins, then the oldest mapping, then the
// lowest ID. Diagnosis matching is a case-sensitive substring test.
type Resolver struct {
	mappings        CodeMappingRepository
	requireApproved bool
}

type ResolverOption func(*Resolver)

// WithRequireApproved limits eligibility to APPROVED mappings in addition to
// active ones.
func WithRequireApproved(on bool) ResolverOption {
	return func(r *Resolver) { r.requireApproved = on }
}

func NewResolver(mappings CodeMappingRepository, opts ...ResolverOption) *Resolver {
	r := &Resolver{mappings: mappings}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) Resolve(ctx context.Context, enc *Encounter) (*CodeMapping, error) {
	active, err := r.mappings.ListActive(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "list active code mappings", Err: err}
	}
	if m := r.selectMapping(active, enc); m != nil {
		return m, nil
	}
	return nil, &NoCodeMappingFoundError{EncounterID: enc.ID, EncounterType: encounterType(enc)}
}

func encounterType(enc *Encounter) string {
	if enc.Type == "" {
		return DefaultEncounterType
	}
	return enc.Type
}

func (r *Resolver) selectMapping(all []*CodeMapping, enc *Encounter) *CodeMapping {
	eligible := make([]*CodeMapping, 0, len(all))
	for _, m := range all {
		if !m.Active {
			continue
		}
		if r.requireApproved && m.Status != MappingApproved {
			continue
		}
		eligible = append(eligible, m)
	}
	sortMappings(eligible)

	if ai := deref(enc.AIAnalysis); ai != "" {
		if m := first(eligible, func(m *CodeMapping) bool { return strings.Contains(deref(m.AIDiagnosis), ai) }); m != nil {
			return m
		}
	}
	if dx := deref(enc.Diagnosis); dx != "" {
		if m := first(eligible, func(m *CodeMapping) bool { return strings.Contains(deref(m.ManualDiagnosis), dx) }); m != nil {
			return m
		}
	}
	typ := encounterType(enc)
	if m := first(eligible, func(m *CodeMapping) bool { return m.EncounterType == typ }); m != nil {
		return m
	}
	return first(eligible, func(m *CodeMapping) bool { return m.EncounterType == DefaultEncounterType })
}

// sortMappings orders by priority desc, CreatedAt asc, ID asc.
func sortMappings(ms []*CodeMapping) {
	sort.SliceStable(ms, func(i, j int) bool {
		a, b := ms[i], ms[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
}

func first(ms []*CodeMapping, match func(*CodeMapping) bool) *CodeMapping {
	for _, m := range ms {
		if match(m) {
			return m
		}
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
