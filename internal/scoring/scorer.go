// Package scoring decides which context a payload most likely belongs
// to. It ranks every registered context with five weighted signals and
// flags genuinely ambiguous results for the caller to resolve instead
// of guessing. The scorer knows nothing about storage or caching; it
// consumes a recompiled view of the context configurations and an
// entity membership map maintained by the manager.
package scoring

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hyperengineering/lattice/internal/types"
)

// Signal weights. They sum to exactly 1.0; the invariant is pinned by a
// test.
const (
	WeightEntityExists    = 0.25
	WeightEntityType      = 0.30
	WeightKeywordMatch    = 0.35
	WeightRelationContext = 0.05
	WeightTemporal        = 0.05
)

// Confidence thresholds.
const (
	// LowConfidenceThreshold gates the self-reinforcing recent-use
	// update: a routing below it leaves no temporal trace.
	LowConfidenceThreshold = 0.15
	// MediumConfidenceThreshold is the boundary below which routing
	// metadata reports the match as low-confidence.
	MediumConfidenceThreshold = 0.30
	// AmbiguityGap is the minimum lead the top context needs over the
	// runner-up to be routed without prompting.
	AmbiguityGap = 0.10
)

const (
	temporalHalfLife = 3600.0 // seconds
	temporalDivisor  = 3.0

	recentMaxEntries = 50
	recentMaxAge     = 24 * time.Hour
)

// Profile is the scorer's read-only view of one context configuration.
type Profile struct {
	Name        string
	Patterns    []string
	EntityTypes []string
}

// compiledProfile holds precompiled word-boundary matchers and a type set.
type compiledProfile struct {
	name     string
	matchers []*regexp.Regexp
	patterns []string
	typeSet  map[string]bool
}

// recentUse is one entry in the decaying recent-context history.
type recentUse struct {
	context string
	at      time.Time
}

// Scorer ranks contexts for routing payloads.
type Scorer struct {
	mu         sync.Mutex
	profiles   []*compiledProfile
	membership map[string]string // lowercase entity name -> context
	recent     []recentUse
	now        func() time.Time
}

// NewScorer creates an empty scorer. Call Recompile to register
// context profiles.
func NewScorer() *Scorer {
	return &Scorer{
		membership: make(map[string]string),
		now:        time.Now,
	}
}

// Recompile replaces the scorer's view of all context configurations,
// precompiling case-insensitive word-boundary matchers for each pattern.
// Patterns that fail to compile are skipped.
func (s *Scorer) Recompile(profiles []Profile) {
	compiled := make([]*compiledProfile, 0, len(profiles))
	for _, p := range profiles {
		cp := &compiledProfile{
			name:    p.Name,
			typeSet: make(map[string]bool, len(p.EntityTypes)),
		}
		for _, t := range p.EntityTypes {
			cp.typeSet[strings.ToLower(t)] = true
		}
		for _, pattern := range p.Patterns {
			re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(pattern) + `\b`)
			if err != nil {
				continue
			}
			cp.matchers = append(cp.matchers, re)
			cp.patterns = append(cp.patterns, pattern)
		}
		compiled = append(compiled, cp)
	}

	s.mu.Lock()
	s.profiles = compiled
	s.mu.Unlock()
}

// UpdateEntityContext records that the entity now belongs to the given
// context. An entity belongs to exactly one context at a time.
func (s *Scorer) UpdateEntityContext(name, context string) {
	s.mu.Lock()
	s.membership[strings.ToLower(name)] = context
	s.mu.Unlock()
}

// RemoveEntityFromContext drops the entity from the membership map only
// when the given context owns it. A delete routed to a context that
// never held the entity must not erase another context's membership.
func (s *Scorer) RemoveEntityFromContext(name, context string) {
	s.mu.Lock()
	key := strings.ToLower(name)
	if s.membership[key] == context {
		delete(s.membership, key)
	}
	s.mu.Unlock()
}

// DropContext removes every trace of a deleted context: memberships and
// recent-use history.
func (s *Scorer) DropContext(context string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, ctx := range s.membership {
		if ctx == context {
			delete(s.membership, name)
		}
	}
	kept := s.recent[:0]
	for _, r := range s.recent {
		if r.context != context {
			kept = append(kept, r)
		}
	}
	s.recent = kept
}

// EntityContext returns the owning context for an entity name, if known.
func (s *Scorer) EntityContext(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, ok := s.membership[strings.ToLower(name)]
	return ctx, ok
}

// ScoreContexts ranks every registered context against the payload,
// descending by confidence. When the top result clears the low
// threshold its context's recent-use history is reinforced.
func (s *Scorer) ScoreContexts(payload *types.Payload) []types.ContextScore {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trimRecent()

	scores := make([]types.ContextScore, 0, len(s.profiles))
	for _, profile := range s.profiles {
		scores = append(scores, s.scoreOne(profile, payload))
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Confidence > scores[j].Confidence
	})

	if len(scores) > 0 && scores[0].Confidence >= LowConfidenceThreshold {
		s.recordUse(scores[0].Context)
	}

	return scores
}

// ShouldPromptUser reports whether the ranking is too ambiguous to act
// on: the top confidence is below the low threshold, or the runner-up
// is within AmbiguityGap of the top.
func ShouldPromptUser(top types.ContextScore, second *types.ContextScore) bool {
	if top.Confidence < LowConfidenceThreshold {
		return true
	}
	if second != nil && top.Confidence-second.Confidence < AmbiguityGap {
		return true
	}
	return false
}

// scoreOne computes the five signals for a single context. Caller holds
// the lock.
func (s *Scorer) scoreOne(profile *compiledProfile, payload *types.Payload) types.ContextScore {
	score := types.ContextScore{
		Context:   profile.name,
		Breakdown: make(map[string]float64, 5),
	}

	// entityExists: any payload entity already a member of this context.
	exists := 0.0
	for _, name := range payload.EntityNames() {
		if s.membership[strings.ToLower(name)] == profile.name {
			exists = 1.0
			score.Evidence = append(score.Evidence,
				fmt.Sprintf("entity %q already belongs to %q", name, profile.name))
			break
		}
	}

	// entityType: fraction of payload entities with a configured type.
	entityType := 0.0
	if len(payload.Entities) > 0 && len(profile.typeSet) > 0 {
		matched := 0
		for _, e := range payload.Entities {
			if profile.typeSet[strings.ToLower(e.EntityType)] {
				matched++
			}
		}
		entityType = float64(matched) / float64(len(payload.Entities))
		if matched > 0 {
			score.Evidence = append(score.Evidence,
				fmt.Sprintf("%d/%d entity types configured for %q", matched, len(payload.Entities), profile.name))
		}
	}

	// keywordMatch: fraction of patterns matching the payload text.
	keyword := 0.0
	if len(profile.matchers) > 0 {
		text := payloadText(payload)
		matched := 0
		for i, re := range profile.matchers {
			if re.MatchString(text) {
				matched++
				score.Evidence = append(score.Evidence,
					fmt.Sprintf("pattern %q matched", profile.patterns[i]))
			}
		}
		keyword = float64(matched) / float64(len(profile.matchers))
	}

	// relationContext: endpoint membership averaged over relations.
	relation := 0.0
	if len(payload.Relations) > 0 {
		total := 0.0
		for _, r := range payload.Relations {
			if s.membership[strings.ToLower(r.From)] == profile.name {
				total += 0.5
			}
			if s.membership[strings.ToLower(r.To)] == profile.name {
				total += 0.5
			}
		}
		relation = total / float64(len(payload.Relations))
		if relation > 1.0 {
			relation = 1.0
		}
	}

	// temporal: decayed recent-use mass for this context.
	temporal := s.temporalScore(profile.name)

	score.Breakdown["entityExists"] = WeightEntityExists * exists
	score.Breakdown["entityType"] = WeightEntityType * entityType
	score.Breakdown["keywordMatch"] = WeightKeywordMatch * keyword
	score.Breakdown["relationContext"] = WeightRelationContext * relation
	score.Breakdown["temporal"] = WeightTemporal * temporal

	confidence := 0.0
	for _, contribution := range score.Breakdown {
		confidence += contribution
	}
	score.Confidence = clamp01(confidence)

	return score
}

// temporalScore sums exponentially decayed recent uses of the context,
// normalized by temporalDivisor and clamped to 1. Caller holds the lock.
func (s *Scorer) temporalScore(context string) float64 {
	now := s.now()
	sum := 0.0
	for _, r := range s.recent {
		if r.context != context {
			continue
		}
		age := now.Sub(r.at).Seconds()
		if age < 0 {
			age = 0
		}
		sum += math.Pow(0.5, age/temporalHalfLife)
	}
	return clamp01(sum / temporalDivisor)
}

// recordUse appends a recent-use entry. Caller holds the lock.
func (s *Scorer) recordUse(context string) {
	s.recent = append(s.recent, recentUse{context: context, at: s.now()})
	s.trimRecent()
}

// trimRecent enforces the entry cap and 24-hour age window. Caller
// holds the lock.
func (s *Scorer) trimRecent() {
	cutoff := s.now().Add(-recentMaxAge)
	kept := s.recent[:0]
	for _, r := range s.recent {
		if r.at.After(cutoff) {
			kept = append(kept, r)
		}
	}
	s.recent = kept

	if excess := len(s.recent) - recentMaxEntries; excess > 0 {
		s.recent = append(s.recent[:0], s.recent[excess:]...)
	}
}

// payloadText concatenates entity names, types, observation text, and
// the free-text query for keyword matching.
func payloadText(p *types.Payload) string {
	var b strings.Builder
	for _, e := range p.Entities {
		b.WriteString(e.Name)
		b.WriteByte(' ')
		b.WriteString(e.EntityType)
		b.WriteByte(' ')
		for _, o := range e.Observations {
			b.WriteString(o)
			b.WriteByte(' ')
		}
	}
	for _, set := range p.Observations {
		b.WriteString(set.EntityName)
		b.WriteByte(' ')
		for _, o := range set.Contents {
			b.WriteString(o)
			b.WriteByte(' ')
		}
	}
	for _, name := range p.Names {
		b.WriteString(name)
		b.WriteByte(' ')
	}
	b.WriteString(p.Query)
	return b.String()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
