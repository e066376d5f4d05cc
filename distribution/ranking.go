package distribution

import (
	"sort"

	"leadcast/broker"
	"leadcast/target"
)

// ScoredCandidate pairs a candidate with its computed rank score.
type ScoredCandidate struct {
	Candidate broker.Candidate
	Score     float64
}

// Rank filters the pool down to eligible candidates and orders them best
// first. Pure function: stable inputs always produce the same order. Ties
// break on candidate ID so two equally scored brokers never swap between
// attempts.
//
// alreadyOffered holds broker IDs from the target's offer history; a retry
// never re-offers the same broker.
func Rank(t target.Target, pool []broker.Candidate, alreadyOffered map[string]bool) []ScoredCandidate {
	profile := t.Scoring()

	ranked := make([]ScoredCandidate, 0, len(pool))
	for _, c := range pool {
		if !Eligible(c, alreadyOffered) {
			continue
		}
		ranked = append(ranked, ScoredCandidate{
			Candidate: c,
			Score:     Score(t, c, profile),
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Candidate.ID < ranked[j].Candidate.ID
	})

	return ranked
}

// Eligible applies the pre-scoring filter: active account, usable contact
// address, not already offered this target.
func Eligible(c broker.Candidate, alreadyOffered map[string]bool) bool {
	if c.Status != broker.StatusActive {
		return false
	}
	if !c.Contactable() {
		return false
	}
	if alreadyOffered[c.ID] {
		return false
	}
	return true
}

// Score computes the additive rank score for one candidate. The affinity
// bonus dominates all other criteria combined, so compatible candidates are
// always tried before incompatible ones regardless of rating or workload.
func Score(t target.Target, c broker.Candidate, p target.ScoringProfile) float64 {
	score := 0.0

	providerMatch := t.Provider != "" && c.HasProvider(t.Provider)
	regionMatch := t.Region != "" && c.HasRegion(t.Region)
	if providerMatch || regionMatch {
		score += p.AffinityBonus
	}
	if providerMatch && regionMatch {
		score += p.ComboBonus
	}

	if c.MatchesPropertyType(t.PropertyType) {
		score += p.PropertyTypeBonus
	}

	score += c.Rating * p.RatingMultiplier

	// Workload balancing: fewer completed engagements rank higher among
	// otherwise-equal candidates, floored at zero.
	completed := float64(c.CompletedCount)
	if completed > p.WorkloadBase {
		completed = p.WorkloadBase
	}
	if bonus := p.WorkloadBase - completed*p.WorkloadPerUnit; bonus > 0 {
		score += bonus
	}

	return score
}
