// Package scoring holds the pure arithmetic behind verdicts and levels.
package scoring

import (
	"math"

	"stakeproof/internal/domain"
)

// Weights splits the 0-100 verdict score between the automated assessment and the community.
type Weights struct {
	AI        float64
	Community float64
	Threshold float64
}

func DefaultWeights() Weights {
	return Weights{AI: 60, Community: 40, Threshold: 50}
}

type Result struct {
	AIScore        float64
	CommunityScore float64
	Score          float64
	Verdict        domain.Verdict
}

// WeightedVerdict blends the automated outcome with the vote tally.
// Confidence is deliberately absent: only the outcome carries weight.
func WeightedVerdict(w Weights, ai domain.Choice, approve, reject int) Result {
	var r Result
	if ai == domain.Approve {
		r.AIScore = w.AI
	}
	if total := approve + reject; total > 0 {
		r.CommunityScore = w.Community * float64(approve) / float64(total)
	}
	r.Score = r.AIScore + r.CommunityScore
	r.Verdict = domain.Rejected
	if r.Score >= w.Threshold {
		r.Verdict = domain.Approved
	}
	return r
}

// Dissenters returns voters whose choice disagrees with the verdict, in vote order.
func Dissenters(v domain.Verdict, votes []domain.EvidenceVote) []string {
	out := []string{}
	for _, vote := range votes {
		if !v.Agrees(vote.Choice) {
			out = append(out, vote.VoterID)
		}
	}
	return out
}

// ExperienceForLevel is the experience needed to advance from level to level+1.
func ExperienceForLevel(level int) int {
	return int(math.Floor(100 * math.Pow(1.1, float64(level))))
}

var multipliers = map[domain.Difficulty]float64{
	domain.Beginner:     1.0,
	domain.Intermediate: 1.5,
	domain.Advanced:     2.0,
	domain.Expert:       3.0,
}

// ExperienceEarned converts task points to experience. Unknown tiers count as beginner.
func ExperienceEarned(points int, d domain.Difficulty) int {
	m, ok := multipliers[d]
	if !ok {
		m = 1.0
	}
	return int(math.Floor(float64(points) * m))
}

// ApplyLevelUps spends accumulated experience on as many levels as it covers.
// The level never exceeds domain.MaxLevel; experience past the cap is kept as remainder.
func ApplyLevelUps(level, remainder, earned int) (int, int) {
	if level < domain.MinLevel {
		level = domain.MinLevel
	}
	rem := remainder + earned
	for level < domain.MaxLevel {
		need := ExperienceForLevel(level)
		if rem < need {
			break
		}
		rem -= need
		level++
	}
	return level, rem
}
