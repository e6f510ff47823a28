// Package matcher resolves a logical booking intent to a concrete scraped
// class. Names on the portal are inconsistently capitalized and rephrased
// across days, so start time is the primary discriminant and the name (plus
// optional instructor) is scored fuzzily among the time matches.
package matcher

import (
	"strings"

	"gabs/internal/models"

	"github.com/agnivade/levenshtein"
)

const (
	nameWeight       = 0.7
	instructorWeight = 0.3
)

// Target is the logical class the caller wants.
type Target struct {
	ClassName  string
	TargetTime string // HH:MM
	Instructor string // optional
}

// Result reports the selected candidate or, on a miss, the closest one found
// for diagnostics.
type Result struct {
	Matched bool
	Index   int // index into the candidates slice, -1 when unmatched
	Score   float64

	// Populated on a miss.
	BestScore   float64
	NearestName string
}

// Similarity returns a 0-100 similarity between two strings, case- and
// whitespace-insensitive. 100 means equal.
func Similarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return 100
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 100
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 100 * (1 - float64(dist)/float64(longest))
}

// Match scores every candidate whose start time equals the target time and
// returns the best one if it clears the threshold. Ties resolve to the first
// candidate in scrape order, so the result is deterministic for a given list.
func Match(candidates []models.ClassCandidate, target Target, threshold float64) Result {
	result := Result{Index: -1}

	for i, c := range candidates {
		if c.StartTime != target.TargetTime {
			continue
		}

		score := Similarity(target.ClassName, c.Name) * nameWeight
		if target.Instructor != "" {
			score += Similarity(target.Instructor, c.Instructor) * instructorWeight
		} else {
			// No instructor preference: the name carries the full weight.
			score = Similarity(target.ClassName, c.Name)
		}

		if score > result.BestScore {
			result.BestScore = score
			result.NearestName = c.Name
			if score >= threshold {
				result.Matched = true
				result.Index = i
				result.Score = score
			}
		}
	}

	return result
}
